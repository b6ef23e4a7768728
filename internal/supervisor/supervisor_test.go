package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timmy/goldmine/internal/domain"
)

// memStore is an in-memory JobStore with the same transition rules as the
// gorm repository.
type memStore struct {
	mu     sync.Mutex
	nextID uint
	jobs   map[uint]*domain.RenderJob
	saves  int
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uint]*domain.RenderJob{}}
}

func (m *memStore) CreateIfIdle(_ context.Context, job *domain.RenderJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			return domain.ErrJobActive
		}
	}
	m.nextID++
	job.ID = m.nextID
	job.CreatedAt = time.Now()
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *memStore) Get(_ context.Context, id uint) (*domain.RenderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *j
	return &out, nil
}

func (m *memStore) ListRecent(_ context.Context, limit int) ([]domain.RenderJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RenderJob
	for _, j := range m.jobs {
		out = append(out, j.Summary())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkRunning(_ context.Context, job *domain.RenderJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[job.ID]
	if j.Status != domain.JobStatusQueued {
		return false, nil
	}
	j.Status = domain.JobStatusRunning
	j.StartedAt = job.StartedAt
	j.TotalCount = job.TotalCount
	return true, nil
}

func (m *memStore) SaveProgress(_ context.Context, job *domain.RenderJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	status := m.jobs[job.ID].Status
	stored := *job
	stored.Status = status
	stored.FailureDetails = copyDetails(job.FailureDetails)
	m.jobs[job.ID] = &stored
	return nil
}

func (m *memStore) Status(_ context.Context, id uint) (domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status, nil
}

func (m *memStore) RequestCancel(_ context.Context, id uint) (domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	if !j.Status.Terminal() {
		j.Status = domain.JobStatusCancelled
	}
	return j.Status, nil
}

func (m *memStore) Finish(_ context.Context, job *domain.RenderJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs[job.ID].Status == domain.JobStatusCancelled {
		job.Status = domain.JobStatusCancelled
	}
	stored := *job
	stored.FailureDetails = copyDetails(job.FailureDetails)
	m.jobs[job.ID] = &stored
	return nil
}

func (m *memStore) FailStale(_ context.Context, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			j.Status = domain.JobStatusFailed
			j.ErrorMessage = reason
			n++
		}
	}
	return n, nil
}

type staticDocs []uint

func (d staticDocs) AllIDs(context.Context) ([]uint, error) { return d, nil }

func (d staticDocs) ExistingIDs(_ context.Context, ids []uint) ([]uint, error) {
	var out []uint
	for _, id := range ids {
		if domain.IDList(d).Contains(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// script plays one child: it writes lines to w and returns the exit code.
type script func(args []string, w io.Writer, terminated <-chan struct{}) int

type fakeProcess struct {
	pid      int
	r        *io.PipeReader
	done     chan struct{}
	code     int
	term     chan struct{}
	termOnce sync.Once
}

func (p *fakeProcess) Pid() int          { return p.pid }
func (p *fakeProcess) Output() io.Reader { return p.r }

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

func (p *fakeProcess) Terminate() error {
	p.termOnce.Do(func() { close(p.term) })
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches [][]string
	play     script
}

func (l *fakeLauncher) Launch(_ context.Context, args []string) (Process, error) {
	l.mu.Lock()
	l.launches = append(l.launches, args)
	pid := 1000 + len(l.launches)
	l.mu.Unlock()

	r, w := io.Pipe()
	p := &fakeProcess{pid: pid, r: r, done: make(chan struct{}), term: make(chan struct{})}
	go func() {
		p.code = l.play(args, w, p.term)
		w.Close()
		close(p.done)
	}()
	return p, nil
}

func (l *fakeLauncher) calls() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.launches...)
}

func newTestSupervisor(docs staticDocs, play script) (*Supervisor, *memStore, *fakeLauncher) {
	store := newMemStore()
	launcher := &fakeLauncher{play: play}
	return New(store, docs, launcher, Config{FlushInterval: time.Millisecond}), store, launcher
}

func finalJob(t *testing.T, sup *Supervisor, store *memStore, id uint) *domain.RenderJob {
	t.Helper()
	sup.Wait()
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if job.ProcessedCount != job.RenderedCount+job.SkippedCount+job.FailedCount {
		t.Errorf("counters inconsistent: %+v", job)
	}
	if job.ProcessedCount > job.TotalCount {
		t.Errorf("processed %d > total %d", job.ProcessedCount, job.TotalCount)
	}
	return job
}

func TestSupervisor_DuplicateLinesCountedOnce(t *testing.T) {
	sup, store, _ := newTestSupervisor(staticDocs{42, 99}, func(args []string, w io.Writer, _ <-chan struct{}) int {
		fmt.Fprintln(w, "42: inserted 3 markers")
		fmt.Fprintln(w, "42: rendered")
		fmt.Fprintln(w, "42: rendered")
		fmt.Fprintln(w, "99: rendered")
		fmt.Fprintln(w, "some converter noise")
		return 0
	})

	created, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeDocuments, DocumentIDs: []uint{42}})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.Status != domain.JobStatusQueued || created.TotalCount != 1 {
		t.Errorf("initial snapshot = %+v", created)
	}

	job := finalJob(t, sup, store, created.ID)
	if job.Status != domain.JobStatusSucceeded {
		t.Errorf("status = %q", job.Status)
	}
	if job.RenderedCount != 1 || job.ProcessedCount != 1 {
		t.Errorf("rendered = %d processed = %d, want 1/1", job.RenderedCount, job.ProcessedCount)
	}
	if job.CurrentDocumentID == nil || *job.CurrentDocumentID != 42 {
		t.Errorf("current document = %v", job.CurrentDocumentID)
	}
	if !strings.Contains(job.OutputLog, "some converter noise") {
		t.Errorf("log = %q", job.OutputLog)
	}
	if job.ReturnCode == nil || *job.ReturnCode != 0 || job.PID != nil || job.FinishedAt == nil {
		t.Errorf("terminal fields = rc %v pid %v finished %v", job.ReturnCode, job.PID, job.FinishedAt)
	}
}

func TestSupervisor_CancelBetweenDocuments(t *testing.T) {
	var sup *Supervisor
	var store *memStore
	var launcher *fakeLauncher
	sup, store, launcher = newTestSupervisor(staticDocs{1, 2, 3}, func(args []string, w io.Writer, _ <-chan struct{}) int {
		fmt.Fprintf(w, "%s: rendered\n", args[0])
		if args[0] == "1" {
			if _, err := sup.Cancel(context.Background(), 1); err != nil {
				t.Errorf("Cancel() error: %v", err)
			}
		}
		return 0
	})

	created, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeDocuments, DocumentIDs: []uint{3, 1, 2}})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	job := finalJob(t, sup, store, created.ID)
	if job.Status != domain.JobStatusCancelled {
		t.Errorf("status = %q, want cancelled", job.Status)
	}
	if job.ProcessedCount != 1 {
		t.Errorf("processed = %d, want 1", job.ProcessedCount)
	}
	calls := launcher.calls()
	if len(calls) != 1 || calls[0][0] != "1" {
		t.Errorf("launches = %v, want only document 1", calls)
	}
}

func TestSupervisor_CancelSignalsRunningChild(t *testing.T) {
	wrote := make(chan struct{})
	sup, store, _ := newTestSupervisor(staticDocs{1, 2}, func(args []string, w io.Writer, terminated <-chan struct{}) int {
		fmt.Fprintln(w, "1: rendered")
		close(wrote)
		select {
		case <-terminated:
			return -1
		case <-time.After(5 * time.Second):
			fmt.Fprintln(w, "2: rendered")
			return 0
		}
	})

	created, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeAll, Force: true})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	<-wrote
	status, err := sup.Cancel(context.Background(), created.ID)
	if err != nil || status != domain.JobStatusCancelled {
		t.Fatalf("Cancel() = %q, %v", status, err)
	}

	job := finalJob(t, sup, store, created.ID)
	if job.Status != domain.JobStatusCancelled {
		t.Errorf("status = %q", job.Status)
	}
	if job.ProcessedCount != 1 || job.TotalCount != 2 {
		t.Errorf("processed/total = %d/%d", job.ProcessedCount, job.TotalCount)
	}
	if job.ReturnCode == nil || *job.ReturnCode != -1 {
		t.Errorf("return code = %v", job.ReturnCode)
	}

	if status, _ := sup.Cancel(context.Background(), created.ID); status != domain.JobStatusCancelled {
		t.Errorf("second cancel = %q", status)
	}
}

func TestSupervisor_ShutdownStopsLaunching(t *testing.T) {
	wrote := make(chan struct{}, 3)
	sup, store, launcher := newTestSupervisor(staticDocs{1, 2, 3}, func(args []string, w io.Writer, terminated <-chan struct{}) int {
		fmt.Fprintf(w, "%s: rendered\n", args[0])
		wrote <- struct{}{}
		select {
		case <-terminated:
			return -1
		case <-time.After(5 * time.Second):
			return 0
		}
	})

	created, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeDocuments, DocumentIDs: []uint{1, 2, 3}})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	<-wrote

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	if calls := launcher.calls(); len(calls) != 1 {
		t.Errorf("launches = %v, want only the first document", calls)
	}
	job := finalJob(t, sup, store, created.ID)
	if job.Status != domain.JobStatusFailed {
		t.Errorf("status = %q, want failed", job.Status)
	}
	if job.ErrorMessage != ErrShuttingDown.Error() {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
	if job.ProcessedCount != 1 || job.TotalCount != 3 {
		t.Errorf("processed/total = %d/%d", job.ProcessedCount, job.TotalCount)
	}
}

func TestSupervisor_TerminalStatus(t *testing.T) {
	tests := []struct {
		name       string
		play       script
		wantStatus domain.JobStatus
		wantRC     int
		wantFailed int
	}{
		{
			name: "all rendered",
			play: func(args []string, w io.Writer, _ <-chan struct{}) int {
				fmt.Fprintf(w, "%s: rendered\n", args[0])
				return 0
			},
			wantStatus: domain.JobStatusSucceeded,
		},
		{
			name: "skipped counts as success",
			play: func(args []string, w io.Writer, _ <-chan struct{}) int {
				fmt.Fprintf(w, "%s: up-to-date, skipping\n", args[0])
				return 0
			},
			wantStatus: domain.JobStatusSucceeded,
		},
		{
			name: "failed document",
			play: func(args []string, w io.Writer, _ <-chan struct{}) int {
				if args[0] == "2" {
					fmt.Fprintln(w, "2: timeout after 120s")
					return 0
				}
				fmt.Fprintf(w, "%s: rendered\n", args[0])
				return 0
			},
			wantStatus: domain.JobStatusFailed,
			wantFailed: 1,
		},
		{
			name: "non-zero exit",
			play: func(args []string, w io.Writer, _ <-chan struct{}) int {
				fmt.Fprintf(w, "%s: rendered\n", args[0])
				if args[0] == "1" {
					return 3
				}
				return 7
			},
			wantStatus: domain.JobStatusFailed,
			wantRC:     3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup, store, _ := newTestSupervisor(staticDocs{1, 2}, tt.play)
			created, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeDocuments, DocumentIDs: []uint{1, 2}})
			if err != nil {
				t.Fatalf("Create() error: %v", err)
			}
			job := finalJob(t, sup, store, created.ID)
			if job.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", job.Status, tt.wantStatus)
			}
			if job.ReturnCode == nil || *job.ReturnCode != tt.wantRC {
				t.Errorf("return code = %v, want %d", job.ReturnCode, tt.wantRC)
			}
			if job.FailedCount != tt.wantFailed || job.ProcessedCount != 2 {
				t.Errorf("failed = %d processed = %d", job.FailedCount, job.ProcessedCount)
			}
			if tt.wantFailed > 0 && job.FailureDetails["2"] != "timeout after 120s" {
				t.Errorf("failure details = %v", job.FailureDetails)
			}
		})
	}
}

func TestSupervisor_ScopeAllArgs(t *testing.T) {
	sup, store, launcher := newTestSupervisor(staticDocs{1, 2}, func(args []string, w io.Writer, _ <-chan struct{}) int {
		fmt.Fprintln(w, "1: rendered")
		fmt.Fprintln(w, "2: rendered")
		return 0
	})
	created, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeAll, Force: true})
	if err != nil {
		t.Fatal(err)
	}
	job := finalJob(t, sup, store, created.ID)
	if job.Status != domain.JobStatusSucceeded || job.RenderedCount != 2 {
		t.Errorf("job = %+v", job)
	}
	if len(job.DocumentIDs) != 0 {
		t.Errorf("scope all stored ids %v", job.DocumentIDs)
	}
	calls := launcher.calls()
	if len(calls) != 1 || strings.Join(calls[0], " ") != "--force" {
		t.Errorf("launches = %v", calls)
	}
}

func TestSupervisor_CreateValidation(t *testing.T) {
	sup, _, _ := newTestSupervisor(staticDocs{1, 2}, nil)
	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"unknown scope", CreateRequest{Scope: "series"}, ErrInvalidScope},
		{"empty ids", CreateRequest{Scope: domain.JobScopeDocuments}, ErrNoDocuments},
		{"zero ids", CreateRequest{Scope: domain.JobScopeDocuments, DocumentIDs: []uint{0}}, ErrNoDocuments},
		{"unknown ids", CreateRequest{Scope: domain.JobScopeDocuments, DocumentIDs: []uint{1, 5}}, ErrUnknownDocuments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sup.Create(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSupervisor_RejectsSecondActiveJob(t *testing.T) {
	release := make(chan struct{})
	sup, store, _ := newTestSupervisor(staticDocs{1}, func(args []string, w io.Writer, _ <-chan struct{}) int {
		<-release
		fmt.Fprintln(w, "1: rendered")
		return 0
	})

	first, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeAll})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeDocuments, DocumentIDs: []uint{1}})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if !errors.Is(err, ErrJobActive) {
			t.Errorf("create %d error = %v, want ErrJobActive", i, err)
		}
	}

	close(release)
	if job := finalJob(t, sup, store, first.ID); job.Status != domain.JobStatusSucceeded {
		t.Errorf("first job status = %q", job.Status)
	}
	if _, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeAll}); err != nil {
		t.Errorf("create after finish: %v", err)
	}
	sup.Wait()
}

func TestSupervisor_PanicFailsJob(t *testing.T) {
	sup, store, _ := newTestSupervisor(staticDocs{1}, nil)
	sup.launcher = panicLauncher{}
	created, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeAll})
	if err != nil {
		t.Fatal(err)
	}
	job := finalJob(t, sup, store, created.ID)
	if job.Status != domain.JobStatusFailed || !strings.Contains(job.ErrorMessage, "launcher exploded") {
		t.Errorf("job = %q %q", job.Status, job.ErrorMessage)
	}
}

type panicLauncher struct{}

func (panicLauncher) Launch(context.Context, []string) (Process, error) {
	panic("launcher exploded")
}

func TestSupervisor_NotifierAndThrottle(t *testing.T) {
	store := newMemStore()
	launcher := &fakeLauncher{play: func(args []string, w io.Writer, _ <-chan struct{}) int {
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "converter line %d\n", i)
		}
		fmt.Fprintln(w, "1: rendered")
		return 0
	}}
	sup := New(store, staticDocs{1}, launcher, Config{FlushInterval: time.Hour})

	var mu sync.Mutex
	var seen []domain.JobStatus
	sup.Subscribe(func(job domain.RenderJob) {
		mu.Lock()
		seen = append(seen, job.Status)
		mu.Unlock()
		if job.OutputLog != "" {
			t.Errorf("notifier got a log")
		}
	})

	created, err := sup.Create(context.Background(), CreateRequest{Scope: domain.JobScopeDocuments, DocumentIDs: []uint{1}})
	if err != nil {
		t.Fatal(err)
	}
	job := finalJob(t, sup, store, created.ID)
	if job.Status != domain.JobStatusSucceeded || !strings.Contains(job.OutputLog, "converter line 4") {
		t.Errorf("job = %q log %q", job.Status, job.OutputLog)
	}

	store.mu.Lock()
	saves := store.saves
	store.mu.Unlock()
	if saves != 1 {
		t.Errorf("progress saves = %d, want only the forced one", saves)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[0] != domain.JobStatusRunning || seen[len(seen)-1] != domain.JobStatusSucceeded {
		t.Errorf("notified statuses = %v", seen)
	}
}

func TestSupervisor_ListAndRecover(t *testing.T) {
	sup, store, _ := newTestSupervisor(staticDocs{1}, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		job := &domain.RenderJob{Status: domain.JobStatusSucceeded, Scope: domain.JobScopeAll, OutputLog: "x"}
		store.nextID++
		job.ID = store.nextID
		store.jobs[job.ID] = job
	}
	store.jobs[3].Status = domain.JobStatusRunning

	if err := sup.Recover(ctx); err != nil {
		t.Fatalf("Recover() error: %v", err)
	}
	if store.jobs[3].Status != domain.JobStatusFailed {
		t.Errorf("stale job status = %q", store.jobs[3].Status)
	}

	list, err := sup.List(ctx, 0)
	if err != nil || len(list) != 3 || list[0].ID != 3 || list[0].OutputLog != "" {
		t.Errorf("List() = %+v, %v", list, err)
	}
	if list, _ := sup.List(ctx, 1); len(list) != 1 {
		t.Errorf("List(1) = %d jobs", len(list))
	}
}
