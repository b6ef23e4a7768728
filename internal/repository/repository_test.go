package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/timmy/goldmine/internal/config"
	"github.com/timmy/goldmine/internal/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		AutoMigrate: true,
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("InitDB() error: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedDocument(t *testing.T, db *gorm.DB, title string, exercises ...string) *domain.Document {
	t.Helper()
	doc := &domain.Document{Title: title, SemesterPath: "ws24", TexFile: "blatt.tex"}
	for i, ex := range exercises {
		doc.Exercises = append(doc.Exercises, domain.Exercise{Number: i + 1, Title: ex})
	}
	if err := NewDocumentRepository(db).Create(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func TestDocumentRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	doc := seedDocument(t, db, "Blatt 1", "A", "B")
	seedDocument(t, db, "Blatt 2")

	got, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if len(got.Exercises) != 2 || got.Exercises[0].Title != "A" {
		t.Errorf("exercises = %+v", got.Exercises)
	}
	if got.RenderStatus != domain.RenderStatusNotRendered {
		t.Errorf("default status = %q", got.RenderStatus)
	}

	if _, err := repo.GetByID(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing document error = %v", err)
	}

	ids, err := repo.ExistingIDs(ctx, []uint{doc.ID, 999})
	if err != nil || len(ids) != 1 || ids[0] != doc.ID {
		t.Errorf("ExistingIDs() = %v, %v", ids, err)
	}
	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("Count() = %d", n)
	}

	now := time.Now()
	got.Title = "changed title"
	got.HTMLContent = "<p>x</p>"
	got.RenderStatus = domain.RenderStatusOK
	got.TexChecksum = "abc"
	got.HTMLRenderedAt = &now
	if err := repo.SaveRender(ctx, got); err != nil {
		t.Fatalf("SaveRender() error: %v", err)
	}
	if err := repo.SaveRenderFailure(ctx, doc.ID, "boom"); err != nil {
		t.Fatalf("SaveRenderFailure() error: %v", err)
	}
	after, _ := repo.GetByID(ctx, doc.ID)
	if after.Title != "Blatt 1" {
		t.Errorf("SaveRender touched title: %q", after.Title)
	}
	if after.HTMLContent != "<p>x</p>" || after.TexChecksum != "abc" {
		t.Errorf("render cache lost: %+v", after)
	}
	if after.RenderStatus != domain.RenderStatusFailed || after.RenderLog != "boom" {
		t.Errorf("failure not recorded: %q %q", after.RenderStatus, after.RenderLog)
	}
}

func TestExerciseRepository_SearchTexts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewExerciseRepository(db)
	doc := seedDocument(t, db, "Blatt 1", "Gruppen", "Ringe", "Koerper")

	exercises, err := repo.ListByDocument(ctx, doc.ID)
	if err != nil || len(exercises) != 3 {
		t.Fatalf("ListByDocument() = %d, %v", len(exercises), err)
	}

	n, err := repo.UpdateSearchTexts(ctx, exercises, []string{"zeige dass G abelsch ist", "100% ideal_ring", ""})
	if err != nil {
		t.Fatalf("UpdateSearchTexts() error: %v", err)
	}
	if n != 2 {
		t.Errorf("updated = %d, want 2", n)
	}
	if n, _ := repo.UpdateSearchTexts(ctx, exercises, []string{"zeige dass G abelsch ist", "100% ideal_ring", ""}); n != 0 {
		t.Errorf("unchanged texts rewritten: %d", n)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"abelsch", []string{"Gruppen"}},
		{"ZEIGE abelsch", []string{"Gruppen"}},
		{"ringe", []string{"Ringe"}},
		{"100%", []string{"Ringe"}},
		{"s_g", nil},
		{"abelsch ideal", nil},
		{"   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			hits, err := repo.Search(ctx, tt.query, 10)
			if err != nil {
				t.Fatalf("Search() error: %v", err)
			}
			if len(hits) != len(tt.want) {
				t.Fatalf("hits = %+v, want %v", hits, tt.want)
			}
			for i, h := range hits {
				if h.Title != tt.want[i] || h.DocumentTitle != "Blatt 1" {
					t.Errorf("hit %d = %q/%q", i, h.Title, h.DocumentTitle)
				}
			}
		})
	}

	hits, err := repo.GetHits(ctx, []uint{exercises[2].ID, exercises[0].ID, 999})
	if err != nil || len(hits) != 2 || hits[0].Title != "Koerper" || hits[1].Title != "Gruppen" {
		t.Errorf("GetHits() = %+v, %v", hits, err)
	}

	if cleared, _ := repo.ClearSearchTexts(ctx, doc.ID); cleared != 2 {
		t.Errorf("ClearSearchTexts() = %d", cleared)
	}
}

func TestRenderJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRenderJobRepository(newTestDB(t))

	job := &domain.RenderJob{Status: domain.JobStatusQueued, Scope: domain.JobScopeDocuments, DocumentIDs: domain.IDList{3, 1}}
	if err := repo.CreateIfIdle(ctx, job); err != nil {
		t.Fatalf("CreateIfIdle() error: %v", err)
	}
	if err := repo.CreateIfIdle(ctx, &domain.RenderJob{Status: domain.JobStatusQueued, Scope: domain.JobScopeAll}); !errors.Is(err, domain.ErrJobActive) {
		t.Fatalf("second job error = %v, want ErrJobActive", err)
	}

	now := time.Now()
	job.StartedAt = &now
	job.TotalCount = 2
	ok, err := repo.MarkRunning(ctx, job)
	if err != nil || !ok {
		t.Fatalf("MarkRunning() = %v, %v", ok, err)
	}
	if ok, _ := repo.MarkRunning(ctx, job); ok {
		t.Error("MarkRunning succeeded twice")
	}

	if status, err := repo.RequestCancel(ctx, job.ID); err != nil || status != domain.JobStatusCancelled {
		t.Fatalf("RequestCancel() = %q, %v", status, err)
	}

	job.ProcessedCount = 1
	job.RenderedCount = 1
	job.OutputLog = "3: rendered\n"
	if err := repo.SaveProgress(ctx, job); err != nil {
		t.Fatalf("SaveProgress() error: %v", err)
	}
	if status, _ := repo.Status(ctx, job.ID); status != domain.JobStatusCancelled {
		t.Errorf("progress snapshot overwrote status: %q", status)
	}

	job.Status = domain.JobStatusSucceeded
	job.FinishedAt = &now
	if err := repo.Finish(ctx, job); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	if job.Status != domain.JobStatusCancelled {
		t.Errorf("Finish() status = %q, want cancelled", job.Status)
	}

	stored, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.Status != domain.JobStatusCancelled || stored.ProcessedCount != 1 || stored.OutputLog != "3: rendered\n" {
		t.Errorf("stored = %+v", stored)
	}
	if len(stored.DocumentIDs) != 2 || stored.DocumentIDs[0] != 3 {
		t.Errorf("document ids = %v", stored.DocumentIDs)
	}

	if status, err := repo.RequestCancel(ctx, job.ID); err != nil || status != domain.JobStatusCancelled {
		t.Errorf("cancel of terminal job = %q, %v", status, err)
	}
	if _, err := repo.RequestCancel(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cancel of missing job = %v", err)
	}

	list, err := repo.ListRecent(ctx, 10)
	if err != nil || len(list) != 1 || list[0].OutputLog != "" {
		t.Errorf("ListRecent() = %+v, %v", list, err)
	}
}

func TestRenderJobRepository_FailStale(t *testing.T) {
	ctx := context.Background()
	repo := NewRenderJobRepository(newTestDB(t))
	job := &domain.RenderJob{Status: domain.JobStatusQueued, Scope: domain.JobScopeAll}
	if err := repo.CreateIfIdle(ctx, job); err != nil {
		t.Fatal(err)
	}

	n, err := repo.FailStale(ctx, "server restarted")
	if err != nil || n != 1 {
		t.Fatalf("FailStale() = %d, %v", n, err)
	}
	stored, _ := repo.Get(ctx, job.ID)
	if stored.Status != domain.JobStatusFailed || stored.ErrorMessage != "server restarted" || stored.FinishedAt == nil {
		t.Errorf("stored = %+v", stored)
	}
	if err := repo.CreateIfIdle(ctx, &domain.RenderJob{Status: domain.JobStatusQueued, Scope: domain.JobScopeAll}); err != nil {
		t.Errorf("create after stale cleanup: %v", err)
	}
}

func TestRenderJobRepository_SaveProgressStoresPID(t *testing.T) {
	ctx := context.Background()
	repo := NewRenderJobRepository(newTestDB(t))
	job := &domain.RenderJob{Status: domain.JobStatusQueued, Scope: domain.JobScopeAll}
	if err := repo.CreateIfIdle(ctx, job); err != nil {
		t.Fatal(err)
	}

	pid := 4242
	doc := uint(7)
	job.PID = &pid
	job.CurrentDocumentID = &doc
	if err := repo.SaveProgress(ctx, job); err != nil {
		t.Fatalf("SaveProgress() error: %v", err)
	}
	stored, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if stored.PID == nil || *stored.PID != pid {
		t.Errorf("stored pid = %v, want %d", stored.PID, pid)
	}
	if stored.CurrentDocumentID == nil || *stored.CurrentDocumentID != doc {
		t.Errorf("stored current document = %v", stored.CurrentDocumentID)
	}

	if _, err := repo.FailStale(ctx, "server restarted"); err != nil {
		t.Fatalf("FailStale() error: %v", err)
	}
	stored, _ = repo.Get(ctx, job.ID)
	if stored.PID != nil {
		t.Errorf("pid after FailStale = %d, want nil", *stored.PID)
	}
}

func TestExercisePointID(t *testing.T) {
	if ExercisePointID(7) != ExercisePointID(7) {
		t.Error("point id not deterministic")
	}
	if ExercisePointID(7) == ExercisePointID(8) {
		t.Error("point ids collide")
	}
}
