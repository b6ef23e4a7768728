package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Process is a running render child.
type Process interface {
	Pid() int
	// Output yields the combined stdout and stderr until the child exits.
	Output() io.Reader
	// Wait blocks until exit and returns the exit code, -1 if killed by a signal.
	Wait() (int, error)
	Terminate() error
}

// Launcher starts render children.
type Launcher interface {
	Launch(ctx context.Context, args []string) (Process, error)
}

// ExecLauncher runs Command with Args followed by the per-job arguments.
type ExecLauncher struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Launch starts the child with stdout and stderr joined on one pipe.
func (l *ExecLauncher) Launch(ctx context.Context, args []string) (Process, error) {
	argv := append(append([]string{}, l.Args...), args...)
	cmd := exec.Command(l.Command, argv...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", l.Command, err)
	}
	pw.Close()
	return &execProcess{cmd: cmd, out: pr}, nil
}

type execProcess struct {
	cmd *exec.Cmd
	out *os.File
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Output() io.Reader { return p.out }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	p.out.Close()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return -1, err
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// Registry maps a job to its active child so a cancel request can reach it.
type Registry struct {
	mu    sync.Mutex
	procs map[uint]Process
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[uint]Process)}
}

// Register records p as the active child of jobID.
func (r *Registry) Register(jobID uint, p Process) {
	r.mu.Lock()
	r.procs[jobID] = p
	r.mu.Unlock()
}

// Release forgets p once it has exited. A newer child of the same job is kept.
func (r *Registry) Release(jobID uint, p Process) {
	r.mu.Lock()
	if r.procs[jobID] == p {
		delete(r.procs, jobID)
	}
	r.mu.Unlock()
}

// Terminate signals the active child of jobID. It reports whether a child
// was registered.
func (r *Registry) Terminate(jobID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[jobID]
	if !ok {
		return false
	}
	_ = p.Terminate()
	return true
}

// TerminateAll signals every registered child.
func (r *Registry) TerminateAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.procs {
		_ = p.Terminate()
	}
	return len(r.procs)
}
