// Package renderer runs the external TeX to HTML converter on a prepared
// buffer inside a throwaway workspace and harvests its output.
package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/timmy/goldmine/internal/logger"
)

const (
	inputName = "main.tex"
	destName  = "main.html"
	logName   = "main.latexml.log"
)

// DefaultStubs are style files written into every workspace so a missing
// locale or young tableaux package does not abort the run.
var DefaultStubs = map[string]string{
	"ngerman.sty":  "\\ProvidesPackage{ngerman}\n",
	"youngtab.sty": "\\ProvidesPackage{youngtab}\n\\def\\yng(#1){\\mathrm{yng}(#1)}\n\\def\\young(#1){\\mathrm{young}(#1)}\n",
}

// AssetExtensions are copied out of the workspace after a successful run.
var AssetExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".webp": true, ".pdf": true, ".eps": true,
}

// Config configures the converter invocation.
type Config struct {
	Binary string
	// Args are text/template strings over .Input, .Dest, .Log and .WorkDir.
	Args []string
	// PathFlag prefixes each search path argument, e.g. "--path=".
	PathFlag      string
	Timeout       time.Duration
	AssetRoot     string
	SearchDirs    []string
	Stubs         map[string]string
	KeepWorkspace bool
}

// Request is one document render.
type Request struct {
	DocumentID   uint
	TeX          string
	SandboxRoot  string
	DocumentDir  string
	SemesterRoot string
}

// Result is the outcome of a render. ExitCode is -1 when the converter could
// not be started or was killed by the timeout.
type Result struct {
	ExitCode int
	HTML     string
	Log      string
	Assets   []string
	Duration time.Duration
	Err      error
}

// OK reports whether the render produced usable HTML.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0 && strings.TrimSpace(r.HTML) != ""
}

type argData struct {
	Input   string
	Dest    string
	Log     string
	WorkDir string
}

// Renderer invokes the converter.
type Renderer struct {
	cfg  Config
	args []*template.Template
}

// New parses the argument templates.
func New(cfg Config) (*Renderer, error) {
	if cfg.Binary == "" {
		return nil, errors.New("renderer binary is required")
	}
	if cfg.Stubs == nil {
		cfg.Stubs = DefaultStubs
	}
	r := &Renderer{cfg: cfg}
	for i, a := range cfg.Args {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(a)
		if err != nil {
			return nil, fmt.Errorf("parse renderer arg %q: %w", a, err)
		}
		r.args = append(r.args, tmpl)
	}
	return r, nil
}

// Render converts req.TeX. Failures are reported in the Result, never as a
// panic or a separate error.
func (r *Renderer) Render(ctx context.Context, req Request) Result {
	start := time.Now()
	res := r.render(ctx, req)
	res.Duration = time.Since(start)
	return res
}

func (r *Renderer) render(ctx context.Context, req Request) Result {
	work, err := os.MkdirTemp("", "goldmine-render-*")
	if err != nil {
		return Result{ExitCode: -1, Err: fmt.Errorf("create workspace: %w", err)}
	}
	if r.cfg.KeepWorkspace {
		logger.CtxDebug(ctx, "Keeping render workspace %s", work)
	} else {
		defer os.RemoveAll(work)
	}

	if err := os.WriteFile(filepath.Join(work, inputName), []byte(req.TeX), 0o644); err != nil {
		return Result{ExitCode: -1, Err: fmt.Errorf("write input: %w", err)}
	}
	for name, body := range r.cfg.Stubs {
		if err := os.WriteFile(filepath.Join(work, name), []byte(body), 0o644); err != nil {
			return Result{ExitCode: -1, Err: fmt.Errorf("write stub %s: %w", name, err)}
		}
	}

	args, err := r.buildArgs(work, req)
	if err != nil {
		return Result{ExitCode: -1, Err: err}
	}

	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)
	cmd.Dir = work
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = 2 * time.Second
	runErr := cmd.Run()

	res := Result{ExitCode: 0}
	res.Log = combineLog(output.String(), filepath.Join(work, logName))
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.Err = fmt.Errorf("renderer timed out after %s", r.cfg.Timeout)
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Err = fmt.Errorf("run renderer: %w", runErr)
		}
	}
	if res.Err != nil {
		res.Log = strings.TrimSpace(res.Log + "\n" + res.Err.Error())
	}

	if html, err := os.ReadFile(filepath.Join(work, destName)); err == nil {
		res.HTML = string(html)
	}
	if !res.OK() {
		return res
	}

	if r.cfg.AssetRoot != "" && req.DocumentID != 0 {
		assets, err := harvestAssets(work, filepath.Join(r.cfg.AssetRoot, fmt.Sprint(req.DocumentID)))
		if err != nil {
			logger.CtxWarn(ctx, "Failed to copy render assets: %v", err)
		}
		res.Assets = assets
	}
	return res
}

func (r *Renderer) buildArgs(work string, req Request) ([]string, error) {
	data := argData{
		Input:   inputName,
		Dest:    destName,
		Log:     logName,
		WorkDir: work,
	}
	var args []string
	if r.cfg.PathFlag != "" {
		seen := map[string]bool{}
		dirs := append([]string{req.SandboxRoot, req.DocumentDir, req.SemesterRoot}, r.cfg.SearchDirs...)
		for _, dir := range dirs {
			if dir == "" || seen[dir] {
				continue
			}
			seen[dir] = true
			args = append(args, r.cfg.PathFlag+dir)
		}
	}
	for _, tmpl := range r.args {
		var b strings.Builder
		if err := tmpl.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("render arg %s: %w", tmpl.Name(), err)
		}
		args = append(args, b.String())
	}
	return args, nil
}

func combineLog(output, logFile string) string {
	output = strings.TrimSpace(output)
	data, err := os.ReadFile(logFile)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return output
	}
	if output == "" {
		return strings.TrimSpace(string(data))
	}
	return output + "\n" + strings.TrimSpace(string(data))
}

// harvestAssets clears dest and copies every recognized asset below work
// into it, keeping relative paths. The input itself is never an asset.
func harvestAssets(work, dest string) ([]string, error) {
	if err := os.RemoveAll(dest); err != nil {
		return nil, fmt.Errorf("clear %s: %w", dest, err)
	}
	var copied []string
	err := filepath.WalkDir(work, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !AssetExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(work, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(dest, rel)); err != nil {
			return err
		}
		copied = append(copied, filepath.ToSlash(rel))
		return nil
	})
	return copied, err
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
