package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/htmlpost"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/marker"
	"github.com/timmy/goldmine/internal/progress"
	"github.com/timmy/goldmine/internal/renderer"
	"github.com/timmy/goldmine/internal/repository"
	"github.com/timmy/goldmine/internal/telemetry"
	"github.com/timmy/goldmine/internal/texnorm"
	"github.com/timmy/goldmine/internal/texsource"
)

const (
	failureLogHead = 2000
	successLogTail = 1000
)

// ErrPathOutsideRoot is returned when a document's TeX file escapes the
// configured document root.
var ErrPathOutsideRoot = errors.New("tex file is outside the document root")

// Converter runs the external TeX to HTML converter.
type Converter interface {
	Render(ctx context.Context, req renderer.Request) renderer.Result
}

// RenderConfig holds configuration for the render pipeline.
type RenderConfig struct {
	DocumentRoot      string
	SearchDirs        []string
	SupportedPackages []string
	HintCommands      []string
	IndexVectors      bool
}

// RenderService runs the per-document pipeline: resolve, normalize, inject
// markers, convert, postprocess, store and index.
type RenderService struct {
	docRepo   *repository.DocumentRepository
	converter Converter
	index     *SearchIndexService
	mirror    *AssetMirror
	cfg       RenderConfig
}

// NewRenderService creates a RenderService. mirror may be nil.
func NewRenderService(
	docRepo *repository.DocumentRepository,
	converter Converter,
	index *SearchIndexService,
	mirror *AssetMirror,
	cfg RenderConfig,
) *RenderService {
	return &RenderService{
		docRepo:   docRepo,
		converter: converter,
		index:     index,
		mirror:    mirror,
		cfg:       cfg,
	}
}

// Checksum is the render cache key of a resolved TeX buffer.
func Checksum(tex string) string {
	sum := sha256.Sum256([]byte(texnorm.PipelineVersion + "\n" + tex))
	return hex.EncodeToString(sum[:])
}

type documentPaths struct {
	sandbox  string
	tex      string
	docDir   string
	semester string
}

func (s *RenderService) paths(doc *domain.Document) (documentPaths, error) {
	if strings.TrimSpace(doc.TexFile) == "" {
		return documentPaths{}, errors.New("document has no tex file")
	}
	if strings.TrimSpace(doc.SemesterPath) == "" {
		return documentPaths{}, errors.New("document has no semester path")
	}
	root := filepath.Clean(s.cfg.DocumentRoot)
	sandbox := filepath.Join(root, filepath.FromSlash(doc.SemesterPath))
	tex := filepath.Join(sandbox, filepath.FromSlash(doc.TexFile))
	if !insideRoot(root, sandbox) || !insideRoot(root, tex) {
		return documentPaths{}, ErrPathOutsideRoot
	}
	first := strings.SplitN(filepath.ToSlash(filepath.Clean(doc.SemesterPath)), "/", 2)[0]
	return documentPaths{
		sandbox:  sandbox,
		tex:      tex,
		docDir:   filepath.Dir(tex),
		semester: filepath.Join(root, first),
	}, nil
}

// insideRoot is a lexical check; symlinks are confined by texsource.Resolve.
func insideRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RenderDocument renders one document. doc.Exercises must be loaded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - doc: the document; its render fields are updated in place.
//   - force: render even when the cached checksum matches.
//   - report: optional sink for informational progress messages.
//
// Returns:
//   - progress.Kind: Rendered, Skipped or Failed.
//   - error: the failure detail when the outcome is Failed.
func (s *RenderService) RenderDocument(ctx context.Context, doc *domain.Document, force bool, report func(string)) (progress.Kind, error) {
	ctx = logger.SetDocumentID(ctx, doc.ID)

	p, err := s.paths(doc)
	if err != nil {
		return s.abort(ctx, doc, err)
	}
	tex, err := texsource.Resolve(p.tex, p.sandbox)
	if err != nil {
		return s.abort(ctx, doc, err)
	}

	checksum := Checksum(tex)
	if !force && doc.TexChecksum == checksum && doc.RenderStatus == domain.RenderStatusOK {
		telemetry.DocumentRenders.WithLabelValues(progress.Skipped.String()).Inc()
		return progress.Skipped, nil
	}

	searchDirs := append([]string{p.docDir, p.sandbox}, s.cfg.SearchDirs...)
	normalized := texnorm.New(texnorm.Options{
		SearchDirs:        searchDirs,
		SupportedPackages: s.cfg.SupportedPackages,
		HintCommands:      s.cfg.HintCommands,
	}).Normalize(tex)

	marked, injected := marker.Inject(normalized, len(doc.Exercises))
	if injected.Inserted > 0 {
		logger.CtxDebug(ctx, "Injected %d markers using rule %s", injected.Inserted, injected.Rule)
		if report != nil {
			report(progress.Inserted(injected.Inserted))
		}
	}

	result := s.converter.Render(ctx, renderer.Request{
		DocumentID:   doc.ID,
		TeX:          marked,
		SandboxRoot:  p.sandbox,
		DocumentDir:  p.docDir,
		SemesterRoot: p.semester,
	})
	telemetry.RenderDuration.Observe(result.Duration.Seconds())

	now := time.Now()
	doc.TexChecksum = checksum
	doc.HTMLRenderedAt = &now
	var renderErr error
	if result.OK() {
		doc.HTMLContent = htmlpost.Process(result.HTML)
		doc.RenderStatus = domain.RenderStatusOK
		doc.RenderLog = tail(strings.TrimSpace(result.Log), successLogTail)
	} else {
		doc.HTMLContent = htmlpost.Fallback(marked)
		doc.RenderStatus = domain.RenderStatusFailed
		doc.RenderLog = fallbackLog(result)
		renderErr = errors.New(doc.RenderLog)
	}

	if err := s.docRepo.SaveRender(ctx, doc); err != nil {
		telemetry.DocumentRenders.WithLabelValues(progress.Failed.String()).Inc()
		return progress.Failed, fmt.Errorf("save render: %w", err)
	}

	if s.index != nil {
		if _, err := s.index.UpdateDocument(ctx, doc); err != nil {
			logger.CtxWarn(ctx, "Search text update failed: %v", err)
		}
		if s.cfg.IndexVectors && result.OK() {
			if err := s.index.IndexDocument(ctx, doc); err != nil {
				logger.CtxWarn(ctx, "Vector indexing failed: %v", err)
			}
		}
	}
	if s.mirror != nil && result.OK() {
		if n, err := s.mirror.Sync(ctx, doc.ID, result.Assets); err != nil {
			logger.CtxWarn(ctx, "Asset mirror failed after %d uploads: %v", n, err)
		}
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: result.Duration.Milliseconds(),
		logger.FieldStatus:     string(doc.RenderStatus),
		logger.FieldCount:      len(result.Assets),
	}).Info(ctx, "Document rendered: exit=%d", result.ExitCode)

	if renderErr != nil {
		telemetry.DocumentRenders.WithLabelValues(progress.Failed.String()).Inc()
		return progress.Failed, renderErr
	}
	telemetry.DocumentRenders.WithLabelValues(progress.Rendered.String()).Inc()
	return progress.Rendered, nil
}

// abort records a failure that happened before the converter ran. The
// cached HTML is kept.
func (s *RenderService) abort(ctx context.Context, doc *domain.Document, cause error) (progress.Kind, error) {
	telemetry.DocumentRenders.WithLabelValues(progress.Failed.String()).Inc()
	doc.RenderStatus = domain.RenderStatusFailed
	doc.RenderLog = cause.Error()
	if err := s.docRepo.SaveRenderFailure(ctx, doc.ID, doc.RenderLog); err != nil {
		logger.CtxError(ctx, "Saving render failure failed: %v", err)
	}
	return progress.Failed, cause
}

// RenderMany renders ids, or every document when ids is empty, writing one
// progress line per document to out. Document failures only show up in the
// output; the returned error is reserved for problems listing documents.
func (s *RenderService) RenderMany(ctx context.Context, ids []uint, force bool, out io.Writer) (Stats, error) {
	var stats Stats
	if len(ids) == 0 {
		all, err := s.docRepo.AllIDs(ctx)
		if err != nil {
			return stats, fmt.Errorf("list documents: %w", err)
		}
		ids = all
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Total++
		emit := func(msg string) {
			fmt.Fprintln(out, progress.Format(id, oneLine(msg)))
		}

		doc, err := s.docRepo.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			stats.Failed++
			emit(progress.MsgNotFound)
			continue
		}
		if err != nil {
			stats.Failed++
			emit(progress.Failure(err.Error()))
			continue
		}

		kind, err := s.RenderDocument(ctx, doc, force, emit)
		switch kind {
		case progress.Rendered:
			stats.Rendered++
			emit(progress.MsgRendered)
		case progress.Skipped:
			stats.Skipped++
			emit(progress.MsgSkipped)
		default:
			stats.Failed++
			msg := "render failed"
			if err != nil {
				msg = err.Error()
			}
			emit(progress.Failure(msg))
		}
	}
	return stats, nil
}

// Stats counts the outcomes of a RenderMany run.
type Stats struct {
	Total    int
	Rendered int
	Skipped  int
	Failed   int
}

func fallbackLog(res renderer.Result) string {
	return fmt.Sprintf("renderer failed (exit %d), showing raw TeX fallback: %s",
		res.ExitCode, head(strings.TrimSpace(res.Log), failureLogHead))
}

// oneLine keeps a failure message on a single protocol line.
func oneLine(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return strings.TrimSpace(msg[:i])
	}
	return msg
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
