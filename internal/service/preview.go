package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/image/draw"

	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/telemetry"
)

const (
	defaultPreviewBinary  = "pdftocairo"
	defaultPreviewTimeout = 20 * time.Second
)

// ErrPageOutOfRange is returned for a page outside 1..PageCount.
var ErrPageOutOfRange = errors.New("page out of range")

// PreviewConfig holds configuration for PDF page previews.
type PreviewConfig struct {
	Binary   string
	Timeout  time.Duration
	CacheDir string
	// MaxWidth downscales wider pages. Zero keeps the rasterizer's size.
	MaxWidth int
}

// PreviewService rasterizes single PDF pages to PNG and caches the result.
type PreviewService struct {
	cfg PreviewConfig
}

// NewPreviewService creates a PreviewService.
func NewPreviewService(cfg PreviewConfig) *PreviewService {
	if cfg.Binary == "" {
		cfg.Binary = defaultPreviewBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPreviewTimeout
	}
	return &PreviewService{cfg: cfg}
}

// PageCount returns the number of pages of the PDF at path.
func PageCount(path string) (n int, err error) {
	defer func() {
		// The parser panics on some malformed files.
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("read pdf %s: %v", path, r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// PDFPage returns the path of a PNG of page (1-based) of pdfPath, rendering
// it on a cache miss.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - pdfPath: the source PDF.
//   - page: 1-based page number.
//
// Returns:
//   - string: path of the cached PNG.
//   - error: ErrPageOutOfRange, or the rasterizer failure including its output.
func (s *PreviewService) PDFPage(ctx context.Context, pdfPath string, page int) (string, error) {
	info, err := os.Stat(pdfPath)
	if err != nil {
		return "", fmt.Errorf("stat pdf: %w", err)
	}
	if page < 1 {
		return "", ErrPageOutOfRange
	}
	if pages, err := PageCount(pdfPath); err == nil && page > pages {
		return "", ErrPageOutOfRange
	}

	cacheDir := s.cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "goldmine-previews")
	}
	key := previewKey(pdfPath, info.ModTime(), page)
	out := filepath.Join(cacheDir, key+".png")
	if _, err := os.Stat(out); err == nil {
		telemetry.PreviewRenders.WithLabelValues("hit").Inc()
		return out, nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create preview cache: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	base := filepath.Join(cacheDir, key+".tmp")
	p := strconv.Itoa(page)
	var output bytes.Buffer
	cmd := exec.CommandContext(runCtx, s.cfg.Binary, "-png", "-singlefile", "-f", p, "-l", p, pdfPath, base)
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = time.Second
	start := time.Now()
	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		telemetry.PreviewRenders.WithLabelValues("timeout").Inc()
		os.Remove(base + ".png")
		return "", fmt.Errorf("pdf preview timed out after %s", s.cfg.Timeout)
	}
	if runErr != nil {
		telemetry.PreviewRenders.WithLabelValues("error").Inc()
		os.Remove(base + ".png")
		return "", fmt.Errorf("pdf preview failed: %w: %s", runErr, bytes.TrimSpace(output.Bytes()))
	}

	if err := s.downscale(base+".png", out); err != nil {
		os.Remove(base + ".png")
		telemetry.PreviewRenders.WithLabelValues("error").Inc()
		return "", err
	}
	telemetry.PreviewRenders.WithLabelValues("miss").Inc()
	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Debug(ctx, "Rendered pdf preview page %d of %s", page, pdfPath)
	return out, nil
}

// downscale moves src to dst, shrinking it to MaxWidth when it is wider.
func (s *PreviewService) downscale(src, dst string) error {
	if s.cfg.MaxWidth <= 0 {
		return os.Rename(src, dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open preview: %w", err)
	}
	img, err := png.Decode(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("decode preview: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= s.cfg.MaxWidth || b.Dx() == 0 {
		return os.Rename(src, dst)
	}

	width := s.cfg.MaxWidth
	height := int(float64(b.Dy()) * float64(width) / float64(b.Dx()))
	if height == 0 {
		height = 1
	}
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	if err := png.Encode(out, scaled); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode preview: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	os.Remove(src)
	return os.Rename(tmp, dst)
}

func previewKey(path string, mtime time.Time, page int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", path, mtime.UnixNano(), page)))
	return hex.EncodeToString(sum[:])[:20]
}
