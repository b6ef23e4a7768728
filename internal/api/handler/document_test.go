package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/service"
)

type fakeDocuments map[uint]*domain.Document

func (f fakeDocuments) GetByID(ctx context.Context, id uint) (*domain.Document, error) {
	doc, ok := f[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

type fakeSearcher struct {
	hits  []domain.ExerciseHit
	err   error
	limit int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]domain.ExerciseHit, error) {
	f.limit = limit
	return f.hits, f.err
}

func newDocumentRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	sandbox := filepath.Join(root, "ss24")
	if err := os.MkdirAll(filepath.Join(sandbox, "figures"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sandbox, "sheet.tex"), []byte(`\documentclass{article}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sandbox, "figures", "plot.svg"), []byte("<svg/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	docs := fakeDocuments{
		1: {
			ID:           1,
			Title:        "Blatt 1",
			SemesterPath: "ss24",
			TexFile:      "sheet.tex",
			HTMLContent:  "<h2>Aufgabe 1</h2>",
			RenderStatus: domain.RenderStatusOK,
			Exercises: []domain.Exercise{
				{ID: 10, DocumentID: 1, Number: 1, Title: "Aufgabe 1", SearchText: "Aufgabe 1 eins"},
			},
		},
		2: {ID: 2, SemesterPath: "ss24", TexFile: "sheet.tex", PDFFile: "../../outside.pdf"},
	}
	h := NewDocumentHandler(docs,
		&service.AssetLocator{DocumentRoot: root},
		service.NewPreviewService(service.PreviewConfig{CacheDir: t.TempDir()}),
		nil,
		root,
	)
	r := gin.New()
	r.GET("/documents/:id/html", h.HTML)
	r.GET("/documents/:id/search-texts", h.SearchTexts)
	r.GET("/documents/:id/assets/*ref", h.Asset)
	r.GET("/documents/:id/pdf-meta", h.PDFMeta)
	r.GET("/documents/:id/pdf-preview", h.PDFPreview)
	return r
}

func TestDocumentHandler_HTML(t *testing.T) {
	r := newDocumentRouter(t)

	w := do(r, http.MethodGet, "/documents/1/html", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		HTML         string `json:"html"`
		RenderStatus string `json:"render_status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.HTML != "<h2>Aufgabe 1</h2>" || body.RenderStatus != "ok" {
		t.Errorf("body = %+v", body)
	}

	if w := do(r, http.MethodGet, "/documents/9/html", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing document status = %d", w.Code)
	}
}

func TestDocumentHandler_SearchTexts(t *testing.T) {
	r := newDocumentRouter(t)

	w := do(r, http.MethodGet, "/documents/1/search-texts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"search_text":"Aufgabe 1 eins"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDocumentHandler_Asset(t *testing.T) {
	r := newDocumentRouter(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"figure folder without extension", "/documents/1/assets/plot", http.StatusOK},
		{"explicit name", "/documents/1/assets/figures/plot.svg", http.StatusOK},
		{"missing", "/documents/1/assets/nothing.png", http.StatusNotFound},
		{"bad page", "/documents/1/assets/plot?page=0", http.StatusBadRequest},
		{"unknown document", "/documents/9/assets/plot", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.target, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK && w.Body.String() != "<svg/>" {
				t.Errorf("body = %q", w.Body.String())
			}
		})
	}
}

type urlStorage struct{}

func (urlStorage) Upload(context.Context, string, io.Reader, int64, string) error { return nil }
func (urlStorage) GetURL(key string) string                                       { return "https://cdn.example/" + key }
func (urlStorage) Delete(context.Context, string) error                           { return nil }
func (urlStorage) List(context.Context, string) ([]string, error)                 { return nil, nil }

func TestDocumentHandler_AssetMirrored(t *testing.T) {
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	assetRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "ss24"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "ss24", "local.svg"), []byte("<svg/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(assetRoot, "1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(assetRoot, "1", "graph.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	docs := fakeDocuments{1: {ID: 1, SemesterPath: "ss24", TexFile: "sheet.tex"}}
	h := NewDocumentHandler(docs,
		&service.AssetLocator{DocumentRoot: root, AssetRoot: assetRoot},
		service.NewPreviewService(service.PreviewConfig{CacheDir: t.TempDir()}),
		service.NewAssetMirror(urlStorage{}, assetRoot, "assets"),
		root,
	)
	r := gin.New()
	r.GET("/documents/:id/assets/*ref", h.Asset)

	w := do(r, http.MethodGet, "/documents/1/assets/graph.png", "")
	if w.Code != http.StatusFound {
		t.Fatalf("rendered asset status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://cdn.example/assets/1/graph.png" {
		t.Errorf("Location = %q", loc)
	}

	w = do(r, http.MethodGet, "/documents/1/assets/local.svg", "")
	if w.Code != http.StatusOK || w.Body.String() != "<svg/>" {
		t.Errorf("source asset = %d %q, want served locally", w.Code, w.Body.String())
	}
}

func TestDocumentHandler_PDFUnavailable(t *testing.T) {
	r := newDocumentRouter(t)

	for _, target := range []string{
		"/documents/1/pdf-meta",
		"/documents/2/pdf-meta",
		"/documents/2/pdf-preview?page=1",
	} {
		if w := do(r, http.MethodGet, target, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", target, w.Code)
		}
	}
	if w := do(r, http.MethodGet, "/documents/1/pdf-preview?page=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad page status = %d", w.Code)
	}
}

func TestSearchHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	searcher := &fakeSearcher{hits: []domain.ExerciseHit{
		{Exercise: domain.Exercise{ID: 3, Title: "Aufgabe 2"}, DocumentTitle: "Blatt 1", Score: 0.8},
	}}
	r := gin.New()
	r.GET("/search", NewSearchHandler(searcher).Search)

	w := do(r, http.MethodGet, "/search?q=matrix&limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if searcher.limit != 5 {
		t.Errorf("limit = %d, want 5", searcher.limit)
	}
	if !strings.Contains(w.Body.String(), `"total":1`) {
		t.Errorf("body = %s", w.Body.String())
	}

	if w := do(r, http.MethodGet, "/search?q=%20", ""); w.Code != http.StatusBadRequest {
		t.Errorf("blank query status = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/search?q=a&limit=many", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	searcher.err = errors.New("db down")
	if w := do(r, http.MethodGet, "/search?q=a", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("failing search status = %d", w.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name string
		ping func(ctx context.Context) error
		want int
	}{
		{"no database check", nil, http.StatusOK},
		{"database up", func(context.Context) error { return nil }, http.StatusOK},
		{"database down", func(context.Context) error { return errors.New("connection refused") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", NewHealthHandler(tt.ping).Health)
			if w := do(r, http.MethodGet, "/health", ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
