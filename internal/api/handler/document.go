package handler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/service"
	"github.com/timmy/goldmine/internal/texsource"
)

// DocumentStore loads documents with their exercises.
type DocumentStore interface {
	GetByID(ctx context.Context, id uint) (*domain.Document, error)
}

// DocumentHandler serves cached render output and document files.
type DocumentHandler struct {
	docs         DocumentStore
	assets       *service.AssetLocator
	preview      *service.PreviewService
	mirror       *service.AssetMirror
	documentRoot string
}

// NewDocumentHandler creates a new document handler.
// Parameters:
//   - docs: document repository.
//   - assets: resolver for references in rendered HTML.
//   - preview: PDF page rasterizer.
//   - mirror: object storage copy of rendered assets; nil serves local files.
//   - documentRoot: directory the document paths are relative to.
//
// Returns:
//   - *DocumentHandler: initialized handler.
func NewDocumentHandler(docs DocumentStore, assets *service.AssetLocator, preview *service.PreviewService, mirror *service.AssetMirror, documentRoot string) *DocumentHandler {
	return &DocumentHandler{
		docs:         docs,
		assets:       assets,
		preview:      preview,
		mirror:       mirror,
		documentRoot: documentRoot,
	}
}

func (h *DocumentHandler) load(c *gin.Context) (*domain.Document, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	doc, err := h.docs.GetByID(c.Request.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return nil, false
	}
	if err != nil {
		logger.CtxError(c.Request.Context(), "Loading document failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load document"})
		return nil, false
	}
	return doc, true
}

// HTML handles GET /api/v1/documents/:id/html.
func (h *DocumentHandler) HTML(c *gin.Context) {
	doc, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":               doc.ID,
		"title":            doc.Title,
		"html":             doc.HTMLContent,
		"render_status":    doc.RenderStatus,
		"render_log":       doc.RenderLog,
		"html_rendered_at": doc.HTMLRenderedAt,
	})
}

type searchTextItem struct {
	ID         uint   `json:"id"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	SearchText string `json:"search_text"`
}

// SearchTexts handles GET /api/v1/documents/:id/search-texts.
func (h *DocumentHandler) SearchTexts(c *gin.Context) {
	doc, ok := h.load(c)
	if !ok {
		return
	}
	items := make([]searchTextItem, len(doc.Exercises))
	for i, ex := range doc.Exercises {
		items[i] = searchTextItem{ID: ex.ID, Number: ex.Number, Title: ex.Title, SearchText: ex.SearchText}
	}
	c.JSON(http.StatusOK, gin.H{"document_id": doc.ID, "exercises": items})
}

// Asset handles GET /api/v1/documents/:id/assets/*ref. PDF assets are
// served as a PNG of the requested page. Mirrored assets redirect to the
// bucket.
func (h *DocumentHandler) Asset(c *gin.Context) {
	doc, ok := h.load(c)
	if !ok {
		return
	}
	page, ok := pageParam(c)
	if !ok {
		return
	}
	path, err := h.assets.Locate(doc, c.Param("ref"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Asset not found"})
		return
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		h.servePDFPage(c, path, page)
		return
	}
	if h.mirror != nil {
		if url, ok := h.mirror.PathURL(doc.ID, path); ok {
			c.Redirect(http.StatusFound, url)
			return
		}
	}
	serveFile(c, path)
}

// PDFPreview handles GET /api/v1/documents/:id/pdf-preview?page=.
func (h *DocumentHandler) PDFPreview(c *gin.Context) {
	doc, ok := h.load(c)
	if !ok {
		return
	}
	page, ok := pageParam(c)
	if !ok {
		return
	}
	path, ok := h.pdfPath(c, doc)
	if !ok {
		return
	}
	h.servePDFPage(c, path, page)
}

// PDFMeta handles GET /api/v1/documents/:id/pdf-meta.
func (h *DocumentHandler) PDFMeta(c *gin.Context) {
	doc, ok := h.load(c)
	if !ok {
		return
	}
	path, ok := h.pdfPath(c, doc)
	if !ok {
		return
	}
	pages, err := service.PageCount(path)
	if err != nil || pages <= 0 {
		logger.CtxWarn(c.Request.Context(), "Reading pdf metadata failed: %v", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "PDF metadata unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}

func (h *DocumentHandler) pdfPath(c *gin.Context, doc *domain.Document) (string, bool) {
	if doc.PDFFile == "" || doc.SemesterPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "PDF not available for this document"})
		return "", false
	}
	sandbox := filepath.Join(h.documentRoot, filepath.FromSlash(doc.SemesterPath))
	path := filepath.Join(sandbox, filepath.FromSlash(doc.PDFFile))
	if !texsource.Within(path, sandbox) {
		c.JSON(http.StatusNotFound, gin.H{"error": "PDF not available"})
		return "", false
	}
	return path, true
}

func (h *DocumentHandler) servePDFPage(c *gin.Context, path string, page int) {
	png, err := h.preview.PDFPage(c.Request.Context(), path, page)
	switch {
	case errors.Is(err, service.ErrPageOutOfRange):
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid page number"})
	case err != nil:
		logger.CtxWarn(c.Request.Context(), "PDF preview failed: %v", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "PDF conversion failed"})
	default:
		serveFile(c, png)
	}
}

func pageParam(c *gin.Context) (int, bool) {
	v := c.DefaultQuery("page", "1")
	page, err := strconv.Atoi(v)
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number"})
		return 0, false
	}
	return page, true
}

func serveFile(c *gin.Context, path string) {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		c.Header("Content-Type", ct)
	}
	c.File(path)
}
