package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/timmy/goldmine/internal/api/stream"
	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/supervisor"
)

// RenderJobs is the job control surface of the supervisor.
type RenderJobs interface {
	Create(ctx context.Context, req supervisor.CreateRequest) (*domain.RenderJob, error)
	Get(ctx context.Context, id uint) (*domain.RenderJob, error)
	List(ctx context.Context, limit int) ([]domain.RenderJob, error)
	Cancel(ctx context.Context, id uint) (domain.JobStatus, error)
}

// RenderJobHandler handles render job endpoints.
type RenderJobHandler struct {
	jobs     RenderJobs
	hub      *stream.Hub
	upgrader websocket.Upgrader
}

// NewRenderJobHandler creates a new render job handler.
// Parameters:
//   - jobs: supervisor driving the jobs.
//   - hub: snapshot hub fed by the supervisor.
//   - checkOrigin: websocket origin policy, nil allows every origin.
//
// Returns:
//   - *RenderJobHandler: initialized handler.
func NewRenderJobHandler(jobs RenderJobs, hub *stream.Hub, checkOrigin func(r *http.Request) bool) *RenderJobHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &RenderJobHandler{
		jobs: jobs,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Create handles POST /api/v1/render/jobs.
func (h *RenderJobHandler) Create(c *gin.Context) {
	var req supervisor.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if req.Scope == "" {
		req.Scope = domain.JobScopeAll
	}

	job, err := h.jobs.Create(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, job)
	case errors.Is(err, supervisor.ErrJobActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, supervisor.ErrInvalidScope),
		errors.Is(err, supervisor.ErrNoDocuments),
		errors.Is(err, supervisor.ErrUnknownDocuments):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.CtxError(c.Request.Context(), "Creating render job failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create render job"})
	}
}

// List handles GET /api/v1/render/jobs.
func (h *RenderJobHandler) List(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	jobs, err := h.jobs.List(c.Request.Context(), limit)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Listing render jobs failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list render jobs"})
		return
	}
	for i := range jobs {
		jobs[i] = jobs[i].Summary()
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Get handles GET /api/v1/render/jobs/:id.
func (h *RenderJobHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Render job not found"})
		return
	}
	if err != nil {
		logger.CtxError(c.Request.Context(), "Loading render job failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load render job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel handles POST /api/v1/render/jobs/:id/cancel.
func (h *RenderJobHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	status, err := h.jobs.Cancel(c.Request.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Render job not found"})
		return
	}
	if err != nil {
		logger.CtxError(c.Request.Context(), "Cancelling render job failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel render job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}

// Stream handles GET /api/v1/render/jobs/:id/stream. It upgrades to a
// websocket and pushes one snapshot per persisted change until the job ends.
func (h *RenderJobHandler) Stream(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sub := h.hub.Subscribe(id)
	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		h.hub.Unsubscribe(sub)
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Render job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load render job"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.Unsubscribe(sub)
		logger.CtxWarn(c.Request.Context(), "Websocket upgrade failed: %v", err)
		return
	}
	stream.Serve(conn, sub, *job)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}
