package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/logger"
)

// ExerciseSearcher answers exercise search queries.
type ExerciseSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.ExerciseHit, error)
}

// SearchHandler handles exercise search.
type SearchHandler struct {
	searcher ExerciseSearcher
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searcher ExerciseSearcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// Search handles GET /api/v1/search?q=&limit=.
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	hits, err := h.searcher.Search(c.Request.Context(), query, limit)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Search failed: query=%q, error=%v", query, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": hits,
		"total":   len(hits),
	})
}
