// Package handlers exposes the retrieval engine over HTTP.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/engine"
	"dev.helix.recall/internal/memory"
)

// MemoryHandler handles memory search and write requests.
type MemoryHandler struct {
	engine *engine.Engine
	logger *logrus.Logger
}

// NewMemoryHandler creates a memory handler.
func NewMemoryHandler(eng *engine.Engine, logger *logrus.Logger) *MemoryHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &MemoryHandler{engine: eng, logger: logger}
}

// searchOptionsDTO carries the optional toggles of a search request. Pointer
// fields distinguish "absent, use the default" from an explicit false or 0.
type searchOptionsDTO struct {
	EnableHybridSearch       *bool           `json:"enable_hybrid_search"`
	EnableGraphSearch        *bool           `json:"enable_graph_search"`
	EnableConflictResolution *bool           `json:"enable_conflict_resolution"`
	Rerank                   *bool           `json:"rerank"`
	VectorWeight             *float64        `json:"vector_weight"`
	KeywordWeight            *float64        `json:"keyword_weight"`
	GraphWeight              *float64        `json:"graph_weight"`
	Filters                  *memory.Filters `json:"filters"`
}

func (d *searchOptionsDTO) toOptions() *memory.SearchOptions {
	opts := memory.DefaultSearchOptions()
	if d == nil {
		return opts
	}
	if d.EnableHybridSearch != nil {
		opts.EnableHybridSearch = *d.EnableHybridSearch
	}
	if d.EnableGraphSearch != nil {
		opts.EnableGraphSearch = *d.EnableGraphSearch
	}
	if d.EnableConflictResolution != nil {
		opts.EnableConflictResolution = *d.EnableConflictResolution
	}
	if d.Rerank != nil {
		opts.Rerank = *d.Rerank
	}
	if d.VectorWeight != nil {
		opts.VectorWeight = *d.VectorWeight
	}
	if d.KeywordWeight != nil {
		opts.KeywordWeight = *d.KeywordWeight
	}
	if d.GraphWeight != nil {
		opts.GraphWeight = *d.GraphWeight
	}
	opts.Filters = d.Filters
	return opts
}

type searchRequest struct {
	UserID  string            `json:"user_id" binding:"required"`
	Query   string            `json:"query"`
	Options *searchOptionsDTO `json:"options"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// Search handles POST /v1/memory/search.
func (h *MemoryHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	page := memory.PaginationParams{Limit: req.Limit, Offset: req.Offset}
	result, err := h.engine.Search(c.Request.Context(), req.UserID, req.Query, req.Options.toOptions(), page)
	if err != nil {
		if memory.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

type rememberRequest struct {
	UserID     string     `json:"user_id" binding:"required"`
	Content    string     `json:"content" binding:"required"`
	Kind       string     `json:"kind"`
	Keywords   []string   `json:"keywords"`
	Entities   []string   `json:"entities"`
	Confidence float64    `json:"confidence"`
	DueAt      *time.Time `json:"due_at"`
}

// Remember handles POST /v1/memory.
func (h *MemoryHandler) Remember(c *gin.Context) {
	var req rememberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Kind == string(memory.KindReminder) && req.DueAt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due_at: reminders require a due time"})
		return
	}

	item := &memory.Item{
		UserID:     req.UserID,
		Content:    req.Content,
		Kind:       memory.Kind(req.Kind),
		Keywords:   req.Keywords,
		Entities:   req.Entities,
		Confidence: req.Confidence,
		DueAt:      req.DueAt,
	}
	if err := h.engine.Remember(c.Request.Context(), item); err != nil {
		h.logger.WithError(err).Error("Failed to store memory item")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store memory"})
		return
	}

	c.JSON(http.StatusCreated, item)
}

// DueReminders handles GET /v1/reminders/due.
func (h *MemoryHandler) DueReminders(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	items, err := h.engine.DueReminders(c.Request.Context(), userID, time.Now().UTC(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list due reminders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reminders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reminders": items, "total": len(items)})
}

// ConsumeReminder handles POST /v1/reminders/:id/consume.
func (h *MemoryHandler) ConsumeReminder(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	err := h.engine.ConsumeReminder(c.Request.Context(), userID, c.Param("id"))
	if errors.Is(err, memory.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "reminder not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to consume reminder")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to consume reminder"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "consumed"})
}
