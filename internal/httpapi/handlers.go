package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NewTurn2017/oc-memory/internal/engine"
	"github.com/NewTurn2017/oc-memory/internal/search"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

// EngineAPI is the subset of the Engine Facade the REST transport
// depends on. Declaring it as an interface (rather than importing
// *engine.Engine directly into every handler) mirrors the teacher's
// own pattern of handing the MCP server a narrow interface
// (search.SearchEngine) instead of a concrete engine type.
type EngineAPI interface {
	Store(ctx context.Context, input engine.StoreInput) (*engine.StoreResult, error)
	Get(ctx context.Context, id string) (*store.Memory, error)
	Delete(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, query string, opts search.Options) (*engine.SearchResponse, error)
	Stats(ctx context.Context) (*engine.Stats, error)
}

type handlers struct {
	engine EngineAPI
}

type storeRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content" binding:"required"`
	Type     string   `json:"type"`
	Priority string   `json:"priority"`
	Tags     []string `json:"tags"`
}

type memoryResponse struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Content        string   `json:"content,omitempty"`
	Type           string   `json:"type"`
	Priority       string   `json:"priority"`
	Tags           []string `json:"tags,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	LastAccessedAt string   `json:"last_accessed_at"`
}

func toMemoryResponse(m *store.Memory) memoryResponse {
	return memoryResponse{
		ID:             m.ID,
		Title:          m.Title,
		Content:        m.Content,
		Type:           string(m.Type),
		Priority:       string(m.Priority),
		Tags:           m.Tags,
		CreatedAt:      m.CreatedAt.Format(timeLayout),
		UpdatedAt:      m.UpdatedAt.Format(timeLayout),
		LastAccessedAt: m.LastAccessedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

type storeResponse struct {
	ID           string `json:"id"`
	HasEmbedding bool   `json:"has_embedding"`
	Degraded     bool   `json:"degraded"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) storeMemory(c *gin.Context) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	memType := store.MemoryTypeObservation
	if req.Type != "" {
		memType = store.MemoryType(req.Type)
	}
	priority := store.PriorityNormal
	if req.Priority != "" {
		priority = store.Priority(req.Priority)
	}

	result, err := h.engine.Store(c.Request.Context(), engine.StoreInput{
		Title:    req.Title,
		Content:  req.Content,
		Type:     memType,
		Priority: priority,
		Tags:     req.Tags,
	})
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, storeResponse{ID: result.ID, HasEmbedding: result.HasEmbedding, Degraded: result.Degraded})
}

func (h *handlers) getMemory(c *gin.Context) {
	id := c.Param("id")
	m, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toMemoryResponse(m))
}

func (h *handlers) deleteMemory(c *gin.Context) {
	id := c.Param("id")
	deleted, err := h.engine.Delete(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type searchFilterRequest struct {
	MemoryType []string `json:"memory_type"`
	Tags       []string `json:"tags"`
	After      string   `json:"after"`  // RFC3339; bounds created_at from below
	Before     string   `json:"before"` // RFC3339; bounds created_at from above
}

func (r searchFilterRequest) toFilter() (search.Filter, error) {
	f := search.Filter{Tags: r.Tags}
	for _, t := range r.MemoryType {
		f.Types = append(f.Types, store.MemoryType(t))
	}
	if r.After != "" {
		after, err := time.Parse(time.RFC3339, r.After)
		if err != nil {
			return search.Filter{}, err
		}
		f.After = after
	}
	if r.Before != "" {
		before, err := time.Parse(time.RFC3339, r.Before)
		if err != nil {
			return search.Filter{}, err
		}
		f.Before = before
	}
	return f, nil
}

type searchRequest struct {
	Query     string              `json:"query" binding:"required"`
	Limit     int                 `json:"limit"`
	IndexOnly bool                `json:"index_only"`
	Filter    searchFilterRequest `json:"filter"`
}

type searchHitResponse struct {
	Memory    memoryResponse        `json:"memory"`
	Score     float32               `json:"score"`
	Breakdown search.ScoreBreakdown `json:"breakdown"`
}

type searchResponse struct {
	Hits    []searchHitResponse `json:"hits"`
	Mode    string              `json:"mode"`
	Partial bool                `json:"partial"`
}

func (h *handlers) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := 10
	if req.Limit > 0 {
		limit = req.Limit
	}

	filter, err := req.Filter.toFilter()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter: " + err.Error()})
		return
	}

	resp, err := h.engine.Search(c.Request.Context(), req.Query, search.Options{Limit: limit, IndexOnly: req.IndexOnly, Filter: filter})
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	hits := make([]searchHitResponse, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		hits = append(hits, searchHitResponse{Memory: toMemoryResponse(hit.Memory), Score: hit.Score, Breakdown: hit.Breakdown})
	}

	c.JSON(http.StatusOK, searchResponse{Hits: hits, Mode: string(resp.Mode), Partial: resp.Partial})
}

type statsResponse struct {
	TotalMemories int            `json:"total_memories"`
	IndexedCount  int            `json:"indexed_count"`
	HasEmbedder   bool           `json:"has_embedder"`
	SearchMode    string         `json:"search_mode"`
	ByType        map[string]int `json:"by_type"`
	ByPriority    map[string]int `json:"by_priority"`
}

func (h *handlers) stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	byType := make(map[string]int, len(stats.ByType))
	for k, v := range stats.ByType {
		byType[string(k)] = v
	}
	byPriority := make(map[string]int, len(stats.ByPriority))
	for k, v := range stats.ByPriority {
		byPriority[string(k)] = v
	}

	c.JSON(http.StatusOK, statsResponse{
		TotalMemories: stats.TotalMemories,
		IndexedCount:  stats.IndexedCount,
		HasEmbedder:   stats.HasEmbedder,
		SearchMode:    string(stats.SearchMode),
		ByType:        byType,
		ByPriority:    byPriority,
	})
}
