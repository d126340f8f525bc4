package mcpserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/NewTurn2017/oc-memory/internal/engine"
	"github.com/NewTurn2017/oc-memory/internal/search"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

// serverName/serverVersion identify this process to MCP clients during
// the initialize handshake.
const (
	serverName    = "oc-memory"
	serverVersion = "0.1.0"
)

// Server bridges AI clients (Claude Code, Cursor, and any other MCP
// client) to the Engine Facade over JSON-RPC.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	logger *slog.Logger
}

// StoreInput is the store tool's input schema.
type StoreInput struct {
	Title    string   `json:"title" jsonschema:"short title for the memory"`
	Content  string   `json:"content" jsonschema:"the memory body to persist"`
	Type     string   `json:"type,omitempty" jsonschema:"one of: observation, decision, preference, fact, task, session, bugfix, discovery (default observation)"`
	Priority string   `json:"priority,omitempty" jsonschema:"one of: low, medium, high (default medium)"`
	Tags     []string `json:"tags,omitempty" jsonschema:"free-form tags for keyword search"`
}

// StoreOutput is the store tool's output schema.
type StoreOutput struct {
	ID           string `json:"id"`
	HasEmbedding bool   `json:"has_embedding"`
	Degraded     bool   `json:"degraded"`
}

// GetInput is the get tool's input schema.
type GetInput struct {
	ID string `json:"id" jsonschema:"memory id returned by a previous store or search"`
}

// MemoryOutput is the JSON view of a persisted memory.
type MemoryOutput struct {
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

func memoryToOutput(m *store.Memory) MemoryOutput {
	return MemoryOutput{
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

// DeleteInput is the delete tool's input schema.
type DeleteInput struct {
	ID string `json:"id" jsonschema:"memory id to remove"`
}

// DeleteOutput is the delete tool's output schema.
type DeleteOutput struct {
	Deleted bool `json:"deleted"`
}

// SearchInput is the search tool's input schema.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query to execute"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	IndexOnly  bool     `json:"index_only,omitempty" jsonschema:"return metadata only, without content, and without advancing last_accessed_at"`
	MemoryType []string `json:"memory_type,omitempty" jsonschema:"restrict results to these memory types"`
	Tags       []string `json:"tags,omitempty" jsonschema:"restrict results to memories carrying all of these tags"`
	After      string   `json:"after,omitempty" jsonschema:"RFC3339 timestamp; only memories created at or after this time"`
	Before     string   `json:"before,omitempty" jsonschema:"RFC3339 timestamp; only memories created at or before this time"`
}

// toFilter converts the tool's flat filter fields into a search.Filter.
func (in SearchInput) toFilter() (search.Filter, error) {
	f := search.Filter{Tags: in.Tags}
	for _, t := range in.MemoryType {
		f.Types = append(f.Types, store.MemoryType(t))
	}
	if in.After != "" {
		after, err := time.Parse(time.RFC3339, in.After)
		if err != nil {
			return search.Filter{}, err
		}
		f.After = after
	}
	if in.Before != "" {
		before, err := time.Parse(time.RFC3339, in.Before)
		if err != nil {
			return search.Filter{}, err
		}
		f.Before = before
	}
	return f, nil
}

// SearchHitOutput is one ranked search result.
type SearchHitOutput struct {
	Memory    MemoryOutput          `json:"memory"`
	Score     float32               `json:"score"`
	Breakdown search.ScoreBreakdown `json:"breakdown"`
}

// SearchOutput is the search tool's output schema.
type SearchOutput struct {
	Hits    []SearchHitOutput `json:"hits"`
	Mode    string            `json:"mode"`
	Partial bool              `json:"partial"`
}

// StatsInput is the stats tool's (empty) input schema.
type StatsInput struct{}

// StatsOutput is the stats tool's output schema.
type StatsOutput struct {
	TotalMemories int            `json:"total_memories"`
	IndexedCount  int            `json:"indexed_count"`
	HasEmbedder   bool           `json:"has_embedder"`
	SearchMode    string         `json:"search_mode"`
	ByType        map[string]int `json:"by_type"`
	ByPriority    map[string]int `json:"by_priority"`
}

// NewServer wires an MCP server around an already-constructed Engine.
func NewServer(e *engine.Engine) (*Server, error) {
	s := &Server{
		engine: e,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "store",
		Description: "Persist a new memory (observation, decision, preference, fact, task, session, bugfix, or discovery) for later hybrid search.",
	}, s.handleStore)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get",
		Description: "Fetch a single memory by id, advancing its last-accessed time.",
	}, s.handleGet)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete",
		Description: "Permanently remove a memory by id.",
	}, s.handleDelete)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid search over stored memories: combines semantic similarity, keyword match, recency, and priority into a single ranked list.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stats",
		Description: "Report memory counts by type/priority and which search mode is currently active.",
	}, s.handleStats)

	s.logger.Debug("mcp tools registered", slog.Int("count", 5))
}

func (s *Server) handleStore(ctx context.Context, _ *mcp.CallToolRequest, input StoreInput) (*mcp.CallToolResult, StoreOutput, error) {
	if input.Content == "" {
		return nil, StoreOutput{}, NewInvalidParamsError("content is required")
	}

	memType := store.MemoryTypeObservation
	if input.Type != "" {
		memType = store.MemoryType(input.Type)
	}
	priority := store.PriorityNormal
	if input.Priority != "" {
		priority = store.Priority(input.Priority)
	}

	result, err := s.engine.Store(ctx, engine.StoreInput{
		Title:    input.Title,
		Content:  input.Content,
		Type:     memType,
		Priority: priority,
		Tags:     input.Tags,
	})
	if err != nil {
		return nil, StoreOutput{}, MapError(err)
	}

	return nil, StoreOutput{ID: result.ID, HasEmbedding: result.HasEmbedding, Degraded: result.Degraded}, nil
}

func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, MemoryOutput, error) {
	if input.ID == "" {
		return nil, MemoryOutput{}, NewInvalidParamsError("id is required")
	}

	m, err := s.engine.Get(ctx, input.ID)
	if err != nil {
		return nil, MemoryOutput{}, MapError(err)
	}
	return nil, memoryToOutput(m), nil
}

func (s *Server) handleDelete(ctx context.Context, _ *mcp.CallToolRequest, input DeleteInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if input.ID == "" {
		return nil, DeleteOutput{}, NewInvalidParamsError("id is required")
	}

	deleted, err := s.engine.Delete(ctx, input.ID)
	if err != nil {
		return nil, DeleteOutput{}, MapError(err)
	}
	return nil, DeleteOutput{Deleted: deleted}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query is required")
	}

	limit := 10
	if input.Limit > 0 {
		limit = input.Limit
	}

	filter, err := input.toFilter()
	if err != nil {
		return nil, SearchOutput{}, NewInvalidParamsError("invalid filter: " + err.Error())
	}

	resp, err := s.engine.Search(ctx, input.Query, search.Options{Limit: limit, IndexOnly: input.IndexOnly, Filter: filter})
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	hits := make([]SearchHitOutput, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		hits = append(hits, SearchHitOutput{Memory: memoryToOutput(h.Memory), Score: h.Score, Breakdown: h.Breakdown})
	}

	return nil, SearchOutput{Hits: hits, Mode: string(resp.Mode), Partial: resp.Partial}, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, MapError(err)
	}

	byType := make(map[string]int, len(stats.ByType))
	for k, v := range stats.ByType {
		byType[string(k)] = v
	}
	byPriority := make(map[string]int, len(stats.ByPriority))
	for k, v := range stats.ByPriority {
		byPriority[string(k)] = v
	}

	return nil, StatsOutput{
		TotalMemories: stats.TotalMemories,
		IndexedCount:  stats.IndexedCount,
		HasEmbedder:   stats.HasEmbedder,
		SearchMode:    string(stats.SearchMode),
		ByType:        byType,
		ByPriority:    byPriority,
	}, nil
}

// Serve runs the server until ctx is cancelled, speaking JSON-RPC over
// stdio — the only transport the spec names for this package.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting mcp server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp server stopped")
	return nil
}
