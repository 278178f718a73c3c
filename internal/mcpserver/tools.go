package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/search"
	"github.com/chunkhound/chunkhound/internal/store"
)

// SearchRegexInput is the search_regex tool's parameters (§4.10).
type SearchRegexInput struct {
	Pattern           string `json:"pattern" jsonschema:"regular expression to search for"`
	Path              string `json:"path,omitempty" jsonschema:"restrict results to files under this path prefix"`
	PageSize          int    `json:"page_size,omitempty" jsonschema:"maximum results per page, default 10"`
	Offset            int    `json:"offset,omitempty" jsonschema:"pagination offset, default 0"`
	MaxResponseTokens int    `json:"max_response_tokens,omitempty" jsonschema:"approximate response size budget, default 20000"`
}

// SearchSemanticInput is the search_semantic tool's parameters (§4.10).
type SearchSemanticInput struct {
	Query             string   `json:"query" jsonschema:"natural-language query to embed and search for"`
	Provider          string   `json:"provider,omitempty" jsonschema:"embedding provider, default openai"`
	Model             string   `json:"model,omitempty" jsonschema:"embedding model, default text-embedding-3-small"`
	Threshold         *float64 `json:"threshold,omitempty" jsonschema:"maximum vector distance to include"`
	Path              string   `json:"path,omitempty" jsonschema:"restrict results to files under this path prefix"`
	PageSize          int      `json:"page_size,omitempty" jsonschema:"maximum results per page, default 10"`
	Offset            int      `json:"offset,omitempty" jsonschema:"pagination offset, default 0"`
	MaxResponseTokens int      `json:"max_response_tokens,omitempty" jsonschema:"approximate response size budget, default 20000"`
}

// SearchResultOutput is one row of a search_regex/search_semantic response.
type SearchResultOutput struct {
	ChunkID   int64   `json:"chunk_id" jsonschema:"identifier of the matched chunk"`
	FilePath  string  `json:"file_path" jsonschema:"absolute path of the file the chunk belongs to"`
	StartLine int     `json:"start_line" jsonschema:"first line of the chunk, 1-indexed"`
	EndLine   int     `json:"end_line" jsonschema:"last line of the chunk, 1-indexed"`
	Kind      string  `json:"kind" jsonschema:"chunk kind, e.g. function, class, docstring"`
	Name      string  `json:"name,omitempty" jsonschema:"symbol name, when applicable"`
	Content   string  `json:"content" jsonschema:"the chunk's source text"`
	Distance  float64 `json:"distance,omitempty" jsonschema:"vector distance, only set for semantic search"`
}

// SearchOutput is the paginated response both search tools return.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"matched chunks in the store's ranked order"`
	HasMore bool                 `json:"has_more" jsonschema:"true if the response was truncated by page_size or max_response_tokens"`
}

func toSearchOutput(p search.Page) SearchOutput {
	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(p.Results)), HasMore: p.HasMore}
	for _, r := range p.Results {
		out.Results = append(out.Results, SearchResultOutput{
			ChunkID:   r.ChunkID,
			FilePath:  r.FilePath,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Kind:      r.Kind,
			Name:      r.Name,
			Content:   r.Content,
			Distance:  r.Distance,
		})
	}
	return out
}

func (s *Server) handleSearchRegex(ctx context.Context, _ *mcp.CallToolRequest, input SearchRegexInput) (*mcp.CallToolResult, SearchOutput, error) {
	if err := s.requireState(StateDBReady); err != nil {
		return nil, SearchOutput{}, mapError(err)
	}
	page, err := s.deps.Search.SearchRegex(ctx, search.RegexQuery{
		Pattern:           input.Pattern,
		Path:              input.Path,
		PageSize:          input.PageSize,
		Offset:            input.Offset,
		MaxResponseTokens: input.MaxResponseTokens,
	})
	if err != nil {
		return nil, SearchOutput{}, mapError(err)
	}
	return nil, toSearchOutput(page), nil
}

func (s *Server) handleSearchSemantic(ctx context.Context, _ *mcp.CallToolRequest, input SearchSemanticInput) (*mcp.CallToolResult, SearchOutput, error) {
	if err := s.requireState(StateDBReady); err != nil {
		return nil, SearchOutput{}, mapError(err)
	}
	page, err := s.deps.Search.SearchSemantic(ctx, search.SemanticQuery{
		Query:             input.Query,
		Provider:          input.Provider,
		Model:             input.Model,
		Threshold:         input.Threshold,
		Path:              input.Path,
		PageSize:          input.PageSize,
		Offset:            input.Offset,
		MaxResponseTokens: input.MaxResponseTokens,
	})
	if err != nil {
		return nil, SearchOutput{}, mapError(err)
	}
	return nil, toSearchOutput(page), nil
}

// GetStatsInput takes no parameters; the struct exists so the tool has
// a well-formed (empty) input schema.
type GetStatsInput struct{}

// TaskQueueStatus mirrors task.Stats at the tool boundary.
type TaskQueueStatus struct {
	UserQueryPending    int `json:"user_query_pending"`
	FileChangePending   int `json:"file_change_pending"`
	PeriodicScanPending int `json:"periodic_scan_pending"`
}

// GetStatsOutput is the get_stats tool's response (§4.10).
type GetStatsOutput struct {
	Files           int             `json:"files"`
	Chunks          int             `json:"chunks"`
	Embeddings      int             `json:"embeddings"`
	Providers       []string        `json:"providers"`
	TaskQueueStatus TaskQueueStatus `json:"task_queue_status"`
}

func (s *Server) handleGetStats(ctx context.Context, _ *mcp.CallToolRequest, _ GetStatsInput) (*mcp.CallToolResult, GetStatsOutput, error) {
	queueStatus := s.deps.Tasks.Stats()
	out := GetStatsOutput{
		TaskQueueStatus: TaskQueueStatus{
			UserQueryPending:    queueStatus.UserQueryPending,
			FileChangePending:   queueStatus.FileChangePending,
			PeriodicScanPending: queueStatus.PeriodicScanPending,
		},
	}

	if err := s.requireState(StateDBReady); err != nil {
		return nil, out, mapError(err)
	}

	stats, err := gate.Submit(ctx, s.deps.Gate, func(ctx context.Context, st store.Store) (store.Stats, error) {
		return st.GetStats(ctx)
	})
	if err != nil {
		return nil, out, mapError(err)
	}
	out.Files = stats.Files
	out.Chunks = stats.Chunks
	out.Embeddings = stats.Embeddings
	out.Providers = stats.Providers
	return nil, out, nil
}

// HealthCheckInput takes no parameters.
type HealthCheckInput struct{}

// ComponentHealth reports one subsystem's status within health_check.
type ComponentHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// HealthCheckOutput is the health_check tool's response (§4.10). Unlike
// get_stats this never requires db_ready: it reports exactly the
// initialization state, so a client can poll it while waiting.
type HealthCheckOutput struct {
	Status     string            `json:"status"`
	Since      string            `json:"since"`
	Components []ComponentHealth `json:"components"`
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *mcp.CallToolRequest, _ HealthCheckInput) (*mcp.CallToolResult, HealthCheckOutput, error) {
	state := s.state.get()

	componentStatus := "initializing"
	if state >= StateDBReady {
		componentStatus = "ready"
	}

	components := []ComponentHealth{
		{Name: "storage", Status: componentStatus},
		{Name: "task_queue", Status: "ready"},
	}
	if s.deps.Watcher != nil {
		components = append(components, ComponentHealth{Name: "watcher", Status: "ready"})
	}
	if s.deps.Scanner != nil {
		scannerStatus := "initializing"
		if state >= StateToolsReady {
			scannerStatus = "ready"
		}
		components = append(components, ComponentHealth{Name: "periodic_scan", Status: scannerStatus})
	}

	return nil, HealthCheckOutput{
		Status:     state.String(),
		Since:      s.startedAt.Format(rfc3339Milli),
		Components: components,
	}, nil
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"
