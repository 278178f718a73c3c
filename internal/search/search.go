// Package search implements the Search Services (C11): the two
// read-only query paths the MCP server exposes, search_regex and
// search_semantic. Both go through the Storage Engine (C1) for the
// actual match; this package's job is path scoping, query-embedding
// caching, pagination truncation, and absolute/relative path
// conversion at the boundary (§4.11).
package search

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/chunkhound/chunkhound/internal/embed"
	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/store"
)

// Result is one row returned to an MCP tool caller, with FilePath
// already converted back to an absolute path (§4.11).
type Result struct {
	ChunkID   int64
	FilePath  string
	StartLine int
	EndLine   int
	Kind      string
	Name      string
	Content   string
	Distance  float64 // only set for semantic search
}

// Page is a paginated response, mirroring store.Page at the service
// boundary so callers never import internal/store directly.
type Page struct {
	Results []Result
	HasMore bool
}

// DefaultPageSize and DefaultMaxResponseTokens are the tool defaults
// named in §4.10's method signatures.
const (
	DefaultPageSize         = 10
	DefaultMaxResponseTokens = 20000

	// bytesPerToken is the conservative approximation §4.10/§9's Open
	// Question on token-counting settles on: no tokenizer library is
	// present for the embedding providers in scope, so response
	// truncation uses len(bytes)/4 rounded up rather than a vendor
	// tokenizer.
	bytesPerToken = 4
)

// Service runs the path-scoping, caching, and truncation logic around
// a Store. BaseDir is the directory stored relative paths are resolved
// against (§3 File.path, §4.11 path scoping).
type Service struct {
	gate    *gate.Gate
	embed   *embed.Service
	baseDir string
}

// New constructs a Service rooted at baseDir.
func New(g *gate.Gate, embedder *embed.Service, baseDir string) *Service {
	return &Service{gate: g, embed: embedder, baseDir: baseDir}
}

// RegexQuery is the search_regex tool's parameters (§4.10).
type RegexQuery struct {
	Pattern           string
	Path              string // optional absolute or relative scope
	PageSize          int
	Offset            int
	MaxResponseTokens int
}

// SemanticQuery is the search_semantic tool's parameters (§4.10).
type SemanticQuery struct {
	Query             string
	Provider          string
	Model             string
	Threshold         *float64
	Path              string
	PageSize          int
	Offset            int
	MaxResponseTokens int
}

// SearchRegex pushes q.Pattern down to the store as a parametrized
// query (§4.11: "no client-side filtering loop") and truncates the
// response to fit the token budget.
func (s *Service) SearchRegex(ctx context.Context, q RegexQuery) (Page, error) {
	q = withRegexDefaults(q)
	prefix := s.toRelativePrefix(q.Path)

	page, err := gate.Submit(ctx, s.gate, func(ctx context.Context, st store.Store) (*store.Page, error) {
		return st.SearchRegex(ctx, q.Pattern, prefix, q.PageSize, q.Offset)
	})
	if err != nil {
		return Page{}, err
	}
	return s.toPage(page, q.MaxResponseTokens), nil
}

// SearchSemantic embeds q.Query (via the cached embed.Service path),
// then pushes the vector and optional threshold down to the store.
func (s *Service) SearchSemantic(ctx context.Context, q SemanticQuery) (Page, error) {
	q = withSemanticDefaults(q)
	prefix := s.toRelativePrefix(q.Path)

	vector, err := s.embed.EmbedQuery(ctx, embed.ProviderType(q.Provider), q.Model, q.Query)
	if err != nil {
		return Page{}, err
	}

	page, err := gate.Submit(ctx, s.gate, func(ctx context.Context, st store.Store) (*store.Page, error) {
		return st.SearchSemantic(ctx, vector, q.Provider, q.Model, q.Threshold, prefix, q.PageSize, q.Offset)
	})
	if err != nil {
		return Page{}, err
	}
	return s.toPage(page, q.MaxResponseTokens), nil
}

func withRegexDefaults(q RegexQuery) RegexQuery {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.MaxResponseTokens <= 0 {
		q.MaxResponseTokens = DefaultMaxResponseTokens
	}
	return q
}

func withSemanticDefaults(q SemanticQuery) SemanticQuery {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.MaxResponseTokens <= 0 {
		q.MaxResponseTokens = DefaultMaxResponseTokens
	}
	if q.Provider == "" {
		q.Provider = "openai"
	}
	if q.Model == "" {
		q.Model = "text-embedding-3-small"
	}
	return q
}

// toRelativePrefix converts an absolute or already-relative path
// argument into the relative-prefix form the store's path_prefix
// filter expects (§4.11: "converted to a relative prefix ... and
// pushed into the storage query").
func (s *Service) toRelativePrefix(path string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(path))
	}
	if rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// toAbsolute converts a stored relative path back to absolute for the
// client (§4.11: "Results returned to the client have their file_path
// converted back to absolute").
func (s *Service) toAbsolute(storedPath string) string {
	if filepath.IsAbs(storedPath) {
		return storedPath
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(storedPath))
}

// toPage converts a store.Page to the service-level Page, applying
// the max_response_tokens truncation (§4.10 Pagination & truncation):
// results are kept in the store's returned order until the estimated
// serialized size would exceed the budget, at which point the
// response truncates cleanly at a result boundary and reports
// has_more regardless of what the store itself reported.
func (s *Service) toPage(p *store.Page, maxTokens int) Page {
	out := Page{Results: make([]Result, 0, len(p.Results))}
	budget := maxTokens * bytesPerToken
	used := 0

	for i, r := range p.Results {
		size := estimateResultSize(r)
		if i > 0 && used+size > budget {
			out.HasMore = true
			return out
		}
		used += size
		out.Results = append(out.Results, Result{
			ChunkID:   r.ChunkID,
			FilePath:  s.toAbsolute(r.FilePath),
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Kind:      r.Kind,
			Name:      r.Name,
			Content:   r.Content,
			Distance:  r.Distance,
		})
	}
	out.HasMore = p.HasMore
	return out
}

// estimateResultSize approximates a result's serialized byte size for
// the truncation budget, without actually marshaling it.
func estimateResultSize(r store.SearchResult) int {
	return len(r.FilePath) + len(r.Content) + len(r.Name) + len(r.Kind) + 64
}
