package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// wireFormat adapts one HTTP embedding API's request/response shape.
// Providers that speak the same wire (openai and openai-compatible; tei
// and bge-in-icl) share an implementation.
type wireFormat interface {
	path() string
	buildRequest(model string, texts []string) ([]byte, error)
	parseResponse(body []byte) ([][]float32, error)
}

// HTTPConfig configures one provider endpoint (grounded on the
// teacher's OllamaConfig shape, generalized from a local daemon to an
// arbitrary HTTP embedding API).
type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int // 0 = auto-detect from first response
	BatchSize         int
	Timeout           time.Duration
	MaxRetries        int
	PoolSize          int
	InstructionPrefix string // prepended to each text; used by bge-in-icl
}

func (c *HTTPConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
}

// HTTPEmbedder is an Embedder backed by a remote HTTP embedding API. One
// instance serves exactly one (wire format, provider config) pair; the
// factory in factory.go selects the wire per provider name.
type HTTPEmbedder struct {
	client    *http.Client
	transport *http.Transport
	wire      wireFormat
	cfg       HTTPConfig

	mu     sync.RWMutex
	closed bool
	dims   int
}

var _ Embedder = (*HTTPEmbedder)(nil)

func newHTTPEmbedder(cfg HTTPConfig, wire wireFormat) *HTTPEmbedder {
	cfg.applyDefaults()
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &HTTPEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		wire:      wire,
		cfg:       cfg,
		dims:      cfg.Dimensions,
	}
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, chunkerr.Contract("ERR_EMBED_CLOSED", "embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	input := texts
	if e.cfg.InstructionPrefix != "" {
		input = make([]string, len(texts))
		for i, t := range texts {
			input[i] = e.cfg.InstructionPrefix + t
		}
	}

	var embeddings [][]float32
	retryCfg := DefaultRetryConfig()
	retryCfg.MaxRetries = e.cfg.MaxRetries
	err := withRetry(ctx, retryCfg, func() error {
		var doErr error
		embeddings, doErr = e.doEmbed(ctx, input)
		return doErr
	})
	if err != nil {
		return nil, err
	}

	for i, emb := range embeddings {
		embeddings[i] = normalizeVector(emb)
	}

	e.mu.Lock()
	if e.dims == 0 && len(embeddings) > 0 {
		e.dims = len(embeddings[0])
	}
	e.mu.Unlock()

	return embeddings, nil
}

func (e *HTTPEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := e.wire.buildRequest(e.cfg.Model, texts)
	if err != nil {
		return nil, chunkerr.Internal("ERR_EMBED_ENCODE", "failed to encode embedding request", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + e.wire.path()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, chunkerr.Internal("ERR_EMBED_REQUEST", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	req = req.WithContext(timeoutCtx)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, chunkerr.Transient("ERR_EMBED_CONNECT", "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chunkerr.Transient("ERR_EMBED_READ", "failed to read embedding response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, chunkerr.RateLimit("ERR_EMBED_RATE_LIMIT", fmt.Sprintf("provider rate limit: %s", string(respBody)), nil)
	}
	if resp.StatusCode >= 500 {
		return nil, chunkerr.Transient("ERR_EMBED_SERVER", fmt.Sprintf("provider server error %d: %s", resp.StatusCode, string(respBody)), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, chunkerr.Contract("ERR_EMBED_STATUS", fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	embeddings, err := e.wire.parseResponse(respBody)
	if err != nil {
		return nil, chunkerr.Internal("ERR_EMBED_DECODE", "failed to decode embedding response", err)
	}
	if len(embeddings) != len(texts) {
		return nil, chunkerr.Contract("ERR_EMBED_COUNT_MISMATCH", fmt.Sprintf("provider returned %d embeddings for %d inputs", len(embeddings), len(texts)))
	}
	return embeddings, nil
}

func (e *HTTPEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

func (e *HTTPEmbedder) ModelName() string { return e.cfg.Model }

func (e *HTTPEmbedder) MaxBatchSize() int { return e.cfg.BatchSize }

func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

// openAIWire speaks the OpenAI /v1/embeddings shape, shared by the
// openai and openai-compatible providers.
type openAIWire struct{}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (openAIWire) path() string { return "/embeddings" }

func (openAIWire) buildRequest(model string, texts []string) ([]byte, error) {
	return json.Marshal(openAIRequest{Model: model, Input: texts})
}

func (openAIWire) parseResponse(body []byte) ([][]float32, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for _, row := range resp.Data {
		if row.Index < 0 || row.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(row.Embedding))
		for j, v := range row.Embedding {
			vec[j] = float32(v)
		}
		out[row.Index] = vec
	}
	return out, nil
}

// teiWire speaks HuggingFace Text Embeddings Inference's /embed shape:
// {"inputs": [...]} in, a bare array of vectors out. Shared by the tei
// and bge-in-icl providers (bge-in-icl additionally prefixes each text
// with an in-context instruction, applied above the wire in
// HTTPEmbedder.EmbedBatch via HTTPConfig.InstructionPrefix).
type teiWire struct{}

type teiRequest struct {
	Inputs []string `json:"inputs"`
}

func (teiWire) path() string { return "/embed" }

func (teiWire) buildRequest(_ string, texts []string) ([]byte, error) {
	return json.Marshal(teiRequest{Inputs: texts})
}

func (teiWire) parseResponse(body []byte) ([][]float32, error) {
	var raw [][]float32
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
