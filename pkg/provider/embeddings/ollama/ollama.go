// Package ollama provides an embeddings provider backed by a local Ollama server.
//
// Ollama (https://ollama.com) hosts local embedding models such as
// nomic-embed-text, mxbai-embed-large and all-minilm. This package talks to
// its native /api/embed endpoint, which makes it the natural choice for
// deployments that keep call transcripts on-premises.
//
// Example:
//
//	p, err := ollama.New("", "nomic-embed-text") // connects to http://localhost:11434
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vec, err := p.Embed(ctx, "I'd like to book a table for four.")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/trunkline/trunkline/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// embedPath is Ollama's native embedding endpoint.
const embedPath = "/api/embed"

// probeTimeout bounds the one-off request Dimensions issues for models the
// dimension table does not know.
const probeTimeout = 10 * time.Second

// Compile-time interface assertion.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
//
// The vector dimension is resolved in this order: an explicit
// [WithDimensions] value, then the built-in table of recognised model names,
// then a one-off probe embed against the live server whose vector length is
// cached for the lifetime of the Provider.
//
// Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client

	// dimensions holds the resolved vector length; zero means not yet
	// known and triggers the probe in Dimensions.
	dimensions int
	probeOnce  sync.Once
}

// Option is a functional option for [New].
type Option func(*Provider)

// WithTimeout sets a per-request timeout on the underlying HTTP client.
// Zero or negative means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithDimensions pre-sets the embedding dimension, bypassing both the
// model-name table and the probe request unknown models would otherwise
// trigger.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		p.dimensions = dims
	}
}

// New constructs an Ollama Provider. baseURL defaults to [DefaultBaseURL]
// when empty; a trailing slash is stripped. model is the Ollama model name
// ("nomic-embed-text") and must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

// Embed implements embeddings.Provider. The text is forwarded verbatim; any
// model-specific prompt formatting (a "query: " or "passage: " prefix for
// nomic-embed-text) is the caller's responsibility.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.requestEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, errors.New("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider by embedding all texts in a
// single request, result[i] matching texts[i]. A nil or empty slice returns
// (nil, nil) without touching the network.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.requestEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. For models the table does not
// recognise, one probe embed is issued against the live server and the
// vector length cached; if the probe fails, 0 is returned.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.probeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		vecs, err := p.requestEmbed(ctx, []string{"probe"})
		if err == nil && len(vecs) > 0 {
			p.dimensions = len(vecs[0])
		}
	})
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// embedRequest is the JSON body for POST /api/embed.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON body Ollama answers with.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// requestEmbed posts the texts to /api/embed and returns the raw vectors.
func (p *Provider) requestEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+embedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// statusError turns a non-200 response into an error, carrying along the
// server's own message when Ollama supplies one.
func statusError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

// modelDims maps recognised model-name substrings to their output
// dimension. Substring matching keeps tagged names like
// "nomic-embed-text:latest" covered.
var modelDims = []struct {
	substr string
	dims   int
}{
	{"nomic-embed-text", 768},
	{"mxbai-embed-large", 1024},
	{"all-minilm", 384},
}

// knownDimensions returns the table dimension for the model, or 0 for
// unknown models, which defers to the probe in Dimensions.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	for _, m := range modelDims {
		if strings.Contains(lower, m.substr) {
			return m.dims
		}
	}
	return 0
}
