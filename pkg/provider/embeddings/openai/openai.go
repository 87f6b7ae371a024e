// Package openai provides an embeddings provider backed by the OpenAI API.
//
// The default model is text-embedding-3-small, cheap enough to embed every
// finished call transcript as it lands in the call log. The v3 models also
// accept a reduced output dimensionality, exposed through WithDimensions for
// deployments that want smaller vectors in the transcript index.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/trunkline/trunkline/pkg/provider/embeddings"
)

// DefaultModel is used when New is called with an empty model name.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider on the OpenAI embeddings endpoint.
type Provider struct {
	client   oai.Client
	model    string
	dims     int
	override bool // dims came from WithDimensions and must be sent on the wire
}

// settings collects the request options assembled by Option values.
type settings struct {
	reqOpts []option.RequestOption
	dims    int
}

// Option customises a Provider created by New.
type Option func(*settings)

// WithBaseURL points the client at a proxy or an OpenAI-compatible embedding
// server instead of api.openai.com.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithBaseURL(url))
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithOrganization(org))
	}
}

// WithTimeout bounds each HTTP request. Non-positive durations are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d <= 0 {
			return
		}
		s.reqOpts = append(s.reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: d,
		}))
	}
}

// WithDimensions requests vectors of the given length instead of the model's
// native size. Only the text-embedding-3 family honours this; older models
// reject the parameter.
func WithDimensions(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.dims = n
		}
	}
}

// New constructs a Provider. model may be empty, in which case DefaultModel
// is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	s := settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}

	p := &Provider{
		client: oai.NewClient(s.reqOpts...),
		model:  model,
	}
	if s.dims > 0 {
		p.dims = s.dims
		p.override = true
	} else {
		p.dims = nativeDimensions(model)
	}
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. The endpoint tags every vector
// with the index of its input, so results are slotted back into input order
// rather than trusted to arrive sorted.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if p.override {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: vector index %d out of range", d.Index)
		}
		out[d.Index] = toFloat32(d.Embedding)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

var nativeDims = []struct {
	substr string
	dims   int
}{
	{"text-embedding-3-large", 3072},
	{"text-embedding-3-small", 1536},
	{"text-embedding-ada-002", 1536},
}

// nativeDimensions returns the full vector size for known OpenAI models,
// defaulting to 1536 for anything unrecognised.
func nativeDimensions(model string) int {
	lower := strings.ToLower(model)
	for _, m := range nativeDims {
		if strings.Contains(lower, m.substr) {
			return m.dims
		}
	}
	return 1536
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
