// Package anyllm adapts github.com/mozilla-ai/any-llm-go, which speaks the
// wire protocols of OpenAI, Anthropic, Gemini, Ollama and several other chat
// backends behind one interface. It lets a deployment point the dialogue
// chain at whichever backend it has keys for by editing configuration,
// without a dedicated provider package per vendor.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/trunkline/trunkline/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// backends maps a lowercase backend name from configuration to its any-llm-go
// constructor.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    anyllmoai.New,
	"anthropic": anthropic.New,
	"gemini":    gemini.New,
	"ollama":    ollama.New,
	"deepseek":  deepseek.New,
	"mistral":   mistral.New,
	"groq":      groq.New,
	"llamacpp":  llamacpp.New,
	"llamafile": llamafile.New,
}

// Supported returns the backend names New accepts, sorted for stable error
// and log output.
func Supported() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider implements llm.Provider on top of a configured any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for the named backend; see Supported for the
// accepted names. Credentials and endpoints are passed as any-llm-go options
// such as anyllmlib.WithAPIKey and anyllmlib.WithBaseURL; without an API key
// option each backend falls back to its usual environment variable
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on).
func New(backendName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}

	name := strings.ToLower(backendName)
	construct, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (supported: %s)",
			backendName, strings.Join(Supported(), ", "))
	}
	backend, err := construct(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: init %s backend: %w", name, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.requestParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		emit := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if !emit(llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}) {
				return
			}
		}

		// The backend closes the chunk channel before publishing its terminal
		// error, so this read must come after the drain loop.
		if err := <-errs; err != nil {
			emit(llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()})
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.requestParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: backend returned no choices")
	}

	result := &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// requestParams converts a CompletionRequest into any-llm-go params. The
// system prompt, when present, leads the message list; roles pass through
// verbatim since both sides use the OpenAI role names.
func (p *Provider) requestParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
