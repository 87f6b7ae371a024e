// Package mock provides a test double for the llm.Provider interface.
//
// Configure StreamChunks or CompleteResponse to control replies, and inspect
// StreamCalls and CompleteCalls to verify the conversation state the caller
// sent. The zero value is usable: streams close immediately and Complete
// returns nil, nil.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/trunkline/trunkline/pkg/provider/llm"
)

// StreamCall records a single invocation of Provider.StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Provider.Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted in order on the channel returned by
	// StreamCompletion, which is closed after the last chunk.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned from StreamCompletion instead of
	// a channel.
	StreamErr error

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// StreamCalls and CompleteCalls record every invocation in order.
	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and returns an already-closed channel
// preloaded with a snapshot of StreamChunks. The buffer holds every chunk, so
// no goroutine is needed and readers can drain at any pace.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	chunks := slices.Clone(p.StreamChunks)
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}
