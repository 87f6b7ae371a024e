// Package reply turns a streaming dialogue completion into ordered telephone
// audio. A Sequencer consumes text chunks as the language model produces
// them, cuts the accumulating text into sentences, synthesizes each sentence
// concurrently with a bounded lookahead, and emits the results as fixed-size
// mu-law wire frames in the original sentence order.
//
// Splitting on sentences keeps time-to-first-audio low: the first sentence
// plays while later ones are still being synthesized.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/provider/llm"
	"github.com/trunkline/trunkline/pkg/provider/tts"
)

const (
	// sentenceLookahead bounds how many synthesis requests may be in flight
	// at once while output ordering is preserved.
	sentenceLookahead = 4

	// frameChanBuf is the frame channel capacity toward the pacer. At 20 ms
	// per frame this buffers a little over one second of audio.
	frameChanBuf = 64
)

// Sentinel errors carried in Result.Err so callers can attribute a failed
// reply to the dialogue stream or to synthesis.
var (
	ErrDialogue  = errors.New("reply: dialogue stream failed")
	ErrSynthesis = errors.New("reply: synthesis failed")
)

// Result reports the outcome of one streamed reply after all audio has been
// emitted.
type Result struct {
	// Text is the full assembled reply text, including any trailing partial
	// sentence.
	Text string

	// Sentences is the number of sentences whose audio reached the output.
	Sentences int

	// Err is the first error encountered, either from the dialogue stream or
	// from synthesis. Audio emitted before the error is still valid.
	Err error
}

// Option is a functional option for configuring a Sequencer.
type Option func(*Sequencer)

// WithLookahead sets how many sentences may be synthesized concurrently.
// Values below 1 are ignored.
func WithLookahead(n int) Option {
	return func(s *Sequencer) {
		if n >= 1 {
			s.lookahead = n
		}
	}
}

// Sequencer converts dialogue streams into ordered wire frames using a fixed
// synthesizer and voice. It is safe for concurrent use; each Stream call runs
// an independent pipeline.
type Sequencer struct {
	synth     tts.Synthesizer
	voice     tts.VoiceProfile
	lookahead int
}

// NewSequencer creates a Sequencer that speaks with the given voice.
func NewSequencer(synth tts.Synthesizer, voice tts.VoiceProfile, opts ...Option) (*Sequencer, error) {
	if synth == nil {
		return nil, errors.New("reply: synth must not be nil")
	}
	s := &Sequencer{
		synth:     synth,
		voice:     voice,
		lookahead: sentenceLookahead,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// audioResult carries one sentence's synthesized mu-law audio or an error
// from a worker goroutine.
type audioResult struct {
	mulaw []byte
	err   error
}

// textOutcome carries the assembled reply text and any stream error from the
// accumulator to the pipeline tail.
type textOutcome struct {
	text string
	err  error
}

// Stream consumes dialogue chunks and returns a channel of 20 ms mu-law wire
// frames plus a single-delivery result channel.
//
// The frame channel is closed when all audio has been emitted, when an error
// stops the pipeline, or when ctx is cancelled. The result channel delivers
// exactly one Result after the frame channel closes. Callers must drain the
// frame channel.
//
// A chunk with FinishReason "error" aborts synthesis of further sentences;
// audio for sentences already completed is still emitted in order.
func (s *Sequencer) Stream(ctx context.Context, chunks <-chan llm.Chunk) (<-chan []byte, <-chan Result) {
	frames := make(chan []byte, frameChanBuf)
	resultCh := make(chan Result, 1)

	go func() {
		defer close(frames)
		defer close(resultCh)

		// Cancelling unblocks the accumulator and dispatcher if the collector
		// stops early, so the pipeline never leaks goroutines.
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		// sentences carries complete sentences from the accumulator to the
		// dispatcher.
		sentences := make(chan string, s.lookahead)

		// resultQueue carries ordered future channels so the collector can
		// drain in sentence order while synthesis runs concurrently.
		resultQueue := make(chan chan audioResult, s.lookahead)

		// textCh delivers the assembled text once the chunk stream ends.
		textCh := make(chan textOutcome, 1)

		// --- Accumulator ---
		// Reads dialogue chunks, buffers text, and emits complete sentences.
		go func() {
			defer close(sentences)

			var full strings.Builder
			var buf strings.Builder
			outcome := textOutcome{}
			defer func() {
				outcome.text = strings.TrimSpace(full.String())
				textCh <- outcome
			}()

			flush := func() {
				if remaining := strings.TrimSpace(buf.String()); remaining != "" {
					select {
					case sentences <- remaining:
					case <-runCtx.Done():
					}
				}
			}

			for {
				select {
				case chunk, ok := <-chunks:
					if !ok {
						flush()
						return
					}
					if chunk.FinishReason == llm.FinishReasonError {
						// The chunk text is the error message, not speech.
						outcome.err = fmt.Errorf("%w: %s", ErrDialogue, chunk.Text)
						return
					}
					full.WriteString(chunk.Text)
					buf.WriteString(chunk.Text)

					// Drain all complete sentences from the buffer.
					for {
						txt := buf.String()
						idx := findSentenceBoundary(txt)
						if idx < 0 {
							break
						}
						sentence := strings.TrimSpace(txt[:idx+1])
						buf.Reset()
						buf.WriteString(txt[idx+1:])
						if sentence == "" {
							continue
						}
						select {
						case sentences <- sentence:
						case <-runCtx.Done():
							return
						}
					}
				case <-runCtx.Done():
					return
				}
			}
		}()

		// --- Dispatcher ---
		// Launches one synthesis goroutine per sentence and queues an ordered
		// future for the collector.
		go func() {
			defer close(resultQueue)
			for {
				select {
				case sentence, ok := <-sentences:
					if !ok {
						return
					}
					ch := make(chan audioResult, 1)
					select {
					case resultQueue <- ch:
					case <-runCtx.Done():
						return
					}
					go func(text string, out chan<- audioResult) {
						mulaw, err := s.synth.Synthesize(runCtx, text, s.voice)
						out <- audioResult{mulaw: mulaw, err: err}
					}(sentence, ch)
				case <-runCtx.Done():
					return
				}
			}
		}()

		// --- Collector ---
		// Drains futures in order and emits fixed-size wire frames. Each
		// sentence's final frame is silence-padded, which leaves at most one
		// frame of extra quiet between sentences.
		var synthErr error
		sentenceCount := 0
	collect:
		for ch := range resultQueue {
			select {
			case res := <-ch:
				if res.err != nil {
					synthErr = fmt.Errorf("%w: %w", ErrSynthesis, res.err)
					break collect
				}
				sentenceCount++
				for _, frame := range audio.SplitFrames(res.mulaw, audio.FrameSamples) {
					select {
					case frames <- frame:
					case <-runCtx.Done():
						break collect
					}
				}
			case <-runCtx.Done():
				break collect
			}
		}
		cancel()

		outcome := <-textCh
		res := Result{
			Text:      outcome.text,
			Sentences: sentenceCount,
			Err:       outcome.err,
		}
		if res.Err == nil {
			res.Err = synthErr
		}
		if res.Err == nil && ctx.Err() != nil {
			res.Err = ctx.Err()
		}
		resultCh <- res
	}()

	return frames, resultCh
}

// Say speaks a fixed phrase through the same pipeline. It is used for
// greetings and fallback lines that do not involve the dialogue engine.
func (s *Sequencer) Say(ctx context.Context, text string) (<-chan []byte, <-chan Result) {
	chunks := make(chan llm.Chunk, 1)
	chunks <- llm.Chunk{Text: text}
	close(chunks)
	return s.Stream(ctx, chunks)
}

// findSentenceBoundary returns the index of the first sentence-ending
// character ('.', '!', '?') that is either at the end of s or immediately
// followed by whitespace. Returns -1 if no boundary is found.
//
// Requiring trailing whitespace keeps abbreviations like "Dr." and decimals
// like "3.14" intact mid-sentence.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
