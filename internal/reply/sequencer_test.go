package reply

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/provider/llm"
	"github.com/trunkline/trunkline/pkg/provider/tts"
	ttsmock "github.com/trunkline/trunkline/pkg/provider/tts/mock"
)

// synthFunc adapts a function to the tts.Synthesizer interface for tests
// that need per-sentence behavior.
type synthFunc func(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	return f(ctx, text, voice)
}

func (f synthFunc) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	return nil, nil
}

// sendChunks feeds texts into a chunk channel and closes it.
func sendChunks(texts ...string) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(texts))
	for _, t := range texts {
		ch <- llm.Chunk{Text: t}
	}
	close(ch)
	return ch
}

// collectFrames drains the frame channel and returns every frame in order.
func collectFrames(t *testing.T, frames <-chan []byte) [][]byte {
	t.Helper()
	var out [][]byte
	for f := range frames {
		out = append(out, f)
	}
	return out
}

func TestFindSentenceBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"", -1},
		{"Hello", -1},
		{"Hello.", 5},
		{"Hello. World", 5},
		{"Wait!", 4},
		{"Really? Yes.", 6},
		{"3.14 is pi", -1},
		{"v1.2 shipped", -1},
	}
	for _, tt := range tests {
		if got := findSentenceBoundary(tt.in); got != tt.want {
			t.Errorf("findSentenceBoundary(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewSequencer_NilSynth_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := NewSequencer(nil, tts.VoiceProfile{})
	if err == nil {
		t.Fatal("NewSequencer(nil, ...) error = nil, want non-nil")
	}
}

func TestStream_SplitsSentencesAcrossChunks(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Audio: bytes.Repeat([]byte{0x2A}, audio.FrameSamples)}
	seq, err := NewSequencer(synth, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}

	frames, resultCh := seq.Stream(context.Background(),
		sendChunks("Hello there. How", " are you? Goodbye"))

	got := collectFrames(t, frames)
	res := <-resultCh

	if res.Err != nil {
		t.Fatalf("result err = %v, want nil", res.Err)
	}
	if res.Text != "Hello there. How are you? Goodbye" {
		t.Errorf("result text = %q, want full reply", res.Text)
	}
	if res.Sentences != 3 {
		t.Errorf("sentences = %d, want 3", res.Sentences)
	}
	if len(got) != 3 {
		t.Errorf("frame count = %d, want 3 (one frame per sentence)", len(got))
	}

	calls := synth.Calls()
	wantTexts := []string{"Hello there.", "How are you?", "Goodbye"}
	if len(calls) != len(wantTexts) {
		t.Fatalf("synthesize calls = %d, want %d", len(calls), len(wantTexts))
	}
	for i, want := range wantTexts {
		if calls[i].Text != want {
			t.Errorf("call %d text = %q, want %q", i, calls[i].Text, want)
		}
	}
}

func TestStream_FramesAreFixedSizeAndPadded(t *testing.T) {
	t.Parallel()

	// 400 bytes of audio: two full frames plus a padded tail frame.
	synth := &ttsmock.Synthesizer{Audio: bytes.Repeat([]byte{0x2A}, 400)}
	seq, err := NewSequencer(synth, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}

	frames, resultCh := seq.Stream(context.Background(), sendChunks("One sentence."))
	got := collectFrames(t, frames)
	if res := <-resultCh; res.Err != nil {
		t.Fatalf("result err = %v", res.Err)
	}

	if len(got) != 3 {
		t.Fatalf("frame count = %d, want 3", len(got))
	}
	for i, f := range got {
		if len(f) != audio.FrameSamples {
			t.Errorf("frame %d length = %d, want %d", i, len(f), audio.FrameSamples)
		}
	}
	tail := got[2][80:]
	for i, b := range tail {
		if b != audio.SilenceByte {
			t.Fatalf("tail byte %d = %#x, want silence pad %#x", i, b, audio.SilenceByte)
		}
	}
}

func TestStream_PreservesOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	// The first sentence synthesizes slowest; ordering must still hold.
	synth := synthFunc(func(ctx context.Context, text string, _ tts.VoiceProfile) ([]byte, error) {
		var marker byte
		switch {
		case strings.HasPrefix(text, "One"):
			marker = 1
			time.Sleep(60 * time.Millisecond)
		case strings.HasPrefix(text, "Two"):
			marker = 2
			time.Sleep(20 * time.Millisecond)
		default:
			marker = 3
		}
		return bytes.Repeat([]byte{marker}, audio.FrameSamples), nil
	})

	seq, err := NewSequencer(synth, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}

	frames, resultCh := seq.Stream(context.Background(), sendChunks("One. Two. Three."))
	got := collectFrames(t, frames)
	if res := <-resultCh; res.Err != nil {
		t.Fatalf("result err = %v", res.Err)
	}

	if len(got) != 3 {
		t.Fatalf("frame count = %d, want 3", len(got))
	}
	for i, want := range []byte{1, 2, 3} {
		if got[i][0] != want {
			t.Errorf("frame %d marker = %d, want %d", i, got[i][0], want)
		}
	}
}

func TestStream_ErrorChunkIsNotSpoken(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Audio: bytes.Repeat([]byte{0x2A}, audio.FrameSamples)}
	seq, err := NewSequencer(synth, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}

	chunks := make(chan llm.Chunk, 2)
	chunks <- llm.Chunk{Text: "Sorry. "}
	chunks <- llm.Chunk{FinishReason: llm.FinishReasonError, Text: "backend exploded"}
	close(chunks)

	frames, resultCh := seq.Stream(context.Background(), chunks)
	collectFrames(t, frames)
	res := <-resultCh

	if res.Err == nil {
		t.Fatal("result err = nil, want stream error")
	}
	if !errors.Is(res.Err, ErrDialogue) {
		t.Errorf("result err = %v, want ErrDialogue", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "backend exploded") {
		t.Errorf("result err = %v, want message carrying backend error", res.Err)
	}
	if res.Text != "Sorry." {
		t.Errorf("result text = %q, want %q (error message excluded)", res.Text, "Sorry.")
	}
	for _, call := range synth.Calls() {
		if strings.Contains(call.Text, "backend exploded") {
			t.Fatalf("error message was synthesized: %q", call.Text)
		}
	}
}

func TestStream_SynthesisErrorStopsPipeline(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Err: errors.New("voice server down")}
	seq, err := NewSequencer(synth, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}

	frames, resultCh := seq.Stream(context.Background(), sendChunks("Hello caller."))
	got := collectFrames(t, frames)
	res := <-resultCh

	if res.Err == nil {
		t.Fatal("result err = nil, want synthesis error")
	}
	if !errors.Is(res.Err, ErrSynthesis) {
		t.Errorf("result err = %v, want ErrSynthesis", res.Err)
	}
	if len(got) != 0 {
		t.Errorf("frame count = %d, want 0", len(got))
	}
	if res.Sentences != 0 {
		t.Errorf("sentences = %d, want 0", res.Sentences)
	}
}

func TestStream_EmptyStream(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{}
	seq, err := NewSequencer(synth, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}

	frames, resultCh := seq.Stream(context.Background(), sendChunks())
	got := collectFrames(t, frames)
	res := <-resultCh

	if res.Err != nil {
		t.Errorf("result err = %v, want nil", res.Err)
	}
	if res.Text != "" || res.Sentences != 0 || len(got) != 0 {
		t.Errorf("empty stream produced text %q, %d sentences, %d frames",
			res.Text, res.Sentences, len(got))
	}
	if len(synth.Calls()) != 0 {
		t.Errorf("synthesize calls = %d, want 0", len(synth.Calls()))
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Audio: bytes.Repeat([]byte{0x2A}, audio.FrameSamples)}
	seq, err := NewSequencer(synth, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan llm.Chunk) // never closed: only cancellation ends the stream
	frames, resultCh := seq.Stream(ctx, chunks)
	cancel()

	collectFrames(t, frames)
	res := <-resultCh
	if res.Err == nil {
		t.Fatal("result err = nil, want context cancellation")
	}
}

func TestSay_SpeaksFixedPhrase(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Synthesizer{Audio: bytes.Repeat([]byte{0x2A}, audio.FrameSamples)}
	seq, err := NewSequencer(synth, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("NewSequencer() error = %v", err)
	}

	frames, resultCh := seq.Say(context.Background(), "Welcome to the booking line.")
	got := collectFrames(t, frames)
	res := <-resultCh

	if res.Err != nil {
		t.Fatalf("result err = %v", res.Err)
	}
	if res.Text != "Welcome to the booking line." {
		t.Errorf("result text = %q, want greeting", res.Text)
	}
	if len(got) == 0 {
		t.Error("frame count = 0, want audio for greeting")
	}
	calls := synth.Calls()
	if len(calls) != 1 || calls[0].Text != "Welcome to the booking line." {
		t.Errorf("synthesize calls = %+v, want one call with full phrase", calls)
	}
}
