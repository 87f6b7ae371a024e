// Package call manages the per-call pipelines of the gateway. A Session owns
// everything one telephone call needs: the voice activity detector, the
// utterance assembler, the conversation history and the outbound audio
// queue. A Manager maps call IDs to sessions and sweeps out calls that
// exceed the hard lifetime cap.
//
// Frames for one call are processed strictly in arrival order by that call's
// transport goroutine; there is no ordering between calls. While a session
// is processing an utterance (recognition, dialogue and synthesis), inbound
// frames are consumed and dropped, never queued, so stale audio can never
// form a backlog that replays after the reply.
package call

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/internal/reply"
	"github.com/trunkline/trunkline/internal/utterance"
	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/provider/llm"
	"github.com/trunkline/trunkline/pkg/provider/stt"
	"github.com/trunkline/trunkline/pkg/vad"
)

// Corrector rewrites a recognized transcript before it reaches the dialogue
// engine, typically fixing domain words the recognizer misheard.
type Corrector interface {
	Correct(text string) string
}

// Exchange is one completed caller/assistant turn, handed to a Recorder
// after the reply has been spoken.
type Exchange struct {
	CallID      string
	UtteranceID string

	// CallerText is the corrected transcript of what the caller said.
	CallerText string

	// ReplyText is the full text the assistant spoke back.
	ReplyText string

	// AudioDuration is the length of the caller's utterance audio.
	AudioDuration time.Duration

	// Heard is when the utterance was captured.
	Heard time.Time
}

// Recorder persists completed exchanges. Implementations must tolerate
// being called from many call workers at once.
type Recorder interface {
	RecordExchange(ctx context.Context, ex Exchange) error
}

// Collaborators bundles the services a session drives for each utterance.
// Recognizer, Dialogue and Speech are required; Corrector and Recorder are
// optional.
type Collaborators struct {
	Recognizer stt.Recognizer
	Dialogue   llm.Provider
	Speech     *reply.Sequencer
	Corrector  Corrector
	Recorder   Recorder
}

func (c Collaborators) validate() error {
	if c.Recognizer == nil {
		return errors.New("call: recognizer must not be nil")
	}
	if c.Dialogue == nil {
		return errors.New("call: dialogue provider must not be nil")
	}
	if c.Speech == nil {
		return errors.New("call: speech sequencer must not be nil")
	}
	return nil
}

// SessionConfig tunes per-call behaviour. The zero value of any field
// selects the default noted on it.
type SessionConfig struct {
	// VAD configures the per-call voice activity detector.
	VAD vad.Config

	// Utterance configures the per-call utterance assembler.
	Utterance utterance.Config

	// SystemPrompt steers the dialogue engine for every turn of the call.
	SystemPrompt string

	// Temperature and MaxTokens are passed through to the dialogue engine.
	// Zero means the provider default.
	Temperature float64
	MaxTokens   int

	// MaxHistory bounds the retained conversation history in messages; the
	// oldest turns are dropped first. Default: 16.
	MaxHistory int

	// ProcessTimeout caps one recognition-dialogue-synthesis round trip.
	// Default: 60s.
	ProcessTimeout time.Duration

	// OutboundBuffer is the outbound frame queue capacity. At 20 ms per
	// frame the default of 256 holds roughly five seconds of audio.
	OutboundBuffer int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 16
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 60 * time.Second
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = 256
	}
	return c
}

// SessionStats is a point-in-time snapshot of one session's counters.
type SessionStats struct {
	ID            string
	CreatedAt     time.Time
	LastFrameAt   time.Time
	FramesIn      int64
	FramesDropped int64
	Utterances    int64
	Exchanges     int64
	Processing    bool
}

// Session is the state of one live telephone call.
//
// HandleFrame must be called from a single goroutine, the call's transport
// reader. All other methods are safe for concurrent use.
type Session struct {
	id     string
	cfg    SessionConfig
	collab Collaborators
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	detector  *vad.Detector
	assembler *utterance.Assembler

	processing atomic.Bool
	closed     atomic.Bool
	wg         sync.WaitGroup

	outbound chan []byte

	createdAt   time.Time
	lastFrameNs atomic.Int64

	framesIn      atomic.Int64
	framesDropped atomic.Int64
	utterances    atomic.Int64
	exchanges     atomic.Int64

	mu      sync.Mutex
	history []llm.Message
}

func newSession(id string, collab Collaborators, cfg SessionConfig, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		cfg:       cfg,
		collab:    collab,
		log:       log.With("call_id", id),
		ctx:       ctx,
		cancel:    cancel,
		detector:  vad.NewDetector(cfg.VAD),
		assembler: utterance.New(cfg.Utterance),
		outbound:  make(chan []byte, cfg.OutboundBuffer),
		createdAt: time.Now(),
	}
}

// ID returns the call ID this session serves.
func (s *Session) ID() string { return s.id }

// Outbound returns the channel of 20 ms mu-law frames to play to the
// caller. It is closed when the session closes.
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// IsProcessing reports whether an utterance round trip is in flight.
func (s *Session) IsProcessing() bool { return s.processing.Load() }

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() SessionStats {
	var last time.Time
	if ns := s.lastFrameNs.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return SessionStats{
		ID:            s.id,
		CreatedAt:     s.createdAt,
		LastFrameAt:   last,
		FramesIn:      s.framesIn.Load(),
		FramesDropped: s.framesDropped.Load(),
		Utterances:    s.utterances.Load(),
		Exchanges:     s.exchanges.Load(),
		Processing:    s.processing.Load(),
	}
}

// HandleFrame feeds one inbound wire frame through the detection pipeline.
// Malformed frames, sub-analysis frames and rejected utterances are dropped
// without error; the transport keeps reading regardless.
func (s *Session) HandleFrame(frame []byte) error {
	if s.closed.Load() {
		return nil
	}
	s.framesIn.Add(1)
	s.lastFrameNs.Store(time.Now().UnixNano())

	pcm, err := audio.DecodeFrame(frame)
	if err != nil {
		s.framesDropped.Add(1)
		s.log.Debug("dropping malformed frame", "bytes", len(frame), "error", err)
		return nil
	}

	// While a round trip is in flight the line is consumed but nothing is
	// buffered; there is no queue for stale audio to hide in.
	if s.processing.Load() {
		s.framesDropped.Add(1)
		return nil
	}

	verdict, err := s.detector.Process(pcm)
	if err != nil {
		s.framesDropped.Add(1)
		return nil
	}

	utt, err := s.assembler.Append(pcm, verdict)
	if err != nil {
		// Below duration floor or failed confirmation: silent discard.
		s.log.Debug("discarding recording", "error", err)
		return nil
	}
	if utt == nil {
		return nil
	}

	s.utterances.Add(1)
	s.processing.Store(true)
	s.wg.Add(1)
	go s.processUtterance(utt)
	return nil
}

// Speak plays a fixed phrase to the caller through the reply pipeline,
// bypassing recognition and dialogue. Used for greetings and service
// announcements. Returns false when the session is busy or closed.
func (s *Session) Speak(text string) bool {
	if text == "" || s.closed.Load() {
		return false
	}
	if !s.processing.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.processing.Store(false)

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ProcessTimeout)
		defer cancel()

		frames, resultCh := s.collab.Speech.Say(ctx, text)
		s.forward(ctx, frames)
		if res := <-resultCh; res.Err != nil {
			s.fail(s.log, StageSynthesis, res.Err)
			return
		}

		// The phrase was spoken; let the dialogue engine see its own
		// opening line on the next turn.
		s.mu.Lock()
		s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: text})
		s.mu.Unlock()
	}()
	return true
}

// Close tears the session down: the in-flight round trip is cancelled, the
// assembler's buffers are released and the outbound channel is closed.
// Close is idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.assembler.Reset()
	close(s.outbound)
}

// processUtterance runs the recognition, dialogue and synthesis round trip
// for one confirmed utterance. Every failure path clears the processing
// flag and returns the session to listening; nothing propagates upward.
func (s *Session) processUtterance(u *utterance.Utterance) {
	defer s.wg.Done()
	defer s.processing.Store(false)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ProcessTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "call.turn", trace.WithAttributes(
		attribute.String("call_id", s.id),
		attribute.String("utterance_id", u.ID.String()),
	))
	defer span.End()

	log := observe.WithTrace(ctx, s.log).With("utterance_id", u.ID)
	log.Debug("processing utterance",
		"duration", u.Duration,
		"frames", u.Frames,
	)

	res, err := s.collab.Recognizer.Recognize(ctx, u.WAV)
	if err != nil {
		s.fail(log, StageRecognition, err)
		return
	}
	if res.NoSpeech || strings.TrimSpace(res.Text) == "" {
		log.Debug("recognizer heard no speech")
		return
	}

	text := strings.TrimSpace(res.Text)
	if s.collab.Corrector != nil {
		if corrected := s.collab.Corrector.Correct(text); corrected != text {
			log.Debug("transcript corrected", "from", text, "to", corrected)
			text = corrected
		}
	}
	log.Info("caller said", "text", text, "confidence", res.Confidence)

	chunks, err := s.collab.Dialogue.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     s.messagesWith(text),
		SystemPrompt: s.cfg.SystemPrompt,
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
	})
	if err != nil {
		s.fail(log, StageDialogue, err)
		return
	}

	frames, resultCh := s.collab.Speech.Stream(ctx, chunks)
	s.forward(ctx, frames)
	rres := <-resultCh
	if rres.Err != nil {
		stage := StageSynthesis
		if errors.Is(rres.Err, reply.ErrDialogue) {
			stage = StageDialogue
		}
		s.fail(log, stage, rres.Err)
		return
	}
	if rres.Text == "" {
		log.Debug("dialogue produced no reply")
		return
	}
	log.Info("assistant replied", "text", rres.Text, "sentences", rres.Sentences)

	s.commitTurn(text, rres.Text)
	s.exchanges.Add(1)

	if s.collab.Recorder != nil {
		ex := Exchange{
			CallID:        s.id,
			UtteranceID:   u.ID,
			CallerText:    text,
			ReplyText:     rres.Text,
			AudioDuration: u.Duration,
			Heard:         u.CapturedAt,
		}
		if err := s.collab.Recorder.RecordExchange(ctx, ex); err != nil {
			log.Warn("record exchange failed", "error", err)
		}
	}
}

// forward moves reply frames into the outbound queue until the source
// closes or the round trip is cancelled.
func (s *Session) forward(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			select {
			case s.outbound <- frame:
			case <-ctx.Done():
				go audio.Drain(frames)
				return
			}
		case <-ctx.Done():
			go audio.Drain(frames)
			return
		}
	}
}

// fail logs a collaborator failure. Cancellation during teardown is routine
// and logged at debug; everything else warns.
func (s *Session) fail(log *slog.Logger, stage string, err error) {
	cerr := &CollaboratorError{Stage: stage, Err: err}
	if errors.Is(err, context.Canceled) {
		log.Debug("round trip abandoned", "stage", stage, "error", cerr)
		return
	}
	log.Warn("collaborator failed", "stage", stage, "error", cerr)
}

// messagesWith returns a copy of the history with the caller's new turn
// appended, ready to send to the dialogue engine. The turn is committed to
// the history only after a successful reply.
func (s *Session) messagesWith(text string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]llm.Message, 0, len(s.history)+1)
	msgs = append(msgs, s.history...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
}

// commitTurn appends a completed caller/assistant exchange to the history
// and trims it to the configured bound, oldest first.
func (s *Session) commitTurn(callerText, replyText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: callerText},
		llm.Message{Role: llm.RoleAssistant, Content: replyText},
	)
	if over := len(s.history) - s.cfg.MaxHistory; over > 0 {
		s.history = append([]llm.Message(nil), s.history[over:]...)
	}
}

// History returns a copy of the committed conversation history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}
