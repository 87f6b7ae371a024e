package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/provider/llm"
	"github.com/trunkline/trunkline/pkg/provider/stt"
	"github.com/trunkline/trunkline/pkg/provider/tts"
)

// InstrumentRecognizer wraps r so that every Recognize call records latency,
// utterance outcome counters, and a span. name is the provider label attached
// to all telemetry (e.g. "whisper", "deepgram").
func InstrumentRecognizer(r stt.Recognizer, name string, m *Metrics) stt.Recognizer {
	return &instrumentedRecognizer{
		inner: r,
		name:  name,
		m:     m,
		attrs: metric.WithAttributes(attribute.String("provider", name)),
	}
}

type instrumentedRecognizer struct {
	inner stt.Recognizer
	name  string
	m     *Metrics
	attrs metric.MeasurementOption
}

var _ stt.Recognizer = (*instrumentedRecognizer)(nil)

func (r *instrumentedRecognizer) Recognize(ctx context.Context, wav []byte) (stt.Result, error) {
	ctx, span := StartSpan(ctx, "stt.recognize",
		trace.WithAttributes(attribute.String("provider", r.name)))
	defer span.End()

	if d := audio.WAVDuration(wav); d > 0 {
		r.m.UtteranceAudioDuration.Record(ctx, d.Seconds())
	}

	start := time.Now()
	res, err := r.inner.Recognize(ctx, wav)
	r.m.RecognitionDuration.Record(ctx, time.Since(start).Seconds(), r.attrs)

	switch {
	case err != nil:
		r.m.RecordProviderRequest(ctx, r.name, StageRecognition, StatusError)
		r.m.RecordProviderError(ctx, r.name, StageRecognition)
		r.m.RecordUtterance(ctx, StatusError)
	case res.NoSpeech || res.Text == "":
		r.m.RecordProviderRequest(ctx, r.name, StageRecognition, StatusOK)
		r.m.RecordUtterance(ctx, StatusNoSpeech)
	default:
		r.m.RecordProviderRequest(ctx, r.name, StageRecognition, StatusOK)
		r.m.RecordUtterance(ctx, StatusOK)
	}
	return res, err
}

// InstrumentDialogue wraps p so that every completion records latency,
// request counters, and a span. For streamed completions the latency covers
// request dispatch until the reply channel closes, so it includes the full
// generation time, not just the first token.
func InstrumentDialogue(p llm.Provider, name string, m *Metrics) llm.Provider {
	return &instrumentedDialogue{
		inner: p,
		name:  name,
		m:     m,
		attrs: metric.WithAttributes(attribute.String("provider", name)),
	}
}

type instrumentedDialogue struct {
	inner llm.Provider
	name  string
	m     *Metrics
	attrs metric.MeasurementOption
}

var _ llm.Provider = (*instrumentedDialogue)(nil)

func (p *instrumentedDialogue) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ctx, span := StartSpan(ctx, "llm.stream",
		trace.WithAttributes(attribute.String("provider", p.name)))
	start := time.Now()

	inner, err := p.inner.StreamCompletion(ctx, req)
	if err != nil {
		p.m.DialogueDuration.Record(ctx, time.Since(start).Seconds(), p.attrs)
		p.m.RecordProviderRequest(ctx, p.name, StageDialogue, StatusError)
		p.m.RecordProviderError(ctx, p.name, StageDialogue)
		span.End()
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		status := StatusOK
		defer func() {
			p.m.DialogueDuration.Record(ctx, time.Since(start).Seconds(), p.attrs)
			p.m.RecordProviderRequest(ctx, p.name, StageDialogue, status)
			if status == StatusError {
				p.m.RecordProviderError(ctx, p.name, StageDialogue)
			}
			span.End()
		}()
		for chunk := range inner {
			if chunk.FinishReason == llm.FinishReasonError {
				status = StatusError
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				status = StatusCanceled
				// Free the provider goroutine blocked on its send.
				go audio.Drain(inner)
				return
			}
		}
	}()
	return out, nil
}

func (p *instrumentedDialogue) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := StartSpan(ctx, "llm.complete",
		trace.WithAttributes(attribute.String("provider", p.name)))
	defer span.End()

	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	p.m.DialogueDuration.Record(ctx, time.Since(start).Seconds(), p.attrs)

	if err != nil {
		p.m.RecordProviderRequest(ctx, p.name, StageDialogue, StatusError)
		p.m.RecordProviderError(ctx, p.name, StageDialogue)
		return nil, err
	}
	p.m.RecordProviderRequest(ctx, p.name, StageDialogue, StatusOK)
	return resp, nil
}

// InstrumentSynthesizer wraps s so that every Synthesize call records
// latency, request counters, and a span. ListVoices passes through
// uninstrumented.
func InstrumentSynthesizer(s tts.Synthesizer, name string, m *Metrics) tts.Synthesizer {
	return &instrumentedSynthesizer{
		inner: s,
		name:  name,
		m:     m,
		attrs: metric.WithAttributes(attribute.String("provider", name)),
	}
}

type instrumentedSynthesizer struct {
	inner tts.Synthesizer
	name  string
	m     *Metrics
	attrs metric.MeasurementOption
}

var _ tts.Synthesizer = (*instrumentedSynthesizer)(nil)

func (s *instrumentedSynthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	ctx, span := StartSpan(ctx, "tts.synthesize",
		trace.WithAttributes(
			attribute.String("provider", s.name),
			attribute.String("voice", voice.ID),
		))
	defer span.End()

	start := time.Now()
	payload, err := s.inner.Synthesize(ctx, text, voice)
	s.m.SynthesisDuration.Record(ctx, time.Since(start).Seconds(), s.attrs)

	if err != nil {
		s.m.RecordProviderRequest(ctx, s.name, StageSynthesis, StatusError)
		s.m.RecordProviderError(ctx, s.name, StageSynthesis)
		return nil, err
	}
	s.m.RecordProviderRequest(ctx, s.name, StageSynthesis, StatusOK)
	return payload, nil
}

func (s *instrumentedSynthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return s.inner.ListVoices(ctx)
}
