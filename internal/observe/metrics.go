// Package observe provides application-wide observability primitives for
// Trunkline: OpenTelemetry metrics, distributed tracing, structured logging,
// and middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Trunkline metrics.
const meterName = "github.com/trunkline/trunkline"

// Pipeline stage labels used on provider request and error counters.
const (
	StageRecognition = "recognition"
	StageDialogue    = "dialogue"
	StageSynthesis   = "synthesis"
)

// Outcome labels used on request and utterance counters.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusCanceled = "canceled"
	StatusNoSpeech = "no_speech"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks speech-to-text transcription latency.
	RecognitionDuration metric.Float64Histogram

	// DialogueDuration tracks the time from dispatching a completion request
	// until its reply stream is fully consumed.
	DialogueDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// UtteranceAudioDuration tracks the play time of caller utterances
	// handed to recognition, in seconds of audio rather than wall time.
	UtteranceAudioDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("stage", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Utterances counts caller utterances that reached recognition. Use with
	// attribute:
	//   attribute.String("status", ...)
	Utterances metric.Int64Counter

	// MediaFrames counts audio frames crossing the media transport. Use with
	// attribute:
	//   attribute.String("direction", "in"|"out")
	MediaFrames metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("stage", ...)
	ProviderErrors metric.Int64Counter

	// CallDuration tracks whole-call lifetimes from media stream start to
	// teardown.
	CallDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveCalls reports the number of live call sessions. Feed it with
	// [Metrics.ObserveActiveCalls]; it reads the count on every collection
	// instead of tracking increments, so sweeper deletions are never missed.
	ActiveCalls metric.Int64ObservableGauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// audioBuckets defines histogram bucket boundaries (in seconds) for caller
// utterance lengths, spanning a short "yes" up to the assembler's hard cap.
var audioBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// callBuckets defines histogram bucket boundaries (in seconds) for whole-call
// lifetimes, up to the session hard timeout.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("trunkline.recognition.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DialogueDuration, err = m.Float64Histogram("trunkline.dialogue.duration",
		metric.WithDescription("Latency of dialogue completion, request dispatch to stream close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("trunkline.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceAudioDuration, err = m.Float64Histogram("trunkline.utterance.audio.duration",
		metric.WithDescription("Play time of caller utterances handed to recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("trunkline.provider.requests",
		metric.WithDescription("Total provider API requests by provider, stage, and status."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("trunkline.utterances",
		metric.WithDescription("Total caller utterances that reached recognition, by status."),
	); err != nil {
		return nil, err
	}
	if met.MediaFrames, err = m.Int64Counter("trunkline.media.frames",
		metric.WithDescription("Total audio frames crossing the media transport, by direction."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("trunkline.provider.errors",
		metric.WithDescription("Total provider errors by provider and stage."),
	); err != nil {
		return nil, err
	}

	// Whole-call lifetimes.
	if met.CallDuration, err = m.Float64Histogram("trunkline.call.duration",
		metric.WithDescription("Call lifetime from media stream start to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveCalls, err = m.Int64ObservableGauge("trunkline.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("trunkline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, stage, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, stage string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("stage", stage),
		),
	)
}

// RecordUtterance is a convenience method that records an utterance counter
// increment with the given outcome status.
func (m *Metrics) RecordUtterance(ctx context.Context, status string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordMediaFrames is a convenience method that records n frames moved in
// the given direction ("in" or "out").
func (m *Metrics) RecordMediaFrames(ctx context.Context, direction string, n int64) {
	m.MediaFrames.Add(ctx, n,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// ObserveActiveCalls registers count as the source for the [Metrics.ActiveCalls]
// gauge. The function is called on every metrics collection and must be safe
// for concurrent use. Unregister the returned registration when the counted
// resource goes away.
func (m *Metrics) ObserveActiveCalls(count func() int64) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.ActiveCalls, count())
		return nil
	}, m.ActiveCalls)
}
