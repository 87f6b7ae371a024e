package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/internal/resilience"
	"github.com/trunkline/trunkline/pkg/provider/embeddings"
	"github.com/trunkline/trunkline/pkg/provider/llm"
	"github.com/trunkline/trunkline/pkg/provider/stt"
	"github.com/trunkline/trunkline/pkg/provider/tts"
)

// Providers bundles the collaborator backends the gateway answers calls
// with. STT, LLM and TTS are required. Embeddings powers the call log's
// semantic index and may be nil.
type Providers struct {
	STT        stt.Recognizer
	LLM        llm.Provider
	TTS        tts.Synthesizer
	Embeddings embeddings.Provider
}

func (p *Providers) validate() error {
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("app: stt provider is required"))
	}
	if p.LLM == nil {
		errs = append(errs, errors.New("app: llm provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("app: tts provider is required"))
	}
	return errors.Join(errs...)
}

// BuildProviders instantiates every provider named in cfg through reg and
// composes each pipeline stage into a breaker-guarded chain: the
// instrumented primary first, then the configured fallbacks in order. The
// result is ready for [New].
//
// A named provider with no registered factory is a configuration error, not
// a soft skip; the operator finds out at boot rather than on the first call.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			Cooldown:         cfg.Resilience.Cooldown,
		},
	}

	ps := &Providers{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create stt provider %q: %w", entry.Name, err)
		}
		chain := resilience.NewSTTFallback(observe.InstrumentRecognizer(primary, entry.Name, m), entry.Name, fbCfg)
		for _, fb := range entry.Fallbacks {
			impl, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("app: create stt fallback %q: %w", fb.Name, err)
			}
			chain.AddFallback(fb.Name, observe.InstrumentRecognizer(impl, fb.Name, m))
		}
		ps.STT = chain
		slog.Info("provider chain ready", "kind", "stt", "order", chain.Names())
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		primary, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", entry.Name, err)
		}
		chain := resilience.NewLLMFallback(observe.InstrumentDialogue(primary, entry.Name, m), entry.Name, fbCfg)
		for _, fb := range entry.Fallbacks {
			impl, err := reg.CreateLLM(fb)
			if err != nil {
				return nil, fmt.Errorf("app: create llm fallback %q: %w", fb.Name, err)
			}
			chain.AddFallback(fb.Name, observe.InstrumentDialogue(impl, fb.Name, m))
		}
		ps.LLM = chain
		slog.Info("provider chain ready", "kind", "llm", "order", chain.Names())
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", entry.Name, err)
		}
		chain := resilience.NewTTSFallback(observe.InstrumentSynthesizer(primary, entry.Name, m), entry.Name, fbCfg)
		for _, fb := range entry.Fallbacks {
			impl, err := reg.CreateTTS(fb)
			if err != nil {
				return nil, fmt.Errorf("app: create tts fallback %q: %w", fb.Name, err)
			}
			chain.AddFallback(fb.Name, observe.InstrumentSynthesizer(impl, fb.Name, m))
		}
		ps.TTS = chain
		slog.Info("provider chain ready", "kind", "tts", "order", chain.Names())
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create embeddings provider %q: %w", entry.Name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name)
	}

	return ps, nil
}
