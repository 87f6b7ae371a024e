package app

import (
	"log/slog"
	"sync/atomic"

	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/lexicon"
)

// swapCorrector is a stable transcript corrector whose vocabulary can be
// replaced while live sessions hold a reference to it.
type swapCorrector struct {
	current atomic.Pointer[lexicon.Corrector]
}

func newSwapCorrector(c *lexicon.Corrector) *swapCorrector {
	sc := &swapCorrector{}
	sc.current.Store(c)
	return sc
}

func (sc *swapCorrector) Correct(text string) string {
	return sc.current.Load().Correct(text)
}

func (sc *swapCorrector) swap(c *lexicon.Corrector) {
	sc.current.Store(c)
}

// applyConfigChange is the watcher callback. It applies what can change
// without a restart and says so for what cannot. Runs on the watcher
// goroutine; everything it touches is safe for concurrent use.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(slogLevel(d.NewLogLevel))
			a.log.Info("log level changed", "level", d.NewLogLevel)
		} else {
			a.log.Warn("log level changed in config but no level var is wired; restart to apply")
		}
	}

	if d.VADChanged || d.UtteranceChanged || d.AssistantChanged {
		a.calls.UpdateSessionConfig(sessionConfig(new))
		a.log.Info("session tuning updated; applies to calls arriving from now on",
			"vad", d.VADChanged,
			"utterance", d.UtteranceChanged,
			"assistant", d.AssistantChanged,
		)
	}
	if d.AssistantChanged {
		if old.Assistant.Voice != new.Assistant.Voice {
			a.log.Warn("assistant voice changed; restart to apply")
		}
		if old.Assistant.Greeting != new.Assistant.Greeting {
			a.log.Warn("assistant greeting changed; restart to apply")
		}
	}

	if d.LexiconChanged {
		a.corrector.swap(lexiconFromConfig(new.Lexicon))
		a.log.Info("lexicon vocabulary swapped", "terms", len(new.Lexicon.Terms))
	}
}

// slogLevel maps a config log level onto slog's scale.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
