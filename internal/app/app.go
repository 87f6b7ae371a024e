// Package app wires the Trunkline gateway together: the provider chains
// built from configuration, the per-call session registry, and the HTTP
// surface carrying media streams, health probes and metrics. It owns the
// lifecycle of everything it constructs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/trunkline/trunkline/internal/call"
	"github.com/trunkline/trunkline/internal/calllog"
	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/health"
	"github.com/trunkline/trunkline/internal/lexicon"
	"github.com/trunkline/trunkline/internal/media"
	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/internal/reply"
)

// serverStopTimeout bounds how long Run waits for the HTTP server to stop
// accepting once the context ends. Media streams are hijacked connections
// and are not covered by it; Shutdown ends them by closing their sessions.
const serverStopTimeout = 5 * time.Second

// options holds the optional overrides applied by [Option] values.
type options struct {
	logger     *slog.Logger
	metrics    *observe.Metrics
	recorder   call.Recorder
	configPath string
	logLevel   *slog.LevelVar
}

// Option configures optional [App] behaviour.
type Option func(*options)

// WithLogger sets the logger for the app and everything it constructs.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithMetrics sets the metrics instance. Tests use this to isolate
// instruments from the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRecorder injects an exchange recorder, replacing the Postgres call
// log the configuration would otherwise select.
func WithRecorder(r call.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithConfigFile enables hot-reloading of tunables from the configuration
// file at path. Without it the boot configuration is final.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithLogLevelVar hands the app the level var backing the process logger so
// log-level changes in the config file take effect without a restart.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(o *options) { o.logLevel = v }
}

// App is the assembled gateway. Construct with [New], start with [App.Run],
// release with [App.Shutdown].
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	calls     *call.Manager
	media     *media.Server
	health    *health.Handler
	corrector *swapCorrector
	callLog   *calllog.Log
	watcher   *config.Watcher
	logLevel  *slog.LevelVar

	httpSrv  *http.Server
	listener net.Listener

	// closers run in reverse registration order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// New assembles the gateway from cfg and providers. Construction is
// all-or-nothing: on error, every subsystem already created is released
// before returning.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		return nil, errors.New("app: providers must not be nil")
	}
	if err := providers.validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = slog.Default()
	}
	m := o.metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	a := &App{cfg: cfg, log: log, metrics: m, logLevel: o.logLevel}
	abort := func(err error) (*App, error) {
		for i := len(a.closers) - 1; i >= 0; i-- {
			_ = a.closers[i]()
		}
		return nil, err
	}

	// ── 1. Exchange log (optional) ────────────────────────────────────────
	recorder := o.recorder
	if recorder == nil && cfg.CallLog.PostgresDSN != "" {
		clOpts := []calllog.Option{calllog.WithLogger(log)}
		if providers.Embeddings != nil {
			clOpts = append(clOpts, calllog.WithEmbedder(providers.Embeddings))
		}
		cl, err := calllog.Open(ctx, cfg.CallLog.PostgresDSN, clOpts...)
		if err != nil {
			return abort(fmt.Errorf("app: init call log: %w", err))
		}
		a.callLog = cl
		recorder = cl
		a.closers = append(a.closers, func() error { cl.Close(); return nil })
	}

	// ── 2. Speech sequencer ───────────────────────────────────────────────
	seq, err := reply.NewSequencer(providers.TTS, cfg.Assistant.Voice.Profile())
	if err != nil {
		return abort(fmt.Errorf("app: init speech sequencer: %w", err))
	}

	// ── 3. Transcript corrector ───────────────────────────────────────────
	a.corrector = newSwapCorrector(lexiconFromConfig(cfg.Lexicon))

	// ── 4. Session registry ───────────────────────────────────────────────
	mgr, err := call.NewManager(call.Collaborators{
		Recognizer: providers.STT,
		Dialogue:   providers.LLM,
		Speech:     seq,
		Corrector:  a.corrector,
		Recorder:   recorder,
	}, call.ManagerConfig{
		Session:       sessionConfig(cfg),
		HardTimeout:   cfg.Call.HardTimeout,
		SweepInterval: cfg.Call.SweepInterval,
	}, log)
	if err != nil {
		return abort(fmt.Errorf("app: init session registry: %w", err))
	}
	a.calls = mgr
	a.closers = append(a.closers, func() error { mgr.Close(); return nil })

	gauge, err := m.ObserveActiveCalls(func() int64 { return int64(mgr.Len()) })
	if err != nil {
		return abort(fmt.Errorf("app: register active-calls gauge: %w", err))
	}
	a.closers = append(a.closers, gauge.Unregister)

	// ── 5. HTTP surface: media stream, health, metrics ────────────────────
	mediaSrv, err := media.NewServer(mgr, media.Config{Greeting: cfg.Assistant.Greeting}, m, log)
	if err != nil {
		return abort(fmt.Errorf("app: init media server: %w", err))
	}
	a.media = mediaSrv
	a.health = health.New(a.healthCheckers()...)

	mux := http.NewServeMux()
	mediaSrv.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── 6. Listener ───────────────────────────────────────────────────────
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return abort(fmt.Errorf("app: listen on %q: %w", addr, err))
	}
	a.listener = ln
	a.closers = append(a.closers, func() error {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	// ── 7. Config watcher (optional) ──────────────────────────────────────
	if o.configPath != "" {
		w, err := config.NewWatcher(o.configPath, a.applyConfigChange, config.WithWatchLogger(log))
		if err != nil {
			return abort(fmt.Errorf("app: init config watcher: %w", err))
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}

	log.Info("application initialised",
		"addr", a.Addr(),
		"call_log", a.callLog != nil,
		"hot_reload", a.watcher != nil,
	)
	return a, nil
}

// healthCheckers assembles the readiness checks for the subsystems that can
// actually fail underneath a running process.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if a.callLog != nil {
		checkers = append(checkers, health.Checker{
			Name:  "calllog",
			Check: a.callLog.Ping,
		})
	}
	return checkers
}

// Addr returns the bound listen address. With a ":0" configuration this is
// the port the kernel actually assigned.
func (a *App) Addr() string {
	return a.listener.Addr().String()
}

// Run starts the HTTP server and the session sweeper and blocks until ctx
// is cancelled or a component fails. After Run returns, call [App.Shutdown]
// to release the remaining subsystems.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.calls.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.log.Info("server listening", "addr", a.Addr(), "tls", a.cfg.Server.TLS != nil)
		if err := a.serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// Flip draining before the listener closes so the balancer stops
		// routing new calls here. Established media streams keep running
		// until Shutdown closes their sessions.
		a.health.SetDraining(true)

		stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(stopCtx); err != nil {
			a.log.Warn("http server did not stop cleanly, forcing close", "err", err)
			_ = a.httpSrv.Close()
		}
		return gctx.Err()
	})

	return g.Wait()
}

func (a *App) serve() error {
	if tls := a.cfg.Server.TLS; tls != nil {
		return a.httpSrv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
	}
	return a.httpSrv.Serve(a.listener)
}

// Shutdown releases every subsystem in reverse initialisation order: the
// watcher and listener stop first, then live sessions close (ending their
// media streams), and the exchange log pool goes last so final exchanges
// still reach it. Closers remaining when ctx expires are skipped. Repeated
// calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")
		a.health.SetDraining(true)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("app: shutdown interrupted with %d closers remaining: %w", i+1, ctx.Err()))
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("shutdown: subsystem close failed", "err", err)
				errs = append(errs, err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// sessionConfig maps the relevant configuration sections onto per-call
// session tuning.
func sessionConfig(cfg *config.Config) call.SessionConfig {
	return call.SessionConfig{
		VAD:            cfg.VAD.Detector(),
		Utterance:      cfg.Utterance.Assembler(),
		SystemPrompt:   cfg.Assistant.SystemPrompt,
		Temperature:    cfg.Assistant.Temperature,
		MaxTokens:      cfg.Assistant.MaxTokens,
		MaxHistory:     cfg.Assistant.MaxHistory,
		ProcessTimeout: cfg.Call.ProcessTimeout,
		OutboundBuffer: cfg.Call.OutboundBuffer,
	}
}

// lexiconFromConfig builds a corrector from the configured vocabulary.
// An empty vocabulary yields a corrector that passes text through.
func lexiconFromConfig(lc config.LexiconConfig) *lexicon.Corrector {
	var opts []lexicon.Option
	if lc.PhoneticThreshold > 0 {
		opts = append(opts, lexicon.WithPhoneticThreshold(lc.PhoneticThreshold))
	}
	if lc.FuzzyThreshold > 0 {
		opts = append(opts, lexicon.WithFuzzyThreshold(lc.FuzzyThreshold))
	}
	return lexicon.New(lc.Terms, opts...)
}
