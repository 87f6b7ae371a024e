package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileState is one observation of the watched file: its modification time and
// the digest of its content.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a configuration file and hands every valid change to a
// callback. Polling rather than inotify keeps the dependency surface flat;
// tuning changes on a gateway are rare, and a few seconds of reload delay is
// immaterial against the lifetime of the calls they affect.
//
// An invalid file never replaces the running configuration. The watcher keeps
// serving the last good one and warns once per distinct broken content, so an
// operator mid-edit does not flood the log.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config

	done     chan struct{}
	stopOnce sync.Once

	// Change-detection state, touched only by the poll goroutine. good is the
	// last state that parsed; bad is the digest of the last content that did
	// not, used to suppress repeat warnings.
	good fileState
	bad  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for reload notices and warnings. Defaults
// to [slog.Default].
func WithWatchLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWatcher creates a config file watcher. The file must load cleanly at
// construction time; polling starts in a background goroutine once it has.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.good = st

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) run() {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-tick.C:
			w.scan()
		}
	}
}

// scan re-reads the file when its mtime moved. Valid new content is swapped
// in and reported through the callback; anything else leaves the running
// configuration alone.
func (w *Watcher) scan() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.good.mtime) {
		return
	}

	cfg, st, err := w.read()
	if err != nil {
		// A zero digest means the read itself failed; always worth a warning.
		if st.sum == [sha256.Size]byte{} || st.sum != w.bad {
			w.log.Warn("config watcher: reload failed, keeping previous configuration",
				"path", w.path, "err", err)
			w.bad = st.sum
		}
		return
	}

	if st.sum == w.good.sum {
		// Touched, content identical.
		w.good.mtime = st.mtime
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	w.good = st
	w.bad = [sha256.Size]byte{}

	w.log.Info("config watcher: configuration reloaded", "path", w.path)

	// The callback runs outside the lock so it can call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads, hashes, parses and validates the watched file. The returned
// state carries the content digest even when parsing fails, so scan can tell
// one broken edit from the next.
func (w *Watcher) read() (*Config, fileState, error) {
	var st fileState

	f, err := os.Open(w.path)
	if err != nil {
		return nil, st, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, st, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, st, err
	}
	st = fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, st, err
	}
	return cfg, st, nil
}
