// Package media terminates the telephony side of the gateway: a WebSocket
// endpoint speaking the JSON media-stream protocol used by programmable
// telephony platforms (Twilio-compatible event shapes).
//
// One connection carries one call. The platform opens the socket when a call
// connects, announces it with a start event, then delivers caller audio as
// base64 mu-law payloads in media events. The server feeds those frames into
// the session registry and plays the session's reply audio back as outbound
// media events, one frame per pacing tick, so the platform's jitter buffer
// stays shallow enough for the caller to interrupt.
package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/trunkline/trunkline/internal/call"
	"github.com/trunkline/trunkline/internal/observe"
)

// encodingMulaw is the media format telephony platforms announce for
// narrow-band G.711 mu-law streams.
const encodingMulaw = "audio/x-mulaw"

// errCallEnded marks the routine end of a stream: a stop event, a swept
// session, or the session's outbound queue closing.
var errCallEnded = errors.New("media: call ended")

// Config tunes the media stream server. The zero value of any field selects
// the default noted on it.
type Config struct {
	// Greeting is spoken to the caller as soon as a stream starts. Empty
	// means the assistant waits for the caller to speak first.
	Greeting string

	// FrameInterval is the outbound pacing interval; one reply frame is
	// written per interval. Default: 20ms, matching the wire frame length.
	FrameInterval time.Duration

	// ReadLimit caps the size of one inbound message. Default: 64 KiB.
	ReadLimit int64
}

func (c Config) withDefaults() Config {
	if c.FrameInterval <= 0 {
		c.FrameInterval = 20 * time.Millisecond
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 * 1024
	}
	return c
}

// Server accepts media stream connections and bridges them to call sessions.
type Server struct {
	calls   *call.Manager
	cfg     Config
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewServer creates a media stream server backed by the given session
// registry. A nil metrics falls back to the package default; a nil logger
// falls back to slog.Default.
func NewServer(calls *call.Manager, cfg Config, metrics *observe.Metrics, log *slog.Logger) (*Server, error) {
	if calls == nil {
		return nil, errors.New("media: call manager must not be nil")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		calls:   calls,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		log:     log,
	}, nil
}

// Register mounts the media stream endpoint on the given mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /call", s.HandleCall)
}

// HandleCall upgrades the request to a WebSocket and serves one call's media
// stream until the peer stops it, the session ends, or the server shuts
// down.
func (s *Server) HandleCall(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Media streams originate from telephony infrastructure, not
		// browsers; the Origin header is absent or platform-specific.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.ReadLimit)

	s.log.Debug("media stream connected", "remote", r.RemoteAddr)

	switch err := s.serve(r.Context(), conn); {
	case errors.Is(err, errCallEnded):
		conn.Close(websocket.StatusNormalClosure, "call ended")
	case websocket.CloseStatus(err) != -1:
		s.log.Debug("peer closed media stream", "status", websocket.CloseStatus(err))
	case errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
		// Abrupt socket loss is routine on mobile networks.
		s.log.Debug("media stream dropped", "remote", r.RemoteAddr)
	default:
		s.log.Warn("media stream failed", "remote", r.RemoteAddr, "error", err)
		conn.Close(websocket.StatusInternalError, "stream failure")
	}
}

// serve runs one connection's event loop and playback pump, then removes the
// session the connection created, if any.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	st := &stream{srv: s, conn: conn, g: g}
	g.Go(func() error { return st.readLoop(gctx) })
	err := g.Wait()

	if st.callID != "" {
		s.metrics.CallDuration.Record(ctx, time.Since(st.started).Seconds())
		if derr := s.calls.Delete(st.callID); derr != nil && !errors.Is(derr, call.ErrSessionNotFound) {
			s.log.Warn("session delete failed", "call_id", st.callID, "error", derr)
		}
	}
	return err
}

// stream is the per-connection state. Its fields are written only by the
// read loop before the playback pump starts, so no locking is needed.
type stream struct {
	srv  *Server
	conn *websocket.Conn
	g    *errgroup.Group

	callID    string
	streamSid string
	session   *call.Session
	started   time.Time
}

// readLoop decodes inbound events until the peer stops the stream, the
// connection drops, or the context is cancelled. Unparseable messages and
// unknown event types are dropped without ending the call.
func (st *stream) readLoop(ctx context.Context) error {
	for {
		_, data, err := st.conn.Read(ctx)
		if err != nil {
			return err
		}

		var evt wireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			st.srv.log.Debug("dropping unparseable event", "bytes", len(data), "error", err)
			continue
		}

		switch evt.Event {
		case "connected":
			// Protocol preamble; nothing to do until start.
		case "start":
			if err := st.handleStart(ctx, &evt); err != nil {
				return err
			}
		case "media":
			if err := st.handleMedia(ctx, &evt); err != nil {
				return err
			}
		case "stop":
			st.srv.log.Info("stream stopped by peer", "call_id", st.callID)
			return errCallEnded
		case "mark", "dtmf":
			// Playback marks and keypad tones are not acted on.
		default:
			st.srv.log.Debug("ignoring unknown event", "event", evt.Event)
		}
	}
}

// handleStart registers the call session and starts the playback pump. A
// duplicate start on the same connection is ignored.
func (st *stream) handleStart(ctx context.Context, evt *wireEvent) error {
	if st.session != nil {
		st.srv.log.Debug("duplicate start event", "call_id", st.callID)
		return nil
	}
	if evt.Start == nil {
		return errors.New("media: start event carries no start block")
	}

	id := evt.Start.CallSid
	if id == "" {
		id = evt.Start.StreamSid
	}
	if id == "" {
		id = evt.StreamSid
	}
	if id == "" {
		return errors.New("media: start event carries no call or stream ID")
	}

	sess, err := st.srv.calls.Create(id)
	if err != nil {
		return fmt.Errorf("media: create session: %w", err)
	}
	st.callID = id
	st.streamSid = evt.StreamSid
	if st.streamSid == "" {
		st.streamSid = evt.Start.StreamSid
	}
	st.session = sess
	st.started = time.Now()

	if f := evt.Start.MediaFormat; f.Encoding != "" && f.Encoding != encodingMulaw {
		st.srv.log.Warn("unexpected media encoding, audio may be garbled",
			"call_id", id, "encoding", f.Encoding)
	}
	st.srv.log.Info("media stream started",
		"call_id", id,
		"stream_sid", st.streamSid,
		"tracks", evt.Start.Tracks,
	)

	st.g.Go(func() error { return st.playback(ctx) })

	if g := st.srv.cfg.Greeting; g != "" {
		if !sess.Speak(g) {
			st.srv.log.Debug("greeting skipped, session busy", "call_id", id)
		}
	}
	return nil
}

// handleMedia feeds one caller audio frame into the session. Frames before
// start and undecodable payloads are dropped; a missing session means the
// lifetime sweeper already tore the call down, which ends the stream.
func (st *stream) handleMedia(ctx context.Context, evt *wireEvent) error {
	if st.session == nil {
		st.srv.log.Debug("media before start, dropping frame")
		return nil
	}
	if evt.Media == nil || evt.Media.Payload == "" {
		return nil
	}

	frame, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
	if err != nil {
		st.srv.log.Debug("dropping undecodable media payload", "call_id", st.callID, "error", err)
		return nil
	}

	st.srv.metrics.RecordMediaFrames(ctx, "in", 1)
	if err := st.srv.calls.HandleFrame(st.callID, frame); err != nil {
		if errors.Is(err, call.ErrSessionNotFound) {
			return errCallEnded
		}
		return fmt.Errorf("media: handle frame: %w", err)
	}
	return nil
}

// playback writes the session's reply audio to the peer at one frame per
// tick. Bursting the whole reply at once would fill the platform's jitter
// buffer and make the assistant impossible to interrupt; real-time pacing
// keeps at most one frame in flight per frame played.
func (st *stream) playback(ctx context.Context) error {
	ticker := time.NewTicker(st.srv.cfg.FrameInterval)
	defer ticker.Stop()

	out := st.session.Outbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		select {
		case frame, ok := <-out:
			if !ok {
				// Session closed; the call is over.
				return errCallEnded
			}
			if err := st.writeMedia(ctx, frame); err != nil {
				return err
			}
			st.srv.metrics.RecordMediaFrames(ctx, "out", 1)
		default:
			// Nothing to play this tick.
		}
	}
}

// writeMedia sends one reply frame as an outbound media event.
func (st *stream) writeMedia(ctx context.Context, frame []byte) error {
	evt := wireEvent{
		Event:     "media",
		StreamSid: st.streamSid,
		Media:     &mediaFrame{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("media: marshal outbound event: %w", err)
	}
	return st.conn.Write(ctx, websocket.MessageText, data)
}
