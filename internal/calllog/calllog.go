// Package calllog persists completed call exchanges in PostgreSQL and
// serves text and semantic search over past conversations.
//
// One row per exchange: what the caller said, what the assistant replied,
// and when. Audio is never stored. When an embedding provider is
// configured each exchange is also embedded at write time, and
// [Log.SemanticSearch] answers "what did callers say about X" questions
// over a pgvector HNSW index; without one the log still serves full-text
// search through a GIN index.
//
// The pgvector extension must be available in the target database when an
// embedder is configured; [Open] installs it via CREATE EXTENSION IF NOT
// EXISTS. All methods are safe for concurrent use.
package calllog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/trunkline/trunkline/internal/call"
	"github.com/trunkline/trunkline/pkg/provider/embeddings"
)

// Ensure Log can be wired as the session recorder at compile time.
var _ call.Recorder = (*Log)(nil)

// Entry is one persisted exchange row.
type Entry struct {
	ID          int64
	CallID      string
	UtteranceID string
	CallerText  string
	ReplyText   string

	// AudioDuration is the length of the caller's utterance audio; the
	// audio itself is not stored.
	AudioDuration time.Duration

	// HeardAt is when the utterance was captured.
	HeardAt time.Time
}

// SearchOpts filters Search and SemanticSearch results. Zero values mean
// no filtering.
type SearchOpts struct {
	CallID string
	After  time.Time
	Before time.Time

	// Limit caps the result count for Search. SemanticSearch takes its
	// own topK and ignores this field.
	Limit int
}

// SemanticHit is one semantic search result with its cosine distance to
// the query (smaller is closer).
type SemanticHit struct {
	Entry
	Distance float64
}

// Option is a functional option for configuring a [Log].
type Option func(*Log)

// WithEmbedder enables semantic indexing and search using the given
// provider. The vector column dimension is taken from the provider.
func WithEmbedder(p embeddings.Provider) Option {
	return func(l *Log) {
		l.embedder = p
	}
}

// WithLogger sets the logger for background warnings. Default: slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(l *Log) {
		l.log = log
	}
}

// Log is the PostgreSQL-backed exchange log.
type Log struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	log      *slog.Logger
}

// Open connects to the database at dsn and ensures the schema exists.
// The migration is idempotent and safe to run on every start.
func Open(ctx context.Context, dsn string, opts ...Option) (*Log, error) {
	l := &Log{log: slog.Default()}
	for _, o := range opts {
		o(l)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog: parse dsn: %w", err)
	}
	if l.embedder != nil {
		// Vector columns scan into and insert from pgvector.Vector only
		// when the types are registered per connection.
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("calllog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog: ping: %w", err)
	}

	l.pool = pool
	if err := l.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// Close releases all connections held by the underlying pool.
func (l *Log) Close() {
	l.pool.Close()
}

// Ping verifies the database is reachable. Used by readiness checks.
func (l *Log) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

const ddlExchanges = `
CREATE TABLE IF NOT EXISTS exchanges (
    id            BIGSERIAL    PRIMARY KEY,
    call_id       TEXT         NOT NULL,
    utterance_id  TEXT         NOT NULL DEFAULT '',
    caller_text   TEXT         NOT NULL,
    reply_text    TEXT         NOT NULL,
    audio_ns      BIGINT       NOT NULL DEFAULT 0,
    heard_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_call_id
    ON exchanges (call_id);

CREATE INDEX IF NOT EXISTS idx_exchanges_heard_at
    ON exchanges (heard_at);

CREATE INDEX IF NOT EXISTS idx_exchanges_call_heard
    ON exchanges (call_id, heard_at);

CREATE INDEX IF NOT EXISTS idx_exchanges_fts
    ON exchanges USING GIN (to_tsvector('english', caller_text || ' ' || reply_text));
`

// ddlEmbedding returns the vector DDL with the embedding dimension
// substituted. The dimension is baked into the column type at schema
// creation time; switching embedding models afterwards requires a manual
// schema change.
func ddlEmbedding(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

ALTER TABLE exchanges ADD COLUMN IF NOT EXISTS embedding vector(%d);

CREATE INDEX IF NOT EXISTS idx_exchanges_embedding
    ON exchanges USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

func (l *Log) migrate(ctx context.Context) error {
	statements := []string{ddlExchanges}
	if l.embedder != nil {
		statements = append(statements, ddlEmbedding(l.embedder.Dimensions()))
	}
	for _, stmt := range statements {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("calllog: migrate: %w", err)
		}
	}
	return nil
}

// RecordExchange implements [call.Recorder]. Embedding failures degrade to
// an unembedded row; the transcript is never lost because the embedding
// backend is down.
func (l *Log) RecordExchange(ctx context.Context, ex call.Exchange) error {
	heardAt := ex.Heard
	if heardAt.IsZero() {
		heardAt = time.Now()
	}

	if l.embedder == nil {
		const q = `
			INSERT INTO exchanges
			    (call_id, utterance_id, caller_text, reply_text, audio_ns, heard_at)
			VALUES ($1, $2, $3, $4, $5, $6)`
		_, err := l.pool.Exec(ctx, q,
			ex.CallID, ex.UtteranceID, ex.CallerText, ex.ReplyText,
			ex.AudioDuration.Nanoseconds(), heardAt,
		)
		if err != nil {
			return fmt.Errorf("calllog: record exchange: %w", err)
		}
		return nil
	}

	var vec *pgvector.Vector
	if emb, err := l.embedder.Embed(ctx, exchangeText(ex.CallerText, ex.ReplyText)); err != nil {
		l.log.Warn("exchange embedding failed",
			"call_id", ex.CallID,
			"utterance_id", ex.UtteranceID,
			"error", err,
		)
	} else {
		v := pgvector.NewVector(emb)
		vec = &v
	}

	const q = `
		INSERT INTO exchanges
		    (call_id, utterance_id, caller_text, reply_text, audio_ns, heard_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := l.pool.Exec(ctx, q,
		ex.CallID, ex.UtteranceID, ex.CallerText, ex.ReplyText,
		ex.AudioDuration.Nanoseconds(), heardAt, vec,
	)
	if err != nil {
		return fmt.Errorf("calllog: record exchange: %w", err)
	}
	return nil
}

// exchangeText is the embedded representation of one exchange. Both sides
// go into one vector so a search for either half finds the turn.
func exchangeText(callerText, replyText string) string {
	return "Caller: " + callerText + "\nAssistant: " + replyText
}

// Recent returns all exchanges of one call whose capture time is no
// earlier than now minus window, ordered chronologically.
func (l *Log) Recent(ctx context.Context, callID string, window time.Duration) ([]Entry, error) {
	const q = `
		SELECT id, call_id, utterance_id, caller_text, reply_text, audio_ns, heard_at
		FROM   exchanges
		WHERE  call_id = $1
		  AND  heard_at >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY heard_at`

	rows, err := l.pool.Query(ctx, q, callID, window.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("calllog: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search performs a full-text search over caller and reply text. The
// query goes through plainto_tsquery so no operator syntax is required.
func (l *Log) Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', caller_text || ' ' || reply_text) @@ plainto_tsquery('english', $1)",
	}
	if opts.CallID != "" {
		conditions = append(conditions, "call_id = "+next(opts.CallID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "heard_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "heard_at < "+next(opts.Before))
	}

	q := "SELECT id, call_id, utterance_id, caller_text, reply_text, audio_ns, heard_at\n" +
		"FROM   exchanges\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY heard_at"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: search: %w", err)
	}
	return collectEntries(rows)
}

// SemanticSearch embeds the query and returns the topK exchanges closest
// by cosine distance, most similar first. Requires an embedder.
func (l *Log) SemanticSearch(ctx context.Context, query string, topK int, opts SearchOpts) ([]SemanticHit, error) {
	if l.embedder == nil {
		return nil, errors.New("calllog: no embedder configured")
	}

	emb, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("calllog: embed query: %w", err)
	}

	args := []any{pgvector.NewVector(emb)}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if opts.CallID != "" {
		conditions = append(conditions, "call_id = "+next(opts.CallID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "heard_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "heard_at < "+next(opts.Before))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, call_id, utterance_id, caller_text, reply_text, audio_ns, heard_at,
		       embedding <=> $1 AS distance
		FROM   exchanges
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: semantic search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SemanticHit, error) {
		var (
			h       SemanticHit
			audioNS int64
		)
		if err := row.Scan(
			&h.ID, &h.CallID, &h.UtteranceID, &h.CallerText, &h.ReplyText,
			&audioNS, &h.HeardAt, &h.Distance,
		); err != nil {
			return SemanticHit{}, err
		}
		h.AudioDuration = time.Duration(audioNS)
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("calllog: scan rows: %w", err)
	}
	if hits == nil {
		hits = []SemanticHit{}
	}
	return hits, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			audioNS int64
		)
		if err := row.Scan(
			&e.ID, &e.CallID, &e.UtteranceID, &e.CallerText, &e.ReplyText,
			&audioNS, &e.HeardAt,
		); err != nil {
			return Entry{}, err
		}
		e.AudioDuration = time.Duration(audioNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("calllog: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
