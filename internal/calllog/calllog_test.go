package calllog_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/trunkline/trunkline/internal/call"
	"github.com/trunkline/trunkline/internal/calllog"
	embmock "github.com/trunkline/trunkline/pkg/provider/embeddings/mock"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if TRUNKLINE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TRUNKLINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRUNKLINE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestLog opens a fresh [calllog.Log] against a clean exchanges table.
// It calls t.Cleanup to close the log when the test finishes.
func newTestLog(t *testing.T, opts ...calllog.Option) *calllog.Log {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop the table from previous runs.
	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	log, err := calllog.Open(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(log.Close)
	return log
}

// mustPool opens a pgxpool with pgvector types registered best-effort (the
// extension may not be installed yet on a fresh database).
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS exchanges CASCADE"); err != nil {
		t.Fatalf("dropSchema: %v", err)
	}
}

func mustRecord(t *testing.T, ctx context.Context, log *calllog.Log, ex call.Exchange) {
	t.Helper()
	if err := log.RecordExchange(ctx, ex); err != nil {
		t.Fatalf("RecordExchange %s/%s: %v", ex.CallID, ex.UtteranceID, err)
	}
}

func TestLog_RecordAndRecent(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	now := time.Now()
	exchanges := []call.Exchange{
		{
			CallID:        "call-1",
			UtteranceID:   "utt-1",
			CallerText:    "I would like a table for two tonight.",
			ReplyText:     "Of course, what time suits you?",
			AudioDuration: 2300 * time.Millisecond,
			Heard:         now.Add(-10 * time.Minute),
		},
		{
			CallID:      "call-1",
			UtteranceID: "utt-2",
			CallerText:  "Around eight, if that works.",
			ReplyText:   "Eight o'clock it is.",
			Heard:       now.Add(-9 * time.Minute),
		},
		{
			CallID:      "call-1",
			UtteranceID: "utt-3",
			CallerText:  "Thanks, see you then.",
			ReplyText:   "We look forward to it. Goodbye!",
			Heard:       now.Add(-1 * time.Minute),
		},
	}
	for _, ex := range exchanges {
		mustRecord(t, ctx, log, ex)
	}

	// A wide window returns all 3 in chronological order.
	recent, err := log.Recent(ctx, "call-1", 30*time.Minute)
	if err != nil {
		t.Fatalf("Recent(30m): %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent(30m): want 3, got %d", len(recent))
	}
	if recent[0].UtteranceID != "utt-1" || recent[2].UtteranceID != "utt-3" {
		t.Errorf("Recent order: got %s..%s, want utt-1..utt-3",
			recent[0].UtteranceID, recent[2].UtteranceID)
	}

	// A narrow window returns only the last exchange.
	narrow, err := log.Recent(ctx, "call-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Recent(5m): %v", err)
	}
	if len(narrow) != 1 {
		t.Errorf("Recent(5m): want 1, got %d", len(narrow))
	}
	if len(narrow) > 0 && narrow[0].CallerText != exchanges[2].CallerText {
		t.Errorf("Recent(5m): got %q, want %q", narrow[0].CallerText, exchanges[2].CallerText)
	}

	// Another call sees nothing.
	other, err := log.Recent(ctx, "call-2", 30*time.Minute)
	if err != nil {
		t.Fatalf("Recent other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Recent other: want 0, got %d", len(other))
	}

	// AudioDuration round-trips through the BIGINT column.
	if recent[0].AudioDuration != exchanges[0].AudioDuration {
		t.Errorf("AudioDuration: got %v, want %v", recent[0].AudioDuration, exchanges[0].AudioDuration)
	}
}

func TestLog_RecordFillsMissingTimestamp(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	mustRecord(t, ctx, log, call.Exchange{
		CallID:     "call-ts",
		CallerText: "Hello?",
		ReplyText:  "Hello, how can I help?",
	})

	recent, err := log.Recent(ctx, "call-ts", time.Minute)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("Recent: want 1, got %d", len(recent))
	}
	if recent[0].HeardAt.IsZero() {
		t.Error("HeardAt: want a server-side default, got zero")
	}
}

func TestLog_Search(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	now := time.Now()
	for _, ex := range []call.Exchange{
		{CallID: "call-a", CallerText: "Do you have a gluten free margherita pizza?", ReplyText: "We do, with a rice flour base.", Heard: now.Add(-5 * time.Minute)},
		{CallID: "call-a", CallerText: "What time do you close on Sundays?", ReplyText: "We close at ten on weekends.", Heard: now.Add(-4 * time.Minute)},
		{CallID: "call-b", CallerText: "I want to cancel my reservation.", ReplyText: "Your reservation is cancelled.", Heard: now.Add(-3 * time.Minute)},
	} {
		mustRecord(t, ctx, log, ex)
	}

	tests := []struct {
		name      string
		query     string
		opts      calllog.SearchOpts
		wantCount int
		wantText  string
	}{
		{
			name:      "margherita",
			query:     "margherita pizza",
			opts:      calllog.SearchOpts{},
			wantCount: 1,
			wantText:  "margherita",
		},
		{
			name:      "matches reply side",
			query:     "rice flour",
			opts:      calllog.SearchOpts{},
			wantCount: 1,
			wantText:  "margherita",
		},
		{
			name:      "call filter",
			query:     "reservation",
			opts:      calllog.SearchOpts{CallID: "call-b"},
			wantCount: 1,
		},
		{
			name:      "call filter excludes",
			query:     "reservation",
			opts:      calllog.SearchOpts{CallID: "call-a"},
			wantCount: 0,
		},
		{
			name:      "no match",
			query:     "quantum zebra",
			opts:      calllog.SearchOpts{},
			wantCount: 0,
		},
		{
			name:      "after filter",
			query:     "close",
			opts:      calllog.SearchOpts{After: now.Add(-2 * time.Minute)},
			wantCount: 0,
		},
		{
			name:      "limit",
			query:     "reservation close pizza",
			opts:      calllog.SearchOpts{Limit: 1},
			wantCount: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			results, err := log.Search(ctx, tc.query, tc.opts)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(results) != tc.wantCount {
				t.Errorf("want %d results, got %d", tc.wantCount, len(results))
			}
			if tc.wantText != "" && len(results) > 0 {
				if !strings.Contains(strings.ToLower(results[0].CallerText), tc.wantText) {
					t.Errorf("want %q in first result, got %q", tc.wantText, results[0].CallerText)
				}
			}
		})
	}
}

func TestLog_SemanticSearch(t *testing.T) {
	embedder := &embmock.Provider{DimensionsValue: testEmbeddingDim}
	log := newTestLog(t, calllog.WithEmbedder(embedder))
	ctx := context.Background()

	// Each exchange gets a distinct axis-aligned embedding so cosine
	// ordering is exact.
	now := time.Now()
	for _, rec := range []struct {
		vec []float32
		ex  call.Exchange
	}{
		{
			vec: []float32{1, 0, 0, 0},
			ex:  call.Exchange{CallID: "call-a", UtteranceID: "utt-1", CallerText: "Tell me about the wine list.", ReplyText: "We carry mostly Tuscan reds.", Heard: now},
		},
		{
			vec: []float32{0, 1, 0, 0},
			ex:  call.Exchange{CallID: "call-a", UtteranceID: "utt-2", CallerText: "Do you take large groups?", ReplyText: "Up to twelve with notice.", Heard: now},
		},
		{
			vec: []float32{0, 0, 1, 0},
			ex:  call.Exchange{CallID: "call-b", UtteranceID: "utt-3", CallerText: "Is parking available nearby?", ReplyText: "There is a garage across the street.", Heard: now},
		},
	} {
		embedder.EmbedResult = rec.vec
		mustRecord(t, ctx, log, rec.ex)
	}

	// Query closest to utt-1.
	embedder.EmbedResult = []float32{1, 0, 0, 0}
	hits, err := log.SemanticSearch(ctx, "wine", 3, calllog.SearchOpts{})
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("SemanticSearch topK=3: want 3 hits, got %d", len(hits))
	}
	if hits[0].UtteranceID != "utt-1" {
		t.Errorf("closest hit: want utt-1, got %s (distance %.4f)", hits[0].UtteranceID, hits[0].Distance)
	}
	if hits[0].Distance > hits[1].Distance || hits[1].Distance > hits[2].Distance {
		t.Errorf("hits not ordered by distance: %.4f, %.4f, %.4f",
			hits[0].Distance, hits[1].Distance, hits[2].Distance)
	}

	// Scope to one call.
	embedder.EmbedResult = []float32{0, 0, 1, 0}
	scoped, err := log.SemanticSearch(ctx, "parking", 10, calllog.SearchOpts{CallID: "call-b"})
	if err != nil {
		t.Fatalf("SemanticSearch scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].UtteranceID != "utt-3" {
		t.Errorf("call scope: want [utt-3], got %d hits", len(scoped))
	}
}

func TestLog_RecordSurvivesEmbedFailure(t *testing.T) {
	embedder := &embmock.Provider{
		DimensionsValue: testEmbeddingDim,
		EmbedErr:        errors.New("embedding backend down"),
	}
	log := newTestLog(t, calllog.WithEmbedder(embedder))
	ctx := context.Background()

	mustRecord(t, ctx, log, call.Exchange{
		CallID:     "call-x",
		CallerText: "Can I order takeaway?",
		ReplyText:  "Absolutely, pickup in twenty minutes.",
		Heard:      time.Now(),
	})

	// The transcript is there despite the failed embedding.
	recent, err := log.Recent(ctx, "call-x", time.Minute)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("Recent: want 1, got %d", len(recent))
	}

	// The unembedded row is invisible to semantic search.
	embedder.EmbedErr = nil
	embedder.EmbedResult = []float32{1, 0, 0, 0}
	hits, err := log.SemanticSearch(ctx, "takeaway", 10, calllog.SearchOpts{})
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("SemanticSearch: want 0 hits for unembedded rows, got %d", len(hits))
	}
}

func TestLog_SemanticSearchWithoutEmbedder(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.SemanticSearch(ctx, "anything", 5, calllog.SearchOpts{})
	if err == nil {
		t.Fatal("SemanticSearch without embedder: want error, got nil")
	}
	if !strings.Contains(err.Error(), "no embedder") {
		t.Errorf("error = %q, want mention of missing embedder", err)
	}
}
