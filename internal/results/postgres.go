package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/postgres"
)

// Schema creates the result table.
const Schema = `CREATE TABLE IF NOT EXISTS classification_results (
    run_id      UUID NOT NULL,
    query_id    TEXT NOT NULL,
    ordinal     BIGINT NOT NULL,
    orientation TEXT NOT NULL,
    score       DOUBLE PRECISION NOT NULL,
    levels      JSONB NOT NULL,
    PRIMARY KEY (run_id, ordinal)
)`

// columns per inserted row
const rowColumns = 6

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresStore buffers results and inserts each batch in one transaction.
type PostgresStore struct {
	inTx      func(ctx context.Context, fn func(execer) error) error
	runID     string
	batchSize int
	mu        sync.Mutex
	buffer    []classifier.Result
	stored    int
	logger    *slog.Logger
}

// NewPostgresStore returns a store writing through client.
func NewPostgresStore(client *postgres.Client, runID string, batchSize int) *PostgresStore {
	return newPostgresStore(func(ctx context.Context, fn func(execer) error) error {
		return client.InTx(ctx, func(tx *sql.Tx) error { return fn(tx) })
	}, runID, batchSize)
}

func newPostgresStore(inTx func(context.Context, func(execer) error) error, runID string, batchSize int) *PostgresStore {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PostgresStore{
		inTx:      inTx,
		runID:     runID,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "postgres-store", "run_id", runID),
	}
}

// EnsureSchema creates the result table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.inTx(ctx, func(tx execer) error {
		if _, err := tx.ExecContext(ctx, Schema); err != nil {
			return fmt.Errorf("creating classification_results: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Write(ctx context.Context, r classifier.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, r)
	if len(s.buffer) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Close inserts the remaining results.
func (s *PostgresStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	s.logger.Info("results stored", "count", s.stored)
	return nil
}

func (s *PostgresStore) flushLocked(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	query, args, err := s.insert(s.buffer)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx execer) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("storing %d results: %w", len(s.buffer), err)
	}
	s.stored += len(s.buffer)
	s.buffer = s.buffer[:0]
	return nil
}

func (s *PostgresStore) insert(batch []classifier.Result) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`INSERT INTO classification_results (run_id, query_id, ordinal, orientation, score, levels) VALUES `)
	args := make([]any, 0, len(batch)*rowColumns)
	for i, r := range batch {
		levels, err := json.Marshal(r.Levels)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling levels of %s: %w", r.QueryID, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * rowColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, s.runID, r.QueryID, r.Ordinal, string(r.Orientation), r.Score, levels)
	}
	return b.String(), args, nil
}
