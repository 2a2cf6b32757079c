// Package ledger records replay runs in Postgres so past runs and their
// per-speaker upload outcomes can be inspected after the fact.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tables: replay_runs (one row per run), replay_uploads (one row per
// speaker per conversation).
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Run is the row recorded when a replay starts.
type Run struct {
	ID            uuid.UUID
	DataPath      string
	Conversations int
	BatchSize     int
	Workers       int
}

// RecordRun inserts the replay_runs row for a starting run.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_runs (id, data_path, conversations, batch_size, workers, started_at, status)
		VALUES ($1, $2, $3, $4, $5, now(), 'running')`,
		run.ID, run.DataPath, run.Conversations, run.BatchSize, run.Workers,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun closes out the run row with the final counters.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, completed, failed, messages int, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE replay_runs
		SET finished_at = now(), completed = $1, failed = $2, messages = $3, status = $4
		WHERE id = $5`,
		completed, failed, messages, status, id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Upload is the row recorded per speaker per conversation.
type Upload struct {
	RunID        uuid.UUID
	Conversation int
	Speaker      string
	UserID       string
	Sessions     int
	Messages     int
	Status       string
	Error        string
}

// RecordUpload inserts one replay_uploads row.
func (s *Store) RecordUpload(ctx context.Context, up Upload) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_uploads (id, run_id, conversation_idx, speaker, user_id, sessions, messages, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		uuid.New(), up.RunID, up.Conversation, up.Speaker, up.UserID, up.Sessions, up.Messages, up.Status, up.Error,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}
