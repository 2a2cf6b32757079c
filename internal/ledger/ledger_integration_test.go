//go:build integration

package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_RecordAndFinishRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	runID := uuid.New()

	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM replay_runs WHERE id = $1", runID)
	})

	err := s.RecordRun(ctx, Run{
		ID:            runID,
		DataPath:      "testdata/locomo10.json",
		Conversations: 10,
		BatchSize:     2,
		Workers:       4,
	})
	if err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	var status string
	err = s.pool.QueryRow(ctx, "SELECT status FROM replay_runs WHERE id = $1", runID).Scan(&status)
	if err != nil {
		t.Fatalf("query run failed: %v", err)
	}
	if status != "running" {
		t.Errorf("expected status running, got %q", status)
	}

	if err := s.FinishRun(ctx, runID, 9, 1, 1832, "failed"); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	var completed, failed, messages int
	err = s.pool.QueryRow(ctx,
		"SELECT completed, failed, messages, status FROM replay_runs WHERE id = $1", runID,
	).Scan(&completed, &failed, &messages, &status)
	if err != nil {
		t.Fatalf("query finished run failed: %v", err)
	}
	if completed != 9 || failed != 1 || messages != 1832 {
		t.Errorf("counters = %d/%d/%d, want 9/1/1832", completed, failed, messages)
	}
	if status != "failed" {
		t.Errorf("expected status failed, got %q", status)
	}
}

func TestIntegration_RecordUpload(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	runID := uuid.New()
	userID := uuid.New().String()

	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM replay_uploads WHERE run_id = $1", runID)
		s.pool.Exec(ctx, "DELETE FROM replay_runs WHERE id = $1", runID)
	})

	// Upload rows reference their run row.
	err := s.RecordRun(ctx, Run{
		ID:            runID,
		DataPath:      "testdata/locomo10.json",
		Conversations: 1,
		BatchSize:     2,
		Workers:       1,
	})
	if err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	err = s.RecordUpload(ctx, Upload{
		RunID:        runID,
		Conversation: 0,
		Speaker:      "Caroline",
		UserID:       userID,
		Sessions:     19,
		Messages:     286,
		Status:       "completed",
	})
	if err != nil {
		t.Fatalf("RecordUpload failed: %v", err)
	}

	var speaker, gotUserID, uploadStatus string
	var sessions, messages int
	err = s.pool.QueryRow(ctx, `
		SELECT speaker, user_id, sessions, messages, status
		FROM replay_uploads WHERE run_id = $1 AND conversation_idx = 0`, runID,
	).Scan(&speaker, &gotUserID, &sessions, &messages, &uploadStatus)
	if err != nil {
		t.Fatalf("query upload failed: %v", err)
	}
	if speaker != "Caroline" {
		t.Errorf("expected speaker Caroline, got %q", speaker)
	}
	if gotUserID != userID {
		t.Errorf("expected user_id %s, got %q", userID, gotUserID)
	}
	if sessions != 19 || messages != 286 {
		t.Errorf("counters = %d/%d, want 19/286", sessions, messages)
	}
	if uploadStatus != "completed" {
		t.Errorf("expected status completed, got %q", uploadStatus)
	}

	var count int
	err = s.pool.QueryRow(ctx, "SELECT count(*) FROM replay_uploads WHERE run_id = $1", runID).Scan(&count)
	if err != nil {
		t.Fatalf("count uploads failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 upload row, got %d", count)
	}
}
