package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Ashley-Tung/memobase/internal/memobase"
)

const (
	// DefaultBatchSize mirrors the benchmark's two-messages-per-blob grouping.
	DefaultBatchSize = 2

	// defaultRetries is the total number of insert attempts per batch.
	defaultRetries = 3
)

// Uploader pushes one speaker's message stream to the service in
// consecutive fixed-size batches, flushes the user's buffer, and writes the
// computed profile snapshot to disk.
type Uploader struct {
	batchSize int
	outDir    string
	retries   int
	retryWait time.Duration
	logger    *slog.Logger
}

func NewUploader(batchSize int, outDir string, logger *slog.Logger) *Uploader {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Uploader{
		batchSize: batchSize,
		outDir:    outDir,
		retries:   defaultRetries,
		retryWait: time.Second,
		logger:    logger,
	}
}

// Upload sends msgs in order. A batch that fails all its attempts aborts
// the remaining batches and the flush. A failed profile snapshot is logged
// and swallowed: the messages are already in, so the upload still counts.
// An empty stream skips straight to the flush and snapshot.
func (u *Uploader) Upload(ctx context.Context, user *memobase.User, msgs []memobase.Message) error {
	for start := 0; start < len(msgs); start += u.batchSize {
		end := start + u.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := u.insertWithRetry(ctx, user, msgs[start:end]); err != nil {
			return fmt.Errorf("insert batch %d-%d for user %s: %w", start, end, user.ID, err)
		}
	}

	if err := user.Flush(ctx); err != nil {
		return fmt.Errorf("flush user %s: %w", user.ID, err)
	}

	u.saveProfile(ctx, user)
	return nil
}

func (u *Uploader) insertWithRetry(ctx context.Context, user *memobase.User, batch []memobase.Message) error {
	var lastErr error
	for attempt := 1; attempt <= u.retries; attempt++ {
		if attempt > 1 {
			u.logger.Warn("insert failed, retrying",
				"user_id", user.ID,
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.retryWait):
			}
		}
		if _, err := user.Insert(ctx, memobase.ChatBlob{Messages: batch}); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// saveProfile fetches the user's computed profile and writes it under the
// output directory, named by the user ID. Never fails the upload.
func (u *Uploader) saveProfile(ctx context.Context, user *memobase.User) {
	profile, err := user.Profile(ctx)
	if err != nil {
		u.logger.Warn("failed to fetch profile", "user_id", user.ID, "error", err)
		return
	}

	if err := os.MkdirAll(u.outDir, 0o755); err != nil {
		u.logger.Warn("failed to create output dir", "dir", u.outDir, "error", err)
		return
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		data = profile
	}

	path := filepath.Join(u.outDir, user.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		u.logger.Warn("failed to write profile", "path", path, "error", err)
		return
	}
	u.logger.Info("profile saved", "user_id", user.ID, "path", path)
}
