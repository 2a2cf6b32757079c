package replay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ashley-Tung/memobase/internal/events"
	"github.com/Ashley-Tung/memobase/internal/ledger"
	"github.com/Ashley-Tung/memobase/internal/locomo"
	"github.com/Ashley-Tung/memobase/internal/memobase"
	"github.com/Ashley-Tung/memobase/internal/notify"
)

// DefaultWorkers bounds how many conversations replay concurrently.
const DefaultWorkers = 10

// Config holds the replay run configuration.
type Config struct {
	DataPath   string
	BatchSize  int
	MaxSamples int
	Workers    int
	OutDir     string
	StatePath  string
	Resume     bool
	DryRun     bool
}

// Runner drives a replay end to end: dataset load, worker-pool dispatch,
// state tracking, and the final summary.
type Runner struct {
	cfg      Config
	client   *memobase.Client
	events   *events.Publisher
	ledger   *ledger.Store
	notifier *notify.Poster
	progress *Progress
	runID    uuid.UUID
	logger   *slog.Logger
}

// NewRunner creates a replay runner. The events publisher, ledger and
// notifier are optional; nil disables them.
func NewRunner(cfg Config, client *memobase.Client, pub *events.Publisher, lg *ledger.Store, poster *notify.Poster, progress *Progress, logger *slog.Logger) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "memobase_memories"
	}
	if progress == nil {
		progress = NewProgress()
	}
	return &Runner{
		cfg:      cfg,
		client:   client,
		events:   pub,
		ledger:   lg,
		notifier: poster,
		progress: progress,
		runID:    uuid.New(),
		logger:   logger,
	}
}

type result struct {
	idx   int
	stats ConversationStats
	err   error
}

// Run executes the replay. Every dispatched conversation runs to
// completion; the first failure observed while draining results is
// returned once all of them have finished.
func (r *Runner) Run(ctx context.Context) error {
	conversations, err := locomo.LoadDataset(r.cfg.DataPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	if r.cfg.MaxSamples > 0 && len(conversations) > r.cfg.MaxSamples {
		r.logger.Info("truncating dataset", "total", len(conversations), "max_samples", r.cfg.MaxSamples)
		conversations = conversations[:r.cfg.MaxSamples]
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	proc := &Processor{
		client:   r.client,
		uploader: NewUploader(r.cfg.BatchSize, r.cfg.OutDir, r.logger),
		events:   r.events,
		ledger:   r.ledger,
		runID:    r.runID,
		dryRun:   r.cfg.DryRun,
		logger:   r.logger,
	}

	r.progress.Start(len(conversations))
	started := time.Now()

	if !r.cfg.DryRun {
		r.recordRunStart(ctx, len(conversations))
	}

	sem := make(chan struct{}, r.cfg.Workers)
	results := make(chan result, len(conversations))
	var wg sync.WaitGroup

	totals := runTotals{total: len(conversations)}
	for idx, conv := range conversations {
		if r.cfg.Resume && state.IsDone(idx) {
			r.logger.Debug("skipping completed conversation", "conversation", idx)
			totals.skipped++
			continue
		}
		totals.dispatched++
		wg.Add(1)
		go func(idx int, conv locomo.Conversation) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			stats, err := proc.Process(ctx, conv, idx)
			results <- result{idx: idx, stats: stats, err: err}
		}(idx, conv)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		r.progress.Record(res.stats.Messages, res.err)

		if res.err != nil {
			totals.failed++
			r.logger.Error("conversation failed", "conversation", res.idx, "error", res.err)
			if firstErr == nil {
				firstErr = res.err
			}
			if !r.cfg.DryRun {
				state.AddError(res.err.Error())
				if err := state.Save(); err != nil {
					r.logger.Warn("failed to save state", "error", err)
				}
			}
			continue
		}

		totals.completed++
		totals.messages += res.stats.Messages
		if !r.cfg.DryRun {
			state.MarkDone(res.idx)
			state.MessagesSent += res.stats.Messages
			if err := state.Save(); err != nil {
				r.logger.Warn("failed to save state", "error", err)
			}
		}
	}

	r.progress.Finish()

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	totals.duration = time.Since(started).Round(time.Second)

	if !r.cfg.DryRun {
		r.recordRunFinish(ctx, totals, firstErr)
	}

	summary := r.formatSummary(totals, state.path)
	fmt.Print(summary)
	r.postSummary(ctx, summary)

	r.logger.Info("replay complete",
		"conversations", totals.total,
		"completed", totals.completed,
		"failed", totals.failed,
		"skipped", totals.skipped,
		"messages", totals.messages,
		"duration", totals.duration.String(),
		"dry_run", r.cfg.DryRun,
	)

	return firstErr
}

type runTotals struct {
	total      int
	dispatched int
	skipped    int
	completed  int
	failed     int
	messages   int
	duration   time.Duration
}

func (r *Runner) formatSummary(t runTotals, statePath string) string {
	var sb strings.Builder
	sb.WriteString("\n=== Replay Summary ===\n")
	fmt.Fprintf(&sb, "Conversations: %d (%d dispatched, %d skipped)\n", t.total, t.dispatched, t.skipped)
	fmt.Fprintf(&sb, "Completed: %d\n", t.completed)
	fmt.Fprintf(&sb, "Failed: %d\n", t.failed)
	fmt.Fprintf(&sb, "Messages replayed: %d\n", t.messages)
	fmt.Fprintf(&sb, "Duration: %s\n", t.duration)
	if r.cfg.DryRun {
		sb.WriteString("Mode: DRY RUN (no uploads)\n")
	} else {
		fmt.Fprintf(&sb, "Profiles dir: %s\n", r.cfg.OutDir)
		fmt.Fprintf(&sb, "State file: %s\n", statePath)
	}
	return sb.String()
}

// postSummary sends the run summary to Slack when a notifier is configured.
func (r *Runner) postSummary(ctx context.Context, text string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.PostSummary(ctx, "*LoCoMo Replay*\n```"+text+"```"); err != nil {
		r.logger.Warn("failed to post run summary to slack", "error", err)
	}
}

func (r *Runner) recordRunStart(ctx context.Context, conversations int) {
	if r.ledger != nil {
		if err := r.ledger.RecordRun(ctx, ledger.Run{
			ID:            r.runID,
			DataPath:      r.cfg.DataPath,
			Conversations: conversations,
			BatchSize:     r.cfg.BatchSize,
			Workers:       r.cfg.Workers,
		}); err != nil {
			r.logger.Warn("failed to record run", "error", err)
		}
	}
	if r.events != nil {
		if err := r.events.Publish(events.SubjectRunStarted, map[string]any{
			"run_id":        r.runID.String(),
			"data_path":     r.cfg.DataPath,
			"conversations": conversations,
			"batch_size":    r.cfg.BatchSize,
			"workers":       r.cfg.Workers,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			r.logger.Warn("failed to publish run started", "error", err)
		}
	}
}

func (r *Runner) recordRunFinish(ctx context.Context, t runTotals, runErr error) {
	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	if r.ledger != nil {
		if err := r.ledger.FinishRun(ctx, r.runID, t.completed, t.failed, t.messages, status); err != nil {
			r.logger.Warn("failed to finish run record", "error", err)
		}
	}
	if r.events != nil {
		if err := r.events.Publish(events.SubjectRunCompleted, map[string]any{
			"run_id":    r.runID.String(),
			"completed": t.completed,
			"failed":    t.failed,
			"messages":  t.messages,
			"status":    status,
			"duration":  t.duration.String(),
		}); err != nil {
			r.logger.Warn("failed to publish run completed", "error", err)
		}
	}
}
