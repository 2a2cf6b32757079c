package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Ashley-Tung/memobase/internal/events"
	"github.com/Ashley-Tung/memobase/internal/identity"
	"github.com/Ashley-Tung/memobase/internal/ledger"
	"github.com/Ashley-Tung/memobase/internal/locomo"
	"github.com/Ashley-Tung/memobase/internal/memobase"
)

// ConversationStats summarizes one processed conversation.
type ConversationStats struct {
	Sessions int
	Messages int
	UserA    string
	UserB    string
}

// Processor replays a single conversation: it derives the two user
// identities, clears their previous remote state, and pushes each session's
// two speaker streams concurrently. The events publisher and ledger are
// optional; nil disables them.
type Processor struct {
	client   *memobase.Client
	uploader *Uploader
	events   *events.Publisher
	ledger   *ledger.Store
	runID    uuid.UUID
	dryRun   bool
	logger   *slog.Logger
}

// Process replays one conversation. A failure aborts the conversation's
// remaining sessions; sibling conversations are unaffected.
func (p *Processor) Process(ctx context.Context, conv locomo.Conversation, idx int) (ConversationStats, error) {
	stats := ConversationStats{
		UserA: identity.UserID(identity.SpeakerKey(conv.SpeakerA, idx)),
		UserB: identity.UserID(identity.SpeakerKey(conv.SpeakerB, idx)),
	}

	p.logger.Info("processing conversation",
		"conversation", idx,
		"speaker_a", conv.SpeakerA,
		"speaker_b", conv.SpeakerB,
		"sessions", len(conv.Sessions),
		"dry_run", p.dryRun,
	)

	if p.dryRun {
		return p.validateOnly(conv, idx, stats)
	}

	// Clear remote state from previous runs so the replay starts clean.
	// Failures are ignored: a user that does not exist yet is the common
	// case, and a stale leftover only risks duplicate memories.
	for _, uid := range []string{stats.UserA, stats.UserB} {
		if err := p.client.DeleteUser(ctx, uid); err != nil {
			p.logger.Debug("delete user failed", "user_id", uid, "error", err)
		}
	}

	tallyA := speakerTally{speaker: conv.SpeakerA, userID: stats.UserA}
	tallyB := speakerTally{speaker: conv.SpeakerB, userID: stats.UserB}

	for _, sess := range conv.Sessions {
		msgsA, msgsB, err := locomo.SplitSession(conv, sess)
		if err != nil {
			return stats, fmt.Errorf("conversation %d: %w", idx, err)
		}

		// One goroutine per speaker; the session is done only when both
		// streams are in, and the next session starts only after that.
		var wg sync.WaitGroup
		var errA, errB error
		wg.Add(2)
		go func() {
			defer wg.Done()
			errA = p.uploadSpeaker(ctx, stats.UserA, msgsA)
		}()
		go func() {
			defer wg.Done()
			errB = p.uploadSpeaker(ctx, stats.UserB, msgsB)
		}()
		wg.Wait()

		tallyA.err = errA
		tallyB.err = errB
		if errA != nil || errB != nil {
			p.recordUploads(ctx, idx, tallyA, tallyB)
			err, speaker := errA, conv.SpeakerA
			if err == nil {
				err, speaker = errB, conv.SpeakerB
			}
			return stats, fmt.Errorf("conversation %d session %s speaker %s: %w", idx, sess.Key, speaker, err)
		}

		stats.Sessions++
		stats.Messages += len(msgsA) + len(msgsB)
		tallyA.sessions++
		tallyA.messages += len(msgsA)
		tallyB.sessions++
		tallyB.messages += len(msgsB)

		p.logger.Debug("session replayed",
			"conversation", idx,
			"session", sess.Key,
			"messages_a", len(msgsA),
			"messages_b", len(msgsB),
		)
	}

	p.recordUploads(ctx, idx, tallyA, tallyB)
	p.publishCompleted(idx, stats)

	p.logger.Info("conversation replayed",
		"conversation", idx,
		"sessions", stats.Sessions,
		"messages", stats.Messages,
	)
	return stats, nil
}

// validateOnly walks the conversation without touching the service, so a
// dry run still catches malformed records.
func (p *Processor) validateOnly(conv locomo.Conversation, idx int, stats ConversationStats) (ConversationStats, error) {
	for _, sess := range conv.Sessions {
		a, b, err := locomo.SplitSession(conv, sess)
		if err != nil {
			return stats, fmt.Errorf("conversation %d: %w", idx, err)
		}
		stats.Sessions++
		stats.Messages += len(a) + len(b)
	}
	p.logger.Info("conversation validated",
		"conversation", idx,
		"sessions", stats.Sessions,
		"messages", stats.Messages,
	)
	return stats, nil
}

func (p *Processor) uploadSpeaker(ctx context.Context, userID string, msgs []memobase.Message) error {
	user, err := p.client.GetOrCreateUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get or create user: %w", err)
	}
	return p.uploader.Upload(ctx, user, msgs)
}

type speakerTally struct {
	speaker  string
	userID   string
	sessions int
	messages int
	err      error
}

// recordUploads writes one ledger row per speaker, best-effort.
func (p *Processor) recordUploads(ctx context.Context, idx int, tallies ...speakerTally) {
	if p.ledger == nil {
		return
	}
	for _, tl := range tallies {
		up := ledger.Upload{
			RunID:        p.runID,
			Conversation: idx,
			Speaker:      tl.speaker,
			UserID:       tl.userID,
			Sessions:     tl.sessions,
			Messages:     tl.messages,
			Status:       "completed",
		}
		if tl.err != nil {
			up.Status = "failed"
			up.Error = tl.err.Error()
		}
		if err := p.ledger.RecordUpload(ctx, up); err != nil {
			p.logger.Warn("failed to record upload", "conversation", idx, "speaker", tl.speaker, "error", err)
		}
	}
}

func (p *Processor) publishCompleted(idx int, stats ConversationStats) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(events.SubjectConversationCompleted, map[string]any{
		"run_id":       p.runID.String(),
		"conversation": idx,
		"users":        []string{stats.UserA, stats.UserB},
		"sessions":     stats.Sessions,
		"messages":     stats.Messages,
	}); err != nil {
		p.logger.Warn("failed to publish conversation event", "conversation", idx, "error", err)
	}
}
