package replay

import (
	"sync"
	"time"
)

// Progress tracks live run counters for the status API. Safe for
// concurrent use.
type Progress struct {
	mu        sync.Mutex
	running   bool
	total     int
	completed int
	failed    int
	messages  int
	startedAt time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Running                bool      `json:"running"`
	ConversationsTotal     int       `json:"conversations_total"`
	ConversationsCompleted int       `json:"conversations_completed"`
	ConversationsFailed    int       `json:"conversations_failed"`
	MessagesReplayed       int       `json:"messages_replayed"`
	StartedAt              time.Time `json:"started_at"`
	Elapsed                string    `json:"elapsed,omitempty"`
}

func NewProgress() *Progress {
	return &Progress{}
}

// Start resets the counters for a new run.
func (p *Progress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.total = total
	p.completed = 0
	p.failed = 0
	p.messages = 0
	p.startedAt = time.Now().UTC()
}

// Record accounts for one finished conversation.
func (p *Progress) Record(messages int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed++
		return
	}
	p.completed++
	p.messages += messages
}

// Finish marks the run as no longer running.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

// Snapshot returns a copy of the current counters.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Running:                p.running,
		ConversationsTotal:     p.total,
		ConversationsCompleted: p.completed,
		ConversationsFailed:    p.failed,
		MessagesReplayed:       p.messages,
		StartedAt:              p.startedAt,
	}
	if !p.startedAt.IsZero() {
		snap.Elapsed = time.Since(p.startedAt).Round(time.Second).String()
	}
	return snap
}
