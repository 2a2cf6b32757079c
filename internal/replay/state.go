package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultStatePath = "~/.memobase/locomo-replay-state.json"

// RunState tracks which conversations have been replayed so an interrupted
// run can resume without re-uploading finished conversations.
type RunState struct {
	StartedAt         time.Time `json:"started_at"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
	ConversationsDone []int     `json:"conversations_done"`
	MessagesSent      int       `json:"messages_sent"`
	Errors            []string  `json:"errors"`

	path string // not serialized
}

// LoadState loads the replay state from path, or creates a new one. An
// empty path uses the default location under the home directory.
func LoadState(path string) (*RunState, error) {
	if path == "" {
		path = defaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &RunState{
				StartedAt: time.Now().UTC(),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

// Save persists the state to disk.
func (s *RunState) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsDone returns true if the conversation index is recorded as completed.
func (s *RunState) IsDone(idx int) bool {
	for _, done := range s.ConversationsDone {
		if done == idx {
			return true
		}
	}
	return false
}

// MarkDone records a conversation as completed.
func (s *RunState) MarkDone(idx int) {
	s.ConversationsDone = append(s.ConversationsDone, idx)
}

// AddError records a processing error.
func (s *RunState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
