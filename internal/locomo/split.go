package locomo

import (
	"errors"
	"fmt"

	"github.com/Ashley-Tung/memobase/internal/memobase"
)

// ErrUnknownSpeaker reports a turn whose speaker matches neither of the
// conversation's declared speakers. This is malformed data, fatal for the
// conversation, never retried.
var ErrUnknownSpeaker = errors.New("unknown speaker")

// SplitSession partitions one session's turns into two per-speaker message
// sequences, preserving turn order. Every message carries the "user" role —
// each stream is ingested as that speaker talking about themselves — with
// the speaker label in the alias and the session timestamp in created_at.
func SplitSession(conv Conversation, sess Session) (a, b []memobase.Message, err error) {
	for _, turn := range sess.Turns {
		msg := memobase.Message{
			Role:      "user",
			Content:   turn.Text,
			Alias:     turn.Speaker,
			CreatedAt: sess.DateTime,
		}
		switch turn.Speaker {
		case conv.SpeakerA:
			a = append(a, msg)
		case conv.SpeakerB:
			b = append(b, msg)
		default:
			return nil, nil, fmt.Errorf("session %s: %w: %q", sess.Key, ErrUnknownSpeaker, turn.Speaker)
		}
	}
	return a, b, nil
}
