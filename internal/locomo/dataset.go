// Package locomo loads the LoCoMo benchmark dataset: a JSON array of
// multi-session, two-speaker conversations with per-session timestamps.
package locomo

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Turn is one chat line within a session. Extra dataset fields (dialogue
// IDs, image URLs, captions) are ignored.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Session is one labeled sub-conversation plus its sibling timestamp.
type Session struct {
	Key      string
	DateTime string
	Turns    []Turn
}

// Conversation is one benchmark record: the two speaker labels and their
// sessions in document order.
type Conversation struct {
	SpeakerA string
	SpeakerB string
	Sessions []Session
}

// LoadDataset parses the benchmark file. Sessions must keep the order they
// appear in the document: "session_10" sorts before "session_2" lexically,
// so decoding into a map and sorting keys would replay sessions out of
// order. The conversation object is therefore walked token by token.
func LoadDataset(path string) ([]Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)

	if err := expectDelim(dec, '['); err != nil {
		return nil, fmt.Errorf("dataset must be a JSON array: %w", err)
	}

	var conversations []Conversation
	for dec.More() {
		conv, err := parseRecord(dec)
		if err != nil {
			return nil, fmt.Errorf("conversation %d: %w", len(conversations), err)
		}
		conversations = append(conversations, conv)
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, fmt.Errorf("dataset array not terminated: %w", err)
	}
	return conversations, nil
}

// parseRecord consumes one array element: an object whose "conversation"
// field holds the dialogue. Sibling fields (QA annotations, event
// summaries, observations) are skipped.
func parseRecord(dec *json.Decoder) (Conversation, error) {
	var conv Conversation
	if err := expectDelim(dec, '{'); err != nil {
		return conv, err
	}

	found := false
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return conv, err
		}
		if key == "conversation" {
			conv, err = parseConversation(dec)
			if err != nil {
				return conv, err
			}
			found = true
			continue
		}
		if err := skipValue(dec); err != nil {
			return conv, fmt.Errorf("field %q: %w", key, err)
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return conv, err
	}
	if !found {
		return conv, fmt.Errorf("record has no conversation field")
	}
	return conv, nil
}

func parseConversation(dec *json.Decoder) (Conversation, error) {
	var conv Conversation
	if err := expectDelim(dec, '{'); err != nil {
		return conv, err
	}

	// Timestamps can appear before or after their session, so they are
	// collected first and attached once the object is fully read.
	timestamps := make(map[string]string)

	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return conv, err
		}

		switch {
		case key == "speaker_a":
			if err := dec.Decode(&conv.SpeakerA); err != nil {
				return conv, fmt.Errorf("field %q: %w", key, err)
			}
		case key == "speaker_b":
			if err := dec.Decode(&conv.SpeakerB); err != nil {
				return conv, fmt.Errorf("field %q: %w", key, err)
			}
		case isTimestampKey(key):
			var ts string
			if err := dec.Decode(&ts); err != nil {
				return conv, fmt.Errorf("field %q: %w", key, err)
			}
			timestamps[key] = ts
		default:
			var turns []Turn
			if err := dec.Decode(&turns); err != nil {
				return conv, fmt.Errorf("session %q: %w", key, err)
			}
			conv.Sessions = append(conv.Sessions, Session{Key: key, Turns: turns})
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return conv, err
	}

	for i := range conv.Sessions {
		conv.Sessions[i].DateTime = timestamps[conv.Sessions[i].Key+"_date_time"]
	}
	return conv, nil
}

// isTimestampKey reports whether a conversation key names a session
// timestamp rather than a session.
func isTimestampKey(key string) bool {
	return strings.Contains(key, "date") || strings.Contains(key, "timestamp")
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	var raw json.RawMessage
	return dec.Decode(&raw)
}
