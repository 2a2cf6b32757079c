// Package identity derives the stable Memobase user IDs for benchmark
// speakers. The mapping must be deterministic across runs so repeated
// replays address the same remote users.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultSalt matches the salt the Memobase client ecosystem uses when
// hashing external identifiers, so IDs derived here line up with IDs
// derived by other tooling against the same project.
const DefaultSalt = "memobase_client"

// SpeakerKey builds the per-conversation speaker key. The conversation
// index keeps the same speaker name in different conversations from
// colliding into one remote user.
func SpeakerKey(label string, conversationIdx int) string {
	return fmt.Sprintf("%s_%d", label, conversationIdx)
}

// UserID maps a speaker key to its remote user ID using the default salt.
func UserID(key string) string {
	return UserIDWithSalt(key, DefaultSalt)
}

// UserIDWithSalt returns the UUIDv5 of key+salt in the DNS namespace.
func UserIDWithSalt(key, salt string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(key+salt)).String()
}
