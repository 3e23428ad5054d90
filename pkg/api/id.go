package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	messageIDPrefix = "msg_"
	callIDPrefix    = "call_"
)

var (
	messageIDPattern = regexp.MustCompile(`^msg_[a-zA-Z0-9]{24}$`)
	streamIDPattern  = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

// NewMessageID generates a message ID with the "msg_" prefix followed by
// 24 cryptographically random alphanumeric characters.
func NewMessageID() string {
	return messageIDPrefix + randomAlphanumeric(idLength)
}

// NewCallID generates a tool call ID for calls that arrive without one.
func NewCallID() string {
	return callIDPrefix + randomAlphanumeric(idLength)
}

// NewSessionID returns a fresh session identifier: a UUID in hex form
// without dashes.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewStreamID returns a fresh stream identifier. Streams share the session
// identifier format.
func NewStreamID() string {
	return NewSessionID()
}

// ValidateMessageID checks whether the given string is a valid message ID.
func ValidateMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

// ValidateStreamID checks whether the given string is a 32 character hex id.
func ValidateStreamID(id string) bool {
	return streamIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
