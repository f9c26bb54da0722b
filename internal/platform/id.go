package platform

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

const (
	shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	shortIDLength   = 10
)

// NewID returns a random uuid string, used for event and window ids.
func NewID() string {
	return uuid.New().String()
}

// NewName returns a prefixed short random identifier such as
// "bg-x3k9q02mfa". Deployment ids use this form so operators can read
// them aloud.
func NewName(prefix string) string {
	raw := make([]byte, shortIDLength)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}

	var sb strings.Builder
	sb.Grow(len(prefix) + 1 + shortIDLength)
	sb.WriteString(prefix)
	sb.WriteByte('-')
	for _, b := range raw {
		sb.WriteByte(shortIDAlphabet[int(b)%len(shortIDAlphabet)])
	}
	return sb.String()
}
