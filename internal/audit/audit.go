package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Entry records one broker exchange.
type Entry struct {
	ID            string
	CorrelationID string
	Service       string
	Subservice    string
	EntityID      string
	EntityType    string
	Model         string
	Method        string
	StatusCode    int
	Outcome       string
	ErrorKind     string
	PayloadDigest string
	Duration      time.Duration
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "exchange-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for request payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
