// Package id generates request correlation identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Request returns a new correlation identifier for an incoming request.
// Stamped on every response as X-Request-ID and attached to log lines.
func Request() string {
	return uuid.NewString()
}

// Short returns a 16-character hex identifier for places where brevity
// matters more than global uniqueness (e.g. file backend compaction temp
// names).
func Short() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
