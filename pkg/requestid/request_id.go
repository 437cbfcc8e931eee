// Package requestid generates request IDs and carries them in contexts.
package requestid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// Header is the HTTP header a request ID travels in
const Header = "X-Request-ID"

type contextKey struct{}

// counter is used as fallback when random generation fails
var counter atomic.Uint64

// Generate returns an ID of the form timestamp-randomhex,
// e.g. 1737039600123-a2b3c4d5
func Generate() string {
	timestamp := time.Now().UnixMilli()

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("%d-%d", timestamp, counter.Add(1))
	}

	return fmt.Sprintf("%d-%s", timestamp, hex.EncodeToString(randomBytes))
}

// NewContext returns a copy of ctx carrying id
func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the request ID in ctx, or "" if there is none
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
