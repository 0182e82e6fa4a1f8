// Package idgen provides ID generation implementations.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/artpar/entitycore/ports"
)

// UUID generates UUIDs.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// Ensure interface compliance.
var _ ports.IDGenerator = UUID{}

// ULID generates lexically sortable ids. Ids created by one generator sort
// in creation order, even within the same millisecond.
type ULID struct {
	mu      sync.Mutex
	entropy io.Reader
	clock   ports.Clock
}

// NewULID creates a ULID generator reading time from clock.
func NewULID(clock ports.Clock) *ULID {
	return &ULID{entropy: ulid.Monotonic(rand.Reader, 0), clock: clock}
}

// New generates the next ULID.
func (g *ULID) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.clock.Now()), g.entropy).String()
}

// Ensure interface compliance.
var _ ports.IDGenerator = (*ULID)(nil)

// Sequential generates sequential IDs (for testing). Numbers are zero padded
// so ids sort in creation order.
type Sequential struct {
	prefix  string
	counter uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	n := atomic.AddUint64(&s.counter, 1)
	return fmt.Sprintf("%s%06d", s.prefix, n)
}

// Reset resets the counter (for testing).
func (s *Sequential) Reset() {
	atomic.StoreUint64(&s.counter, 0)
}

// Ensure interface compliance.
var _ ports.IDGenerator = (*Sequential)(nil)
