package workspace

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewTaskID generates a ULID-based Task id: lexicographically sortable by
// creation time, giving the Orchestrator's backlog tie-break (spec.md
// §4.6.1 "stable insertion order") for free from the id itself.
func NewTaskID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
