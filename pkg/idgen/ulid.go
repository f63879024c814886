// Package idgen produces ULIDs for request correlation. ULIDs sort by
// creation time, which keeps request ids readable in log streams.
package idgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// A single monotonic source keeps ids strictly ordered within the
// process. MonotonicEntropy is not safe for concurrent use.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// MustGenerateSortableID returns a new ULID string.
func MustGenerateSortableID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
