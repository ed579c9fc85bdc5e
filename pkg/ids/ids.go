// Package ids generates the time-ordered, lexicographically sortable
// identifiers used for task, event, and artifact ids.
package ids

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

// New returns a new ULID string for the current time. ULIDs generated
// within the same millisecond are still strictly increasing because the
// entropy source is monotonic, which matters for event_id ordering used by
// SSE Last-Event-ID catch-up (§4.7: "event_id > after_event_id").
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
