// Package taskid generates sortable identifiers for tasks and events.
//
// IDs are ULIDs: lexicographic ordering matches creation order, which lets
// the hot store and long-term store use the id directly as a sort key and
// lets ShortTermStore.getEvents resolve a since.id cursor by string
// comparison rather than a secondary index.
package taskid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new monotonically-sortable identifier for the current instant.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Valid reports whether s parses as a well-formed id produced by New.
func Valid(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
