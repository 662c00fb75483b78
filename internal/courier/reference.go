package courier

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReferenceSource produces shipment references. Every call must return a value never
// returned before, so a retried attempt cannot collide with an earlier one.
type ReferenceSource interface {
	Next(orderID string) string
}

// ULIDReferences builds "<orderID>-<ULID>" references from monotonic entropy
type ULIDReferences struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULIDReferences returns a reference source safe for concurrent use
func NewULIDReferences() *ULIDReferences {
	return &ULIDReferences{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (r *ULIDReferences) Next(orderID string) string {
	r.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(r.now()), r.entropy)
	r.mu.Unlock()
	return orderID + "-" + id.String()
}
