package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Tier selects one of the three storage lifetimes.
type Tier uint8

const (
	// Instance holds contract-wide singletons and small lists.
	Instance Tier = iota
	// Persistent holds long-lived per-entity records.
	Persistent
	// Temporary holds short-lived entries that expire by TTL. Expired
	// entries age out of reads; they are never actively deleted.
	Temporary
)

// Key addresses one entry. Space is the entity prefix, ID the entity id
// (empty for singletons). Packages build keys through typed constructors
// rather than ad-hoc strings.
type Key struct {
	Space string
	ID    string
}

// Clock supplies ledger time. Injected so staleness and TTL behaviour are
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// ManualClock is a test clock advanced explicitly.
type ManualClock struct {
	t time.Time
}

// NewManualClock starts a manual clock at t.
func NewManualClock(t time.Time) *ManualClock { return &ManualClock{t: t} }

func (c *ManualClock) Now() time.Time { return c.t }

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// Event is a domain event collected during a transaction and published to
// subscribers only when the transaction commits.
type Event struct {
	ID         string
	Emitter    string
	Topic      string
	Attributes map[string]string
	Timestamp  time.Time
}

// eventID hashes (emitter, sequence, timestamp); timestamp alone would
// collide for events emitted in the same second.
func eventID(emitter string, seq uint64, ts time.Time) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], seq)
	binary.BigEndian.PutUint64(buf[8:16], uint64(ts.UnixNano()))
	return hex.EncodeToString(crypto.Keccak256([]byte(emitter), buf[:]))
}
