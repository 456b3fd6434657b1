package ledger

import (
	"sync"
	"time"
)

// DefaultTemporaryTTL bounds the lifetime of temporary-tier entries.
const DefaultTemporaryTTL = time.Hour

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory three-tier key-value state with transactional
// updates: all writes and events within one Update either commit together
// or are discarded together. A single writer holds the store at a time,
// matching the one-transaction-at-a-time execution model.
//
// Values are stored as-is. Callers must treat retrieved values as
// immutable snapshots and write back replacements instead of mutating in
// place.
type Store struct {
	mu      sync.Mutex
	clock   Clock
	tempTTL time.Duration

	tiers    [3]map[Key]entry
	subs     []func(Event)
	eventSeq uint64
}

// NewStore builds an empty store on the given clock.
func NewStore(clock Clock) *Store {
	if clock == nil {
		clock = SystemClock()
	}
	s := &Store{clock: clock, tempTTL: DefaultTemporaryTTL}
	for i := range s.tiers {
		s.tiers[i] = make(map[Key]entry)
	}
	return s
}

// SetTemporaryTTL overrides the temporary-tier lifetime. Affects entries
// written after the call.
func (s *Store) SetTemporaryTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		s.tempTTL = ttl
	}
}

// Subscribe registers a callback invoked for every committed event.
// Callbacks run outside the store lock and must not block for long.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Update runs fn inside a transaction. A nil return commits every write
// and publishes every emitted event; any error discards them all.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	tx := s.newTx()
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	events := s.commit(tx)
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ev := range events {
		for _, sub := range subs {
			sub(ev)
		}
	}
	return nil
}

// View runs fn against a transaction whose writes are always discarded.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.newTx())
}

func (s *Store) newTx() *Tx {
	tx := &Tx{store: s, now: s.clock.Now()}
	for i := range tx.writes {
		tx.writes[i] = make(map[Key]write)
	}
	return tx
}

func (s *Store) commit(tx *Tx) []Event {
	for tier, writes := range tx.writes {
		for key, w := range writes {
			if w.deleted {
				delete(s.tiers[tier], key)
				continue
			}
			s.tiers[tier][key] = entry{value: w.value, expiresAt: w.expiresAt}
		}
	}

	events := make([]Event, 0, len(tx.events))
	for _, pending := range tx.events {
		s.eventSeq++
		events = append(events, Event{
			ID:         eventID(pending.emitter, s.eventSeq, tx.now),
			Emitter:    pending.emitter,
			Topic:      pending.topic,
			Attributes: pending.attrs,
			Timestamp:  tx.now,
		})
	}
	return events
}
