package ledger

import "time"

type write struct {
	value     any
	expiresAt time.Time
	deleted   bool
}

type pendingEvent struct {
	emitter string
	topic   string
	attrs   map[string]string
}

// Tx buffers the writes and events of a single atomic unit of work. All
// reads observe the transaction's own writes first, then the committed
// base state as of the transaction's start.
type Tx struct {
	store  *Store
	now    time.Time
	writes [3]map[Key]write
	events []pendingEvent
}

// Now returns ledger time at the start of the transaction.
func (tx *Tx) Now() time.Time { return tx.now }

// Emit queues a domain event for publication on commit.
func (tx *Tx) Emit(emitter, topic string, attrs map[string]string) {
	tx.events = append(tx.events, pendingEvent{emitter: emitter, topic: topic, attrs: attrs})
}

func (tx *Tx) lookup(tier Tier, key Key) (any, bool) {
	if w, ok := tx.writes[tier][key]; ok {
		if w.deleted {
			return nil, false
		}
		if !w.expiresAt.IsZero() && tx.now.After(w.expiresAt) {
			return nil, false
		}
		return w.value, true
	}
	e, ok := tx.store.tiers[tier][key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && tx.now.After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Get reads a typed value. The second return is false when the key is
// absent, expired, or holds a different type.
func Get[T any](tx *Tx, tier Tier, key Key) (T, bool) {
	var zero T
	raw, ok := tx.lookup(tier, key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// GetOr reads a typed value, falling back to def when absent.
func GetOr[T any](tx *Tx, tier Tier, key Key, def T) T {
	if v, ok := Get[T](tx, tier, key); ok {
		return v
	}
	return def
}

// Set writes a typed value. Temporary-tier writes carry the store TTL.
func Set[T any](tx *Tx, tier Tier, key Key, value T) {
	w := write{value: value}
	if tier == Temporary {
		w.expiresAt = tx.now.Add(tx.store.tempTTL)
	}
	tx.writes[tier][key] = w
}

// Has reports whether the key currently resolves to a live value.
func (tx *Tx) Has(tier Tier, key Key) bool {
	_, ok := tx.lookup(tier, key)
	return ok
}

// Delete removes the key on commit.
func (tx *Tx) Delete(tier Tier, key Key) {
	tx.writes[tier][key] = write{deleted: true}
}
