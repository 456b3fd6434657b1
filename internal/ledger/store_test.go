package ledger

import (
	"errors"
	"testing"
	"time"
)

func testClock() *ManualClock {
	return NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestUpdateCommitsWrites(t *testing.T) {
	store := NewStore(testClock())
	key := Key{Space: "counter"}

	err := store.Update(func(tx *Tx) error {
		Set(tx, Instance, key, uint64(7))
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = store.View(func(tx *Tx) error {
		got, ok := Get[uint64](tx, Instance, key)
		if !ok || got != 7 {
			t.Fatalf("expected 7, got %d (ok=%t)", got, ok)
		}
		return nil
	})
}

func TestUpdateErrorDiscardsWrites(t *testing.T) {
	store := NewStore(testClock())
	key := Key{Space: "counter"}

	boom := errors.New("boom")
	err := store.Update(func(tx *Tx) error {
		Set(tx, Instance, key, uint64(7))
		tx.Emit("test", "test.event", nil)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = store.View(func(tx *Tx) error {
		if tx.Has(Instance, key) {
			t.Fatal("failed transaction must not leave writes behind")
		}
		return nil
	})
}

func TestTiersAreIndependent(t *testing.T) {
	store := NewStore(testClock())
	key := Key{Space: "price", ID: "USDC"}

	_ = store.Update(func(tx *Tx) error {
		Set(tx, Instance, key, "instance")
		Set(tx, Persistent, key, "persistent")
		return nil
	})

	_ = store.View(func(tx *Tx) error {
		if v, _ := Get[string](tx, Instance, key); v != "instance" {
			t.Fatalf("instance tier: got %q", v)
		}
		if v, _ := Get[string](tx, Persistent, key); v != "persistent" {
			t.Fatalf("persistent tier: got %q", v)
		}
		if tx.Has(Temporary, key) {
			t.Fatal("temporary tier should be empty")
		}
		return nil
	})
}

func TestTemporaryEntriesExpire(t *testing.T) {
	clock := testClock()
	store := NewStore(clock)
	store.SetTemporaryTTL(10 * time.Minute)
	key := Key{Space: "submission", ID: "a"}

	_ = store.Update(func(tx *Tx) error {
		Set(tx, Temporary, key, 1)
		return nil
	})

	clock.Advance(9 * time.Minute)
	_ = store.View(func(tx *Tx) error {
		if !tx.Has(Temporary, key) {
			t.Fatal("entry should still be live before TTL")
		}
		return nil
	})

	clock.Advance(2 * time.Minute)
	_ = store.View(func(tx *Tx) error {
		if tx.Has(Temporary, key) {
			t.Fatal("entry should have expired")
		}
		return nil
	})
}

func TestTxReadsOwnWrites(t *testing.T) {
	store := NewStore(testClock())
	key := Key{Space: "counter"}

	_ = store.Update(func(tx *Tx) error {
		Set(tx, Instance, key, uint64(1))
		got, ok := Get[uint64](tx, Instance, key)
		if !ok || got != 1 {
			t.Fatalf("transaction should observe its own write, got %d (ok=%t)", got, ok)
		}
		tx.Delete(Instance, key)
		if tx.Has(Instance, key) {
			t.Fatal("transaction should observe its own delete")
		}
		return nil
	})
}

func TestEventsPublishedOnlyOnCommit(t *testing.T) {
	store := NewStore(testClock())

	var received []Event
	store.Subscribe(func(ev Event) { received = append(received, ev) })

	_ = store.Update(func(tx *Tx) error {
		tx.Emit("claims", "claims.submitted", map[string]string{"claim_id": "1"})
		return errors.New("abort")
	})
	if len(received) != 0 {
		t.Fatalf("aborted transaction must not publish events, got %d", len(received))
	}

	err := store.Update(func(tx *Tx) error {
		tx.Emit("claims", "claims.submitted", map[string]string{"claim_id": "1"})
		tx.Emit("claims", "claims.approved", map[string]string{"claim_id": "1"})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Topic != "claims.submitted" || received[1].Topic != "claims.approved" {
		t.Fatalf("events out of order: %s, %s", received[0].Topic, received[1].Topic)
	}
	if received[0].ID == received[1].ID {
		t.Fatal("event ids must be unique within one commit")
	}
	if received[0].ID == "" {
		t.Fatal("event id must be populated")
	}
}

func TestGetOrFallsBack(t *testing.T) {
	store := NewStore(testClock())
	key := Key{Space: "quality", ID: "src"}

	_ = store.View(func(tx *Tx) error {
		if got := GetOr(tx, Persistent, key, uint32(50)); got != 50 {
			t.Fatalf("expected default 50, got %d", got)
		}
		return nil
	})
}
