package riskpool

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"insured-core/internal/auth"
	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

var depositor = auth.CallerFor(common.BytesToAddress([]byte{0x01}))

func newTestPool(t *testing.T) (*Pool, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(ledger.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	return New(store, zerolog.Nop()), store
}

func TestDeposit(t *testing.T) {
	pool, _ := newTestPool(t)

	if err := pool.Deposit(depositor, decimal.Zero); !errors.Is(err, protocol.ErrInvalidInput) {
		t.Fatalf("zero deposit: expected InvalidInput, got %v", err)
	}

	if err := pool.Deposit(depositor, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := pool.Deposit(depositor, decimal.NewFromInt(250)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !pool.Balance().Equal(decimal.NewFromInt(750)) {
		t.Fatalf("expected balance 750, got %s", pool.Balance())
	}
}

func TestReserveAgainstUnreservedBalance(t *testing.T) {
	pool, store := newTestPool(t)
	if err := pool.Deposit(depositor, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := store.Update(func(tx *ledger.Tx) error {
		return pool.ReserveLiquidity(tx, 1, decimal.NewFromInt(60))
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !pool.TotalReserved().Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected reserved 60, got %s", pool.TotalReserved())
	}

	// 40 unreserved; a second claim cannot reserve 50.
	err = store.Update(func(tx *ledger.Tx) error {
		return pool.ReserveLiquidity(tx, 2, decimal.NewFromInt(50))
	})
	if !errors.Is(err, protocol.ErrInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}

	// The same claim cannot double-reserve.
	err = store.Update(func(tx *ledger.Tx) error {
		return pool.ReserveLiquidity(tx, 1, decimal.NewFromInt(10))
	})
	if !errors.Is(err, protocol.ErrAlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestPayoutReservedClaim(t *testing.T) {
	pool, store := newTestPool(t)
	recipient := common.BytesToAddress([]byte{0x02})

	if err := pool.Deposit(depositor, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := store.Update(func(tx *ledger.Tx) error {
		return pool.PayoutReservedClaim(tx, 1, recipient)
	})
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("payout without reservation: expected NotFound, got %v", err)
	}

	err = store.Update(func(tx *ledger.Tx) error {
		return pool.ReserveLiquidity(tx, 1, decimal.NewFromInt(60))
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	err = store.Update(func(tx *ledger.Tx) error {
		return pool.PayoutReservedClaim(tx, 1, recipient)
	})
	if err != nil {
		t.Fatalf("payout: %v", err)
	}

	if !pool.Balance().Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected balance 40 after payout, got %s", pool.Balance())
	}
	if !pool.TotalReserved().IsZero() {
		t.Fatalf("expected no outstanding reservations, got %s", pool.TotalReserved())
	}

	// The reservation is consumed; a second payout fails.
	err = store.Update(func(tx *ledger.Tx) error {
		return pool.PayoutReservedClaim(tx, 1, recipient)
	})
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("double payout: expected NotFound, got %v", err)
	}
}

func TestReleaseReservation(t *testing.T) {
	pool, store := newTestPool(t)
	if err := pool.Deposit(depositor, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := store.Update(func(tx *ledger.Tx) error {
		return pool.ReserveLiquidity(tx, 1, decimal.NewFromInt(60))
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err = store.Update(func(tx *ledger.Tx) error {
		return pool.ReleaseReservation(tx, 1)
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	// Funds return to the unreserved balance without leaving the pool.
	if !pool.Balance().Equal(decimal.NewFromInt(100)) {
		t.Fatalf("release must not move funds, got balance %s", pool.Balance())
	}
	if !pool.TotalReserved().IsZero() {
		t.Fatalf("expected no outstanding reservations, got %s", pool.TotalReserved())
	}

	err = store.Update(func(tx *ledger.Tx) error {
		return pool.ReleaseReservation(tx, 1)
	})
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("double release: expected NotFound, got %v", err)
	}
}
