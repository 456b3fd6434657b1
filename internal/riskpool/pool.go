package riskpool

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"insured-core/internal/auth"
	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

const emitter = "riskpool"

// Pool is the reference risk-pool: liquidity deposits, per-claim
// reservations earmarked at approval time, and payout of already-reserved
// funds at settlement time. The reserve/payout split keeps the pool from
// approving more claims than it can cover.
type Pool struct {
	store  *ledger.Store
	logger zerolog.Logger
}

// New wires a pool onto the shared ledger store.
func New(store *ledger.Store, logger zerolog.Logger) *Pool {
	return &Pool{store: store, logger: logger.With().Str("component", "riskpool").Logger()}
}

func balanceKey() ledger.Key       { return ledger.Key{Space: "riskpool/balance"} }
func totalReservedKey() ledger.Key { return ledger.Key{Space: "riskpool/total_reserved"} }

func reservedKey(claimID uint64) ledger.Key {
	return ledger.Key{Space: "riskpool/reserved", ID: strconv.FormatUint(claimID, 10)}
}

// Deposit adds liquidity to the pool.
func (p *Pool) Deposit(caller auth.Caller, amount decimal.Decimal) error {
	return p.store.Update(func(tx *ledger.Tx) error {
		if amount.Sign() <= 0 {
			return protocol.Errf(protocol.CodeInvalidInput, "deposit must be positive")
		}
		balance := ledger.GetOr(tx, ledger.Persistent, balanceKey(), decimal.Zero)
		ledger.Set(tx, ledger.Persistent, balanceKey(), balance.Add(amount))
		tx.Emit(emitter, "riskpool.deposit", map[string]string{
			"from":   caller.Address.Hex(),
			"amount": amount.String(),
		})
		return nil
	})
}

// ReserveLiquidity earmarks amount for a claim. Fails when the unreserved
// balance cannot cover it or the claim already holds a reservation.
func (p *Pool) ReserveLiquidity(tx *ledger.Tx, claimID uint64, amount decimal.Decimal) error {
	if tx.Has(ledger.Persistent, reservedKey(claimID)) {
		return protocol.Errf(protocol.CodeAlreadyExists, "claim %d already has a reservation", claimID)
	}
	balance := ledger.GetOr(tx, ledger.Persistent, balanceKey(), decimal.Zero)
	reserved := ledger.GetOr(tx, ledger.Persistent, totalReservedKey(), decimal.Zero)
	if amount.GreaterThan(balance.Sub(reserved)) {
		return protocol.Errf(protocol.CodeInsufficientFunds,
			"cannot reserve %s: unreserved balance %s", amount.String(), balance.Sub(reserved).String())
	}
	ledger.Set(tx, ledger.Persistent, reservedKey(claimID), amount)
	ledger.Set(tx, ledger.Persistent, totalReservedKey(), reserved.Add(amount))
	tx.Emit(emitter, "riskpool.reserved", map[string]string{
		"claim_id": strconv.FormatUint(claimID, 10),
		"amount":   amount.String(),
	})
	return nil
}

// PayoutReservedClaim releases the claim's earmarked funds to recipient.
// Distinct from a raw payout: the funds must already be reserved.
func (p *Pool) PayoutReservedClaim(tx *ledger.Tx, claimID uint64, recipient common.Address) error {
	amount, ok := ledger.Get[decimal.Decimal](tx, ledger.Persistent, reservedKey(claimID))
	if !ok {
		return protocol.Errf(protocol.CodeNotFound, "no reservation for claim %d", claimID)
	}
	balance := ledger.GetOr(tx, ledger.Persistent, balanceKey(), decimal.Zero)
	reserved := ledger.GetOr(tx, ledger.Persistent, totalReservedKey(), decimal.Zero)
	ledger.Set(tx, ledger.Persistent, balanceKey(), balance.Sub(amount))
	ledger.Set(tx, ledger.Persistent, totalReservedKey(), reserved.Sub(amount))
	tx.Delete(ledger.Persistent, reservedKey(claimID))
	tx.Emit(emitter, "riskpool.payout", map[string]string{
		"claim_id":  strconv.FormatUint(claimID, 10),
		"recipient": recipient.Hex(),
		"amount":    amount.String(),
	})
	return nil
}

// ReleaseReservation drops a claim's earmark without paying out. Operator
// remediation for reservations stranded by off-ledger resolution.
func (p *Pool) ReleaseReservation(tx *ledger.Tx, claimID uint64) error {
	amount, ok := ledger.Get[decimal.Decimal](tx, ledger.Persistent, reservedKey(claimID))
	if !ok {
		return protocol.Errf(protocol.CodeNotFound, "no reservation for claim %d", claimID)
	}
	reserved := ledger.GetOr(tx, ledger.Persistent, totalReservedKey(), decimal.Zero)
	ledger.Set(tx, ledger.Persistent, totalReservedKey(), reserved.Sub(amount))
	tx.Delete(ledger.Persistent, reservedKey(claimID))
	return nil
}

// Balance returns the pool's total liquidity, reserved included.
func (p *Pool) Balance() decimal.Decimal {
	var balance decimal.Decimal
	_ = p.store.View(func(tx *ledger.Tx) error {
		balance = ledger.GetOr(tx, ledger.Persistent, balanceKey(), decimal.Zero)
		return nil
	})
	return balance
}

// TotalReserved returns the sum of outstanding reservations.
func (p *Pool) TotalReserved() decimal.Decimal {
	var reserved decimal.Decimal
	_ = p.store.View(func(tx *ledger.Tx) error {
		reserved = ledger.GetOr(tx, ledger.Persistent, totalReservedKey(), decimal.Zero)
		return nil
	})
	return reserved
}
