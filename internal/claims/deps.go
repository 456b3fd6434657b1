package claims

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

// Collaborator contracts the claims engine cross-calls. Every method takes
// the claims transaction, so collaborator state advances and rolls back
// with the claim state machine as one atomic unit.

// PolicyReader exposes read-only policy snapshots.
type PolicyReader interface {
	GetPolicy(tx *ledger.Tx, policyID uint64) (protocol.Policy, error)
}

// RiskPool earmarks liquidity at approval and pays out earmarked funds at
// settlement. Reserve and payout are distinct on purpose: reserving at
// approval keeps pool accounting and the claim lifecycle in lockstep.
type RiskPool interface {
	ReserveLiquidity(tx *ledger.Tx, claimID uint64, amount decimal.Decimal) error
	PayoutReservedClaim(tx *ledger.Tx, claimID uint64, recipient common.Address) error
}

// OracleValidator reports how many fresh submissions back an oracle data
// id. Consulted when approval is oracle-gated.
type OracleValidator interface {
	SubmissionCount(tx *ledger.Tx, dataID string) int
}
