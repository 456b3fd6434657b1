package protocol

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ClaimStatus tracks a claim through its lifecycle.
type ClaimStatus uint8

const (
	ClaimSubmitted ClaimStatus = iota
	ClaimUnderReview
	ClaimApproved
	ClaimRejected
	ClaimSettled
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimSubmitted:
		return "submitted"
	case ClaimUnderReview:
		return "under_review"
	case ClaimApproved:
		return "approved"
	case ClaimRejected:
		return "rejected"
	case ClaimSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// ParseClaimStatus maps the string form back to a status.
func ParseClaimStatus(v string) (ClaimStatus, bool) {
	for _, s := range []ClaimStatus{ClaimSubmitted, ClaimUnderReview, ClaimApproved, ClaimRejected, ClaimSettled} {
		if s.String() == v {
			return s, true
		}
	}
	return 0, false
}

// claimTransitions is the single source of truth for lifecycle legality.
// Every entry point consults this table; there are no per-function status
// conditionals.
var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimSubmitted:   {ClaimUnderReview},
	ClaimUnderReview: {ClaimApproved, ClaimRejected},
	ClaimApproved:    {ClaimSettled},
}

// CanTransition reports whether from → to is a legal lifecycle edge.
func CanTransition(from, to ClaimStatus) bool {
	for _, next := range claimTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Claim is the core claims entity, keyed by a monotonically increasing id.
type Claim struct {
	ID          uint64
	PolicyID    uint64
	Claimant    common.Address
	Amount      decimal.Decimal
	Status      ClaimStatus
	SubmittedAt time.Time
}

// ClaimView is the read-only projection returned to indexers.
type ClaimView struct {
	ID          uint64
	PolicyID    uint64
	Claimant    common.Address
	Amount      decimal.Decimal
	Status      ClaimStatus
	SubmittedAt time.Time
}

// View projects a stored claim.
func (c Claim) View() ClaimView {
	return ClaimView{
		ID:          c.ID,
		PolicyID:    c.PolicyID,
		Claimant:    c.Claimant,
		Amount:      c.Amount,
		Status:      c.Status,
		SubmittedAt: c.SubmittedAt,
	}
}

// PaginatedClaimsResult carries one page plus the total list length.
type PaginatedClaimsResult struct {
	Claims     []ClaimView
	TotalCount int
}

// MaxPageSize caps pagination reads; a requested limit of 0 defaults to it.
const MaxPageSize = 50

// EffectivePageSize applies the pagination cap and zero-default rule.
func EffectivePageSize(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// OracleValidationConfig gates claim approval on oracle consensus.
type OracleValidationConfig struct {
	OracleContract          common.Address
	RequireOracleValidation bool
	MinOracleSubmissions    int
}

// Policy is the snapshot read from the policy collaborator at call time.
type Policy struct {
	Holder   common.Address
	Coverage decimal.Decimal
}
