package protocol

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceSubmission is one source's latest in-flight price for an asset.
// It lives in short-expiry storage and is overwritten by the source's next
// submission.
type PriceSubmission struct {
	Source     common.Address
	Price      decimal.Decimal // smallest unit, integer-valued
	Timestamp  time.Time
	Confidence uint32 // self-reported, 0–100
}

// ConsensusResult is the ephemeral output of one consensus evaluation.
// An invalid result is a reportable outcome, not an error.
type ConsensusResult struct {
	Price       decimal.Decimal
	SourcesUsed int
	// DeviationBps is the max basis-point deviation of any qualifying
	// submission from the median.
	DeviationBps decimal.Decimal
	IsValid      bool
	Timestamp    time.Time
}

// PricePoint is one persisted history entry for an asset.
type PricePoint struct {
	Price     decimal.Decimal
	Timestamp time.Time
	Sources   int
	Anomaly   bool
}
