package archive

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConsensusPoint is one archived consensus evaluation for an asset.
type ConsensusPoint struct {
	ID           int64
	Asset        string
	Price        decimal.Decimal
	Sources      int
	DeviationBps decimal.Decimal
	Anomaly      bool
	ObservedAt   time.Time
	CreatedAt    time.Time
}

// ClaimAuditRow captures one claim lifecycle event for indexers.
type ClaimAuditRow struct {
	ID         int64
	EventID    string
	ClaimID    int64
	PolicyID   int64
	Claimant   string
	Amount     decimal.Decimal
	Status     string
	OccurredAt time.Time
	CreatedAt  time.Time
}
