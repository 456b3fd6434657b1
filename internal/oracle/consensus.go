package oracle

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

var (
	bpsScale = decimal.NewFromInt(10_000)
	two      = decimal.NewFromInt(2)
)

// runConsensus collects fresh submissions, penalises stale sources, and
// computes the quorum median with its deviation bound.
func (e *Engine) runConsensus(tx *ledger.Tx, asset string) protocol.ConsensusResult {
	sources := ledger.GetOr(tx, ledger.Instance, sourceListKey(), []common.Address{})
	now := tx.Now()

	prices := make([]decimal.Decimal, 0, len(sources))
	for _, source := range sources {
		sub, ok := ledger.Get[protocol.PriceSubmission](tx, ledger.Temporary, sourcePriceKey(source, asset))
		if !ok {
			continue
		}
		if now.Sub(sub.Timestamp) <= e.cfg.StalenessThreshold {
			prices = append(prices, sub.Price)
			continue
		}
		// Stale: decay the source's reliability score, floored at zero.
		score := ledger.GetOr(tx, ledger.Instance, qualityKey(source), defaultQuality)
		if score > e.cfg.QualityDecayPerMiss {
			score -= e.cfg.QualityDecayPerMiss
		} else {
			score = 0
		}
		ledger.Set(tx, ledger.Instance, qualityKey(source), score)
	}

	if len(prices) < e.cfg.MinSources {
		return protocol.ConsensusResult{
			Price:        decimal.Zero,
			SourcesUsed:  len(prices),
			DeviationBps: decimal.Zero,
			IsValid:      false,
			Timestamp:    now,
		}
	}

	sortPrices(prices)
	median := medianOf(prices)
	maxDev := maxDeviationBps(prices, median)

	if maxDev.GreaterThan(decimal.NewFromInt(e.cfg.MaxDeviationBps)) {
		e.logger.Warn().
			Str("asset", asset).
			Str("deviation_bps", maxDev.String()).
			Msg("consensus rejected: deviation above bound")
		return protocol.ConsensusResult{
			Price:        median,
			SourcesUsed:  len(prices),
			DeviationBps: maxDev,
			IsValid:      false,
			Timestamp:    now,
		}
	}

	return protocol.ConsensusResult{
		Price:        median,
		SourcesUsed:  len(prices),
		DeviationBps: maxDev,
		IsValid:      true,
		Timestamp:    now,
	}
}

// storeConsensus persists a valid result: anomaly check against the last
// history point, aggregated price, and a capped history append. An anomaly
// does not block storage; it only shifts GetPrice to the fallback.
func (e *Engine) storeConsensus(tx *ledger.Tx, asset string, result protocol.ConsensusResult) {
	anomaly := e.detectAnomaly(tx, asset, result.Price)
	ledger.Set(tx, ledger.Instance, anomalyKey(asset), anomaly)
	if anomaly {
		e.logger.Warn().Str("asset", asset).Str("price", result.Price.String()).Msg("anomaly detected")
		tx.Emit(emitter, "oracle.anomaly", map[string]string{
			"asset": asset,
			"price": result.Price.String(),
		})
	}

	ledger.Set(tx, ledger.Persistent, aggregatedKey(asset), result.Price)

	point := protocol.PricePoint{
		Price:     result.Price,
		Timestamp: result.Timestamp,
		Sources:   result.SourcesUsed,
		Anomaly:   anomaly,
	}
	history := ledger.GetOr(tx, ledger.Persistent, historyKey(asset), []protocol.PricePoint{})
	next := make([]protocol.PricePoint, 0, len(history)+1)
	if len(history) >= e.cfg.HistoryMaxEntries {
		next = append(next, history[len(history)-e.cfg.HistoryMaxEntries+1:]...)
	} else {
		next = append(next, history...)
	}
	next = append(next, point)
	ledger.Set(tx, ledger.Persistent, historyKey(asset), next)

	tx.Emit(emitter, "oracle.price_stored", map[string]string{
		"asset":         asset,
		"price":         result.Price.String(),
		"sources":       decimal.NewFromInt(int64(result.SourcesUsed)).String(),
		"deviation_bps": result.DeviationBps.String(),
	})
}

// detectAnomaly compares the new price to the latest history point.
func (e *Engine) detectAnomaly(tx *ledger.Tx, asset string, newPrice decimal.Decimal) bool {
	history := ledger.GetOr(tx, ledger.Persistent, historyKey(asset), []protocol.PricePoint{})
	if len(history) == 0 {
		return false
	}
	prev := history[len(history)-1].Price
	if prev.Sign() == 0 {
		return false
	}
	diffBps, _ := newPrice.Sub(prev).Abs().Mul(bpsScale).QuoRem(prev, 0)
	return diffBps.GreaterThan(decimal.NewFromInt(e.cfg.AnomalyThresholdBps))
}

// sortPrices orders submissions ascending, in place. Stable so equal
// prices keep submission order.
func sortPrices(prices []decimal.Decimal) {
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].LessThan(prices[j])
	})
}

// medianOf averages the two middle elements for even counts, with
// truncating integer division.
func medianOf(sorted []decimal.Decimal) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	q, _ := sorted[n/2-1].Add(sorted[n/2]).QuoRem(two, 0)
	return q
}

// maxDeviationBps returns the largest |price - median| * 10000 / median.
// Division truncates; rounding would be non-deterministic across scales.
func maxDeviationBps(sorted []decimal.Decimal, median decimal.Decimal) decimal.Decimal {
	if median.Sign() == 0 {
		return decimal.Zero
	}
	max := decimal.Zero
	for _, p := range sorted {
		d, _ := p.Sub(median).Abs().Mul(bpsScale).QuoRem(median, 0)
		if d.GreaterThan(max) {
			max = d
		}
	}
	return max
}
