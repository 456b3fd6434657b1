package oracle

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"insured-core/internal/auth"
	"insured-core/internal/ledger"
	"insured-core/internal/protocol"
)

// Config tunes the consensus engine. Zero fields take the defaults below.
type Config struct {
	// MaxDeviationBps is the largest tolerated deviation of any qualifying
	// submission from the median.
	MaxDeviationBps int64
	// MinSources is the consensus quorum.
	MinSources int
	// StalenessThreshold excludes submissions older than this from
	// consensus.
	StalenessThreshold time.Duration
	// AnomalyThresholdBps flags a consensus price jumping more than this
	// versus the last history point.
	AnomalyThresholdBps int64
	// HistoryMaxEntries caps the per-asset price history.
	HistoryMaxEntries int
	// QualityDecayPerMiss is subtracted from a source's reliability score
	// for every stale submission observed during a consensus round.
	QualityDecayPerMiss uint32
}

// DefaultConfig mirrors the protocol constants.
func DefaultConfig() Config {
	return Config{
		MaxDeviationBps:     500,
		MinSources:          3,
		StalenessThreshold:  5 * time.Minute,
		AnomalyThresholdBps: 2000,
		HistoryMaxEntries:   100,
		QualityDecayPerMiss: 10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxDeviationBps <= 0 {
		c.MaxDeviationBps = def.MaxDeviationBps
	}
	if c.MinSources <= 0 {
		c.MinSources = def.MinSources
	}
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = def.StalenessThreshold
	}
	if c.AnomalyThresholdBps <= 0 {
		c.AnomalyThresholdBps = def.AnomalyThresholdBps
	}
	if c.HistoryMaxEntries <= 0 {
		c.HistoryMaxEntries = def.HistoryMaxEntries
	}
	if c.QualityDecayPerMiss == 0 {
		c.QualityDecayPerMiss = def.QualityDecayPerMiss
	}
	return c
}

const initialQuality uint32 = 100

// defaultQuality applies when a source has no recorded score at decay time.
const defaultQuality uint32 = 50

const emitter = "oracle"

// Engine computes a deterministic consensus price per asset from
// authenticated source submissions: minimum-quorum median with
// deviation-bound rejection, staleness exclusion, reliability decay,
// anomaly flagging, and an admin-set fallback read path.
type Engine struct {
	store  *ledger.Store
	cfg    Config
	logger zerolog.Logger
}

// New wires an engine onto the shared ledger store.
func New(store *ledger.Store, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "oracle").Logger(),
	}
}

func sourceListKey() ledger.Key { return ledger.Key{Space: "oracle/sources"} }
func governanceKey() ledger.Key { return ledger.Key{Space: "oracle/governance"} }
func pausedKey() ledger.Key     { return ledger.Key{Space: "oracle/paused"} }

func sourcePriceKey(source common.Address, asset string) ledger.Key {
	return ledger.Key{Space: "oracle/source_price", ID: source.Hex() + "/" + asset}
}

func aggregatedKey(asset string) ledger.Key {
	return ledger.Key{Space: "oracle/aggregated", ID: asset}
}

func historyKey(asset string) ledger.Key {
	return ledger.Key{Space: "oracle/history", ID: asset}
}

func fallbackKey(asset string) ledger.Key {
	return ledger.Key{Space: "oracle/fallback", ID: asset}
}

func qualityKey(source common.Address) ledger.Key {
	return ledger.Key{Space: "oracle/quality", ID: source.Hex()}
}

func anomalyKey(asset string) ledger.Key {
	return ledger.Key{Space: "oracle/anomaly", ID: asset}
}

// Initialize records the governance address. Callable once.
func (e *Engine) Initialize(governance common.Address) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if tx.Has(ledger.Instance, governanceKey()) {
			return protocol.Errf(protocol.CodeAlreadyInitialized, "oracle already initialized")
		}
		ledger.Set(tx, ledger.Instance, governanceKey(), governance)
		ledger.Set(tx, ledger.Instance, sourceListKey(), []common.Address{})
		ledger.Set(tx, ledger.Instance, pausedKey(), false)
		return nil
	})
}

func requireGovernance(tx *ledger.Tx, caller auth.Caller) error {
	gov, ok := ledger.Get[common.Address](tx, ledger.Instance, governanceKey())
	if !ok {
		return protocol.Errf(protocol.CodeNotInitialized, "oracle not initialized")
	}
	if caller.Address != gov {
		return protocol.Errf(protocol.CodeUnauthorized, "%s is not governance", caller.Address.Hex())
	}
	return nil
}

// AddSource approves a submitter and resets its reliability score.
func (e *Engine) AddSource(caller auth.Caller, source common.Address) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := requireGovernance(tx, caller); err != nil {
			return err
		}
		list := ledger.GetOr(tx, ledger.Instance, sourceListKey(), []common.Address{})
		for _, s := range list {
			if s == source {
				return protocol.Errf(protocol.CodeAlreadyExists, "source %s already approved", source.Hex())
			}
		}
		next := make([]common.Address, 0, len(list)+1)
		next = append(next, list...)
		next = append(next, source)
		ledger.Set(tx, ledger.Instance, sourceListKey(), next)
		ledger.Set(tx, ledger.Instance, qualityKey(source), initialQuality)
		tx.Emit(emitter, "oracle.source_added", map[string]string{"source": source.Hex()})
		return nil
	})
}

// RemoveSource drops a submitter from the approved list. The reliability
// score is kept; re-adding the source resets it.
func (e *Engine) RemoveSource(caller auth.Caller, source common.Address) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := requireGovernance(tx, caller); err != nil {
			return err
		}
		list := ledger.GetOr(tx, ledger.Instance, sourceListKey(), []common.Address{})
		next := make([]common.Address, 0, len(list))
		for _, s := range list {
			if s != source {
				next = append(next, s)
			}
		}
		ledger.Set(tx, ledger.Instance, sourceListKey(), next)
		tx.Emit(emitter, "oracle.source_removed", map[string]string{"source": source.Hex()})
		return nil
	})
}

// SubmitPrice records the caller's latest price for an asset and
// immediately re-runs consensus, persisting the result when valid.
func (e *Engine) SubmitPrice(caller auth.Caller, asset string, price decimal.Decimal, confidence uint32) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if ledger.GetOr(tx, ledger.Instance, pausedKey(), false) {
			return protocol.Errf(protocol.CodePaused, "oracle is paused")
		}
		if err := requireApprovedSource(tx, caller.Address); err != nil {
			return err
		}
		if asset == "" {
			return protocol.Errf(protocol.CodeInvalidInput, "asset must not be empty")
		}
		if price.Sign() <= 0 {
			return protocol.Errf(protocol.CodeInvalidInput, "price must be positive")
		}
		if confidence > 100 {
			return protocol.Errf(protocol.CodeInvalidInput, "confidence must be 0-100")
		}

		sub := protocol.PriceSubmission{
			Source:     caller.Address,
			Price:      price,
			Timestamp:  tx.Now(),
			Confidence: confidence,
		}
		ledger.Set(tx, ledger.Temporary, sourcePriceKey(caller.Address, asset), sub)
		tx.Emit(emitter, "oracle.price_submitted", map[string]string{
			"source": caller.Address.Hex(),
			"asset":  asset,
			"price":  price.String(),
		})

		result := e.runConsensus(tx, asset)
		if result.IsValid {
			e.storeConsensus(tx, asset, result)
		}
		return nil
	})
}

// EvaluateConsensus re-runs consensus for an asset. Permissionless; the
// result is persisted when valid. An invalid result is reported, not
// returned as an error.
func (e *Engine) EvaluateConsensus(asset string) protocol.ConsensusResult {
	var result protocol.ConsensusResult
	_ = e.store.Update(func(tx *ledger.Tx) error {
		result = e.runConsensus(tx, asset)
		if result.IsValid {
			e.storeConsensus(tx, asset, result)
		}
		return nil
	})
	return result
}

// SetFallbackPrice records the governance fallback used while an asset is
// flagged anomalous or has no consensus yet.
func (e *Engine) SetFallbackPrice(caller auth.Caller, asset string, price decimal.Decimal) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := requireGovernance(tx, caller); err != nil {
			return err
		}
		if price.Sign() <= 0 {
			return protocol.Errf(protocol.CodeInvalidInput, "fallback price must be positive")
		}
		ledger.Set(tx, ledger.Persistent, fallbackKey(asset), price)
		return nil
	})
}

// GetPrice returns the last persisted consensus price, or the fallback
// while the anomaly flag is set or no consensus exists yet.
func (e *Engine) GetPrice(asset string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := e.store.View(func(tx *ledger.Tx) error {
		anomaly := ledger.GetOr(tx, ledger.Instance, anomalyKey(asset), false)
		if !anomaly {
			if p, ok := ledger.Get[decimal.Decimal](tx, ledger.Persistent, aggregatedKey(asset)); ok {
				price = p
				return nil
			}
		}
		fallback, ok := ledger.Get[decimal.Decimal](tx, ledger.Persistent, fallbackKey(asset))
		if !ok {
			return protocol.Errf(protocol.CodeNotFound, "no price available for %s and no fallback set", asset)
		}
		price = fallback
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return price, nil
}

// SourceQuality returns the reliability score for a source, 0 when unknown.
func (e *Engine) SourceQuality(source common.Address) uint32 {
	var score uint32
	_ = e.store.View(func(tx *ledger.Tx) error {
		score = ledger.GetOr(tx, ledger.Instance, qualityKey(source), uint32(0))
		return nil
	})
	return score
}

// PriceHistory returns the capped history for an asset, oldest first.
func (e *Engine) PriceHistory(asset string) []protocol.PricePoint {
	var history []protocol.PricePoint
	_ = e.store.View(func(tx *ledger.Tx) error {
		history = ledger.GetOr(tx, ledger.Persistent, historyKey(asset), []protocol.PricePoint{})
		return nil
	})
	return history
}

// IsAnomaly reports the per-asset anomaly flag.
func (e *Engine) IsAnomaly(asset string) bool {
	var flagged bool
	_ = e.store.View(func(tx *ledger.Tx) error {
		flagged = ledger.GetOr(tx, ledger.Instance, anomalyKey(asset), false)
		return nil
	})
	return flagged
}

// Sources returns the approved source list.
func (e *Engine) Sources() []common.Address {
	var list []common.Address
	_ = e.store.View(func(tx *ledger.Tx) error {
		list = ledger.GetOr(tx, ledger.Instance, sourceListKey(), []common.Address{})
		return nil
	})
	return list
}

// Pause stops price submissions. Governance only.
func (e *Engine) Pause(caller auth.Caller) error {
	return e.setPaused(caller, true)
}

// Unpause resumes price submissions. Governance only.
func (e *Engine) Unpause(caller auth.Caller) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller auth.Caller, paused bool) error {
	return e.store.Update(func(tx *ledger.Tx) error {
		if err := requireGovernance(tx, caller); err != nil {
			return err
		}
		ledger.Set(tx, ledger.Instance, pausedKey(), paused)
		return nil
	})
}

// SubmissionCount counts fresh submissions for an asset within the given
// transaction. Consumed by claim approval gating.
func (e *Engine) SubmissionCount(tx *ledger.Tx, asset string) int {
	sources := ledger.GetOr(tx, ledger.Instance, sourceListKey(), []common.Address{})
	count := 0
	for _, source := range sources {
		sub, ok := ledger.Get[protocol.PriceSubmission](tx, ledger.Temporary, sourcePriceKey(source, asset))
		if ok && tx.Now().Sub(sub.Timestamp) <= e.cfg.StalenessThreshold {
			count++
		}
	}
	return count
}

func requireApprovedSource(tx *ledger.Tx, source common.Address) error {
	list := ledger.GetOr(tx, ledger.Instance, sourceListKey(), []common.Address{})
	for _, s := range list {
		if s == source {
			return nil
		}
	}
	return protocol.Errf(protocol.CodeUnauthorized, "source %s not approved", source.Hex())
}
