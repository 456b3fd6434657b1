package oracle

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

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

var governance = auth.CallerFor(addr(0xAA))

func newTestEngine(t *testing.T, cfg Config) (*Engine, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := ledger.NewStore(clock)
	engine := New(store, cfg, zerolog.Nop())
	if err := engine.Initialize(governance.Address); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine, clock
}

func approveSources(t *testing.T, engine *Engine, n int) []auth.Caller {
	t.Helper()
	callers := make([]auth.Caller, 0, n)
	for i := 0; i < n; i++ {
		source := addr(byte(i + 1))
		if err := engine.AddSource(governance, source); err != nil {
			t.Fatalf("add source %d: %v", i, err)
		}
		callers = append(callers, auth.CallerFor(source))
	}
	return callers
}

func submitAll(t *testing.T, engine *Engine, callers []auth.Caller, asset string, prices []int64) {
	t.Helper()
	for i, caller := range callers {
		if err := engine.SubmitPrice(caller, asset, decimal.NewFromInt(prices[i]), 100); err != nil {
			t.Fatalf("submit price %d: %v", i, err)
		}
	}
}

func TestInitializeOnce(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	if err := engine.Initialize(governance.Address); !errors.Is(err, protocol.ErrAlreadyInitialized) {
		t.Fatalf("expected AlreadyInitialized, got %v", err)
	}
}

func TestAddSourceAuthorization(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})

	stranger := auth.CallerFor(addr(0x99))
	if err := engine.AddSource(stranger, addr(1)); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	if err := engine.AddSource(governance, addr(1)); err != nil {
		t.Fatalf("add source: %v", err)
	}
	if err := engine.AddSource(governance, addr(1)); !errors.Is(err, protocol.ErrAlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
	if got := len(engine.Sources()); got != 1 {
		t.Fatalf("expected 1 source, got %d", got)
	}
}

func TestRemoveSourceStopsSubmissions(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	callers := approveSources(t, engine, 1)

	if err := engine.RemoveSource(governance, callers[0].Address); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	err := engine.SubmitPrice(callers[0], "USDC", decimal.NewFromInt(100), 100)
	if !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized after removal, got %v", err)
	}
}

func TestSubmitPriceValidation(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	callers := approveSources(t, engine, 1)

	cases := []struct {
		name       string
		asset      string
		price      decimal.Decimal
		confidence uint32
	}{
		{"empty asset", "", decimal.NewFromInt(100), 100},
		{"zero price", "USDC", decimal.Zero, 100},
		{"negative price", "USDC", decimal.NewFromInt(-5), 100},
		{"confidence above 100", "USDC", decimal.NewFromInt(100), 101},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.SubmitPrice(callers[0], tc.asset, tc.price, tc.confidence)
			if !errors.Is(err, protocol.ErrInvalidInput) {
				t.Fatalf("expected InvalidInput, got %v", err)
			}
		})
	}
}

func TestConsensusRequiresQuorum(t *testing.T) {
	engine, _ := newTestEngine(t, Config{MinSources: 3})
	callers := approveSources(t, engine, 3)

	submitAll(t, engine, callers[:2], "USDC", []int64{100, 101})

	result := engine.EvaluateConsensus("USDC")
	if result.IsValid {
		t.Fatal("two submissions must not reach consensus")
	}
	if result.SourcesUsed != 2 {
		t.Fatalf("expected sources_used=2, got %d", result.SourcesUsed)
	}
	if !result.Price.IsZero() {
		t.Fatalf("invalid result must carry zero price, got %s", result.Price)
	}

	if err := engine.SubmitPrice(callers[2], "USDC", decimal.NewFromInt(102), 100); err != nil {
		t.Fatalf("third submission: %v", err)
	}
	result = engine.EvaluateConsensus("USDC")
	if !result.IsValid || result.SourcesUsed != 3 {
		t.Fatalf("expected valid consensus over 3 sources, got %+v", result)
	}
}

func TestMedianOddAndEven(t *testing.T) {
	engine, _ := newTestEngine(t, Config{MaxDeviationBps: 10_000})
	callers := approveSources(t, engine, 4)

	submitAll(t, engine, callers[:3], "ODD", []int64{30, 10, 20})
	result := engine.EvaluateConsensus("ODD")
	if !result.IsValid {
		t.Fatalf("expected valid consensus: %+v", result)
	}
	if !result.Price.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("odd median should be 20, got %s", result.Price)
	}

	submitAll(t, engine, callers, "EVEN", []int64{40, 10, 30, 20})
	result = engine.EvaluateConsensus("EVEN")
	if !result.IsValid {
		t.Fatalf("expected valid consensus: %+v", result)
	}
	if !result.Price.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("even median should be 25, got %s", result.Price)
	}
}

func TestConsensusRejectsExcessiveDeviation(t *testing.T) {
	engine, _ := newTestEngine(t, Config{MaxDeviationBps: 500})
	callers := approveSources(t, engine, 3)

	submitAll(t, engine, callers, "USDC", []int64{100, 101, 500})

	result := engine.EvaluateConsensus("USDC")
	if result.IsValid {
		t.Fatal("deviation above bound must invalidate consensus")
	}
	if result.SourcesUsed != 3 {
		t.Fatalf("expected sources_used=3, got %d", result.SourcesUsed)
	}
	if !result.Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("rejected result should still report the median, got %s", result.Price)
	}
	// |500-101|*10000/101 truncates to 39504.
	if !result.DeviationBps.Equal(decimal.NewFromInt(39_504)) {
		t.Fatalf("unexpected deviation: %s", result.DeviationBps)
	}

	if _, err := engine.GetPrice("USDC"); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("rejected consensus must not persist a price, got %v", err)
	}
}

func TestStaleSubmissionsExcludedAndDecayed(t *testing.T) {
	engine, clock := newTestEngine(t, Config{StalenessThreshold: 5 * time.Minute})
	callers := approveSources(t, engine, 3)

	submitAll(t, engine, callers, "USDC", []int64{100, 100, 100})
	if got := engine.SourceQuality(callers[0].Address); got != 100 {
		t.Fatalf("fresh source should keep initial quality, got %d", got)
	}

	clock.Advance(6 * time.Minute)
	result := engine.EvaluateConsensus("USDC")
	if result.IsValid || result.SourcesUsed != 0 {
		t.Fatalf("stale submissions must not count, got %+v", result)
	}
	for i, caller := range callers {
		if got := engine.SourceQuality(caller.Address); got != 90 {
			t.Fatalf("source %d quality should decay to 90, got %d", i, got)
		}
	}

	// A fresh submission restores participation without touching the score.
	if err := engine.SubmitPrice(callers[0], "USDC", decimal.NewFromInt(100), 100); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := engine.SourceQuality(callers[0].Address); got != 90 {
		t.Fatalf("resubmitting must not change the score, got %d", got)
	}
}

func TestQualityDecayFloorsAtZero(t *testing.T) {
	engine, clock := newTestEngine(t, Config{StalenessThreshold: time.Minute, QualityDecayPerMiss: 60})
	callers := approveSources(t, engine, 3)

	submitAll(t, engine, callers, "USDC", []int64{100, 100, 100})

	clock.Advance(2 * time.Minute)
	engine.EvaluateConsensus("USDC")
	if got := engine.SourceQuality(callers[0].Address); got != 40 {
		t.Fatalf("expected 40 after first miss, got %d", got)
	}

	engine.EvaluateConsensus("USDC")
	if got := engine.SourceQuality(callers[0].Address); got != 0 {
		t.Fatalf("score must floor at zero, got %d", got)
	}
}

func TestAnomalyShiftsReadsToFallback(t *testing.T) {
	engine, clock := newTestEngine(t, Config{})
	callers := approveSources(t, engine, 3)

	submitAll(t, engine, callers, "USDC", []int64{100, 100, 100})
	price, err := engine.GetPrice("USDC")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected 100, got %s", price)
	}

	if err := engine.SetFallbackPrice(governance, "USDC", decimal.NewFromInt(99)); err != nil {
		t.Fatalf("set fallback: %v", err)
	}

	// A 30% jump is above the 2000 bps anomaly threshold.
	clock.Advance(time.Minute)
	submitAll(t, engine, callers, "USDC", []int64{130, 130, 130})

	if !engine.IsAnomaly("USDC") {
		t.Fatal("jump above threshold must set the anomaly flag")
	}
	price, err = engine.GetPrice("USDC")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("anomalous asset must serve the fallback, got %s", price)
	}

	// The anomalous price is still recorded.
	history := engine.PriceHistory("USDC")
	last := history[len(history)-1]
	if !last.Price.Equal(decimal.NewFromInt(130)) || !last.Anomaly {
		t.Fatalf("anomalous point should be stored and flagged: %+v", last)
	}
}

func TestAnomalyWithoutFallbackIsNotFound(t *testing.T) {
	engine, clock := newTestEngine(t, Config{})
	callers := approveSources(t, engine, 3)

	submitAll(t, engine, callers, "USDC", []int64{100, 100, 100})
	clock.Advance(time.Minute)
	submitAll(t, engine, callers, "USDC", []int64{130, 130, 130})

	if _, err := engine.GetPrice("USDC"); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("expected NotFound without fallback, got %v", err)
	}
}

func TestAnomalyFlagClearsOnNormalRound(t *testing.T) {
	engine, clock := newTestEngine(t, Config{})
	callers := approveSources(t, engine, 3)

	submitAll(t, engine, callers, "USDC", []int64{100, 100, 100})
	clock.Advance(time.Minute)
	submitAll(t, engine, callers, "USDC", []int64{130, 130, 130})
	if !engine.IsAnomaly("USDC") {
		t.Fatal("anomaly flag should be set")
	}

	clock.Advance(time.Minute)
	submitAll(t, engine, callers, "USDC", []int64{131, 131, 131})
	if engine.IsAnomaly("USDC") {
		t.Fatal("small move must clear the anomaly flag")
	}
	price, err := engine.GetPrice("USDC")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(131)) {
		t.Fatalf("reads should return to consensus, got %s", price)
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	engine, clock := newTestEngine(t, Config{
		HistoryMaxEntries:  3,
		StalenessThreshold: 5 * time.Minute,
	})
	callers := approveSources(t, engine, 3)

	prices := []int64{100, 101, 102, 103, 104}
	for _, p := range prices {
		submitAll(t, engine, callers, "USDC", []int64{p, p, p})
		// Let the round's submissions go stale so the next round appends
		// exactly one point.
		clock.Advance(6 * time.Minute)
	}

	history := engine.PriceHistory("USDC")
	if len(history) != 3 {
		t.Fatalf("history should be capped at 3, got %d", len(history))
	}
	if !history[0].Price.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("oldest kept point should be 102, got %s", history[0].Price)
	}
	if !history[2].Price.Equal(decimal.NewFromInt(104)) {
		t.Fatalf("latest point should be 104, got %s", history[2].Price)
	}
}

func TestPauseBlocksSubmissions(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})
	callers := approveSources(t, engine, 1)

	if err := engine.Pause(auth.CallerFor(addr(0x99))); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("non-governance pause should fail, got %v", err)
	}

	if err := engine.Pause(governance); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err := engine.SubmitPrice(callers[0], "USDC", decimal.NewFromInt(100), 100)
	if !errors.Is(err, protocol.ErrPaused) {
		t.Fatalf("expected Paused, got %v", err)
	}

	if err := engine.Unpause(governance); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := engine.SubmitPrice(callers[0], "USDC", decimal.NewFromInt(100), 100); err != nil {
		t.Fatalf("submit after unpause: %v", err)
	}
}

func TestGetPriceFallbackOnly(t *testing.T) {
	engine, _ := newTestEngine(t, Config{})

	if _, err := engine.GetPrice("USDC"); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("expected NotFound with no data at all, got %v", err)
	}

	if err := engine.SetFallbackPrice(governance, "USDC", decimal.NewFromInt(42)); err != nil {
		t.Fatalf("set fallback: %v", err)
	}
	price, err := engine.GetPrice("USDC")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("expected fallback 42, got %s", price)
	}
}
