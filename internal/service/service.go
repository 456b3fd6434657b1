package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"insured-core/internal/alerting"
	"insured-core/internal/archive"
	"insured-core/internal/config"
	"insured-core/internal/ledger"
	"insured-core/internal/oracle"
	"insured-core/internal/protocol"
	"insured-core/internal/scheduler"
)

// Service orchestrates periodic consensus rounds, archiving, and anomaly
// alerting for the configured assets.
type Service struct {
	scheduler *scheduler.Scheduler
	engine    *oracle.Engine
	points    archive.ConsensusPointStore
	audit     archive.ClaimAuditStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	assets   []string
	channels []string
	alertsOn bool
	locker   archive.AdvisoryLocker
	lockKey  int64

	lastAnomaly map[string]bool
}

// New constructs the consensus maintenance service.
func New(cfg *config.Config, sched *scheduler.Scheduler, engine *oracle.Engine, points archive.ConsensusPointStore, audit archive.ClaimAuditStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker archive.AdvisoryLocker
	if l, ok := points.(archive.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:   sched,
		engine:      engine,
		points:      points,
		audit:       audit,
		notifier:    notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		assets:      cfg.Oracle.Assets,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		lastAnomaly: make(map[string]bool),
	}
}

// Run begins the aligned consensus sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessRound)
}

// ProcessRound re-evaluates consensus for every configured asset. Staleness
// exclusion and quality decay advance on every round even when no new
// submissions arrive.
func (s *Service) ProcessRound(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("round", bucket).Msg("skip round because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	for _, asset := range s.assets {
		s.processAsset(ctx, asset)
	}
	return nil
}

func (s *Service) processAsset(ctx context.Context, asset string) {
	// A submission may already have stored the anomalous price, and our own
	// re-evaluation then treats it as the new baseline and clears the flag.
	// Capture the flag on both sides so that onset is not missed.
	wasAnomalous := s.engine.IsAnomaly(asset)
	result := s.engine.EvaluateConsensus(asset)
	anomaly := wasAnomalous || s.engine.IsAnomaly(asset)

	if !result.IsValid {
		s.logger.Debug().
			Str("asset", asset).
			Int("sources_used", result.SourcesUsed).
			Str("deviation_bps", result.DeviationBps.String()).
			Msg("consensus inconclusive")
	} else {
		s.logger.Info().
			Str("asset", asset).
			Str("price", result.Price.String()).
			Int("sources_used", result.SourcesUsed).
			Bool("anomaly", anomaly).
			Msg("consensus stored")

		if s.points != nil {
			point := archive.ConsensusPoint{
				Asset:        asset,
				Price:        result.Price,
				Sources:      result.SourcesUsed,
				DeviationBps: result.DeviationBps,
				Anomaly:      anomaly,
				ObservedAt:   result.Timestamp,
			}
			if err := s.points.InsertConsensusPoint(ctx, point); err != nil {
				s.logger.Error().Err(err).Str("asset", asset).Msg("failed to archive consensus point")
			}
		}
	}

	if s.alertsOn && s.notifier != nil && anomaly && !s.lastAnomaly[asset] {
		note := alerting.Notification{
			Asset:         asset,
			Price:         result.Price,
			PreviousPrice: s.previousPrice(asset),
			SourcesUsed:   result.SourcesUsed,
			ObservedAt:    result.Timestamp,
			Channels:      s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("asset", asset).Msg("failed to dispatch anomaly alert")
		}
	}
	s.lastAnomaly[asset] = anomaly
}

// previousPrice returns the second-latest history point, zero when absent.
func (s *Service) previousPrice(asset string) decimal.Decimal {
	history := s.engine.PriceHistory(asset)
	if len(history) < 2 {
		return decimal.Zero
	}
	return history[len(history)-2].Price
}

// BindClaimAudit subscribes the archive's claim audit trail to claim
// lifecycle events committed on the ledger.
func (s *Service) BindClaimAudit(store *ledger.Store) {
	if s.audit == nil {
		return
	}
	store.Subscribe(func(ev ledger.Event) {
		if !strings.HasPrefix(ev.Topic, "claims.") {
			return
		}
		row, ok := auditRowFromEvent(ev)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.audit.InsertClaimAudit(ctx, row); err != nil {
			s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to archive claim event")
		}
	})
}

func auditRowFromEvent(ev ledger.Event) (archive.ClaimAuditRow, bool) {
	claimID, err := strconv.ParseInt(ev.Attributes["claim_id"], 10, 64)
	if err != nil {
		return archive.ClaimAuditRow{}, false
	}
	policyID, err := strconv.ParseInt(ev.Attributes["policy_id"], 10, 64)
	if err != nil {
		return archive.ClaimAuditRow{}, false
	}
	amount, err := decimal.NewFromString(ev.Attributes["amount"])
	if err != nil {
		return archive.ClaimAuditRow{}, false
	}
	status := ev.Attributes["status"]
	if _, ok := protocol.ParseClaimStatus(status); !ok {
		return archive.ClaimAuditRow{}, false
	}
	return archive.ClaimAuditRow{
		EventID:    ev.ID,
		ClaimID:    claimID,
		PolicyID:   policyID,
		Claimant:   ev.Attributes["claimant"],
		Amount:     amount,
		Status:     status,
		OccurredAt: ev.Timestamp,
	}, true
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
