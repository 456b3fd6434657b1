package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"insured-core/internal/alerting"
	"insured-core/internal/archive"
	"insured-core/internal/auth"
	"insured-core/internal/claims"
	"insured-core/internal/config"
	"insured-core/internal/ledger"
	"insured-core/internal/oracle"
	"insured-core/internal/policy"
	"insured-core/internal/riskpool"
	"insured-core/internal/scheduler"
	"insured-core/internal/service"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// Engines bundles the in-process protocol state and its entry points.
type Engines struct {
	Store    *ledger.Store
	Oracle   *oracle.Engine
	Claims   *claims.Engine
	Policies *policy.Registry
	Pool     *riskpool.Pool

	Governance auth.Caller
	Admin      auth.Caller
}

func (a *App) oracleConfig() oracle.Config {
	c := a.Config.Oracle
	return oracle.Config{
		MaxDeviationBps:     c.MaxDeviationBps,
		MinSources:          c.MinSources,
		StalenessThreshold:  c.StalenessThreshold,
		AnomalyThresholdBps: c.AnomalyThresholdBps,
		HistoryMaxEntries:   c.HistoryMaxEntries,
		QualityDecayPerMiss: c.QualityDecayPerMiss,
	}
}

// buildEngines wires the ledger, oracle, risk pool, policy registry, and
// claims engine from the chain section of the configuration.
func (a *App) buildEngines() (*Engines, error) {
	chain := a.Config.Chain
	if !common.IsHexAddress(chain.Governance) {
		return nil, fmt.Errorf("chain.governance is not a valid address: %q", chain.Governance)
	}
	if !common.IsHexAddress(chain.Admin) {
		return nil, fmt.Errorf("chain.admin is not a valid address: %q", chain.Admin)
	}

	store := ledger.NewStore(ledger.SystemClock())
	if ttl := a.Config.Oracle.SubmissionTTL; ttl > 0 {
		store.SetTemporaryTTL(ttl)
	}

	governance := auth.CallerFor(common.HexToAddress(chain.Governance))
	admin := auth.CallerFor(common.HexToAddress(chain.Admin))

	oracleEngine := oracle.New(store, a.oracleConfig(), a.Logger)
	if err := oracleEngine.Initialize(governance.Address); err != nil {
		return nil, fmt.Errorf("initialize oracle: %w", err)
	}
	for _, raw := range chain.Sources {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("chain.sources entry is not a valid address: %q", raw)
		}
		if err := oracleEngine.AddSource(governance, common.HexToAddress(raw)); err != nil {
			return nil, fmt.Errorf("add source %s: %w", raw, err)
		}
	}

	policies := policy.New(store, a.Logger)
	pool := riskpool.New(store, a.Logger)

	claimsEngine := claims.New(store, policies, pool, oracleEngine, a.Logger)
	// The policy registry and risk pool run in-process; the contract
	// addresses recorded at initialization identify them in events.
	if err := claimsEngine.Initialize(admin.Address, admin.Address, admin.Address); err != nil {
		return nil, fmt.Errorf("initialize claims: %w", err)
	}
	for _, raw := range chain.Processors {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("chain.processors entry is not a valid address: %q", raw)
		}
		if err := claimsEngine.AddProcessor(admin, common.HexToAddress(raw)); err != nil {
			return nil, fmt.Errorf("add processor %s: %w", raw, err)
		}
	}
	if a.Config.Claims.RequireOracleValidation {
		err := claimsEngine.SetOracleConfig(admin, admin.Address, true, a.Config.Claims.MinOracleSubmissions)
		if err != nil {
			return nil, fmt.Errorf("set oracle config: %w", err)
		}
	}

	return &Engines{
		Store:      store,
		Oracle:     oracleEngine,
		Claims:     claimsEngine,
		Policies:   policies,
		Pool:       pool,
		Governance: governance,
		Admin:      admin,
	}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openArchive(ctx context.Context) (*archive.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := archive.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := archive.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running consensus maintenance service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; archiving disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	engines, err := a.buildEngines()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()

	var pointStore archive.ConsensusPointStore
	var auditStore archive.ClaimAuditStore
	if store != nil {
		pointStore = store
		auditStore = store
	}

	svc := service.New(a.Config, sched, engines.Oracle, pointStore, auditStore, notifier, a.Logger)
	svc.BindClaimAudit(engines.Store)

	a.Logger.Info().
		Strs("assets", a.Config.Oracle.Assets).
		Int("sources", len(a.Config.Chain.Sources)).
		Msg("starting consensus service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("consensus service stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived consensus points.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Asset string
	Limit int
}

// ClaimsOptions configure the claims audit listing.
type ClaimsOptions struct {
	Limit int
}
