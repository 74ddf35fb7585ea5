package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"moverwatch/internal/alerting"
	"moverwatch/internal/config"
	"moverwatch/internal/market"
	"moverwatch/internal/metrics"
	"moverwatch/internal/scheduler"
	"moverwatch/internal/service"
	"moverwatch/internal/storage"
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

func (a *App) newSource() (market.Source, error) {
	fields, err := a.Config.SourceFields()
	if err != nil {
		return nil, err
	}
	src := a.Config.Source
	upstream := market.NewCoinGecko(market.CoinGeckoOptions{
		BaseURL:    src.BaseURL,
		VsCurrency: src.VsCurrency,
		PerPage:    src.PerPage,
		Pages:      src.Pages,
		Order:      src.Order,
		APIKey:     src.APIKey,
		Timeout:    src.RequestTimeout,
		UserAgent:  src.UserAgent,
		Fields:     fields,
	}, a.Logger)

	derived, err := a.Config.DerivedTimeframes()
	if err != nil {
		return nil, err
	}
	if len(derived) == 0 {
		return upstream, nil
	}
	if !src.DeriveChanges {
		return nil, fmt.Errorf("no source field for timeframes %v", derived)
	}
	a.Logger.Info().Interface("timeframes", derived).Msg("deriving changes from observed prices; these rules start after one window of polling")
	return market.NewDerivingSource(upstream, derived, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.RequestTimeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	applied, err := storage.ApplyMigrations(ctx, pool, a.Config.Database.MigrationsPath)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	a.Logger.Debug().Int("migrations", applied).Msg("database schema ensured")

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// RunOnce performs a single evaluation cycle against the live source and exits.
// With a database configured, cooldowns are restored from the audit log.
func (a *App) RunOnce(ctx context.Context) (service.CycleReport, error) {
	policy, err := a.Config.AlertPolicy()
	if err != nil {
		return service.CycleReport{}, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.CycleReport{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}

	source, err := a.newSource()
	if err != nil {
		return service.CycleReport{}, err
	}

	deps := service.Deps{
		Source:       source,
		Policy:       policy,
		Notifier:     a.newNotifier(),
		LinkTemplate: a.Config.Alerting.LinkTemplate,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
	}
	if store != nil {
		deps.AlertStore = store
	}

	return service.New(deps, a.Logger).RunOnce(ctx, time.Now().UTC())
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policy, err := a.Config.AlertPolicy()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert audit log disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	source, err := a.newSource()
	if err != nil {
		return err
	}

	recorder := metrics.New(prometheus.NewRegistry())
	if addr := a.Config.Metrics.Listen; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, recorder, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	poll := scheduler.New(scheduler.Options{
		Name:         "poll",
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Immediate:    true,
	}, a.Logger)

	var heartbeat *scheduler.Scheduler
	if a.Config.Alerting.Heartbeat {
		heartbeat = scheduler.New(scheduler.Options{
			Name:      "heartbeat",
			Interval:  a.Config.Scheduler.HeartbeatInterval,
			Immediate: true,
		}, a.Logger)
	}

	deps := service.Deps{
		Source:       source,
		Policy:       policy,
		State:        alerting.NewState(policy),
		Notifier:     a.newNotifier(),
		Recorder:     recorder,
		Poll:         poll,
		Heartbeat:    heartbeat,
		LinkTemplate: a.Config.Alerting.LinkTemplate,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
	}
	if store != nil {
		deps.AlertStore = store
	}

	svc := service.New(deps, a.Logger)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Int("rules", len(policy.Rules)).
		Str("mode", string(policy.Mode)).
		Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting alert history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	// Since restricts output to alerts fired within this window; zero means no bound.
	Since time.Duration
}

// PruneOptions configure audit log retention cleanup.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}

// SimulateOptions describe the synthetic snapshot pushed through one cycle.
type SimulateOptions struct {
	AssetID string
	Name    string
	Symbol  string
	Price   float64
	Volume  float64
	Changes map[market.Timeframe]float64
}
