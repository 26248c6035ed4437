// Command trader runs the risk-constrained order allocation and execution
// engine, either as a single trading session or as a long-running service
// with scheduled sessions, an HTTP API and an order-update stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/microcap/internal/clients/advisor"
	"github.com/aristath/microcap/internal/clients/alpaca"
	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/database"
	"github.com/aristath/microcap/internal/domain"
	"github.com/aristath/microcap/internal/modules/allocation"
	"github.com/aristath/microcap/internal/modules/health"
	"github.com/aristath/microcap/internal/modules/news"
	"github.com/aristath/microcap/internal/modules/portfolio"
	"github.com/aristath/microcap/internal/modules/risk"
	"github.com/aristath/microcap/internal/modules/settings"
	"github.com/aristath/microcap/internal/modules/thesis"
	"github.com/aristath/microcap/internal/modules/trading"
	"github.com/aristath/microcap/internal/modules/universe"
	"github.com/aristath/microcap/internal/modules/voting"
	"github.com/aristath/microcap/internal/reliability"
	"github.com/aristath/microcap/internal/scheduler"
	"github.com/aristath/microcap/internal/server"
	"github.com/aristath/microcap/internal/session"
	"github.com/aristath/microcap/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "trader",
		Short: "Risk-constrained order allocation and execution engine",
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one trading session and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, app *app) error {
					return app.runOnce(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Run scheduled sessions with the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, app *app) error {
					return app.serve(ctx)
				})
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the fully wired service graph.
type app struct {
	cfg      *config.Config
	settings config.Settings
	log      zerolog.Logger

	ledgerDB   *database.DB
	standardDB *database.DB

	broker *alpaca.Client
	stream *alpaca.Stream
	runner *session.Runner
	server *server.Server
	backup *reliability.BackupService
}

// withApp builds the app, runs fn under signal-aware context, then shuts down.
func withApp(fn func(context.Context, *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	sett, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return nil, err
	}

	standardDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "standard.db"),
		Profile: database.ProfileStandard,
		Name:    "state",
	})
	if err != nil {
		ledgerDB.Close()
		return nil, err
	}

	tradeRepo := trading.NewTradeRepository(ledgerDB, log)
	equityRepo := portfolio.NewEquityRepository(ledgerDB, log)
	settingsRepo := settings.NewRepository(standardDB, log)
	for _, init := range []func() error{
		tradeRepo.InitSchema, equityRepo.InitSchema, settingsRepo.InitSchema,
	} {
		if err := init(); err != nil {
			ledgerDB.Close()
			standardDB.Close()
			return nil, err
		}
	}

	broker := alpaca.NewClient(alpaca.Config{
		APIKey:    cfg.AlpacaAPIKey,
		APISecret: cfg.AlpacaAPISecret,
		BaseURL:   cfg.AlpacaBaseURL,
		DataURL:   cfg.AlpacaDataURL,
	}, log)

	advisors := buildAdvisors(cfg, sett, log)
	minVotes := sett.Vote.MinVotes
	if !sett.Vote.Enabled || len(advisors) == 1 {
		minVotes = 1
	}

	pf := portfolio.NewService(broker, log)
	universeCache := universe.NewCache(filepath.Join(cfg.DataDir, "universe.cache"), log)
	runner := session.NewRunner(session.Deps{
		Broker:    broker,
		Universe:  universe.NewBuilder(broker, sett.Universe, log),
		Cache:     universeCache,
		Validator: universe.NewValidator(sett.Risk, sett.Universe.Exchanges),
		Voter:     voting.NewVoter(advisors, minVotes, log),
		Allocator: allocation.New(sett.SpreadFill, log),
		Executor:  trading.NewExecutor(broker, tradeRepo, sett.Execution, sett.DryRun, log),
		Guard:     risk.NewGuard(broker, tradeRepo, log),
		Health:    health.NewService(broker, sett.Health, log),
		News:      news.NewService(broker, 3, log),
		Thesis:    thesis.NewStore(filepath.Join(cfg.DataDir, "thesis.txt"), log),
		Equity:    equityRepo,
		Store:     settingsRepo,
		Portfolio: pf,
	}, sett, log)

	backup, err := reliability.NewBackupService(ctx, cfg.BackupBucket, cfg.BackupRegion, cfg.DataDir, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		settings:   sett,
		log:        log,
		ledgerDB:   ledgerDB,
		standardDB: standardDB,
		broker:     broker,
		stream: alpaca.NewStream(alpaca.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaAPISecret,
			BaseURL:   cfg.AlpacaBaseURL,
			DataURL:   cfg.AlpacaDataURL,
		}, tradeRepo, log),
		runner: runner,
		server: server.New(cfg, sett, ledgerDB, tradeRepo, equityRepo, settingsRepo, pf, universeCache, runner, log),
		backup: backup,
	}, nil
}

// buildAdvisors creates one advisor client per configured model. Voting
// disabled means a single advisor (the first configured model).
func buildAdvisors(cfg *config.Config, sett config.Settings, log zerolog.Logger) []domain.Advisor {
	models := sett.Vote.Models
	if len(models) == 0 {
		models = []string{"gpt-4o"}
	}
	if !sett.Vote.Enabled {
		models = models[:1]
	}

	advisors := make([]domain.Advisor, 0, len(models))
	for _, model := range models {
		advisors = append(advisors, advisor.NewClient(advisor.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   model,
		}, log))
	}
	return advisors
}

func (a *app) close() {
	if err := a.ledgerDB.Close(); err != nil {
		a.log.Error().Err(err).Msg("Failed to close ledger database")
	}
	if err := a.standardDB.Close(); err != nil {
		a.log.Error().Err(err).Msg("Failed to close state database")
	}
}

// runOnce executes a single session and logs the outcome.
func (a *app) runOnce(ctx context.Context) error {
	result, err := a.runner.Run(ctx)
	if err != nil {
		return err
	}

	a.log.Info().
		Bool("halted", result.Halted).
		Int("orders", len(result.Orders)).
		Float64("virtual_equity", result.VirtualEquity).
		Float64("daily_change", result.DailyChange).
		Msg("Session result")
	return nil
}

// sessionJob adapts the runner to the scheduler.
type sessionJob struct {
	runner *session.Runner
}

func (j sessionJob) Name() string { return "trading_session" }

func (j sessionJob) Run(ctx context.Context) error {
	_, err := j.runner.Run(ctx)
	return err
}

// serve runs the scheduler, the order-update stream and the HTTP API until
// a shutdown signal arrives.
func (a *app) serve(ctx context.Context) error {
	sched := scheduler.New(a.log)
	if err := sched.Register(a.settings.Schedule.SessionCron, sessionJob{runner: a.runner}); err != nil {
		return fmt.Errorf("invalid session schedule: %w", err)
	}
	if a.backup.Enabled() {
		if err := sched.Register(a.settings.Schedule.BackupCron, a.backup); err != nil {
			return fmt.Errorf("invalid backup schedule: %w", err)
		}
	}

	sched.Start()
	defer sched.Stop()

	if !a.settings.DryRun {
		go a.stream.Run(ctx)
	}

	// Periodic WAL maintenance keeps the ledger file bounded
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.ledgerDB.WALCheckpoint(); err != nil {
					a.log.Warn().Err(err).Msg("WAL checkpoint failed")
				}
			}
		}
	}()

	return a.server.Start(ctx)
}
