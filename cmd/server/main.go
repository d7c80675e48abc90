/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the account pulse server: SQLite store, the
  aggregation and reminder engines, the cron scheduler, and the HTTP API.

STARTUP SEQUENCE:
  1. Parse command-line flags, load YAML config
  2. Initialize SQLite store
  3. Wire the aggregator, reminder step, and job runner
  4. Start the cron scheduler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config path (default: config.yaml; missing file uses
           built-in defaults)
  -db      Override the configured SQLite path. Use ":memory:" for an
           in-memory database.
  -addr    Override the configured listen address

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and wait for running jobs
  4. Close the database

SEE ALSO:
  - api/server.go: Router configuration
  - jobs/jobs.go: Scheduled batch cycles
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/keystone/account-pulse/api"
	"github.com/keystone/account-pulse/config"
	"github.com/keystone/account-pulse/engine"
	"github.com/keystone/account-pulse/jobs"
	"github.com/keystone/account-pulse/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "YAML config path")
	dbPath := flag.String("db", "", "override SQLite database path")
	addr := flag.String("addr", "", "override listen address")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	clock := engine.SystemClock{}

	aggregator := engine.NewAggregator(store, store, store, store, clock, log.Named("aggregate"), engine.AggregatorConfig{
		TopN:                 cfg.Engine.TopN,
		ForecastWindowYears:  cfg.Engine.ForecastWindowYears,
		CoverageWindowMonths: cfg.Engine.CoverageWindowMonths,
		Workers:              cfg.Engine.Workers,
		Weights: engine.ScoreWeights{
			Recency:   cfg.Engine.Weights.Recency,
			Frequency: cfg.Engine.Weights.Frequency,
			Monetary:  cfg.Engine.Weights.Monetary,
			Pace:      cfg.Engine.Weights.Pace,
		},
	})

	digests := &jobs.LogDigestSender{Log: log.Named("digest")}
	reminders := engine.NewReminderStep(store, logNotifier{log: log.Named("reminder")}, clock, log.Named("reminder"))

	runner := jobs.NewRunner(aggregator, reminders, store, store, digests, clock, log.Named("jobs"), cfg)
	if err := runner.Start(); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer runner.Stop()

	handler := &api.Handler{
		Predictions: store,
		Snapshots:   store,
		History:     store,
		Runs:        store,
		Jobs:        runner,
		Clock:       clock,
		Log:         log.Named("api"),
		Cfg:         cfg,
	}
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}

// logNotifier writes reminders to the log. Stands in until an email
// transport is wired.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) SendReminder(_ context.Context, p *engine.AccountPrediction) error {
	n.log.Info("customer reminder",
		zap.String("account", string(p.Code)),
		zap.String("email", p.CustomerEmail))
	return nil
}
