/*
main.go - One-shot batch runner

PURPOSE:
  Runs a single batch job against the database and exits. Useful for
  external schedulers, backfills, and operating without the long-running
  server process. Also loads cleaned transaction CSVs produced by the
  ingestion collaborator.

USAGE:
  runner -job aggregate
  runner -job reminders
  runner -job digests
  runner -load transactions.csv

CSV FORMAT (header required):
  account_code,date,sku,quantity,revenue,distributor
  A001,2026-03-10,SKU-RED-750,12,145.80,Southern Glazers
*/
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keystone/account-pulse/config"
	"github.com/keystone/account-pulse/engine"
	"github.com/keystone/account-pulse/jobs"
	"github.com/keystone/account-pulse/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "YAML config path")
	dbPath := flag.String("db", "", "override SQLite database path")
	job := flag.String("job", "", "job to run: aggregate | reminders | digests")
	load := flag.String("load", "", "CSV file of cleaned transactions to load")
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

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()

	if *load != "" {
		n, err := loadCSV(ctx, store, *load)
		if err != nil {
			log.Fatal("load failed", zap.String("file", *load), zap.Error(err))
		}
		log.Info("transactions loaded", zap.String("file", *load), zap.Int("rows", n))
		if *job == "" {
			return
		}
	}

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
	reminders := engine.NewReminderStep(store, logNotifier{log.Named("reminder")}, clock, log.Named("reminder"))
	runner := jobs.NewRunner(aggregator, reminders, store, store,
		&jobs.LogDigestSender{Log: log.Named("digest")}, clock, log.Named("jobs"), cfg)

	var runErr error
	switch *job {
	case "aggregate":
		runErr = runner.RunAggregate(ctx)
	case "reminders":
		runErr = runner.RunReminders(ctx)
	case "digests":
		runErr = runner.RunDigests(ctx)
	case "":
		log.Fatal("nothing to do: pass -job or -load")
	default:
		log.Fatal("unknown job", zap.String("job", *job))
	}
	if runErr != nil {
		log.Fatal("job failed", zap.String("job", *job), zap.Error(runErr))
	}
}

// loadCSV streams a cleaned transaction file into the store in one batch.
func loadCSV(ctx context.Context, store *sqlite.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil { // header
		return 0, err
	}

	var txs []engine.Transaction
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		tx, err := parseRecord(rec, path)
		if err != nil {
			return 0, err
		}
		txs = append(txs, tx)
	}
	if err := store.InsertTransactions(ctx, txs); err != nil {
		return 0, err
	}
	return len(txs), nil
}

func parseRecord(rec []string, sourceFile string) (engine.Transaction, error) {
	if len(rec) < 5 {
		return engine.Transaction{}, &engine.InvalidRecordError{Field: "row", Detail: "expected at least 5 columns"}
	}
	tx := engine.Transaction{
		Account:    engine.AccountCode(rec[0]),
		SKU:        engine.SKU(rec[2]),
		SourceFile: sourceFile,
	}
	d, err := parseDate(rec[1])
	if err != nil {
		return engine.Transaction{}, &engine.InvalidRecordError{Account: tx.Account, Field: "date", Detail: err.Error()}
	}
	tx.Date = d
	if tx.Quantity, err = strconv.Atoi(rec[3]); err != nil {
		return engine.Transaction{}, &engine.InvalidRecordError{Account: tx.Account, Field: "quantity", Detail: err.Error()}
	}
	if tx.Revenue, err = decimal.NewFromString(rec[4]); err != nil {
		return engine.Transaction{}, &engine.InvalidRecordError{Account: tx.Account, Field: "revenue", Detail: err.Error()}
	}
	if len(rec) > 5 {
		tx.Distributor = rec[5]
	}
	return tx, nil
}

func parseDate(s string) (engine.Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return engine.Date{}, err
	}
	return engine.DateOf(t), nil
}

// logNotifier writes reminders to the log.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) SendReminder(_ context.Context, p *engine.AccountPrediction) error {
	n.log.Info("customer reminder",
		zap.String("account", string(p.Code)),
		zap.String("email", p.CustomerEmail))
	return nil
}
