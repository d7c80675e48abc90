/*
Package jobs schedules and runs the batch cycles.

PURPOSE:
  Owns the cron wiring and the run bookkeeping around the engine's three
  entry points: the weekly aggregation, the daily reminder pass, and the
  weekly digest fan-out. Each job records a run row so the API can report
  when the data was last rebuilt and how it went.

FAILURE POLICY:
  A job failure is recorded and logged, never fatal to the process. Panics
  inside a scheduled job are recovered by the cron chain. Per-account
  failures are already absorbed inside the engine; errors surfacing here
  are systemic (store down, config broken) and apply to the whole cycle.
*/
package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keystone/account-pulse/config"
	"github.com/keystone/account-pulse/engine"
)

// DigestSender delivers one rep's assembled weekly digest.
type DigestSender interface {
	SendDigest(ctx context.Context, d engine.DigestContent) error
}

// Runner owns the scheduled jobs.
type Runner struct {
	aggregator  *engine.Aggregator
	reminders   *engine.ReminderStep
	predictions engine.PredictionStore
	runs        engine.RunStore
	digests     DigestSender
	clock       engine.Clock
	log         *zap.Logger
	cfg         config.Config
	cron        *cron.Cron
}

func NewRunner(
	aggregator *engine.Aggregator,
	reminders *engine.ReminderStep,
	predictions engine.PredictionStore,
	runs engine.RunStore,
	digests DigestSender,
	clock engine.Clock,
	log *zap.Logger,
	cfg config.Config,
) *Runner {
	return &Runner{
		aggregator:  aggregator,
		reminders:   reminders,
		predictions: predictions,
		runs:        runs,
		digests:     digests,
		clock:       clock,
		log:         log,
		cfg:         cfg,
	}
}

// Start registers the cron entries and begins the scheduler. Call Stop to
// drain.
func (r *Runner) Start() error {
	cronLog := cronLogger{r.log.Named("cron")}
	r.cron = cron.New(cron.WithChain(cron.Recover(cronLog)))

	entries := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{r.cfg.Schedules.Aggregate, "aggregate", r.RunAggregate},
		{r.cfg.Schedules.Reminders, "reminders", r.RunReminders},
		{r.cfg.Schedules.Digests, "digests", r.RunDigests},
	}
	for _, e := range entries {
		_, err := r.cron.AddFunc(e.spec, func() {
			if err := e.fn(context.Background()); err != nil {
				r.log.Error("scheduled job failed",
					zap.String("job", e.name),
					zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", e.name, e.spec, err)
		}
	}

	r.cron.Start()
	r.log.Info("scheduler started",
		zap.String("aggregate", r.cfg.Schedules.Aggregate),
		zap.String("reminders", r.cfg.Schedules.Reminders),
		zap.String("digests", r.cfg.Schedules.Digests))
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// =============================================================================
// JOB ENTRY POINTS - Also invoked directly by the API triggers
// =============================================================================

// RunAggregate executes one full aggregation cycle with run bookkeeping.
func (r *Runner) RunAggregate(ctx context.Context) error {
	rec := r.startRun(ctx, "aggregate")

	sum, err := r.aggregator.Run(ctx)
	rec.Processed = sum.Processed
	rec.Degraded = sum.Degraded
	rec.Failed = sum.Failed
	r.finishRun(ctx, rec, err)
	return err
}

// RunReminders executes one daily reminder pass with run bookkeeping.
func (r *Runner) RunReminders(ctx context.Context) error {
	rec := r.startRun(ctx, "reminders")

	sum, err := r.reminders.Run(ctx)
	rec.Processed = sum.Sent
	rec.Failed = sum.Failed
	r.finishRun(ctx, rec, err)
	return err
}

// RunDigests assembles and sends the weekly digest for every rep with
// accounts. Assembly is a pure read; a send failure for one rep does not
// stop the others.
func (r *Runner) RunDigests(ctx context.Context) error {
	rec := r.startRun(ctx, "digest")

	reps, err := r.predictions.DistinctReps(ctx)
	if err != nil {
		r.finishRun(ctx, rec, err)
		return err
	}

	weekStart := r.clock.Today()
	dcfg := engine.DigestConfig{
		FollowUpAfterDays: r.cfg.Digest.FollowUpAfterDays,
		CrossSellAccounts: r.cfg.Digest.CrossSellAccounts,
		GapsPerAccount:    r.cfg.Digest.GapsPerAccount,
		LowHealthBelow:    r.cfg.Digest.LowHealthBelow,
		Bands: engine.PaceBands{
			SeverelyBehindPct: decimal.NewFromFloat(r.cfg.Digest.SeverelyBehindPct),
			BehindPct:         decimal.NewFromFloat(r.cfg.Digest.BehindPct),
			AheadPct:          decimal.Zero,
		},
	}

	for _, rep := range reps {
		preds, err := r.predictions.ListByRep(ctx, rep.ID)
		if err != nil {
			r.log.Error("digest read failed",
				zap.String("rep", string(rep.ID)),
				zap.Error(err))
			rec.Failed++
			continue
		}
		d := engine.BuildDigest(rep, preds, weekStart, r.clock.Today(), dcfg)
		if d.Empty() {
			continue
		}
		if err := r.digests.SendDigest(ctx, d); err != nil {
			r.log.Error("digest send failed",
				zap.String("rep", string(rep.ID)),
				zap.Error(err))
			rec.Failed++
			continue
		}
		rec.Processed++
	}

	r.finishRun(ctx, rec, nil)
	return nil
}

// =============================================================================
// RUN BOOKKEEPING
// =============================================================================

func (r *Runner) startRun(ctx context.Context, kind string) engine.RunRecord {
	rec := engine.RunRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: r.clock.Now(),
	}
	if err := r.runs.Start(ctx, rec); err != nil {
		r.log.Warn("failed to record run start",
			zap.String("kind", kind),
			zap.Error(err))
	}
	return rec
}

func (r *Runner) finishRun(ctx context.Context, rec engine.RunRecord, runErr error) {
	now := r.clock.Now()
	rec.FinishedAt = &now
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := r.runs.Finish(ctx, rec); err != nil {
		r.log.Warn("failed to record run finish",
			zap.String("kind", rec.Kind),
			zap.Error(err))
	}
}

// cronLogger adapts zap to cron's logging interface.
type cronLogger struct {
	log *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Sugar().Infow(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// LogDigestSender writes digests to the log instead of email. Default
// sender until an SMTP transport is configured.
type LogDigestSender struct {
	Log *zap.Logger
}

func (s *LogDigestSender) SendDigest(_ context.Context, d engine.DigestContent) error {
	s.Log.Info("weekly digest",
		zap.String("rep", string(d.Rep.ID)),
		zap.String("week_start", d.WeekStart.String()),
		zap.Int("due_this_week", len(d.DueThisWeek)),
		zap.Int("action_needed", len(d.ActionNeeded)),
		zap.Int("cross_sell", len(d.CrossSell)),
		zap.Int("accounts", d.KPIs.Accounts),
		zap.Float64("overdue_pct", d.KPIs.OverduePct),
		zap.Int("low_health", d.KPIs.LowHealthCount))
	return nil
}
