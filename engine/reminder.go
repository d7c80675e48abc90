/*
reminder.go - The customer reminder state machine

PURPOSE:
  Runs the daily reminder lifecycle over the prediction rows:

    NULL --(due & not contacted)--> SENT --(purchase after send)--> PURCHASED

  plus the weekly cycle reset (PURCHASED/SENT -> NULL) that re-arms the
  machine when a new, later expected purchase date is computed.

RULES:
  1. A reminder is sent only from NULL. SENT and PURCHASED both suppress
     further sends, which is what makes the daily step idempotent: rerunning
     the same day finds no NULL rows left to act on.
  2. SENT -> PURCHASED requires a transaction dated strictly after the
     send timestamp's calendar day. Purchases from before the nudge do not
     count as responses.
  3. The only path back to NULL is the cycle reset, and only when the fresh
     expected date is strictly later than the one the current cycle was
     keyed to. Every other transition is rejected with ErrIllegalTransition.
  4. Writes go through the optimistic version check. On conflict the row is
     re-read and retried once; a second conflict is surfaced.

SEE ALSO:
  - aggregate.go: invokes promotion and cycle reset during the weekly run
  - digest.go: reads ActionNeeded for the rep digest
*/
package engine

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// TRANSITION VALIDATION
// =============================================================================

// ValidateTransition rejects any reminder state change outside the closed
// lifecycle. Cycle reset (anything -> NULL) is validated separately by the
// caller because it also needs the due-date comparison.
func ValidateTransition(code AccountCode, from, to ReminderState) error {
	switch {
	case from == ReminderNone && to == ReminderSent:
		return nil
	case from == ReminderSent && to == ReminderPurchased:
		return nil
	case to == ReminderNone:
		return nil
	default:
		return &TransitionError{Account: code, From: from, To: to}
	}
}

// ActionNeeded reports whether a sent reminder has gone unanswered long
// enough that the rep should follow up in person.
func ActionNeeded(p *AccountPrediction, today Date, followUpAfterDays int) bool {
	if p.ReminderState != ReminderSent || p.ReminderSentAt == nil {
		return false
	}
	return DaysBetween(DateOf(*p.ReminderSentAt), today) > followUpAfterDays
}

// =============================================================================
// PROMOTION & CYCLE RESET - Called from the aggregation cycle
// =============================================================================

// PromoteIfPurchased answers whether a SENT reminder has been responded to:
// any transaction dated after the day the reminder went out counts. Returns
// the updated fields and true when a promotion applies.
func PromoteIfPurchased(f ReminderFields, txs []Transaction) (ReminderFields, bool) {
	if f.State != ReminderSent || f.SentAt == nil {
		return f, false
	}
	sentDay := DateOf(*f.SentAt)
	for _, tx := range txs {
		if tx.Date.After(sentDay) {
			f.State = ReminderPurchased
			return f, true
		}
	}
	return f, false
}

// ResetCycleIfAdvanced re-arms the state machine when the recompute moved
// the expected purchase date strictly forward. The stored DueAt keys the
// cycle; an unchanged or earlier date keeps the current cycle live so a
// customer is not re-nudged for the same expected purchase.
func ResetCycleIfAdvanced(f ReminderFields, newDue *Date) (ReminderFields, bool) {
	if f.State == ReminderNone || newDue == nil {
		return f, false
	}
	if f.DueAt != nil && !newDue.After(*f.DueAt) {
		return f, false
	}
	return ReminderFields{State: ReminderNone}, true
}

// =============================================================================
// DAILY SEND STEP
// =============================================================================

// ReminderStep is the daily send pass. It finds accounts whose expected
// purchase date is today, sends a reminder for each that has not already
// been contacted this cycle, and marks them SENT.
type ReminderStep struct {
	predictions PredictionStore
	notifier    Notifier
	clock       Clock
	log         *zap.Logger
}

func NewReminderStep(predictions PredictionStore, notifier Notifier, clock Clock, log *zap.Logger) *ReminderStep {
	return &ReminderStep{predictions: predictions, notifier: notifier, clock: clock, log: log}
}

// StepSummary reports what one daily pass did.
type StepSummary struct {
	Due     int
	Sent    int
	Skipped int
	Failed  int
}

// Run executes one daily pass for the clock's current day. Per-account
// failures are logged and counted, never fatal to the pass.
func (s *ReminderStep) Run(ctx context.Context) (StepSummary, error) {
	today := s.clock.Today()
	due, err := s.predictions.ListDueOn(ctx, today)
	if err != nil {
		return StepSummary{}, err
	}

	sum := StepSummary{Due: len(due)}
	for _, p := range due {
		if p.ReminderState != ReminderNone {
			// Already contacted (or responded) this cycle.
			sum.Skipped++
			continue
		}
		if err := s.send(ctx, p, today); err != nil {
			sum.Failed++
			s.log.Warn("reminder send failed",
				zap.String("account", string(p.Code)),
				zap.Error(err))
			continue
		}
		sum.Sent++
	}

	s.log.Info("reminder pass complete",
		zap.String("day", today.String()),
		zap.Int("due", sum.Due),
		zap.Int("sent", sum.Sent),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// send delivers the reminder first, then records SENT. A notify failure
// leaves the row NULL so tomorrow's pass will not occur (the due date has
// passed) but a manual re-run can retry. A write conflict after a
// successful send is retried once against the fresh row.
func (s *ReminderStep) send(ctx context.Context, p *AccountPrediction, today Date) error {
	if err := ValidateTransition(p.Code, p.ReminderState, ReminderSent); err != nil {
		return err
	}
	if err := s.notifier.SendReminder(ctx, p); err != nil {
		return err
	}

	now := s.clock.Now()
	fields := ReminderFields{State: ReminderSent, SentAt: &now, DueAt: copyDate(p.NextExpectedPurchaseDate)}

	err := s.predictions.UpdateReminder(ctx, p.Code, fields, p.Version)
	if err == nil {
		return nil
	}
	if !IsRetryable(err) {
		return err
	}

	fresh, getErr := s.predictions.Get(ctx, p.Code)
	if getErr != nil {
		return getErr
	}
	if fresh.ReminderState != ReminderNone {
		// Concurrent writer already advanced the cycle; the send stands.
		return nil
	}
	return s.predictions.UpdateReminder(ctx, fresh.Code, fields, fresh.Version)
}

func copyDate(d *Date) *Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
