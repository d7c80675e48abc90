/*
store.go - Persistence and outbound interfaces for the engine

PURPOSE:
  The engine is written against narrow interfaces so the same aggregation
  and reminder code runs over the in-memory store in tests and the sqlite
  store in production.

CONTRACTS:
  - TransactionSource is read-only. The engine never writes transactions.
  - PredictionStore.Put and UpdateReminder enforce optimistic locking: the
    write succeeds only when the stored Version equals expectedVersion, and
    the stored row's Version is then incremented. A mismatch returns
    ErrConcurrentUpdate wrapped with account context.
  - SnapshotStore is append-only.
  - Notifier delivery is at-least-once; the reminder state machine provides
    the idempotence guard, not the transport.
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionSource reads the consolidated transaction history.
type TransactionSource interface {
	// ListAccounts returns every account with at least one transaction.
	ListAccounts(ctx context.Context) ([]AccountInfo, error)
	// AccountTransactions returns the full history for one account,
	// ascending by date.
	AccountTransactions(ctx context.Context, code AccountCode) ([]Transaction, error)
	// SKURevenue totals revenue per SKU across all accounts for
	// transactions on or after 'since'.
	SKURevenue(ctx context.Context, since Date) (map[SKU]decimal.Decimal, error)
}

// PredictionStore holds the current-view rows.
type PredictionStore interface {
	Get(ctx context.Context, code AccountCode) (*AccountPrediction, error)
	List(ctx context.Context) ([]*AccountPrediction, error)
	ListByRep(ctx context.Context, rep RepID) ([]*AccountPrediction, error)
	// ListDueOn returns rows whose next expected purchase date equals day.
	ListDueOn(ctx context.Context, day Date) ([]*AccountPrediction, error)
	// Put replaces the whole row. expectedVersion 0 means "insert new".
	Put(ctx context.Context, pred *AccountPrediction, expectedVersion int64) error
	// UpdateReminder mutates only the reminder fields of one row.
	UpdateReminder(ctx context.Context, code AccountCode, f ReminderFields, expectedVersion int64) error
	DistinctReps(ctx context.Context) ([]RepRef, error)
}

// SnapshotStore is the append-only run archive.
type SnapshotStore interface {
	Append(ctx context.Context, snap AccountSnapshot) error
	ListByAccount(ctx context.Context, code AccountCode, limit int) ([]AccountSnapshot, error)
	ListByRun(ctx context.Context, runID string) ([]AccountSnapshot, error)
}

// HistoryStore holds the per-(account, year) revenue rollups.
type HistoryStore interface {
	Upsert(ctx context.Context, h AccountHistoricalRevenue) error
	ListYears(ctx context.Context, code AccountCode) ([]AccountHistoricalRevenue, error)
}

// RunRecord tracks one batch execution for audit and the API status
// endpoint.
type RunRecord struct {
	ID         string
	Kind       string // "aggregate" | "reminders" | "digest"
	StartedAt  time.Time
	FinishedAt *time.Time
	Processed  int
	Degraded   int
	Failed     int
	Error      string
}

// RunStore records batch executions.
type RunStore interface {
	Start(ctx context.Context, rec RunRecord) error
	Finish(ctx context.Context, rec RunRecord) error
	Latest(ctx context.Context, kind string) (*RunRecord, error)
}

// Notifier delivers customer reminders. Implementations must tolerate
// duplicate calls for the same account and cycle.
type Notifier interface {
	SendReminder(ctx context.Context, pred *AccountPrediction) error
}
