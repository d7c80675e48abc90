/*
Package sqlite provides the SQLite-backed implementation of the engine's
persistence interfaces.

PURPOSE:
  One Store implements every interface the batch cycles need
  (engine.TransactionSource, PredictionStore, SnapshotStore, HistoryStore,
  RunStore) over a single database file. The same SQL shapes port to
  PostgreSQL with minor dialect changes.

KEY TABLES:
  transactions:     Immutable sales history, loaded by ingestion
  predictions:      One mutable current-view row per account
  snapshots:        Append-only per-run copies of prediction headlines
  account_history:  Per-(account, year) revenue rollups
  runs:             Batch execution audit records

OPTIMISTIC LOCKING:
  predictions carries a version column. Every write is
  UPDATE ... WHERE account_code = ? AND version = ? and a zero rows
  affected result maps to engine.ErrConcurrentUpdate. Inserts require
  expectedVersion 0.

STORAGE CONVENTIONS:
  - Calendar days as 'YYYY-MM-DD' TEXT, timestamps as RFC3339 TEXT
  - Money as decimal strings, never REAL
  - SKU lists and missing-product details as JSON TEXT columns

WAL MODE:
  Opened with WAL so digest and API reads do not block batch writes.

MIGRATION:
  Schema auto-migrates on New(). Use ":memory:" for tests.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/keystone/account-pulse/engine"
)

const dayFormat = "2006-01-02"

// Store implements all persistence interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Sales history (immutable once ingested)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_code TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		sku TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		revenue TEXT NOT NULL,
		distributor TEXT,
		source_file TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_code, tx_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_sku_date
		ON transactions(sku, tx_date);

	-- Account identity (from the consolidation step)
	CREATE TABLE IF NOT EXISTS accounts (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		sales_rep TEXT,
		sales_rep_name TEXT,
		distributor TEXT,
		customer_email TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_rep
		ON accounts(sales_rep);

	-- Current view, one row per account, optimistically locked
	CREATE TABLE IF NOT EXISTS predictions (
		account_code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		sales_rep TEXT,
		sales_rep_name TEXT,
		distributor TEXT,
		customer_email TEXT,
		status TEXT NOT NULL,
		last_purchase_date TEXT,
		last_purchase_amount TEXT NOT NULL,
		median_interval_days INTEGER NOT NULL,
		next_expected_date TEXT,
		avg_interval_cytd REAL,
		avg_interval_py REAL,
		account_total TEXT NOT NULL,
		purchase_frequency INTEGER NOT NULL,
		cytd_revenue TEXT NOT NULL,
		py_total_revenue TEXT NOT NULL,
		yep_revenue TEXT NOT NULL,
		pace_kind INTEGER NOT NULL,
		pace_pct TEXT NOT NULL,
		avg_order_amount_cytd TEXT NOT NULL,
		target_yep_plus_1pct TEXT NOT NULL,
		additional_revenue_needed TEXT NOT NULL,
		suggested_next_order TEXT NOT NULL,
		health_score REAL NOT NULL,
		health_category TEXT NOT NULL,
		recency_score INTEGER NOT NULL,
		frequency_score INTEGER NOT NULL,
		monetary_score INTEGER NOT NULL,
		rfm_segment TEXT NOT NULL,
		coverage_pct REAL NOT NULL,
		carried_json TEXT NOT NULL,
		missing_json TEXT NOT NULL,
		reminder_state TEXT,
		reminder_sent_at TEXT,
		reminder_due_at TEXT,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_rep
		ON predictions(sales_rep);
	-- Daily send pass scans by due date (hot path)
	CREATE INDEX IF NOT EXISTS idx_predictions_next_expected
		ON predictions(next_expected_date)
		WHERE next_expected_date IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_predictions_reminder_state
		ON predictions(reminder_state)
		WHERE reminder_state IS NOT NULL;

	-- Append-only per-run archive
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		account_code TEXT NOT NULL,
		captured_at TEXT NOT NULL,
		status TEXT NOT NULL,
		health_score REAL NOT NULL,
		cytd_revenue TEXT NOT NULL,
		yep_revenue TEXT NOT NULL,
		pace_kind INTEGER NOT NULL,
		pace_pct TEXT NOT NULL,
		coverage_pct REAL NOT NULL,
		rfm_segment TEXT NOT NULL,
		next_expected_date TEXT,
		reminder_state TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_account
		ON snapshots(account_code, captured_at DESC);
	CREATE INDEX IF NOT EXISTS idx_snapshots_run
		ON snapshots(run_id);

	-- Per-(account, year) rollups
	CREATE TABLE IF NOT EXISTS account_history (
		account_code TEXT NOT NULL,
		year INTEGER NOT NULL,
		total_revenue TEXT NOT NULL,
		transaction_count INTEGER NOT NULL,
		unique_skus_json TEXT NOT NULL,
		avg_order_value TEXT NOT NULL,
		PRIMARY KEY (account_code, year)
	);

	-- Batch execution audit
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		processed INTEGER DEFAULT 0,
		degraded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind
		ON runs(kind, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION SOURCE (engine.TransactionSource interface)
// =============================================================================

// UpsertAccount stores the consolidated identity attributes for one
// account. Called by ingestion, not the engine.
func (s *Store) UpsertAccount(ctx context.Context, info engine.AccountInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (code, name, address, sales_rep, sales_rep_name, distributor, customer_email)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			sales_rep = excluded.sales_rep,
			sales_rep_name = excluded.sales_rep_name,
			distributor = excluded.distributor,
			customer_email = excluded.customer_email
	`, info.Code, info.Name, info.Address, info.SalesRep, info.SalesRepName, info.Distributor, info.CustomerEmail)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// InsertTransactions loads a batch of cleaned sales lines atomically.
// Called by ingestion, not the engine.
func (s *Store) InsertTransactions(ctx context.Context, txs []engine.Transaction) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.PrepareContext(ctx, `
		INSERT INTO transactions (account_code, tx_date, sku, quantity, revenue, distributor, source_file, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, tx := range txs {
		if tx.Account == "" || tx.Date.IsZero() {
			return &engine.InvalidRecordError{Account: tx.Account, Field: "date", Detail: "missing account or date"}
		}
		if _, err := stmt.ExecContext(ctx,
			tx.Account,
			tx.Date.String(),
			tx.SKU,
			tx.Quantity,
			tx.Revenue.String(),
			tx.Distributor,
			tx.SourceFile,
			now,
		); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
	}
	return sqlTx.Commit()
}

// ListAccounts returns every account with at least one transaction.
// Accounts present only in the transactions table get a minimal identity.
func (s *Store) ListAccounts(ctx context.Context) ([]engine.AccountInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.account_code,
		       COALESCE(a.name, t.account_code),
		       COALESCE(a.address, ''),
		       COALESCE(a.sales_rep, ''),
		       COALESCE(a.sales_rep_name, ''),
		       COALESCE(a.distributor, ''),
		       COALESCE(a.customer_email, '')
		FROM (SELECT DISTINCT account_code FROM transactions) t
		LEFT JOIN accounts a ON a.code = t.account_code
		ORDER BY t.account_code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []engine.AccountInfo
	for rows.Next() {
		var info engine.AccountInfo
		if err := rows.Scan(&info.Code, &info.Name, &info.Address, &info.SalesRep, &info.SalesRepName, &info.Distributor, &info.CustomerEmail); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// AccountTransactions returns the full history for one account, ascending
// by date.
func (s *Store) AccountTransactions(ctx context.Context, code engine.AccountCode) ([]engine.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_code, tx_date, sku, quantity, revenue, COALESCE(distributor, ''), COALESCE(source_file, '')
		FROM transactions
		WHERE account_code = ?
		ORDER BY tx_date ASC, id ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []engine.Transaction
	for rows.Next() {
		var tx engine.Transaction
		var day, revenue string
		if err := rows.Scan(&tx.Account, &day, &tx.SKU, &tx.Quantity, &revenue, &tx.Distributor, &tx.SourceFile); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Date, err = parseDay(day); err != nil {
			return nil, err
		}
		if tx.Revenue, err = decimal.NewFromString(revenue); err != nil {
			return nil, fmt.Errorf("bad revenue for %s: %w", tx.Account, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// SKURevenue totals revenue per SKU for transactions on or after since.
func (s *Store) SKURevenue(ctx context.Context, since engine.Date) (map[engine.SKU]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, revenue FROM transactions WHERE tx_date >= ?
	`, since.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query sku revenue: %w", err)
	}
	defer rows.Close()

	// Sum in decimal, not SQL: revenue is stored as text on purpose.
	out := make(map[engine.SKU]decimal.Decimal)
	for rows.Next() {
		var sku engine.SKU
		var revenue string
		if err := rows.Scan(&sku, &revenue); err != nil {
			return nil, fmt.Errorf("failed to scan sku revenue: %w", err)
		}
		d, err := decimal.NewFromString(revenue)
		if err != nil {
			return nil, fmt.Errorf("bad revenue for sku %s: %w", sku, err)
		}
		out[sku] = out[sku].Add(d)
	}
	return out, rows.Err()
}

// =============================================================================
// PREDICTION STORE (engine.PredictionStore interface)
// =============================================================================

const predictionColumns = `
	account_code, name, address, sales_rep, sales_rep_name, distributor, customer_email,
	status, last_purchase_date, last_purchase_amount, median_interval_days, next_expected_date,
	avg_interval_cytd, avg_interval_py, account_total, purchase_frequency,
	cytd_revenue, py_total_revenue, yep_revenue, pace_kind, pace_pct, avg_order_amount_cytd,
	target_yep_plus_1pct, additional_revenue_needed, suggested_next_order,
	health_score, health_category, recency_score, frequency_score, monetary_score, rfm_segment,
	coverage_pct, carried_json, missing_json,
	reminder_state, reminder_sent_at, reminder_due_at, version, updated_at`

func (s *Store) Get(ctx context.Context, code engine.AccountCode) (*engine.AccountPrediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE account_code = ?`, code)
	pred, err := scanPrediction(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrAccountNotFound
	}
	return pred, err
}

func (s *Store) List(ctx context.Context) ([]*engine.AccountPrediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+predictionColumns+` FROM predictions ORDER BY account_code`)
}

func (s *Store) ListByRep(ctx context.Context, rep engine.RepID) ([]*engine.AccountPrediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE sales_rep = ? ORDER BY account_code`, rep)
}

func (s *Store) ListDueOn(ctx context.Context, day engine.Date) ([]*engine.AccountPrediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE next_expected_date = ? ORDER BY account_code`, day.String())
}

// Put replaces the whole row. expectedVersion 0 inserts; any other value
// must match the stored version or the write is rejected.
func (s *Store) Put(ctx context.Context, pred *engine.AccountPrediction, expectedVersion int64) error {
	carried, missing, err := marshalCoverage(pred)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		args := append([]any{pred.Code}, setArgs(pred, carried, missing)...)
		args = append(args, int64(1), pred.UpdatedAt.UTC().Format(time.RFC3339))
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO predictions (`+strings.TrimSpace(predictionColumns)+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("account %s: %w", pred.Code, engine.ErrConcurrentUpdate)
			}
			return fmt.Errorf("failed to insert prediction: %w", err)
		}
		pred.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET
			name = ?, address = ?, sales_rep = ?, sales_rep_name = ?, distributor = ?, customer_email = ?,
			status = ?, last_purchase_date = ?, last_purchase_amount = ?, median_interval_days = ?, next_expected_date = ?,
			avg_interval_cytd = ?, avg_interval_py = ?, account_total = ?, purchase_frequency = ?,
			cytd_revenue = ?, py_total_revenue = ?, yep_revenue = ?, pace_kind = ?, pace_pct = ?, avg_order_amount_cytd = ?,
			target_yep_plus_1pct = ?, additional_revenue_needed = ?, suggested_next_order = ?,
			health_score = ?, health_category = ?, recency_score = ?, frequency_score = ?, monetary_score = ?, rfm_segment = ?,
			coverage_pct = ?, carried_json = ?, missing_json = ?,
			reminder_state = ?, reminder_sent_at = ?, reminder_due_at = ?,
			version = version + 1, updated_at = ?
		WHERE account_code = ? AND version = ?
	`, append(append(setArgs(pred, carried, missing), pred.UpdatedAt.UTC().Format(time.RFC3339)), pred.Code, expectedVersion)...)
	if err != nil {
		return fmt.Errorf("failed to update prediction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", pred.Code, engine.ErrConcurrentUpdate)
	}
	pred.Version = expectedVersion + 1
	return nil
}

// UpdateReminder mutates only the reminder fields.
func (s *Store) UpdateReminder(ctx context.Context, code engine.AccountCode, f engine.ReminderFields, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET
			reminder_state = ?, reminder_sent_at = ?, reminder_due_at = ?,
			version = version + 1, updated_at = ?
		WHERE account_code = ? AND version = ?
	`,
		nullReminderState(f.State),
		nullTime(f.SentAt),
		nullDay(f.DueAt),
		time.Now().UTC().Format(time.RFC3339),
		code, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a version conflict.
		var exists int
		if scanErr := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM predictions WHERE account_code = ?", code).Scan(&exists); scanErr == nil && exists == 0 {
			return engine.ErrAccountNotFound
		}
		return fmt.Errorf("account %s: %w", code, engine.ErrConcurrentUpdate)
	}
	return nil
}

func (s *Store) DistinctReps(ctx context.Context) ([]engine.RepRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT sales_rep, COALESCE(sales_rep_name, '')
		FROM predictions
		WHERE sales_rep IS NOT NULL AND sales_rep != ''
		ORDER BY sales_rep
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reps: %w", err)
	}
	defer rows.Close()

	var out []engine.RepRef
	for rows.Next() {
		var r engine.RepRef
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan rep: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) queryPredictions(ctx context.Context, query string, args ...any) ([]*engine.AccountPrediction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []*engine.AccountPrediction
	for rows.Next() {
		pred, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pred)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row rowScanner) (*engine.AccountPrediction, error) {
	var p engine.AccountPrediction
	var (
		lastPurchase, nextExpected, reminderState, reminderSentAt, reminderDueAt sql.NullString
		avgCYTD, avgPY                                                           sql.NullFloat64
		lastAmount, total, cytd, py, yep, pacePct, avgOrder                      string
		target, needed, suggested                                                string
		paceKind                                                                 int
		carried, missing, updatedAt                                              string
	)
	err := row.Scan(
		&p.Code, &p.Name, &p.Address, &p.SalesRep, &p.SalesRepName, &p.Distributor, &p.CustomerEmail,
		&p.Status, &lastPurchase, &lastAmount, &p.MedianIntervalDays, &nextExpected,
		&avgCYTD, &avgPY, &total, &p.PurchaseFrequency,
		&cytd, &py, &yep, &paceKind, &pacePct, &avgOrder,
		&target, &needed, &suggested,
		&p.HealthScore, &p.HealthCategory, &p.RecencyScore, &p.FrequencyScore, &p.MonetaryScore, &p.RFMSegment,
		&p.ProductCoveragePct, &carried, &missing,
		&reminderState, &reminderSentAt, &reminderDueAt, &p.Version, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan prediction: %w", err)
	}

	if p.LastPurchaseDate, err = parseNullDay(lastPurchase); err != nil {
		return nil, err
	}
	if p.NextExpectedPurchaseDate, err = parseNullDay(nextExpected); err != nil {
		return nil, err
	}
	if p.ReminderDueAt, err = parseNullDay(reminderDueAt); err != nil {
		return nil, err
	}
	if avgCYTD.Valid {
		p.AvgIntervalCYTD = &avgCYTD.Float64
	}
	if avgPY.Valid {
		p.AvgIntervalPY = &avgPY.Float64
	}
	if reminderState.Valid {
		p.ReminderState = engine.ReminderState(reminderState.String)
	}
	if reminderSentAt.Valid {
		t, err := time.Parse(time.RFC3339, reminderSentAt.String)
		if err != nil {
			return nil, fmt.Errorf("bad reminder_sent_at for %s: %w", p.Code, err)
		}
		p.ReminderSentAt = &t
	}

	decs := map[*decimal.Decimal]string{
		&p.LastPurchaseAmount: lastAmount, &p.AccountTotal: total,
		&p.CYTDRevenue: cytd, &p.PYTotalRevenue: py, &p.YEPRevenue: yep,
		&p.AvgOrderAmountCYTD: avgOrder, &p.TargetYEPPlus1Pct: target,
		&p.AdditionalRevenueNeeded: needed, &p.SuggestedNextOrderAmount: suggested,
	}
	for dst, raw := range decs {
		if *dst, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("bad decimal for %s: %w", p.Code, err)
		}
	}
	pct, err := decimal.NewFromString(pacePct)
	if err != nil {
		return nil, fmt.Errorf("bad pace_pct for %s: %w", p.Code, err)
	}
	p.PaceVsLY = engine.Pace{Kind: engine.PaceKind(paceKind), Pct: pct}

	if err := json.Unmarshal([]byte(carried), &p.CarriedTopProducts); err != nil {
		return nil, fmt.Errorf("bad carried_json for %s: %w", p.Code, err)
	}
	if err := json.Unmarshal([]byte(missing), &p.MissingTopProducts); err != nil {
		return nil, fmt.Errorf("bad missing_json for %s: %w", p.Code, err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at for %s: %w", p.Code, err)
	}
	return &p, nil
}

func marshalCoverage(pred *engine.AccountPrediction) (string, string, error) {
	carried := pred.CarriedTopProducts
	if carried == nil {
		carried = []engine.SKU{}
	}
	missing := pred.MissingTopProducts
	if missing == nil {
		missing = []engine.MissingProduct{}
	}
	carriedJSON, err := json.Marshal(carried)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal carried products: %w", err)
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal missing products: %w", err)
	}
	return string(carriedJSON), string(missingJSON), nil
}

// setArgs lists the values for columns name through reminder_due_at, in
// predictionColumns order. Callers append version and updated_at as their
// statement needs.
func setArgs(p *engine.AccountPrediction, carried, missing string) []any {
	return []any{
		p.Name, p.Address, p.SalesRep, p.SalesRepName, p.Distributor, p.CustomerEmail,
		p.Status, nullDay(p.LastPurchaseDate), p.LastPurchaseAmount.String(), p.MedianIntervalDays, nullDay(p.NextExpectedPurchaseDate),
		nullFloat(p.AvgIntervalCYTD), nullFloat(p.AvgIntervalPY), p.AccountTotal.String(), p.PurchaseFrequency,
		p.CYTDRevenue.String(), p.PYTotalRevenue.String(), p.YEPRevenue.String(), int(p.PaceVsLY.Kind), p.PaceVsLY.Pct.String(), p.AvgOrderAmountCYTD.String(),
		p.TargetYEPPlus1Pct.String(), p.AdditionalRevenueNeeded.String(), p.SuggestedNextOrderAmount.String(),
		p.HealthScore, p.HealthCategory, p.RecencyScore, p.FrequencyScore, p.MonetaryScore, p.RFMSegment,
		p.ProductCoveragePct, carried, missing,
		nullReminderState(p.ReminderState), nullTime(p.ReminderSentAt), nullDay(p.ReminderDueAt),
	}
}

// =============================================================================
// SNAPSHOT STORE (engine.SnapshotStore interface)
// =============================================================================

func (s *Store) Append(ctx context.Context, snap engine.AccountSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots
		(id, run_id, account_code, captured_at, status, health_score, cytd_revenue, yep_revenue,
		 pace_kind, pace_pct, coverage_pct, rfm_segment, next_expected_date, reminder_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ID, snap.RunID, snap.Code,
		snap.CapturedAt.UTC().Format(time.RFC3339),
		snap.Status, snap.HealthScore,
		snap.CYTDRevenue.String(), snap.YEPRevenue.String(),
		int(snap.PaceVsLY.Kind), snap.PaceVsLY.Pct.String(),
		snap.ProductCoveragePct, snap.RFMSegment,
		nullDay(snap.NextExpectedPurchaseDate),
		nullReminderState(snap.ReminderState),
	)
	if err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

func (s *Store) ListByAccount(ctx context.Context, code engine.AccountCode, limit int) ([]engine.AccountSnapshot, error) {
	query := `
		SELECT id, run_id, account_code, captured_at, status, health_score, cytd_revenue, yep_revenue,
		       pace_kind, pace_pct, coverage_pct, rfm_segment, next_expected_date, reminder_state
		FROM snapshots
		WHERE account_code = ?
		ORDER BY captured_at DESC
	`
	args := []any{code}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.querySnapshots(ctx, query, args...)
}

func (s *Store) ListByRun(ctx context.Context, runID string) ([]engine.AccountSnapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT id, run_id, account_code, captured_at, status, health_score, cytd_revenue, yep_revenue,
		       pace_kind, pace_pct, coverage_pct, rfm_segment, next_expected_date, reminder_state
		FROM snapshots
		WHERE run_id = ?
		ORDER BY account_code
	`, runID)
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]engine.AccountSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []engine.AccountSnapshot
	for rows.Next() {
		var snap engine.AccountSnapshot
		var capturedAt, cytd, yep, pacePct string
		var paceKind int
		var nextExpected, reminderState sql.NullString
		if err := rows.Scan(&snap.ID, &snap.RunID, &snap.Code, &capturedAt, &snap.Status, &snap.HealthScore,
			&cytd, &yep, &paceKind, &pacePct, &snap.ProductCoveragePct, &snap.RFMSegment,
			&nextExpected, &reminderState); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if snap.CapturedAt, err = time.Parse(time.RFC3339, capturedAt); err != nil {
			return nil, fmt.Errorf("bad captured_at: %w", err)
		}
		if snap.CYTDRevenue, err = decimal.NewFromString(cytd); err != nil {
			return nil, fmt.Errorf("bad cytd_revenue: %w", err)
		}
		if snap.YEPRevenue, err = decimal.NewFromString(yep); err != nil {
			return nil, fmt.Errorf("bad yep_revenue: %w", err)
		}
		pct, err := decimal.NewFromString(pacePct)
		if err != nil {
			return nil, fmt.Errorf("bad pace_pct: %w", err)
		}
		snap.PaceVsLY = engine.Pace{Kind: engine.PaceKind(paceKind), Pct: pct}
		if snap.NextExpectedPurchaseDate, err = parseNullDay(nextExpected); err != nil {
			return nil, err
		}
		if reminderState.Valid {
			snap.ReminderState = engine.ReminderState(reminderState.String)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// =============================================================================
// HISTORY STORE (engine.HistoryStore interface)
// =============================================================================

func (s *Store) Upsert(ctx context.Context, h engine.AccountHistoricalRevenue) error {
	skus := h.UniqueSKUs
	if skus == nil {
		skus = []engine.SKU{}
	}
	skusJSON, err := json.Marshal(skus)
	if err != nil {
		return fmt.Errorf("failed to marshal skus: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO account_history (account_code, year, total_revenue, transaction_count, unique_skus_json, avg_order_value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_code, year) DO UPDATE SET
			total_revenue = excluded.total_revenue,
			transaction_count = excluded.transaction_count,
			unique_skus_json = excluded.unique_skus_json,
			avg_order_value = excluded.avg_order_value
	`, h.Code, h.Year, h.TotalRevenue.String(), h.TransactionCount, string(skusJSON), h.AvgOrderValue.String())
	if err != nil {
		return fmt.Errorf("failed to upsert history: %w", err)
	}
	return nil
}

func (s *Store) ListYears(ctx context.Context, code engine.AccountCode) ([]engine.AccountHistoricalRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_code, year, total_revenue, transaction_count, unique_skus_json, avg_order_value
		FROM account_history
		WHERE account_code = ?
		ORDER BY year ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []engine.AccountHistoricalRevenue
	for rows.Next() {
		var h engine.AccountHistoricalRevenue
		var total, skusJSON, avg string
		if err := rows.Scan(&h.Code, &h.Year, &total, &h.TransactionCount, &skusJSON, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if h.TotalRevenue, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("bad total_revenue: %w", err)
		}
		if h.AvgOrderValue, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("bad avg_order_value: %w", err)
		}
		if err := json.Unmarshal([]byte(skusJSON), &h.UniqueSKUs); err != nil {
			return nil, fmt.Errorf("bad unique_skus_json: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// RUN STORE (engine.RunStore interface)
// =============================================================================

func (s *Store) Start(ctx context.Context, rec engine.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, started_at, processed, degraded, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Kind, rec.StartedAt.UTC().Format(time.RFC3339), rec.Processed, rec.Degraded, rec.Failed, rec.Error)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

func (s *Store) Finish(ctx context.Context, rec engine.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, processed = ?, degraded = ?, failed = ?, error = ?
		WHERE id = ?
	`, nullTime(rec.FinishedAt), rec.Processed, rec.Degraded, rec.Failed, rec.Error, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, kind string) (*engine.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, started_at, finished_at, processed, degraded, failed, COALESCE(error, '')
		FROM runs
		WHERE kind = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, kind)

	var rec engine.RunRecord
	var started string
	var finished sql.NullString
	err := row.Scan(&rec.ID, &rec.Kind, &started, &finished, &rec.Processed, &rec.Degraded, &rec.Failed, &rec.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
		return nil, fmt.Errorf("bad started_at: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339, finished.String)
		if err != nil {
			return nil, fmt.Errorf("bad finished_at: %w", err)
		}
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDay(s string) (engine.Date, error) {
	t, err := time.Parse(dayFormat, s)
	if err != nil {
		return engine.Date{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return engine.DateOf(t), nil
}

func parseNullDay(ns sql.NullString) (*engine.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := parseDay(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDay(d *engine.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullReminderState(st engine.ReminderState) any {
	if st == engine.ReminderNone {
		return nil
	}
	return string(st)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
