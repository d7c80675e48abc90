// Package store provides in-memory implementations of the engine's
// persistence interfaces, for tests and local development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keystone/account-pulse/engine"
)

// =============================================================================
// MEMORY TRANSACTION SOURCE
// =============================================================================

// MemorySource is an in-memory TransactionSource. Transactions are stored
// ascending by date per account.
type MemorySource struct {
	mu       sync.RWMutex
	accounts map[engine.AccountCode]engine.AccountInfo
	txs      map[engine.AccountCode][]engine.Transaction
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		accounts: make(map[engine.AccountCode]engine.AccountInfo),
		txs:      make(map[engine.AccountCode][]engine.Transaction),
	}
}

// AddAccount registers or replaces an account's identity attributes.
func (m *MemorySource) AddAccount(info engine.AccountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[info.Code] = info
}

// AddTransactions appends transactions, keeping per-account date order.
// Accounts appearing only in transactions get a minimal identity row.
func (m *MemorySource) AddTransactions(txs ...engine.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		list := m.txs[tx.Account]
		i := sort.Search(len(list), func(i int) bool {
			return list[i].Date.After(tx.Date)
		})
		list = append(list, engine.Transaction{})
		copy(list[i+1:], list[i:])
		list[i] = tx
		m.txs[tx.Account] = list

		if _, ok := m.accounts[tx.Account]; !ok {
			m.accounts[tx.Account] = engine.AccountInfo{Code: tx.Account, Name: string(tx.Account)}
		}
	}
}

func (m *MemorySource) ListAccounts(_ context.Context) ([]engine.AccountInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.AccountInfo, 0, len(m.accounts))
	for code, info := range m.accounts {
		if len(m.txs[code]) == 0 {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemorySource) AccountTransactions(_ context.Context, code engine.AccountCode) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.Transaction, len(m.txs[code]))
	copy(result, m.txs[code])
	return result, nil
}

func (m *MemorySource) SKURevenue(_ context.Context, since engine.Date) (map[engine.SKU]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[engine.SKU]decimal.Decimal)
	for _, list := range m.txs {
		for _, tx := range list {
			if tx.Date.AfterOrEqual(since) {
				out[tx.SKU] = out[tx.SKU].Add(tx.Revenue)
			}
		}
	}
	return out, nil
}

// =============================================================================
// MEMORY PREDICTION STORE
// =============================================================================

type MemoryPredictions struct {
	mu   sync.RWMutex
	rows map[engine.AccountCode]*engine.AccountPrediction
}

func NewMemoryPredictions() *MemoryPredictions {
	return &MemoryPredictions{rows: make(map[engine.AccountCode]*engine.AccountPrediction)}
}

func (m *MemoryPredictions) Get(_ context.Context, code engine.AccountCode) (*engine.AccountPrediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[code]
	if !ok {
		return nil, engine.ErrAccountNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *MemoryPredictions) List(_ context.Context) ([]*engine.AccountPrediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(*engine.AccountPrediction) bool { return true }), nil
}

func (m *MemoryPredictions) ListByRep(_ context.Context, rep engine.RepID) ([]*engine.AccountPrediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(p *engine.AccountPrediction) bool { return p.SalesRep == rep }), nil
}

func (m *MemoryPredictions) ListDueOn(_ context.Context, day engine.Date) ([]*engine.AccountPrediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(p *engine.AccountPrediction) bool {
		return p.NextExpectedPurchaseDate != nil && p.NextExpectedPurchaseDate.Equal(day)
	}), nil
}

// collect copies matching rows, sorted by code. Callers hold the lock.
func (m *MemoryPredictions) collect(match func(*engine.AccountPrediction) bool) []*engine.AccountPrediction {
	var out []*engine.AccountPrediction
	for _, row := range m.rows {
		if match(row) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *MemoryPredictions) Put(_ context.Context, pred *engine.AccountPrediction, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[pred.Code]
	switch {
	case !ok && expectedVersion != 0:
		return engine.ErrConcurrentUpdate
	case ok && current.Version != expectedVersion:
		return engine.ErrConcurrentUpdate
	}
	cp := *pred
	cp.Version = expectedVersion + 1
	m.rows[pred.Code] = &cp
	pred.Version = cp.Version
	return nil
}

func (m *MemoryPredictions) UpdateReminder(_ context.Context, code engine.AccountCode, f engine.ReminderFields, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[code]
	if !ok {
		return engine.ErrAccountNotFound
	}
	if row.Version != expectedVersion {
		return engine.ErrConcurrentUpdate
	}
	row.SetReminder(f)
	row.Version++
	return nil
}

func (m *MemoryPredictions) DistinctReps(_ context.Context) ([]engine.RepRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[engine.RepID]string)
	for _, row := range m.rows {
		if row.SalesRep != "" {
			seen[row.SalesRep] = row.SalesRepName
		}
	}
	out := make([]engine.RepRef, 0, len(seen))
	for id, name := range seen {
		out = append(out, engine.RepRef{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// MEMORY SNAPSHOT STORE - Append-only
// =============================================================================

type MemorySnapshots struct {
	mu    sync.RWMutex
	snaps []engine.AccountSnapshot
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{}
}

func (m *MemorySnapshots) Append(_ context.Context, snap engine.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *MemorySnapshots) ListByAccount(_ context.Context, code engine.AccountCode, limit int) ([]engine.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.AccountSnapshot
	for i := len(m.snaps) - 1; i >= 0; i-- {
		if m.snaps[i].Code == code {
			out = append(out, m.snaps[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemorySnapshots) ListByRun(_ context.Context, runID string) ([]engine.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.AccountSnapshot
	for _, s := range m.snaps {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

// =============================================================================
// MEMORY HISTORY STORE
// =============================================================================

type MemoryHistory struct {
	mu   sync.RWMutex
	rows map[engine.AccountCode]map[int]engine.AccountHistoricalRevenue
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{rows: make(map[engine.AccountCode]map[int]engine.AccountHistoricalRevenue)}
}

func (m *MemoryHistory) Upsert(_ context.Context, h engine.AccountHistoricalRevenue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byYear, ok := m.rows[h.Code]
	if !ok {
		byYear = make(map[int]engine.AccountHistoricalRevenue)
		m.rows[h.Code] = byYear
	}
	byYear[h.Year] = h
	return nil
}

func (m *MemoryHistory) ListYears(_ context.Context, code engine.AccountCode) ([]engine.AccountHistoricalRevenue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.AccountHistoricalRevenue
	for _, h := range m.rows[code] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

// =============================================================================
// MEMORY RUN STORE
// =============================================================================

type MemoryRuns struct {
	mu   sync.RWMutex
	runs map[string]engine.RunRecord
}

func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{runs: make(map[string]engine.RunRecord)}
}

func (m *MemoryRuns) Start(_ context.Context, rec engine.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[rec.ID] = rec
	return nil
}

func (m *MemoryRuns) Finish(_ context.Context, rec engine.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[rec.ID] = rec
	return nil
}

func (m *MemoryRuns) Latest(_ context.Context, kind string) (*engine.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *engine.RunRecord
	for id := range m.runs {
		rec := m.runs[id]
		if rec.Kind != kind {
			continue
		}
		if latest == nil || rec.StartedAt.After(latest.StartedAt) {
			latest = &rec
		}
	}
	return latest, nil
}

// =============================================================================
// COLLECTING NOTIFIER - Test double for outbound reminders
// =============================================================================

// SentReminder records one delivery.
type SentReminder struct {
	Account engine.AccountCode
	Email   string
	At      time.Time
}

// CollectingNotifier captures reminders instead of sending them. It can be
// armed to fail a specific account to exercise error paths.
type CollectingNotifier struct {
	mu     sync.Mutex
	sent   []SentReminder
	FailOn map[engine.AccountCode]error
}

func NewCollectingNotifier() *CollectingNotifier {
	return &CollectingNotifier{FailOn: make(map[engine.AccountCode]error)}
}

func (n *CollectingNotifier) SendReminder(_ context.Context, pred *engine.AccountPrediction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.FailOn[pred.Code]; err != nil {
		return err
	}
	n.sent = append(n.sent, SentReminder{
		Account: pred.Code,
		Email:   pred.CustomerEmail,
		At:      time.Now(),
	})
	return nil
}

// Sent returns a copy of everything delivered so far.
func (n *CollectingNotifier) Sent() []SentReminder {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SentReminder, len(n.sent))
	copy(out, n.sent)
	return out
}

// SentTo counts deliveries for one account.
func (n *CollectingNotifier) SentTo(code engine.AccountCode) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.Account == code {
			count++
		}
	}
	return count
}
