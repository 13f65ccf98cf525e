package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// MemLedger is an in-memory Ledger with the same overwrite rules as
// SQLLedger. It backs unit tests and dry runs.
type MemLedger struct {
	mu      sync.RWMutex
	records map[Key]Record
	cursors map[int64]time.Time
}

// NewMemLedger returns an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		records: make(map[Key]Record),
		cursors: make(map[int64]time.Time),
	}
}

// Get implements Ledger.
func (m *MemLedger) Get(_ context.Context, key Key) (fn.Option[Record],
	error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return fn.None[Record](), nil
	}

	return fn.Some(rec), nil
}

// Put implements Ledger.
func (m *MemLedger) Put(_ context.Context, rec Record) error {
	if _, err := ParseOutcome(string(rec.Outcome)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[rec.Key]
	switch {
	case ok && existing.Outcome.IsTerminal():
		return fmt.Errorf("%w: %v is %s", ErrTerminalRecord, rec.Key,
			existing.Outcome)

	case ok:
		rec.Attempts = existing.Attempts + 1
		rec.ReceivedAt = existing.ReceivedAt

	default:
		rec.Attempts = 1
	}

	if rec.EvaluatedAt.IsZero() {
		rec.EvaluatedAt = time.Now()
	}
	m.records[rec.Key] = rec

	return nil
}

// ListFailed implements Ledger.
func (m *MemLedger) ListFailed(_ context.Context, accountID int64,
	maxAttempts int) ([]Record, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []Record
	for _, rec := range m.records {
		if rec.AccountID != accountID || rec.Outcome != OutcomeFailed {
			continue
		}
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if a.MessageID != b.MessageID {
			return a.MessageID < b.MessageID
		}
		return a.RuleID < b.RuleID
	})

	return recs, nil
}

// ListRecent implements Ledger.
func (m *MemLedger) ListRecent(_ context.Context, accountID int64,
	limit int) ([]Record, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []Record
	for _, rec := range m.records {
		if rec.AccountID == accountID {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].EvaluatedAt.After(recs[j].EvaluatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	return recs, nil
}

// Counts implements Ledger.
func (m *MemLedger) Counts(_ context.Context,
	accountID int64) (map[Outcome]int64, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[Outcome]int64)
	for _, rec := range m.records {
		if rec.AccountID == accountID {
			counts[rec.Outcome]++
		}
	}

	return counts, nil
}

// Cursor implements Ledger.
func (m *MemLedger) Cursor(_ context.Context,
	accountID int64) (fn.Option[time.Time], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.cursors[accountID]
	if !ok {
		return fn.None[time.Time](), nil
	}

	return fn.Some(w), nil
}

// AdvanceCursor implements Ledger.
func (m *MemLedger) AdvanceCursor(_ context.Context, accountID int64,
	w time.Time) (bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	// Match the millisecond resolution of the SQL ledger.
	w = time.UnixMilli(w.UnixMilli())

	if cur, ok := m.cursors[accountID]; ok && !w.After(cur) {
		return false, nil
	}
	m.cursors[accountID] = w

	return true, nil
}

// ResetCursor implements Ledger.
func (m *MemLedger) ResetCursor(_ context.Context, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cursors, accountID)

	return nil
}

// Compile-time check that MemLedger satisfies Ledger.
var _ Ledger = (*MemLedger)(nil)
