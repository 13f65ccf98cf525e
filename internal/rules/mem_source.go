package rules

import (
	"context"
	"sort"
	"sync"
)

// MemSource is an in-memory Source for tests and dry runs.
type MemSource struct {
	mu     sync.Mutex
	nextID int64
	rules  map[int64]Rule
}

// NewMemSource returns an empty MemSource.
func NewMemSource() *MemSource {
	return &MemSource{rules: make(map[int64]Rule)}
}

// Add stores r as an active rule, assigning an id when r.ID is zero.
func (m *MemSource) Add(r Rule) Rule {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == 0 {
		m.nextID++
		r.ID = m.nextID
	} else if r.ID > m.nextID {
		m.nextID = r.ID
	}
	if r.Action == "" {
		r.Action = ActionNone
	}
	r.Active = true
	m.rules[r.ID] = r

	return r
}

// SetActive toggles the rule with the given id.
func (m *MemSource) SetActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rules[id]; ok {
		r.Active = active
		m.rules[id] = r
	}
}

// ActiveRules implements Source.
func (m *MemSource) ActiveRules(_ context.Context,
	accountID int64) ([]Rule, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Rule
	for _, r := range m.rules {
		if !r.Active {
			continue
		}
		// Global rules unwrap to the requested account.
		if r.AccountID.UnwrapOr(accountID) != accountID {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

// Compile-time check that MemSource satisfies Source.
var _ Source = (*MemSource)(nil)
