package journal

import (
	"sync"

	"github.com/sonic-net/fgnhgorch/internal/types"
)

// MemJournal is an in-memory Journal for tests and the fake-HAL demo
// binary, where durability across a real process restart isn't
// exercised.
type MemJournal struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemJournal() *MemJournal {
	return &MemJournal{records: make(map[string]Record)}
}

func (m *MemJournal) WriteBucket(prefix string, index int, nh types.NextHopKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[prefix]
	if !ok {
		rec = Record{}
		m.records[prefix] = rec
	}
	rec[index] = nh
	return nil
}

func (m *MemJournal) DeleteRoute(prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, prefix)
	return nil
}

func (m *MemJournal) Recover() (map[string]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(m.records))
	for prefix, rec := range m.records {
		cp := make(Record, len(rec))
		for idx, nh := range rec {
			cp[idx] = nh
		}
		out[prefix] = cp
	}
	return out, nil
}

func (m *MemJournal) Close() error { return nil }
