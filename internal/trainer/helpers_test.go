package trainer_test

import (
	"os"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/policy"
)

// memStore records every call and keeps saved policies in memory.
type memStore struct {
	saved   map[string]*policy.Policy
	history map[string][]dynamo.IterationRecord
	saves   int
	loads   int
	failErr error
	// historyErr, when set, is returned by LoadHistory.
	historyErr error
}

func newMemStore() *memStore {
	return &memStore{
		saved:   make(map[string]*policy.Policy),
		history: make(map[string][]dynamo.IterationRecord),
	}
}

func (m *memStore) Save(handle string, p *policy.Policy) error {
	if m.failErr != nil {
		return &dynamo.PersistenceError{Op: "save", Handle: handle, Err: m.failErr}
	}
	m.saves++
	m.saved[handle] = p.Clone()
	return nil
}

func (m *memStore) Load(handle string) (*policy.Policy, error) {
	m.loads++
	p, ok := m.saved[handle]
	if !ok {
		return nil, &dynamo.PersistenceError{Op: "load", Handle: handle, Err: os.ErrNotExist}
	}
	return p.Clone(), nil
}

func (m *memStore) Exists(handle string) bool {
	_, ok := m.saved[handle]
	return ok
}

func (m *memStore) Delete(handle string) error {
	if _, ok := m.saved[handle]; !ok {
		return &dynamo.PersistenceError{Op: "delete", Handle: handle, Err: os.ErrNotExist}
	}
	delete(m.saved, handle)
	delete(m.history, handle)
	return nil
}

func (m *memStore) AppendHistory(handle string, rec dynamo.IterationRecord) error {
	m.history[handle] = append(m.history[handle], rec)
	return nil
}

func (m *memStore) LoadHistory(handle string) ([]dynamo.IterationRecord, error) {
	if m.historyErr != nil {
		return nil, &dynamo.PersistenceError{Op: "history", Handle: handle, Err: m.historyErr}
	}
	h, ok := m.history[handle]
	if !ok {
		return nil, &dynamo.PersistenceError{Op: "history", Handle: handle, Err: os.ErrNotExist}
	}
	return h, nil
}

func flatten(p *policy.Policy) []float64 {
	var out []float64
	for _, pr := range p.Params() {
		out = append(out, pr.Value.Data().([]float64)...)
	}
	return out
}
