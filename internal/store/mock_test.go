package store

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/genesis/internal/driver"
)

type call struct {
	Query  string
	Params map[string]interface{}
}

// MockDriver answers each query text with canned records. Writes that fail
// are discarded from Calls, the way a rolled back transaction would be.
type MockDriver struct {
	mu      sync.Mutex
	Results map[string][]*neo4j.Record
	Errs    map[string]error
	Calls   []call
	Writes  int
}

func NewMockDriver() *MockDriver {
	return &MockDriver{Results: map[string][]*neo4j.Record{}, Errs: map[string]error{}}
}

func (m *MockDriver) On(query string, recs ...*neo4j.Record) *MockDriver {
	m.Results[query] = recs
	return m
}

func (m *MockDriver) answer(query string) ([]*neo4j.Record, error) {
	if err := m.Errs[query]; err != nil {
		return nil, err
	}
	return m.Results[query], nil
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call{Query: query, Params: params})
	recs, err := m.answer(query)
	if err != nil {
		return neo4j.EagerResult{}, err
	}
	return neo4j.EagerResult{Records: recs}, nil
}

type mockTx struct {
	m       *MockDriver
	pending []call
}

func (t *mockTx) Run(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	t.pending = append(t.pending, call{Query: query, Params: params})
	return t.m.answer(query)
}

func (m *MockDriver) ExecuteWrite(ctx context.Context, work func(tx driver.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &mockTx{m: m}
	if err := work(tx); err != nil {
		return err
	}
	m.Writes++
	m.Calls = append(m.Calls, tx.pending...)
	return nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error { return nil }

func (m *MockDriver) Close(ctx context.Context) error { return nil }

func (m *MockDriver) ran(query string) []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []call
	for _, c := range m.Calls {
		if c.Query == query {
			out = append(out, c)
		}
	}
	return out
}

func record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}
