package archive

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// MockConn implements driver.Conn for testing
type MockConn struct {
	driver.Conn
	mu         sync.Mutex
	Batches    []*MockBatch
	Execs      []string
	HistoryRow [][]any
	QueryArgs  []any
}

func (m *MockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &MockBatch{}
	m.Batches = append(m.Batches, b)
	return b, nil
}

func (m *MockConn) Exec(ctx context.Context, query string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Execs = append(m.Execs, query)
	return nil
}

func (m *MockConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	m.QueryArgs = args
	return &MockRows{Data: m.HistoryRow}, nil
}

func (m *MockConn) rows() [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]any
	for _, b := range m.Batches {
		if b.Sent {
			out = append(out, b.Appended...)
		}
	}
	return out
}

// MockBatch implements driver.Batch
type MockBatch struct {
	driver.Batch
	Appended [][]any
	Sent     bool
}

func (m *MockBatch) Append(v ...any) error {
	m.Appended = append(m.Appended, v)
	return nil
}

func (m *MockBatch) Send() error {
	m.Sent = true
	return nil
}

// MockRows implements driver.Rows
type MockRows struct {
	driver.Rows
	Data  [][]any
	Index int
}

func (m *MockRows) Next() bool {
	m.Index++
	return m.Index <= len(m.Data)
}

func (m *MockRows) Scan(dest ...any) error {
	row := m.Data[m.Index-1]
	*dest[0].(*time.Time) = row[0].(time.Time)
	if row[1] != nil {
		v := row[1].(int32)
		*dest[1].(**int32) = &v
	}
	*dest[2].(*uint32) = row[2].(uint32)
	return nil
}

func (m *MockRows) Close() error { return nil }
func (m *MockRows) Err() error   { return nil }
