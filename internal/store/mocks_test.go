package store

import (
	"context"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MockDB implements DB for testing
type MockDB struct {
	QueryFunc    func(sql string, args []any) (pgx.Rows, error)
	QueryRowFunc func(sql string, args []any) pgx.Row
	Tx           *MockTx
	BeginErr     error
	Queries      []string
}

func (m *MockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.Queries = append(m.Queries, sql)
	if m.QueryFunc != nil {
		return m.QueryFunc(sql, args)
	}
	return &MockRows{}, nil
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.Queries = append(m.Queries, sql)
	if m.QueryRowFunc != nil {
		return m.QueryRowFunc(sql, args)
	}
	return &MockRow{Err: pgx.ErrNoRows}
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *MockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	if m.Tx == nil {
		m.Tx = &MockTx{}
	}
	return m.Tx, nil
}

// MockTx implements pgx.Tx for testing
type MockTx struct {
	pgx.Tx
	Row        pgx.Row
	Execs      []string
	ExecArgs   [][]any
	ExecTag    string
	ExecErr    error
	Batch      *pgx.Batch
	BatchErr   error
	BatchTag   string
	Committed  bool
	RolledBack bool
}

func (m *MockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.Row == nil {
		return &MockRow{Values: []any{"id"}}
	}
	return m.Row
}

func (m *MockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.Execs = append(m.Execs, strings.TrimSpace(sql))
	m.ExecArgs = append(m.ExecArgs, args)
	if m.ExecErr != nil {
		return pgconn.CommandTag{}, m.ExecErr
	}
	tag := m.ExecTag
	if tag == "" {
		tag = "INSERT 0 0"
	}
	return pgconn.NewCommandTag(tag), nil
}

func (m *MockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	m.Batch = b
	return &MockBatchResults{Err: m.BatchErr, Tag: m.BatchTag}
}

func (m *MockTx) Commit(ctx context.Context) error {
	m.Committed = true
	return nil
}

func (m *MockTx) Rollback(ctx context.Context) error {
	if m.Committed {
		return pgx.ErrTxClosed
	}
	m.RolledBack = true
	return nil
}

// MockBatchResults implements pgx.BatchResults
type MockBatchResults struct {
	pgx.BatchResults
	Err error
	Tag string
}

func (m *MockBatchResults) Exec() (pgconn.CommandTag, error) {
	if m.Err != nil {
		return pgconn.CommandTag{}, m.Err
	}
	if m.Tag != "" {
		return pgconn.NewCommandTag(m.Tag), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *MockBatchResults) Close() error { return nil }

// MockRow implements pgx.Row
type MockRow struct {
	Values []any
	Err    error
}

func (m *MockRow) Scan(dest ...any) error {
	if m.Err != nil {
		return m.Err
	}
	for i, val := range m.Values {
		if i < len(dest) {
			setDest(dest[i], val)
		}
	}
	return nil
}

// MockRows implements pgx.Rows
type MockRows struct {
	pgx.Rows
	Data  [][]any
	Index int
}

func (m *MockRows) Next() bool {
	m.Index++
	return m.Index <= len(m.Data)
}

func (m *MockRows) Scan(dest ...any) error {
	row := m.Data[m.Index-1]
	for i, val := range row {
		if i < len(dest) {
			setDest(dest[i], val)
		}
	}
	return nil
}

func (m *MockRows) Close()     {}
func (m *MockRows) Err() error { return nil }

func setDest(dest any, val any) {
	v := reflect.ValueOf(dest).Elem()
	if val == nil {
		v.Set(reflect.Zero(v.Type()))
		return
	}
	valV := reflect.ValueOf(val)
	// Allow scanning a value into a pointer destination (nullable columns).
	if v.Kind() == reflect.Pointer && valV.Kind() != reflect.Pointer {
		p := reflect.New(v.Type().Elem())
		p.Elem().Set(valV.Convert(v.Type().Elem()))
		v.Set(p)
		return
	}
	if valV.Type().ConvertibleTo(v.Type()) {
		v.Set(valV.Convert(v.Type()))
	} else {
		v.Set(valV)
	}
}
