// Package pgxtest provides scripted pgx rows and executors for repository
// tests that run without a database.
package pgxtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row is a pgx.Row backed by a scan function. A nil function behaves like
// an empty result.
type Row struct {
	scan func(dest ...any) error
}

func NewRow(scan func(dest ...any) error) Row { return Row{scan: scan} }

// ValuesRow scans vals into the destinations in order.
func ValuesRow(vals ...any) Row {
	return Row{scan: func(dest ...any) error { return Assign(dest, vals) }}
}

// ErrRow fails every scan with err.
func ErrRow(err error) Row {
	return Row{scan: func(dest ...any) error { return err }}
}

func (r Row) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type rowsBase struct{}

func (rowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (rowsBase) Conn() *pgx.Conn { return nil }

func (rowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (rowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (rowsBase) RawValues() [][]byte { return nil }

// Rows iterates over fixed values.
type Rows struct {
	rowsBase
	data   [][]any
	pos    int
	err    error
	Closed bool
}

func NewRows(data ...[]any) *Rows { return &Rows{data: data} }

// WithErr makes Err report err after iteration.
func (r *Rows) WithErr(err error) *Rows {
	r.err = err
	return r
}

func (r *Rows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos == 0 || r.pos > len(r.data) {
		return fmt.Errorf("scan called without a current row")
	}
	return Assign(dest, r.data[r.pos-1])
}

func (r *Rows) Err() error { return r.err }

func (r *Rows) Close() { r.Closed = true }

// Assign copies vals into pointer destinations. nil values zero the target.
func Assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if vals[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(vals[i])
		switch {
		case v.Type().AssignableTo(elem.Type()):
			elem.Set(v)
		case elem.Kind() == reflect.Pointer && v.Type().AssignableTo(elem.Type().Elem()):
			p := reflect.New(elem.Type().Elem())
			p.Elem().Set(v)
			elem.Set(p)
		case v.Type().ConvertibleTo(elem.Type()):
			elem.Set(v.Convert(elem.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %s", vals[i], elem.Type())
		}
	}
	return nil
}

// Call records one statement sent to an Executor.
type Call struct {
	Marker string
	Query  string
	Args   []any
}

// Executor is a scripted infra.SQLExecutor. Nil handlers fall back to one
// affected row for Exec and empty results for queries.
type Executor struct {
	mu      sync.Mutex
	Calls   []Call
	ExecFn  func(query string, args []any) (pgconn.CommandTag, error)
	RowFn   func(query string, args []any) pgx.Row
	QueryFn func(query string, args []any) (pgx.Rows, error)
}

func (e *Executor) record(query string, args []any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	marker := ""
	if first, _, ok := strings.Cut(strings.TrimSpace(query), "\n"); ok {
		marker = strings.TrimPrefix(first, "--sql ")
	}
	e.Calls = append(e.Calls, Call{Marker: marker, Query: query, Args: args})
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	e.record(query, args)
	if e.ExecFn == nil {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return e.ExecFn(query, args)
}

func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	e.record(query, args)
	if e.RowFn == nil {
		return Row{}
	}
	return e.RowFn(query, args)
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	e.record(query, args)
	if e.QueryFn == nil {
		return NewRows(), nil
	}
	return e.QueryFn(query, args)
}

// Recorded returns a copy of the calls made so far.
func (e *Executor) Recorded() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.Calls...)
}
