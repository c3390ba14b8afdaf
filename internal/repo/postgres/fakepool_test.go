package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func assignScanTarget(dest any, value any) error {
	switch d := dest.(type) {
	case *string:
		s, _ := value.(string)
		*d = s
	case *int:
		n, _ := value.(int)
		*d = n
	case *time.Time:
		t, _ := value.(time.Time)
		*d = t
	case **time.Time:
		if value == nil {
			*d = nil
			return nil
		}
		t, ok := value.(time.Time)
		if !ok {
			*d = nil
			return nil
		}
		*d = &t
	default:
		return fmt.Errorf("fakeRows: unsupported scan dest type %T", dest)
	}
	return nil
}

// fakePool is a minimal PgxPool double letting the repo tests exercise
// SQL-argument wiring and error-wrapping without a real Postgres instance.
type fakePool struct {
	execErr     error
	execCalls   [][]any
	queryRows   []fakeScanRow
	queryErr    error
	queryCalls  [][]any
	batchExecErrs map[int]error // row index -> error, for SendBatch
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execCalls = append(p.execCalls, args)
	return pgconn.CommandTag{}, p.execErr
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &fakeRow{err: errors.New("not implemented in fakePool")}
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.queryCalls = append(p.queryCalls, args)
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return &fakeRows{rows: p.queryRows}, nil
}

func (p *fakePool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return &fakeBatchResults{n: b.Len(), errs: p.batchExecErrs}
}

func (p *fakePool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("not implemented in fakePool")
}

type fakeRow struct {
	err error
}

func (r *fakeRow) Scan(dest ...any) error { return r.err }

// fakeScanRow is one row's worth of column values, scanned in order by
// fakeRows.Scan via a small reflection-free copy switch on common types
// used by the review/label scan targets.
type fakeScanRow struct {
	values []any
}

type fakeRows struct {
	rows []fakeScanRow
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	if len(dest) != len(row.values) {
		return errors.New("fakeRows: column count mismatch")
	}
	for i, d := range dest {
		if err := assignScanTarget(d, row.values[i]); err != nil {
			return err
		}
	}
	return nil
}
func (r *fakeRows) Values() ([]any, error) { return r.rows[r.idx-1].values, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeBatchResults struct {
	n    int
	i    int
	errs map[int]error
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	idx := b.i
	b.i++
	if b.errs != nil {
		if err, ok := b.errs[idx]; ok {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}
func (b *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (b *fakeBatchResults) QueryRow() pgx.Row        { return &fakeRow{} }
func (b *fakeBatchResults) Close() error             { return nil }
