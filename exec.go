// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/canonical/sqlfluent/internal/assemble"
	"github.com/canonical/sqlfluent/internal/fields"
)

// Result is the outcome of an executed statement. Statements yielding rows
// hold an open cursor that must be released with [Result.Close].
type Result struct {
	query  string
	rows   *sql.Rows
	cols   []string
	result sql.Result
	// stmt is closed with the result when it was not cached.
	stmt *sql.Stmt
}

// Execute runs the statement and returns its result. The parameters are
// cleared on success; the SQL text is kept.
func (b *Builder) Execute(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	query, args, err := b.executable()
	if err != nil {
		return nil, err
	}

	db := b.sess.db
	start := time.Now()
	res, err := b.run(ctx, query, args)
	if err != nil {
		db.logger.Warn("statement failed",
			zap.String("query", query),
			zap.Bool("transaction", b.InTransaction()),
			zap.Error(err),
		)
		return nil, errors.WithStack(newExecError(query, err))
	}
	db.logger.Debug("statement executed",
		zap.String("query", query),
		zap.Int("args", len(args)),
		zap.Duration("took", time.Since(start)),
		zap.Bool("transaction", b.InTransaction()),
	)
	b.params = M{}
	return res, nil
}

// executable checks that the statement can run and renders it.
func (b *Builder) executable() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if b.sess.db == nil {
		return "", nil, ErrNoClient
	}
	lead, ok := b.stmt.Leading()
	if !ok {
		return "", nil, errors.New("cannot execute empty statement")
	}
	if (lead == assemble.Update || lead == assemble.Delete) && !b.allRows && !b.stmt.Has(assemble.Where) {
		return "", nil, ErrUnconditional
	}
	return b.render()
}

// yieldsRows reports whether the statement returns a result set. A
// statement made of raw SQL yields rows when it starts with SELECT or WITH.
func (b *Builder) yieldsRows(query string) bool {
	lead, _ := b.stmt.Leading()
	switch {
	case lead == assemble.Select || b.stmt.Has(assemble.Returning):
		return true
	case lead == assemble.Raw:
		words := strings.Fields(query)
		return len(words) > 0 && (strings.EqualFold(words[0], "SELECT") || strings.EqualFold(words[0], "WITH"))
	}
	return false
}

// run executes query on the running transaction or on the database.
func (b *Builder) run(ctx context.Context, query string, args []any) (*Result, error) {
	res := &Result{query: query}
	rowsWanted := b.yieldsRows(query)
	var err error
	if tx := b.sess.tx; tx != nil {
		sqlstmt, ok := stmtCache.lookupStmt(b.sess.db, query)
		if ok {
			// Register the prepared statement on the transaction. Note that
			// this does not re-prepare the statement on the driver.
			// The txstmt is closed by database/sql when the transaction is
			// committed or rolled back.
			txstmt := tx.StmtContext(ctx, sqlstmt)
			if rowsWanted {
				res.rows, err = txstmt.QueryContext(ctx, args...)
			} else {
				res.result, err = txstmt.ExecContext(ctx, args...)
			}
		} else if rowsWanted {
			res.rows, err = tx.QueryContext(ctx, query, args...)
		} else {
			res.result, err = tx.ExecContext(ctx, query, args...)
		}
	} else {
		sqlstmt, cached, perr := stmtCache.prepareStmt(ctx, b.sess.db, query)
		if perr != nil {
			return nil, perr
		}
		if rowsWanted {
			res.rows, err = sqlstmt.QueryContext(ctx, args...)
			if !cached {
				res.stmt = sqlstmt
			}
		} else {
			res.result, err = sqlstmt.ExecContext(ctx, args...)
			if !cached {
				sqlstmt.Close()
			}
		}
		if err != nil && res.stmt != nil {
			res.stmt.Close()
		}
	}
	if err != nil {
		return nil, err
	}
	if res.rows != nil {
		if res.cols, err = res.rows.Columns(); err != nil {
			res.Close()
			return nil, err
		}
	}
	return res, nil
}

// Columns returns the column names of the result set.
func (r *Result) Columns() []string {
	return r.cols
}

// FetchOne returns the next row. It returns [ErrNoRows] once the result set
// is exhausted.
func (r *Result) FetchOne() (M, error) {
	if r.rows == nil {
		return nil, ErrNoRows
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, r.wrap(err)
		}
		return nil, ErrNoRows
	}
	return r.scanRow()
}

// FetchAll returns the remaining rows and closes the result. Byte slice
// values, as returned for text by some drivers, are converted to strings.
func (r *Result) FetchAll() (rows []M, err error) {
	defer func() {
		if cerr := r.Close(); err == nil && cerr != nil {
			err = r.wrap(cerr)
		}
	}()
	if r.rows == nil {
		return nil, nil
	}
	rows = []M{}
	for r.rows.Next() {
		row, err := r.scanRow()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := r.rows.Err(); err != nil {
		return nil, r.wrap(err)
	}
	return rows, nil
}

func (r *Result) scanRow() (M, error) {
	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, r.wrap(err)
	}
	row := make(M, len(r.cols))
	for i, col := range r.cols {
		if b, ok := values[i].([]byte); ok {
			values[i] = string(b)
		}
		row[col] = values[i]
	}
	return row, nil
}

// LastInsertID returns the identifier the database assigned to the row
// inserted by the statement.
func (r *Result) LastInsertID() (int64, error) {
	if r.result == nil {
		return 0, fmt.Errorf("cannot get insert id: statement returned rows")
	}
	id, err := r.result.LastInsertId()
	if err != nil {
		return 0, r.wrap(err)
	}
	return id, nil
}

// RowsAffected returns the number of rows changed by the statement.
func (r *Result) RowsAffected() (int64, error) {
	if r.result == nil {
		return 0, fmt.Errorf("cannot get affected rows: statement returned rows")
	}
	n, err := r.result.RowsAffected()
	if err != nil {
		return 0, r.wrap(err)
	}
	return n, nil
}

// Close releases the result set. Close can be called multiple times.
func (r *Result) Close() error {
	var err error
	if r.rows != nil {
		err = r.rows.Close()
		r.rows = nil
	}
	if r.stmt != nil {
		if cerr := r.stmt.Close(); err == nil {
			err = cerr
		}
		r.stmt = nil
	}
	return err
}

func (r *Result) wrap(err error) error {
	return errors.WithStack(newExecError(r.query, err))
}

// Get runs the statement and returns every row.
func (b *Builder) Get(ctx context.Context) ([]M, error) {
	res, err := b.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return res.FetchAll()
}

// First runs the statement and returns its first row. It returns
// [ErrNoRows] if there are no rows.
func (b *Builder) First(ctx context.Context) (row M, err error) {
	res, err := b.Execute(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := res.Close(); err == nil && cerr != nil {
			row, err = nil, res.wrap(cerr)
		}
	}()
	return res.FetchOne()
}

// InsertID runs the statement and returns the identifier of the inserted
// row.
func (b *Builder) InsertID(ctx context.Context) (int64, error) {
	res, err := b.Execute(ctx)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	return res.LastInsertID()
}

// Affected runs the statement and returns the number of rows it changed.
func (b *Builder) Affected(ctx context.Context) (int64, error) {
	res, err := b.Execute(ctx)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	return res.RowsAffected()
}

// GetInto runs the statement and appends every row to the slice pointed to
// by slicePtr. The slice elements are structs, or pointers to structs, with
// db tags. Columns without a matching field are discarded.
func (b *Builder) GetInto(ctx context.Context, slicePtr any) (err error) {
	ptrVal := reflect.ValueOf(slicePtr)
	if ptrVal.Kind() != reflect.Pointer {
		return fmt.Errorf("need pointer to slice, got %s", ptrVal.Kind())
	}
	if ptrVal.IsNil() {
		return fmt.Errorf("need pointer to slice, got nil")
	}
	sliceVal := ptrVal.Elem()
	if sliceVal.Kind() != reflect.Slice {
		return fmt.Errorf("need pointer to slice, got pointer to %s", sliceVal.Kind())
	}
	elemType := sliceVal.Type().Elem()
	structType := elemType
	if elemType.Kind() == reflect.Pointer {
		structType = elemType.Elem()
	}
	if structType.Kind() != reflect.Struct {
		return fmt.Errorf("need slice of structs, got slice of %s", elemType)
	}

	res, err := b.Execute(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := res.Close(); err == nil && cerr != nil {
			err = res.wrap(cerr)
		}
	}()
	if res.rows == nil {
		return fmt.Errorf("cannot get results: statement returned no rows")
	}
	for res.rows.Next() {
		elem := reflect.New(structType)
		if err := res.scanInto(elem.Elem()); err != nil {
			return err
		}
		if elemType.Kind() == reflect.Pointer {
			sliceVal = reflect.Append(sliceVal, elem)
		} else {
			sliceVal = reflect.Append(sliceVal, elem.Elem())
		}
	}
	if err := res.rows.Err(); err != nil {
		return res.wrap(err)
	}
	ptrVal.Elem().Set(sliceVal)
	return nil
}

// FirstInto runs the statement and decodes the first row into the struct
// pointed to by structPtr. It returns [ErrNoRows] if there are no rows.
func (b *Builder) FirstInto(ctx context.Context, structPtr any) (err error) {
	ptrVal := reflect.ValueOf(structPtr)
	if ptrVal.Kind() != reflect.Pointer || ptrVal.IsNil() || ptrVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("need pointer to struct, got %T", structPtr)
	}

	res, err := b.Execute(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := res.Close(); err == nil && cerr != nil {
			err = res.wrap(cerr)
		}
	}()
	if res.rows == nil {
		return fmt.Errorf("cannot get result: statement returned no rows")
	}
	if !res.rows.Next() {
		if err := res.rows.Err(); err != nil {
			return res.wrap(err)
		}
		return ErrNoRows
	}
	return res.scanInto(ptrVal.Elem())
}

func (r *Result) scanInto(structVal reflect.Value) error {
	targets, err := fields.Targets(structVal, r.cols)
	if err != nil {
		return err
	}
	if err := r.rows.Scan(targets...); err != nil {
		return r.wrap(err)
	}
	return nil
}
