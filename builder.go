// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/canonical/sqlfluent/internal/assemble"
	"github.com/canonical/sqlfluent/internal/fields"
	"github.com/canonical/sqlfluent/internal/ident"
)

// M is a convenience type holding column values by name. It is accepted as
// data by [Builder.Insert] and [Builder.Update] and returned for every row
// by [Builder.Get] and [Builder.First].
type M map[string]any

// session is the state a builder shares with the builders created from it
// with [Builder.Sub].
type session struct {
	db *DB
	// tx is the running transaction, if any.
	tx *sql.Tx
	// inputs numbers the generated placeholders.
	inputs assemble.InputAssigner
}

// Builder assembles one SQL statement at a time from chained calls and runs
// it on its [DB]. A Builder is not safe for concurrent use.
//
// Construction never fails on the spot: the first error met is kept and
// returned by [Builder.Err] and by every terminal method.
type Builder struct {
	sess *session
	// owner is set on the builder that created the session. Only the owner
	// restarts placeholder numbering.
	owner   bool
	stmt    assemble.Statement
	params  M
	err     error
	allRows bool
}

func newBuilder(db *DB) *Builder {
	return &Builder{sess: &session{db: db}, owner: true, params: M{}}
}

// New returns a builder with no database. Its statements can be inspected
// and inlined into other builders but not executed.
func New() *Builder {
	return newBuilder(nil)
}

// Sub returns an empty builder sharing the database, the transaction and the
// placeholder numbering of b. Statements built with it can be nested into b
// without placeholder clashes.
func (b *Builder) Sub() *Builder {
	return &Builder{sess: b.sess, params: M{}}
}

// Reset discards the statement, its parameters and any pending error.
func (b *Builder) Reset() *Builder {
	b.stmt.Reset()
	b.params = M{}
	b.err = nil
	b.allRows = false
	if b.owner {
		b.sess.inputs.Reset()
	}
	return b
}

func (b *Builder) start(kind assemble.Kind, fragments ...assemble.Fragment) *Builder {
	b.Reset()
	b.stmt.Add(kind, fragments...)
	return b
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// bind registers a value for a placeholder name.
func (b *Builder) bind(name string, value any) {
	if _, ok := b.params[name]; ok {
		b.setErr(errors.Wrapf(ErrParamCollision, "parameter %q", name))
		return
	}
	b.params[name] = value
}

// merge inlines the parameters of a nested builder.
func (b *Builder) merge(sub *Builder) {
	if sub.err != nil {
		b.setErr(sub.err)
	}
	for name, value := range sub.params {
		b.bind(name, value)
	}
}

// Select starts a SELECT statement. With no columns every column is
// selected.
func (b *Builder) Select(columns ...string) *Builder {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(ident.Columns(columns), ", ")
	}
	return b.start(assemble.Select, assemble.Text("SELECT "+cols))
}

// Insert starts an INSERT statement storing data into table. Data is an [M],
// any map with string keys, or a struct with db tags.
func (b *Builder) Insert(table string, data any) *Builder {
	b.Reset()
	cols, names, ok := b.columns(data)
	if !ok {
		return b
	}
	fragments := []assemble.Fragment{assemble.Text("INSERT INTO " + ident.Table(table) + " (" + strings.Join(cols, ", ") + ") VALUES (")}
	fragments = append(fragments, assemble.ParamList(names)...)
	fragments = append(fragments, assemble.Text(")"))
	b.stmt.Add(assemble.Insert, fragments...)
	return b
}

// Update starts an UPDATE statement setting data on table. Rows are selected
// with [Builder.Where]; to update every row call [Builder.AllRows].
func (b *Builder) Update(table string, data any) *Builder {
	b.Reset()
	cols, names, ok := b.columns(data)
	if !ok {
		return b
	}
	sets := make([][]assemble.Fragment, len(cols))
	for i, col := range cols {
		sets[i] = []assemble.Fragment{assemble.Text(col + " = "), assemble.Param(names[i])}
	}
	fragments := []assemble.Fragment{assemble.Text("UPDATE " + ident.Table(table) + " SET ")}
	fragments = append(fragments, assemble.CommaSeparated(sets...)...)
	b.stmt.Add(assemble.Update, fragments...)
	return b
}

// UpdateWhere is [Builder.Update] followed by "WHERE whereColumn = value".
// The WHERE clause is left out when whereValue is nil or whereColumn has no
// usable characters.
func (b *Builder) UpdateWhere(table string, data any, whereColumn string, whereValue any) *Builder {
	b.Update(table, data)
	col := ident.Column(whereColumn)
	if b.err != nil || whereValue == nil || ident.Param(col) == "" {
		return b
	}
	name := "where_" + ident.Param(col)
	b.stmt.Add(assemble.Where, assemble.Text("WHERE "+col+" = "), assemble.Param(name))
	b.bind(name, whereValue)
	return b
}

// Delete starts a DELETE statement on table. Rows are selected with
// [Builder.Where]; to delete every row call [Builder.AllRows].
func (b *Builder) Delete(table string) *Builder {
	return b.start(assemble.Delete, assemble.Text("DELETE FROM "+ident.Table(table)))
}

// columns extracts the sanitized columns of data and binds their values. The
// placeholder of each column is named after it.
func (b *Builder) columns(data any) (cols []string, names []string, ok bool) {
	raw, values, err := fields.Columns(data)
	if err != nil {
		b.setErr(errors.Wrap(err, "cannot read columns"))
		return nil, nil, false
	}
	if len(raw) == 0 {
		b.setErr(ErrNoColumns)
		return nil, nil, false
	}
	cols = ident.Columns(raw)
	names = make([]string, len(cols))
	for i, col := range cols {
		names[i] = ident.Param(col)
		if names[i] == "" || strings.Contains(col, "*") {
			b.setErr(errors.Errorf("invalid data column %q", raw[i]))
			return nil, nil, false
		}
		b.bind(names[i], values[i])
	}
	return cols, names, true
}

// From appends "FROM table".
func (b *Builder) From(table string) *Builder {
	b.stmt.Add(assemble.From, assemble.Text("FROM "+ident.Table(table)))
	return b
}

// FromAs appends "FROM table AS alias".
func (b *Builder) FromAs(table, alias string) *Builder {
	b.stmt.Add(assemble.From, assemble.Text("FROM "+ident.Table(table)+" AS "+ident.Table(alias)))
	return b
}

// JoinKind is the kind of a join clause.
type JoinKind int

const (
	JoinInner JoinKind = iota + 1
	JoinLeft
	JoinRight
)

func (k JoinKind) String() string {
	switch k {
	case JoinInner:
		return "INNER JOIN"
	case JoinLeft:
		return "LEFT JOIN"
	case JoinRight:
		return "RIGHT JOIN"
	}
	return "JoinKind(" + strconv.Itoa(int(k)) + ")"
}

// Join appends "<kind> table ON first <op> second". Both sides of the
// condition are columns.
func (b *Builder) Join(kind JoinKind, table, first string, op Operator, second string) *Builder {
	if kind < JoinInner || kind > JoinRight {
		b.setErr(errors.Errorf("invalid join kind %d", int(kind)))
		return b
	}
	if !op.Valid() || op.takesNoValue() || op.takesList() || op.takesRange() {
		b.setErr(errors.Wrapf(ErrInvalidOperator, "join on %s", op))
		return b
	}
	b.stmt.Add(assemble.Join, assemble.Text(kind.String()+" "+ident.Table(table)+
		" ON "+ident.Column(first)+" "+op.String()+" "+ident.Column(second)))
	return b
}

func (b *Builder) InnerJoin(table, first string, op Operator, second string) *Builder {
	return b.Join(JoinInner, table, first, op, second)
}

func (b *Builder) LeftJoin(table, first string, op Operator, second string) *Builder {
	return b.Join(JoinLeft, table, first, op, second)
}

func (b *Builder) RightJoin(table, first string, op Operator, second string) *Builder {
	return b.Join(JoinRight, table, first, op, second)
}

// GroupBy appends "GROUP BY columns".
func (b *Builder) GroupBy(columns ...string) *Builder {
	if len(columns) == 0 {
		b.setErr(errors.Wrap(ErrNoColumns, "GROUP BY"))
		return b
	}
	b.stmt.Add(assemble.GroupBy, assemble.Text("GROUP BY "+strings.Join(ident.Columns(columns), ", ")))
	return b
}

// OrderBy sorts on columns in ascending order. Successive calls add to the
// same ORDER BY clause.
func (b *Builder) OrderBy(columns ...string) *Builder {
	return b.orderBy("ASC", columns)
}

// OrderByDesc sorts on columns in descending order.
func (b *Builder) OrderByDesc(columns ...string) *Builder {
	return b.orderBy("DESC", columns)
}

func (b *Builder) orderBy(direction string, columns []string) *Builder {
	if len(columns) == 0 {
		b.setErr(errors.Wrap(ErrNoColumns, "ORDER BY"))
		return b
	}
	terms := ident.Columns(columns)
	for i := range terms {
		terms[i] += " " + direction
	}
	list := strings.Join(terms, ", ")
	if kind, ok := b.stmt.Last(); ok && kind == assemble.OrderBy {
		b.stmt.Extend(assemble.OrderBy, ", ", assemble.Text(list))
		return b
	}
	b.stmt.Add(assemble.OrderBy, assemble.Text("ORDER BY "+list))
	return b
}

// Limit appends "LIMIT n".
func (b *Builder) Limit(n int) *Builder {
	b.stmt.Add(assemble.Limit, assemble.Text("LIMIT "+strconv.Itoa(n)))
	return b
}

// Offset appends "OFFSET n".
func (b *Builder) Offset(n int) *Builder {
	b.stmt.Add(assemble.Offset, assemble.Text("OFFSET "+strconv.Itoa(n)))
	return b
}

// Paginate selects page number page of perPage rows. Pages start at 1.
func (b *Builder) Paginate(page, perPage int) *Builder {
	if page < 1 {
		page = 1
	}
	return b.Limit(perPage).Offset((page - 1) * perPage)
}

// RawSQL appends sql as it is. Arguments are bound by name and referenced in
// sql as ":name" whatever the placeholder style of the database.
//
// Raw text starting with WHERE, appended after other clauses, counts as the
// WHERE clause of the statement. UPDATE and DELETE statements then run
// without [Builder.AllRows], and [Builder.WhereIn] continues it with AND.
func (b *Builder) RawSQL(sql string, args ...sql.NamedArg) *Builder {
	names := make(map[string]bool, len(args))
	for _, arg := range args {
		if arg.Name == "" {
			b.setErr(errors.New("raw SQL argument has no name"))
			return b
		}
		names[arg.Name] = true
	}
	kind := assemble.Raw
	if words := strings.Fields(sql); !b.stmt.Empty() && len(words) > 0 && strings.EqualFold(words[0], "WHERE") {
		kind = assemble.Where
	}
	b.stmt.Add(kind, assemble.ScanRaw(sql, names)...)
	for _, arg := range args {
		b.bind(arg.Name, arg.Value)
	}
	return b
}

// SubQuery appends "(<sub>) AS alias" and takes over the parameters of sub.
func (b *Builder) SubQuery(sub *Builder, alias string) *Builder {
	if sub == nil {
		b.setErr(errors.New("nil subquery"))
		return b
	}
	fragments := []assemble.Fragment{assemble.Text("(")}
	fragments = append(fragments, sub.stmt.Fragments()...)
	fragments = append(fragments, assemble.Text(") AS "+ident.Column(alias)))
	b.stmt.Add(assemble.SubQuery, fragments...)
	b.merge(sub)
	return b
}

// Returning appends "RETURNING columns". The statement then yields rows.
func (b *Builder) Returning(columns ...string) *Builder {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(ident.Columns(columns), ", ")
	}
	b.stmt.Add(assemble.Returning, assemble.Text("RETURNING "+cols))
	return b
}

// AllRows allows an UPDATE or DELETE statement without a WHERE clause to be
// executed.
func (b *Builder) AllRows() *Builder {
	b.allRows = true
	return b
}

// Bind sets the value of a parameter. It is used to run a statement again
// after a terminal method has cleared its parameters.
func (b *Builder) Bind(name string, value any) *Builder {
	b.params[strings.TrimPrefix(name, ":")] = value
	return b
}

func (b *Builder) style() assemble.Style {
	if b.sess.db == nil {
		return assemble.Named
	}
	return b.sess.db.style
}

// Query returns the SQL text of the statement.
func (b *Builder) Query() string {
	sql, _ := b.stmt.Render(b.style())
	return sql
}

// Params returns a copy of the bound parameters by name.
func (b *Builder) Params() M {
	params := make(M, len(b.params))
	for name, value := range b.params {
		params[name] = value
	}
	return params
}

// Args returns the arguments the statement is run with, in placeholder order.
// They are [sql.NamedArg] values for named placeholders. A parameter with no
// value is passed as nil.
func (b *Builder) Args() []any {
	_, args, _ := b.render()
	return args
}

// render returns the SQL and arguments of the statement. It fails with
// ErrMissingParam when a placeholder has no value.
func (b *Builder) render() (string, []any, error) {
	style := b.style()
	query, names := b.stmt.Render(style)
	args := make([]any, len(names))
	var err error
	for i, name := range names {
		value, ok := b.params[name]
		if !ok && err == nil {
			err = errors.Wrapf(ErrMissingParam, "parameter %q", name)
		}
		if style == assemble.Named {
			args[i] = sql.Named(name, value)
		} else {
			args[i] = value
		}
	}
	return query, args, err
}

// Err returns the first error met while building the statement.
func (b *Builder) Err() error {
	return b.err
}

// InTransaction reports whether a transaction started with
// [Builder.BeginTransaction] is running.
func (b *Builder) InTransaction() bool {
	return b.sess.tx != nil
}
