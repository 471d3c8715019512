// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/canonical/sqlfluent/internal/assemble"
	"github.com/canonical/sqlfluent/internal/ident"
)

// Where appends "WHERE column <op> value". For [In] and [NotIn] value is a
// slice, for [Between] and [NotBetween] a slice of two values. The value of
// [IsNull] and [IsNotNull] is ignored.
func (b *Builder) Where(column string, op Operator, value any) *Builder {
	return b.predicate(assemble.Where, "WHERE", column, op, value)
}

// AndWhere appends "AND column <op> value". A WHERE clause must already be
// present.
func (b *Builder) AndWhere(column string, op Operator, value any) *Builder {
	return b.predicate(assemble.Condition, "AND", column, op, value)
}

// OrWhere appends "OR column <op> value". A WHERE clause must already be
// present.
func (b *Builder) OrWhere(column string, op Operator, value any) *Builder {
	return b.predicate(assemble.Condition, "OR", column, op, value)
}

// Having appends "HAVING column <op> value".
func (b *Builder) Having(column string, op Operator, value any) *Builder {
	return b.predicate(assemble.Having, "HAVING", column, op, value)
}

// WhereSub appends "WHERE column <op> (<sub>)" and takes over the
// parameters of sub.
func (b *Builder) WhereSub(column string, op Operator, sub *Builder) *Builder {
	return b.subPredicate(assemble.Where, "WHERE", column, op, sub)
}

// AndWhereSub is [Builder.WhereSub] joined with AND.
func (b *Builder) AndWhereSub(column string, op Operator, sub *Builder) *Builder {
	return b.subPredicate(assemble.Condition, "AND", column, op, sub)
}

// OrWhereSub is [Builder.WhereSub] joined with OR.
func (b *Builder) OrWhereSub(column string, op Operator, sub *Builder) *Builder {
	return b.subPredicate(assemble.Condition, "OR", column, op, sub)
}

// The following helpers start the WHERE clause, or extend it with AND when
// the statement already has a WHERE or HAVING clause.

// WhereIn appends "column IN (...)" with one placeholder per element of the
// values slice.
func (b *Builder) WhereIn(column string, values any) *Builder {
	kind, keyword := b.connective()
	return b.predicate(kind, keyword, column, In, values)
}

// WhereNotIn appends "column NOT IN (...)".
func (b *Builder) WhereNotIn(column string, values any) *Builder {
	kind, keyword := b.connective()
	return b.predicate(kind, keyword, column, NotIn, values)
}

// WhereBetween appends "column BETWEEN start AND end".
func (b *Builder) WhereBetween(column string, start, end any) *Builder {
	kind, keyword := b.connective()
	return b.predicate(kind, keyword, column, Between, []any{start, end})
}

// WhereNotBetween appends "column NOT BETWEEN start AND end".
func (b *Builder) WhereNotBetween(column string, start, end any) *Builder {
	kind, keyword := b.connective()
	return b.predicate(kind, keyword, column, NotBetween, []any{start, end})
}

// WhereNull appends "column IS NULL".
func (b *Builder) WhereNull(column string) *Builder {
	kind, keyword := b.connective()
	return b.predicate(kind, keyword, column, IsNull, nil)
}

// WhereNotNull appends "column IS NOT NULL".
func (b *Builder) WhereNotNull(column string) *Builder {
	kind, keyword := b.connective()
	return b.predicate(kind, keyword, column, IsNotNull, nil)
}

func (b *Builder) connective() (assemble.Kind, string) {
	if b.stmt.Has(assemble.Where, assemble.Having) {
		return assemble.Condition, "AND"
	}
	return assemble.Where, "WHERE"
}

func (b *Builder) predicate(kind assemble.Kind, keyword string, column string, op Operator, value any) *Builder {
	if !op.Valid() {
		b.setErr(errors.Wrapf(ErrInvalidOperator, "%s", op))
		return b
	}
	operand, err := b.literal(op, value)
	if err != nil {
		b.setErr(errors.Wrapf(err, "%s %s", ident.Column(column), op))
		return b
	}
	fragments := []assemble.Fragment{assemble.Text(keyword + " " + ident.Column(column) + " " + op.String())}
	b.stmt.Add(kind, append(fragments, operand...)...)
	return b
}

// literal generates the placeholders standing for value on the right of op
// and binds them.
func (b *Builder) literal(op Operator, value any) ([]assemble.Fragment, error) {
	switch {
	case op.takesNoValue():
		return nil, nil
	case op.takesList():
		values := listValues(value)
		if len(values) == 0 {
			return nil, ErrEmptyList
		}
		names := make([]string, len(values))
		for i, v := range values {
			names[i] = b.fresh("in")
			b.bind(names[i], v)
		}
		fragments := []assemble.Fragment{assemble.Text(" (")}
		fragments = append(fragments, assemble.ParamList(names)...)
		return append(fragments, assemble.Text(")")), nil
	case op.takesRange():
		values := listValues(value)
		if len(values) != 2 {
			return nil, errors.Wrapf(ErrBetweenArity, "got %d", len(values))
		}
		n := b.sess.inputs.Next()
		for b.bound(assemble.Name("between_start", n)) || b.bound(assemble.Name("between_end", n)) {
			n = b.sess.inputs.Next()
		}
		start, end := assemble.Name("between_start", n), assemble.Name("between_end", n)
		b.bind(start, values[0])
		b.bind(end, values[1])
		return []assemble.Fragment{
			assemble.Text(" "), assemble.Param(start),
			assemble.Text(" AND "), assemble.Param(end),
		}, nil
	default:
		name := b.fresh("cond")
		b.bind(name, value)
		return []assemble.Fragment{assemble.Text(" "), assemble.Param(name)}, nil
	}
}

// fresh returns a generated placeholder name that is not bound yet. Numbers
// taken by data columns with the same name are skipped.
func (b *Builder) fresh(prefix string) string {
	for {
		name := assemble.Name(prefix, b.sess.inputs.Next())
		if !b.bound(name) {
			return name
		}
	}
}

func (b *Builder) bound(name string) bool {
	_, ok := b.params[name]
	return ok
}

// listValues returns the elements of a slice or array. Any other value,
// including a byte slice, is a list of one.
func listValues(value any) []any {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		fallthrough
	case reflect.Array:
		values := make([]any, v.Len())
		for i := range values {
			values[i] = v.Index(i).Interface()
		}
		return values
	}
	if value == nil {
		return nil
	}
	return []any{value}
}

func (b *Builder) subPredicate(kind assemble.Kind, keyword string, column string, op Operator, sub *Builder) *Builder {
	if !op.Valid() || op.takesNoValue() || op.takesRange() {
		b.setErr(errors.Wrapf(ErrInvalidOperator, "%s with a subquery", op))
		return b
	}
	if sub == nil {
		b.setErr(errors.New("nil subquery"))
		return b
	}
	fragments := []assemble.Fragment{assemble.Text(keyword + " " + ident.Column(column) + " " + op.String() + " (")}
	fragments = append(fragments, sub.stmt.Fragments()...)
	fragments = append(fragments, assemble.Text(")"))
	b.stmt.Add(kind, fragments...)
	b.merge(sub)
	return b
}
