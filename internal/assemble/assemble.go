// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package assemble keeps a statement as a list of tagged clauses and renders
// it to SQL text with placeholders in the style the driver expects.
package assemble

import (
	"bytes"
	"strconv"
)

// Style selects how parameter references are written into the generated SQL.
type Style int

const (
	// Named writes ":name" and expects sql.Named arguments.
	Named Style = iota
	// Question writes "?" for every reference and expects positional
	// arguments.
	Question
	// Dollar writes "$1", "$2", ... and expects positional arguments.
	Dollar
)

func (s Style) String() string {
	switch s {
	case Named:
		return "named"
	case Question:
		return "question"
	case Dollar:
		return "dollar"
	}
	return "Style(" + strconv.Itoa(int(s)) + ")"
}

// Kind tags a clause with the part of the statement it belongs to.
type Kind int

const (
	Select Kind = iota
	Insert
	Update
	Delete
	From
	Join
	Where
	Condition
	Having
	GroupBy
	OrderBy
	Limit
	Offset
	Returning
	SubQuery
	Raw
)

// Fragment is either a chunk of SQL text or a reference to a named
// parameter.
type Fragment struct {
	sql   string
	param string
}

// Text returns a fragment holding literal SQL.
func Text(sql string) Fragment {
	return Fragment{sql: sql}
}

// Param returns a fragment referencing the parameter called name.
func Param(name string) Fragment {
	return Fragment{param: name}
}

// IsParam reports whether the fragment is a parameter reference.
func (f Fragment) IsParam() bool {
	return f.param != ""
}

// Clause is one tagged piece of a statement.
type Clause struct {
	Kind      Kind
	Fragments []Fragment
}

// Statement is the ordered list of clauses making up a SQL statement.
type Statement struct {
	clauses []Clause
}

// Add appends a clause of the given kind.
func (s *Statement) Add(kind Kind, fragments ...Fragment) {
	s.clauses = append(s.clauses, Clause{Kind: kind, Fragments: fragments})
}

// Last returns the kind of the last clause, and false when the statement is
// empty.
func (s *Statement) Last() (Kind, bool) {
	if len(s.clauses) == 0 {
		return 0, false
	}
	return s.clauses[len(s.clauses)-1].Kind, true
}

// Extend appends fragments to the last clause when it has the given kind,
// after sep. Otherwise the fragments start a new clause of that kind.
func (s *Statement) Extend(kind Kind, sep string, fragments ...Fragment) bool {
	if n := len(s.clauses); n > 0 && s.clauses[n-1].Kind == kind {
		last := &s.clauses[n-1]
		last.Fragments = append(last.Fragments, Text(sep))
		last.Fragments = append(last.Fragments, fragments...)
		return true
	}
	s.Add(kind, fragments...)
	return false
}

// Reset removes every clause.
func (s *Statement) Reset() {
	s.clauses = nil
}

// Empty reports whether no clause has been added.
func (s *Statement) Empty() bool {
	return len(s.clauses) == 0
}

// Has reports whether the statement contains a clause of any of the kinds.
func (s *Statement) Has(kinds ...Kind) bool {
	for _, c := range s.clauses {
		for _, k := range kinds {
			if c.Kind == k {
				return true
			}
		}
	}
	return false
}

// Leading returns the kind of the first clause, and false when the statement
// is empty.
func (s *Statement) Leading() (Kind, bool) {
	if len(s.clauses) == 0 {
		return 0, false
	}
	return s.clauses[0].Kind, true
}

// Fragments flattens the clauses into a single fragment list, separating
// clauses by a space. It is used to inline one statement into another.
func (s *Statement) Fragments() []Fragment {
	var out []Fragment
	for i, c := range s.clauses {
		if i != 0 {
			out = append(out, Text(" "))
		}
		out = append(out, c.Fragments...)
	}
	return out
}

// Render writes the statement out in the given style. It returns the SQL and
// the parameter names the caller must supply values for, in argument order.
// For Named the names are deduplicated; for the positional styles there is
// one name per placeholder.
func (s *Statement) Render(style Style) (string, []string) {
	b := sqlBuilder{style: style, seen: map[string]bool{}}
	b.writeFragments(s.Fragments())
	return b.buf.String(), b.names
}

// CommaSeparated joins a list of fragment groups with ", ".
func CommaSeparated(groups ...[]Fragment) []Fragment {
	var out []Fragment
	for i, g := range groups {
		if i != 0 {
			out = append(out, Text(", "))
		}
		out = append(out, g...)
	}
	return out
}

// ParamList returns the placeholders for names separated by ", ".
func ParamList(names []string) []Fragment {
	groups := make([][]Fragment, len(names))
	for i, name := range names {
		groups[i] = []Fragment{Param(name)}
	}
	return CommaSeparated(groups...)
}

// ScanRaw splits raw SQL into fragments, turning every ":name" whose name is
// in params into a parameter reference. Other text, including "::" casts, is
// kept as it is. Quoted strings are not treated specially.
func ScanRaw(sql string, params map[string]bool) []Fragment {
	var out []Fragment
	start := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] != ':' {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == ':' {
			i++
			continue
		}
		j := i + 1
		for j < len(sql) && isNameByte(sql[j]) {
			j++
		}
		name := sql[i+1 : j]
		if !params[name] {
			continue
		}
		if start < i {
			out = append(out, Text(sql[start:i]))
		}
		out = append(out, Param(name))
		start = j
		i = j - 1
	}
	if start < len(sql) {
		out = append(out, Text(sql[start:]))
	}
	return out
}

func isNameByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// sqlBuilder is used to generate the SQL string piece by piece.
type sqlBuilder struct {
	buf   bytes.Buffer
	style Style
	names []string
	seen  map[string]bool
}

func (b *sqlBuilder) writeFragments(fragments []Fragment) {
	for _, f := range fragments {
		if !f.IsParam() {
			b.buf.WriteString(f.sql)
			continue
		}
		switch b.style {
		case Question:
			b.buf.WriteString("?")
			b.names = append(b.names, f.param)
		case Dollar:
			b.names = append(b.names, f.param)
			b.buf.WriteString("$" + strconv.Itoa(len(b.names)))
		default:
			b.buf.WriteString(":" + f.param)
			if !b.seen[f.param] {
				b.seen[f.param] = true
				b.names = append(b.names, f.param)
			}
		}
	}
}

// InputAssigner hands out the numbers used to name generated placeholders.
// Numbers are never reused until Reset, so names built from them are unique
// within one statement.
type InputAssigner struct {
	// inputCount stores the last used input number.
	inputCount int
}

// Assign reserves the next n numbers and returns the first of them.
// Numbering starts at 1.
func (ia *InputAssigner) Assign(n int) int {
	ia.inputCount += n
	return ia.inputCount - n + 1
}

// Next reserves a single number.
func (ia *InputAssigner) Next() int {
	return ia.Assign(1)
}

// Reset starts the numbering again from 1.
func (ia *InputAssigner) Reset() {
	ia.inputCount = 0
}

// Name builds a placeholder name from a prefix and an assigned number.
func Name(prefix string, n int) string {
	return prefix + "_" + strconv.Itoa(n)
}
