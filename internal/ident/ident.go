// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ident strips table and column identifiers down to a whitelist of
// characters before they are written into SQL text.
//
// The sanitizers never fail. An identifier made only of disallowed
// characters becomes the empty string, and the resulting statement is left
// for the database to reject.
package ident

import "strings"

// Column keeps the characters of a column identifier that are in the set
// [a-zA-Z0-9*_.], in their original order.
func Column(s string) string {
	return keep(s, true)
}

// Columns sanitizes every column in cols.
func Columns(cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = Column(col)
	}
	return out
}

// Table keeps the characters of a table identifier that are in the set
// [a-zA-Z0-9_.], in their original order.
func Table(s string) string {
	return keep(s, false)
}

// Param turns a column identifier into a name usable as a named
// placeholder. Dots are not valid inside placeholder names so they are
// replaced with underscores, and the wildcard is dropped.
func Param(column string) string {
	var b strings.Builder
	for _, r := range Column(column) {
		switch r {
		case '*':
		case '.':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keep(s string, star bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '.':
		case c == '*' && star:
		default:
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
