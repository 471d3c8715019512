// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package fields maps structs tagged with "db" to column names, both to
// read statement data out of them and to scan result rows into them.
package fields

import (
	"reflect"
)

// Field represents a single tagged field from a struct type.
type Field struct {
	// Name is the name of the struct field.
	Name string

	// Column is the column name taken from the "db" tag.
	Column string

	// OmitEmpty is true when "omitempty" is
	// a property of the field's "db" tag.
	OmitEmpty bool

	index []int
}

// Struct represents reflected information about a struct type.
type Struct struct {
	typ reflect.Type

	// Fields holds the tagged fields in declaration order.
	// Fields without a "db" tag are ignored.
	Fields []Field

	// byColumn maps "db" tags to positions in Fields.
	byColumn map[string]int
}

// Name returns the name of the struct type.
func (s *Struct) Name() string {
	return s.typ.Name()
}

// Field returns the field tagged with column.
func (s *Struct) Field(column string) (Field, bool) {
	i, ok := s.byColumn[column]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}
