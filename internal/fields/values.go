// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fields

import (
	"reflect"
	"sort"

	"github.com/pkg/errors"
)

// Columns returns the column names and values held by data. data is either a
// map with string keys, in which case the columns are sorted, or a struct or
// pointer to struct with "db" tags, in which case the columns follow field
// order and zero "omitempty" fields are skipped.
func Columns(data any) ([]string, []any, error) {
	if data == nil {
		return nil, nil, errors.New("need map or struct, got nil")
	}
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil, errors.Errorf("need map or struct, got nil %s", v.Type())
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, nil, errors.Errorf("map keys must be strings, got %s", v.Type().Key())
		}
		keys := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			keys = append(keys, iter.Key().String())
		}
		sort.Strings(keys)
		vals := make([]any, len(keys))
		for i, k := range keys {
			vals[i] = v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key())).Interface()
		}
		return keys, vals, nil
	case reflect.Struct:
		info, err := Cache().Reflect(v.Type())
		if err != nil {
			return nil, nil, err
		}
		var cols []string
		var vals []any
		for _, f := range info.Fields {
			fv := v.FieldByIndex(f.index)
			if f.OmitEmpty && fv.IsZero() {
				continue
			}
			cols = append(cols, f.Column)
			vals = append(vals, fv.Interface())
		}
		return cols, vals, nil
	}
	return nil, nil, errors.Errorf("need map or struct, got %s", v.Kind())
}

// Targets returns one scan destination per column pointing into the struct
// held by v, which must be addressable. Columns that no field is tagged with
// are scanned into throwaway values.
func Targets(v reflect.Value, cols []string) ([]any, error) {
	info, err := Cache().Reflect(v.Type())
	if err != nil {
		return nil, err
	}
	ptrs := make([]any, len(cols))
	for i, col := range cols {
		f, ok := info.Field(col)
		if !ok {
			ptrs[i] = new(any)
			continue
		}
		ptrs[i] = v.FieldByIndex(f.index).Addr().Interface()
	}
	return ptrs, nil
}
