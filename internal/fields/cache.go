// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fields

import (
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	singleCache *cache
	once        sync.Once
)

// Cache enforces the singleton pattern,
// ensuring access to a single instance of cache.
func Cache() *cache {
	once.Do(func() {
		singleCache = &cache{
			cache: make(map[reflect.Type]*Struct),
		}
	})
	return singleCache
}

// cache is responsible for generating, caching and retrieving the reflection
// information of the struct types used as statement data or scan targets.
type cache struct {
	mutex sync.RWMutex
	cache map[reflect.Type]*Struct
}

// Reflect returns the Struct information of a struct type, generating and
// caching it as required.
func (r *cache) Reflect(t reflect.Type) (*Struct, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Errorf("need struct, got %s", t.Kind())
	}

	r.mutex.RLock()
	info, ok := r.cache[t]
	r.mutex.RUnlock()
	if ok {
		return info, nil
	}

	info, err := generate(t)
	if err != nil {
		return nil, err
	}

	r.mutex.Lock()
	r.cache[t] = info
	r.mutex.Unlock()
	return info, nil
}

// generate produces the reflection information for a struct type. Only
// exported fields carrying a "db" tag are recorded.
func generate(t reflect.Type) (*Struct, error) {
	info := &Struct{
		typ:      t,
		byColumn: make(map[string]int),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" || !field.IsExported() {
			continue
		}

		column, omitEmpty, err := parseTag(tag)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s.%s", t.Name(), field.Name)
		}
		if _, dup := info.byColumn[column]; dup {
			return nil, errors.Errorf("field %s.%s: column %q is tagged twice", t.Name(), field.Name, column)
		}

		info.byColumn[column] = len(info.Fields)
		info.Fields = append(info.Fields, Field{
			Name:      field.Name,
			Column:    column,
			OmitEmpty: omitEmpty,
			index:     field.Index,
		})
	}

	return info, nil
}

// parseTag parses the input tag string and returns its
// name and whether it contains the "omitempty" option.
func parseTag(tag string) (string, bool, error) {
	options := strings.Split(tag, ",")

	var omitEmpty bool
	if len(options) > 1 {
		if strings.ToLower(options[1]) != "omitempty" {
			return "", false, errors.Errorf("unexpected tag value %q", options[1])
		}
		omitEmpty = true
	}
	if options[0] == "" {
		return "", false, errors.New("empty column name in tag")
	}

	return options[0], omitEmpty, nil
}
