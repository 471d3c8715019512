// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import "sort"

func (db *DB) CacheID() int64 {
	return db.cacheID
}

// CachedQueries returns the SQL of the statements kept prepared for db.
func CachedQueries(db *DB) []string {
	stmtCache.mutex.RLock()
	defer stmtCache.mutex.RUnlock()
	var queries []string
	for query := range stmtCache.dbStmtCache[db.cacheID] {
		queries = append(queries, query)
	}
	sort.Strings(queries)
	return queries
}
