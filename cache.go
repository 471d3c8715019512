// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import (
	"context"
	"database/sql"
	"runtime"
	"sync"
	"sync/atomic"
)

// dbIDCount is a global variable used to generate unique DB IDs.
var dbIDCount int64

type dbID = int64

// statementCache caches the sql.Stmt values prepared for each DB, indexed by
// the DB ID and the SQL text of the statement. Builders produce the same text
// for the same shape of statement, so repeated statements reuse the driver
// prepared statement.
//
// A finalizer is set on DB values to close all the statements prepared upon
// the DB and remove the DB from the cache. The underlying client is not
// closed; it belongs to the caller.
//
// The mutex must be locked when accessing dbStmtCache.
type statementCache struct {
	dbStmtCache map[dbID]map[string]*sql.Stmt
	mutex       sync.RWMutex
}

var once sync.Once
var singleStmtCache *statementCache

// stmtCache stores the driver prepared statements of every DB.
var stmtCache = newStatementCache()

// newStatementCache returns the single instance of the statement cache.
func newStatementCache() *statementCache {
	once.Do(func() {
		singleStmtCache = &statementCache{
			dbStmtCache: map[dbID]map[string]*sql.Stmt{},
		}
	})
	return singleStmtCache
}

// newDB registers db in the cache under a fresh ID and sets its finalizer.
func (sc *statementCache) newDB(db *DB) *DB {
	db.cacheID = atomic.AddInt64(&dbIDCount, 1)
	sc.mutex.Lock()
	sc.dbStmtCache[db.cacheID] = map[string]*sql.Stmt{}
	sc.mutex.Unlock()
	runtime.SetFinalizer(db, sc.getDBFinalizer())
	return db
}

// lookupStmt returns the statement prepared on db for query, if any.
func (sc *statementCache) lookupStmt(db *DB, query string) (*sql.Stmt, bool) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	sqlstmt, ok := sc.dbStmtCache[db.cacheID][query]
	return sqlstmt, ok
}

// prepareStmt returns a statement for query prepared on the client of db.
// It first checks the cache. When the cache of db is full, or caching is
// disabled, the statement is prepared but not cached and cached is false:
// the caller must then close it.
func (sc *statementCache) prepareStmt(ctx context.Context, db *DB, query string) (sqlstmt *sql.Stmt, cached bool, err error) {
	if sqlstmt, ok := sc.lookupStmt(db, query); ok {
		return sqlstmt, true, nil
	}

	sqlstmt, err = db.client.PrepareContext(ctx, query)
	if err != nil {
		return nil, false, err
	}

	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	stmts, ok := sc.dbStmtCache[db.cacheID]
	if !ok || len(stmts) >= db.cacheSize {
		return sqlstmt, false, nil
	}
	// Check if a statement has been inserted by someone else since we last
	// checked.
	if sqlstmtAlt, ok := stmts[query]; ok {
		sqlstmt.Close()
		return sqlstmtAlt, true, nil
	}
	stmts[query] = sqlstmt
	return sqlstmt, true, nil
}

// removeDB closes all the statements prepared on db and forgets the DB.
func (sc *statementCache) removeDB(db *DB) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	var firstErr error
	for _, sqlstmt := range sc.dbStmtCache[db.cacheID] {
		if err := sqlstmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	delete(sc.dbStmtCache, db.cacheID)
	return firstErr
}

// getDBFinalizer returns a finalizer that closes and removes from the cache
// all sql.Stmt values prepared on the database.
func (sc *statementCache) getDBFinalizer() func(*DB) {
	return func(db *DB) {
		_ = sc.removeDB(db)
	}
}
