// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import (
	"context"
	"database/sql"
	"runtime"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	gc "gopkg.in/check.v1"
)

// Hook up gocheck into the "go test" runner.
func TestPackage(t *testing.T) { gc.TestingT(t) }

type CacheSuite struct{}

var _ = gc.Suite(&CacheSuite{})

func (s *CacheSuite) TearDownTest(c *gc.C) {
	// Check every test finishes cleanly.
	s.triggerFinalizers()
	s.checkDriverStmtsAllClosed(c)
}

func (s *CacheSuite) TearDownSuite(_ *gc.C) {
	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()

	// Reset prepared statements trackers.
	closedStmts = map[string]map[uintptr]bool{}
	openedStmts = map[string]map[uintptr]string{}

	// Reset query counters.
	queriesRunMutex.Lock()
	defer queriesRunMutex.Unlock()
	dbQueriesRun = map[string]int{}
	stmtQueriesRun = map[string]int{}
}

func (s *CacheSuite) TestPreparedStatementReuse(c *gc.C) {
	var id dbID
	// For a DB to be removed from the cache it needs to go out of scope and be
	// garbage collected. A function is used to "forget" the database.
	func() {
		db := s.openDB(c)
		id = db.cacheID
		ctx := context.Background()

		// Run a statement on db. This will prepare the statement on the db.
		_, err := db.Builder().Select("1").First(ctx)
		c.Assert(err, gc.IsNil)

		// Check a statement is in the cache and a prepared statement has been
		// opened on the DB.
		s.checkStmtInCache(c, db, "SELECT 1")
		s.checkNumDBStmts(c, db.cacheID, 1)
		s.checkDriverStmtsOpened(c, 1)

		// Run the same statement from another builder.
		_, err = db.Builder().Select("1").First(ctx)
		c.Assert(err, gc.IsNil)

		// Check that running a second time does not prepare a second statement.
		s.checkNumDBStmts(c, db.cacheID, 1)
		s.checkDriverStmtsOpened(c, 1)
		s.checkQueriesRunOnStmt(c, 2)
	}()

	s.triggerFinalizers()

	// Check the prepared statement has been removed from the cache and closed.
	s.checkDBNotInCache(c, id)
	s.checkDriverStmtsAllClosed(c)
}

func (s *CacheSuite) TestSameShapeSharesStatement(c *gc.C) {
	db := s.openDB(c)
	ctx := context.Background()

	// The placeholder names only depend on the shape of the statement, so
	// different values reuse the prepared statement.
	for i := 0; i < 3; i++ {
		b := db.Builder().Select("1").Where("1", Equals, i)
		_, err := b.Get(ctx)
		c.Assert(err, gc.IsNil)
	}
	s.checkNumDBStmts(c, db.cacheID, 1)
	s.checkDriverStmtsOpened(c, 1)
	s.checkQueriesRunOnStmt(c, 3)
}

func (s *CacheSuite) TestClosingDB(c *gc.C) {
	db := s.openDB(c)
	ctx := context.Background()

	_, err := db.Builder().Select("1").First(ctx)
	c.Assert(err, gc.IsNil)
	s.checkNumDBStmts(c, db.cacheID, 1)

	c.Assert(db.Close(), gc.IsNil)
	s.checkDBNotInCache(c, db.cacheID)
	s.checkDriverStmtsAllClosed(c)

	// The database still runs statements once its cache is gone, without
	// keeping them prepared.
	_, err = db.Builder().Select("1").First(ctx)
	c.Assert(err, gc.IsNil)
	s.checkDriverStmtsOpened(c, 2)
	s.checkDriverStmtsAllClosed(c)
}

func (s *CacheSuite) TestCacheSizeLimit(c *gc.C) {
	db := s.openDB(c, WithStatementCacheSize(1))
	ctx := context.Background()

	_, err := db.Builder().Select("1").First(ctx)
	c.Assert(err, gc.IsNil)
	_, err = db.Builder().Select("2").First(ctx)
	c.Assert(err, gc.IsNil)

	// Only the first statement is kept, the second one is closed after use.
	s.checkDriverStmtsOpened(c, 2)
	s.checkDriverStmtsClosed(c, 1)
	s.checkStmtInCache(c, db, "SELECT 1")
	s.checkNumDBStmts(c, db.cacheID, 1)
}

func (s *CacheSuite) TestCacheDisabled(c *gc.C) {
	db := s.openDB(c, WithStatementCacheSize(0))
	ctx := context.Background()

	rows, err := db.Builder().Select("1").Get(ctx)
	c.Assert(err, gc.IsNil)
	c.Assert(rows, gc.HasLen, 1)
	_, err = db.Builder().RawSQL("CREATE TABLE IF NOT EXISTS cache_disabled (id integer)").Execute(ctx)
	c.Assert(err, gc.IsNil)

	s.checkNumDBStmts(c, db.cacheID, 0)
	s.checkDriverStmtsOpened(c, 2)
	s.checkDriverStmtsAllClosed(c)
}

func (s *CacheSuite) TestPreparedStatementsInTX(c *gc.C) {
	db := s.openDB(c)
	ctx := context.Background()
	b := db.Builder()

	// Start a new transaction.
	c.Assert(b.BeginTransaction(ctx, nil), gc.IsNil)

	// A statement executed in a transaction will reuse a prepared statement
	// if it exists, but it will not create one if it does not. The query
	// below should run directly on the connection.
	_, err := b.Select("1").First(ctx)
	c.Assert(err, gc.IsNil)
	// Check no new statement has been added to the driver cache.
	s.checkNumDBStmts(c, db.cacheID, 0)
	s.checkQueriesRunOnDB(c, 1)
	s.checkQueriesRunOnStmt(c, 0)
	c.Assert(b.Commit(), gc.IsNil)

	// Prepare the query on the database by running it.
	_, err = b.Select("1").First(ctx)
	c.Assert(err, gc.IsNil)
	s.checkStmtInCache(c, db, "SELECT 1")
	s.checkNumDBStmts(c, db.cacheID, 1)
	s.checkQueriesRunOnDB(c, 1)
	s.checkQueriesRunOnStmt(c, 1)

	// Run the statement in a transaction. This should reuse the prepared
	// statement.
	c.Assert(b.BeginTransaction(ctx, nil), gc.IsNil)
	_, err = b.Select("1").First(ctx)
	c.Assert(err, gc.IsNil)
	s.checkNumDBStmts(c, db.cacheID, 1)
	s.checkQueriesRunOnDB(c, 1)
	s.checkQueriesRunOnStmt(c, 2)
	c.Assert(b.Commit(), gc.IsNil)
}

// TestLateResult checks that a result that outlives its database does not
// throw a statement is closed error.
func (s *CacheSuite) TestLateResult(c *gc.C) {
	var res *Result
	func() {
		db := s.openDB(c, WithStatementCacheSize(0))
		var err error
		res, err = db.Builder().Select("1").Execute(context.Background())
		c.Assert(err, gc.IsNil)
	}()

	s.triggerFinalizers()

	row, err := res.FetchOne()
	c.Assert(err, gc.IsNil)
	c.Assert(row["1"], gc.Equals, int64(1))
	c.Assert(res.Close(), gc.IsNil)
}

func (s *CacheSuite) openDB(c *gc.C, opts ...Option) *DB {
	sqldb, err := sql.Open("sqlite3_stmtChecked", "file:test.db?cache=shared&mode=memory&testName="+c.TestName())
	c.Assert(err, gc.IsNil)
	return NewDB(sqldb, opts...)
}

func (s *CacheSuite) triggerFinalizers() {
	// Try to run finalizers by calling GC several times.
	for i := 0; i <= 10; i++ {
		runtime.GC()
		time.Sleep(0)
	}
}

func (s *CacheSuite) checkStmtInCache(c *gc.C, db *DB, query string) {
	_, ok := stmtCache.lookupStmt(db, query)
	c.Check(ok, gc.Equals, true)
}

func (s *CacheSuite) checkDBNotInCache(c *gc.C, id dbID) {
	stmtCache.mutex.RLock()
	defer stmtCache.mutex.RUnlock()
	_, ok := stmtCache.dbStmtCache[id]
	c.Check(ok, gc.Equals, false)
}

func (s *CacheSuite) checkNumDBStmts(c *gc.C, id dbID, n int) {
	stmtCache.mutex.RLock()
	defer stmtCache.mutex.RUnlock()
	sc, ok := stmtCache.dbStmtCache[id]
	c.Check(ok, gc.Equals, true)
	c.Check(sc, gc.HasLen, n)
}

func (s *CacheSuite) checkDriverStmtsAllClosed(c *gc.C) {
	stmtRegistryMutex.RLock()
	defer stmtRegistryMutex.RUnlock()
	c.Check(len(openedStmts[c.TestName()]), gc.Equals, len(closedStmts[c.TestName()]))
}

func (s *CacheSuite) checkDriverStmtsOpened(c *gc.C, n int) {
	stmtRegistryMutex.RLock()
	defer stmtRegistryMutex.RUnlock()
	c.Check(openedStmts[c.TestName()], gc.HasLen, n)
}

func (s *CacheSuite) checkDriverStmtsClosed(c *gc.C, n int) {
	stmtRegistryMutex.RLock()
	defer stmtRegistryMutex.RUnlock()
	c.Check(closedStmts[c.TestName()], gc.HasLen, n)
}

func (s *CacheSuite) checkQueriesRunOnDB(c *gc.C, n int) {
	queriesRunMutex.RLock()
	defer queriesRunMutex.RUnlock()
	c.Check(dbQueriesRun[c.TestName()], gc.Equals, n)
}

func (s *CacheSuite) checkQueriesRunOnStmt(c *gc.C, n int) {
	queriesRunMutex.RLock()
	defer queriesRunMutex.RUnlock()
	c.Check(stmtQueriesRun[c.TestName()], gc.Equals, n)
}
