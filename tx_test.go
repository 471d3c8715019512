// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent_test

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlfluent"
)

type TxSuite struct{}

var _ = Suite(&TxSuite{})

// countingClient counts the transactions started on the database.
type countingClient struct {
	*sql.DB
	begins int
}

func (cc *countingClient) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	cc.begins++
	return cc.DB.BeginTx(ctx, opts)
}

func countPeople(c *C, b *sqlfluent.Builder) int {
	rows, err := b.Select("id").From("person").Get(context.Background())
	c.Assert(err, IsNil)
	return len(rows)
}

func (s *TxSuite) TestTransactions(c *C) {
	sqldb := personAndAddressDB(c)
	defer sqldb.Close()
	b := sqlfluent.NewDB(sqldb).Builder()
	ctx := context.Background()

	// Insert derek then rollback.
	c.Assert(b.BeginTransaction(ctx, nil), IsNil)
	c.Assert(b.InTransaction(), Equals, true)
	_, err := b.Insert("person", NewPerson{Name: "Derek", AddressID: 8000}).InsertID(ctx)
	c.Assert(err, IsNil)
	c.Assert(countPeople(c, b), Equals, 5)
	c.Assert(b.Rollback(), IsNil)
	c.Assert(b.InTransaction(), Equals, false)

	// Check derek isnt in db; insert derek; commit.
	c.Assert(countPeople(c, b), Equals, 4)
	c.Assert(b.BeginTransaction(ctx, &sqlfluent.TXOptions{}), IsNil)
	_, err = b.Insert("person", NewPerson{Name: "Derek", AddressID: 8000}).InsertID(ctx)
	c.Assert(err, IsNil)
	c.Assert(b.Commit(), IsNil)

	// Check derek is now in the db.
	var derek Person
	err = b.Select().From("person").Where("name", sqlfluent.Equals, "Derek").FirstInto(ctx, &derek)
	c.Assert(err, IsNil)
	c.Assert(derek.AddressID, Equals, 8000)
}

func (s *TxSuite) TestTransactionCallback(c *C) {
	sqldb := personAndAddressDB(c)
	defer sqldb.Close()
	b := sqlfluent.NewDB(sqldb).Builder()
	ctx := context.Background()

	// A failing callback rolls back.
	err := b.Transaction(ctx, func(tb *sqlfluent.Builder) error {
		c.Assert(tb.InTransaction(), Equals, true)
		if _, err := tb.Insert("person", sqlfluent.M{"name": "Derek"}).InsertID(ctx); err != nil {
			return err
		}
		_, err := tb.Delete("person").Where("id", sqlfluent.Equals, 30).Affected(ctx)
		c.Assert(err, IsNil)
		return errors.New("something went wrong")
	})
	c.Assert(err, ErrorMatches, "something went wrong")
	c.Assert(b.InTransaction(), Equals, false)
	c.Assert(countPeople(c, b), Equals, 4)

	// A failing statement rolls back too.
	err = b.Transaction(ctx, func(tb *sqlfluent.Builder) error {
		if _, err := tb.Insert("person", sqlfluent.M{"name": "Derek"}).InsertID(ctx); err != nil {
			return err
		}
		_, err := tb.Insert("person", sqlfluent.M{"id": 30, "name": "Fred"}).InsertID(ctx)
		return err
	})
	c.Assert(sqlfluent.IsConstraintViolation(err), Equals, true)
	c.Assert(countPeople(c, b), Equals, 4)

	// A successful callback commits.
	err = b.Transaction(ctx, func(tb *sqlfluent.Builder) error {
		_, err := tb.Insert("person", sqlfluent.M{"name": "Derek"}).InsertID(ctx)
		return err
	})
	c.Assert(err, IsNil)
	c.Assert(b.InTransaction(), Equals, false)
	c.Assert(countPeople(c, b), Equals, 5)

	// A panicking callback rolls back and the panic carries on.
	c.Assert(func() {
		b.Transaction(ctx, func(tb *sqlfluent.Builder) error {
			_, err := tb.Delete("person").AllRows().Affected(ctx)
			c.Assert(err, IsNil)
			panic("kaboom")
		})
	}, PanicMatches, "kaboom")
	c.Assert(b.InTransaction(), Equals, false)
	c.Assert(countPeople(c, b), Equals, 5)

	// The callback may end the transaction itself.
	err = b.Transaction(ctx, func(tb *sqlfluent.Builder) error {
		if _, err := tb.Delete("person").AllRows().Affected(ctx); err != nil {
			return err
		}
		return tb.Rollback()
	})
	c.Assert(err, IsNil)
	c.Assert(countPeople(c, b), Equals, 5)
}

func (s *TxSuite) TestTransactionStateErrors(c *C) {
	sqldb := personAndAddressDB(c)
	defer sqldb.Close()
	client := &countingClient{DB: sqldb}
	b := sqlfluent.NewDB(client).Builder()
	ctx := context.Background()

	err := b.Commit()
	c.Assert(err, Equals, sqlfluent.ErrNoTransaction)
	c.Assert(errors.Is(err, sqlfluent.ErrTransactionState), Equals, true)
	err = b.Rollback()
	c.Assert(err, Equals, sqlfluent.ErrNoTransaction)
	c.Assert(errors.Is(err, sqlfluent.ErrTransactionState), Equals, true)
	c.Assert(client.begins, Equals, 0)

	c.Assert(b.BeginTransaction(ctx, nil), IsNil)
	err = b.BeginTransaction(ctx, nil)
	c.Assert(err, Equals, sqlfluent.ErrTransactionActive)
	c.Assert(errors.Is(err, sqlfluent.ErrTransactionState), Equals, true)
	c.Assert(client.begins, Equals, 1)

	err = b.Transaction(ctx, func(*sqlfluent.Builder) error {
		c.Fatalf("callback run inside an active transaction")
		return nil
	})
	c.Assert(err, Equals, sqlfluent.ErrTransactionActive)
	c.Assert(b.InTransaction(), Equals, true)

	// Builders created with Sub share the transaction.
	sub := b.Sub()
	c.Assert(sub.InTransaction(), Equals, true)
	c.Assert(sub.Rollback(), IsNil)
	c.Assert(b.InTransaction(), Equals, false)
	c.Assert(client.begins, Equals, 1)

	// Other builders of the same database do not.
	c.Assert(b.BeginTransaction(ctx, nil), IsNil)
	c.Assert(sqlfluent.NewDB(client).Builder().InTransaction(), Equals, false)
	c.Assert(b.Commit(), IsNil)

	err = sqlfluent.New().BeginTransaction(ctx, nil)
	c.Assert(err, Equals, sqlfluent.ErrNoClient)
}

func (s *TxSuite) TestLogging(c *C) {
	sqldb := personAndAddressDB(c)
	defer sqldb.Close()
	core, logs := observer.New(zapcore.DebugLevel)
	b := sqlfluent.NewDB(sqldb, sqlfluent.WithLogger(zap.New(core))).Builder()
	ctx := context.Background()

	_, err := b.Select("name").From("person").Where("id", sqlfluent.Equals, 30).First(ctx)
	c.Assert(err, IsNil)
	executed := logs.FilterMessage("statement executed").All()
	c.Assert(executed, HasLen, 1)
	c.Assert(executed[0].ContextMap()["query"], Equals, "SELECT name FROM person WHERE id = :cond_1")
	c.Assert(executed[0].ContextMap()["args"], Equals, int64(1))
	c.Assert(executed[0].ContextMap()["transaction"], Equals, false)

	_, err = b.Select().From("nosuchtable").Get(ctx)
	c.Assert(err, NotNil)
	failed := logs.FilterMessage("statement failed").All()
	c.Assert(failed, HasLen, 1)
	c.Assert(failed[0].Level, Equals, zapcore.WarnLevel)
	c.Assert(failed[0].ContextMap()["query"], Equals, "SELECT * FROM nosuchtable")

	err = b.Transaction(ctx, func(tb *sqlfluent.Builder) error {
		return errors.New("boom")
	})
	c.Assert(err, ErrorMatches, "boom")
	c.Assert(logs.FilterMessage("transaction started").Len(), Equals, 1)
	c.Assert(logs.FilterMessage("transaction rolled back").Len(), Equals, 1)
	c.Assert(logs.FilterMessage("transaction callback failed, rolling back").Len(), Equals, 1)
}
