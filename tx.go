// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BeginTransaction starts a transaction. Until [Builder.Commit] or
// [Builder.Rollback] every statement of the builder, and of the builders
// sharing its session, runs inside it. Transactions do not nest.
func (b *Builder) BeginTransaction(ctx context.Context, opts *TXOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.sess.tx != nil {
		return ErrTransactionActive
	}
	db := b.sess.db
	if db == nil {
		return ErrNoClient
	}
	sqltx, err := db.client.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return errors.Wrap(err, "cannot begin transaction")
	}
	b.sess.tx = sqltx
	db.logger.Debug("transaction started")
	return nil
}

// Commit commits the running transaction.
func (b *Builder) Commit() error {
	sqltx := b.sess.tx
	if sqltx == nil {
		return ErrNoTransaction
	}
	b.sess.tx = nil
	if err := sqltx.Commit(); err != nil {
		return errors.Wrap(err, "cannot commit transaction")
	}
	b.sess.db.logger.Debug("transaction committed")
	return nil
}

// Rollback aborts the running transaction.
func (b *Builder) Rollback() error {
	sqltx := b.sess.tx
	if sqltx == nil {
		return ErrNoTransaction
	}
	b.sess.tx = nil
	if err := sqltx.Rollback(); err != nil {
		return errors.Wrap(err, "cannot roll back transaction")
	}
	b.sess.db.logger.Debug("transaction rolled back")
	return nil
}

// Transaction runs fn inside a transaction. The transaction is committed if
// fn returns nil and rolled back otherwise, in which case the error of fn is
// returned. If fn panics the transaction is rolled back and the panic
// carries on.
func (b *Builder) Transaction(ctx context.Context, fn func(*Builder) error) error {
	if err := b.BeginTransaction(ctx, nil); err != nil {
		return err
	}
	logger := b.sess.db.logger
	defer func() {
		if p := recover(); p != nil {
			if rerr := b.Rollback(); rerr != nil && !errors.Is(rerr, ErrNoTransaction) {
				logger.Warn("cannot roll back after panic", zap.Error(rerr))
			}
			panic(p)
		}
	}()

	if err := fn(b); err != nil {
		logger.Warn("transaction callback failed, rolling back", zap.Error(err))
		if rerr := b.Rollback(); rerr != nil && !errors.Is(rerr, ErrNoTransaction) {
			logger.Warn("cannot roll back transaction", zap.Error(rerr))
		}
		return err
	}
	if !b.InTransaction() {
		// fn ended the transaction itself.
		return nil
	}
	return b.Commit()
}
