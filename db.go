// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/canonical/sqlfluent/internal/assemble"
)

// DefaultStatementCacheSize is the number of prepared statements kept per
// [DB] unless [WithStatementCacheSize] says otherwise.
const DefaultStatementCacheSize = 128

// Client is the connection statements are prepared and transactions started
// on. Both [sql.DB] and [sql.Conn] implement it.
type Client interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Placeholders selects how parameters are written into generated SQL. It
// must match what the driver accepts.
type Placeholders = assemble.Style

const (
	// NamedPlaceholders writes ":name" and binds [sql.Named] arguments. It is
	// understood by go-sqlite3.
	NamedPlaceholders = assemble.Named
	// QuestionPlaceholders writes "?" and binds positional arguments, as
	// expected by MySQL.
	QuestionPlaceholders = assemble.Question
	// DollarPlaceholders writes "$1", "$2", ... and binds positional
	// arguments, as expected by PostgreSQL.
	DollarPlaceholders = assemble.Dollar
)

// DB runs the statements of its builders on a [Client].
type DB struct {
	// cacheID is used to look up the driver prepared statements prepared
	// on this database.
	cacheID dbID
	// client is the underlying connection.
	client    Client
	logger    *zap.Logger
	style     assemble.Style
	cacheSize int
}

// Option configures a [DB].
type Option func(*DB)

// WithLogger sets the logger statements and transactions are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// WithPlaceholders sets the placeholder style of generated SQL.
func WithPlaceholders(style Placeholders) Option {
	return func(db *DB) {
		db.style = style
	}
}

// WithStatementCacheSize bounds the number of prepared statements kept for
// reuse. Zero disables the cache.
func WithStatementCacheSize(n int) Option {
	return func(db *DB) {
		if n < 0 {
			n = 0
		}
		db.cacheSize = n
	}
}

// NewDB creates a new [DB] on top of client.
func NewDB(client Client, opts ...Option) *DB {
	if client == nil {
		return nil
	}
	db := &DB{
		client:    client,
		logger:    zap.NewNop(),
		style:     NamedPlaceholders,
		cacheSize: DefaultStatementCacheSize,
	}
	for _, opt := range opts {
		opt(db)
	}
	return stmtCache.newDB(db)
}

// PlainClient returns the underlying client.
func (db *DB) PlainClient() Client {
	return db.client
}

// Builder returns a new builder running its statements on db.
func (db *DB) Builder() *Builder {
	return newBuilder(db)
}

// Close closes the prepared statements cached for db. The client is left
// open.
func (db *DB) Close() error {
	return stmtCache.removeDB(db)
}

// TXOptions holds the transaction options to be used in
// [Builder.BeginTransaction].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}
