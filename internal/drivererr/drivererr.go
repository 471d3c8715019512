// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package drivererr sorts the errors returned by the supported database
// drivers into a few broad kinds.
package drivererr

import (
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Kind is the broad category of a driver error.
type Kind int

const (
	// Unknown is used for errors that could not be matched.
	Unknown Kind = iota
	// Constraint is an integrity constraint violation: unique, foreign
	// key, not null or check.
	Constraint
	// Syntax covers statements the database refused to compile, including
	// references to missing tables or columns.
	Syntax
	// Connection means the statement may never have reached the database.
	Connection
)

func (k Kind) String() string {
	switch k {
	case Constraint:
		return "constraint"
	case Syntax:
		return "syntax"
	case Connection:
		return "connection"
	}
	return "unknown"
}

// MySQL error numbers.
const (
	mysqlDuplicateEntry      = 1062
	mysqlForeignKeyParent    = 1451
	mysqlForeignKeyChild     = 1452
	mysqlNotNull             = 1048
	mysqlForeignKeyOldParent = 1216
	mysqlForeignKeyOldChild  = 1217
	mysqlCheckViolated       = 3819
	mysqlParseError          = 1064
	mysqlNoSuchTable         = 1146
	mysqlBadField            = 1054
)

// Classify returns the kind of err. Errors from drivers other than SQLite,
// MySQL and PostgreSQL are only recognised when they are connection errors.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteKind(sqliteErr)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlKind(mysqlErr.Number)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqKind(pqErr.Code.Class())
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return Connection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Connection
	}
	return Unknown
}

func sqliteKind(err sqlite3.Error) Kind {
	switch err.Code {
	case sqlite3.ErrConstraint:
		return Constraint
	case sqlite3.ErrError:
		return Syntax
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
		return Connection
	}
	return Unknown
}

func mysqlKind(number uint16) Kind {
	switch number {
	case mysqlDuplicateEntry, mysqlForeignKeyParent, mysqlForeignKeyChild, mysqlNotNull,
		mysqlForeignKeyOldParent, mysqlForeignKeyOldChild, mysqlCheckViolated:
		return Constraint
	case mysqlParseError, mysqlNoSuchTable, mysqlBadField:
		return Syntax
	}
	return Unknown
}

func pqKind(class pq.ErrorClass) Kind {
	switch class {
	case "23":
		return Constraint
	case "42":
		return Syntax
	case "08":
		return Connection
	}
	return Unknown
}
