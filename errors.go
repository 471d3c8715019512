// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/canonical/sqlfluent/internal/drivererr"
)

var ErrNoRows = sql.ErrNoRows

var (
	// ErrTransactionState is matched by every error caused by calling a
	// transaction method in the wrong state.
	ErrTransactionState = errors.New("invalid transaction state")

	// ErrTransactionActive is returned by BeginTransaction when a
	// transaction is already running on the builder.
	ErrTransactionActive error = txStateError("transaction already active")

	// ErrNoTransaction is returned by Commit and Rollback when no
	// transaction is running on the builder.
	ErrNoTransaction error = txStateError("no active transaction")
)

var (
	ErrNoClient        = errors.New("builder has no database client")
	ErrNoColumns       = errors.New("no columns given")
	ErrEmptyList       = errors.New("empty value list")
	ErrBetweenArity    = errors.New("BETWEEN needs exactly two values")
	ErrInvalidOperator = errors.New("invalid operator")
	ErrParamCollision  = errors.New("parameter bound twice")
	ErrMissingParam    = errors.New("parameter has no value")

	// ErrUnconditional is returned when an UPDATE or DELETE without a WHERE
	// clause is executed without calling AllRows first.
	ErrUnconditional = errors.New("statement would affect all rows")
)

type txStateError string

func (e txStateError) Error() string {
	return string(e)
}

func (e txStateError) Is(target error) bool {
	return target == ErrTransactionState
}

// ErrorKind is the broad category of a database failure.
type ErrorKind = drivererr.Kind

const (
	UnknownError    = drivererr.Unknown
	ConstraintError = drivererr.Constraint
	SyntaxError     = drivererr.Syntax
	ConnectionError = drivererr.Connection
)

// ExecError is returned when the database rejects a statement, either while
// preparing it or while running it.
type ExecError struct {
	// Query is the SQL sent to the database.
	Query string
	// Kind is the category of Err, when the driver is a known one.
	Kind ErrorKind
	// Err is the driver error.
	Err error
}

func newExecError(query string, err error) *ExecError {
	return &ExecError{Query: query, Kind: drivererr.Classify(err), Err: err}
}

func (e *ExecError) Error() string {
	return "cannot execute statement: " + e.Err.Error()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Cause returns the driver error, for use with errors.Cause.
func (e *ExecError) Cause() error {
	return e.Err
}

// IsConstraintViolation reports whether err is an ExecError caused by an
// integrity constraint.
func IsConstraintViolation(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Kind == ConstraintError
}
