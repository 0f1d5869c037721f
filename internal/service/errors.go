// Package service implements the match core: the token ledger, matchmaking,
// the match state machine, settlement and player statistics.
//
// Every rejected operation returns a *Error carrying a transport-neutral code
// and a reason suitable for showing to the user. Any other error is an
// infrastructure failure.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Code classifies a rejected operation.
type Code string

// Error codes.
const (
	CodeNotFound          Code = "not_found"
	CodeInvalidTransition Code = "invalid_transition"
	CodeForbidden         Code = "forbidden"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeOccupied          Code = "occupied"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeInternal          Code = "internal"
)

// Error is a domain rejection.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// Domain rejections.
var (
	ErrInsufficientFunds = &Error{CodeInsufficientFunds, "insufficient tokens"}
	ErrBalanceOverflow   = &Error{CodeInvalidArgument, "balance limit exceeded"}
	ErrInvalidAmount     = &Error{CodeInvalidArgument, "amount must be positive"}
	ErrZeroAmount        = &Error{CodeInvalidArgument, "amount must not be zero"}
	ErrInvalidKind       = &Error{CodeInvalidArgument, "unknown transaction kind"}
	ErrInvalidStake      = &Error{CodeInvalidArgument, "stake must be positive"}
	ErrStakeTooLow       = &Error{CodeInvalidArgument, "stake is below the minimum"}
	ErrStakeTooHigh      = &Error{CodeInvalidArgument, "stake is above the maximum"}
	ErrInvalidPosition   = &Error{CodeInvalidArgument, "position must be between 0 and 8"}
	ErrInvalidCode       = &Error{CodeInvalidArgument, "match code is required"}

	ErrMatchNotFound = &Error{CodeNotFound, "match not found"}
	ErrNoResult      = &Error{CodeNotFound, "match has no result yet"}

	ErrMatchFull   = &Error{CodeInvalidTransition, "match is full"}
	ErrNotWaiting  = &Error{CodeInvalidTransition, "match is not waiting for players"}
	ErrCannotStart = &Error{CodeInvalidTransition, "match cannot be started"}
	ErrNotOngoing  = &Error{CodeInvalidTransition, "match is not in progress"}
	ErrNotFinished = &Error{CodeInvalidTransition, "match is not finished"}

	ErrNotParticipant = &Error{CodeForbidden, "not part of this match"}
	ErrNotYourTurn    = &Error{CodeForbidden, "not your turn"}

	ErrCellOccupied = &Error{CodeOccupied, "cell already occupied"}
)

// AsError returns the domain error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of a domain error and CodeInternal for anything else.
func CodeOf(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf returns a user-facing message for err.
func ReasonOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Reason
	}
	return "internal error, please try again later"
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

func wrap(op string, err error) error {
	if _, ok := AsError(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
