package main

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LedgerError is implemented by every typed failure this core surfaces to
// callers. The Reason code is stable and machine-readable; the message is
// safe to expose to external clients and should never leak internal detail
// such as SQL or file paths.
type LedgerError interface {
	error
	Reason() string
}

// ValidationError reports missing or malformed caller input. It is always
// raised before any store mutation, so the caller can correct and resubmit.
type ValidationError struct {
	msg string
}

// Validationf creates a new ValidationError with a formatted message.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string  { return e.msg }
func (e *ValidationError) Reason() string { return "validation_error" }

// IntegrityError reports a reference to a parent, account or currency that
// does not exist or is inactive.
type IntegrityError struct {
	msg string
}

// Integrityf creates a new IntegrityError with a formatted message.
func Integrityf(format string, args ...any) *IntegrityError {
	return &IntegrityError{msg: fmt.Sprintf(format, args...)}
}

func (e *IntegrityError) Error() string  { return e.msg }
func (e *IntegrityError) Reason() string { return "integrity_error" }

// ConflictError reports a violated uniqueness or usage-dependency invariant,
// such as deactivating an account that still has postings.
type ConflictError struct {
	msg string
}

// Conflictf creates a new ConflictError with a formatted message.
func Conflictf(format string, args ...any) *ConflictError {
	return &ConflictError{msg: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string  { return e.msg }
func (e *ConflictError) Reason() string { return "conflict" }

// DuplicateCeilingError reports a second ceiling insert for the same
// (scope target, currency) pair.
type DuplicateCeilingError struct {
	msg string
}

// DuplicateCeilingf creates a new DuplicateCeilingError with a formatted message.
func DuplicateCeilingf(format string, args ...any) *DuplicateCeilingError {
	return &DuplicateCeilingError{msg: fmt.Sprintf(format, args...)}
}

func (e *DuplicateCeilingError) Error() string  { return e.msg }
func (e *DuplicateCeilingError) Reason() string { return "duplicate_ceiling" }

// UnbalancedEntryError reports a journal group whose debits and credits do
// not match. It is a programming error in an orchestrator, never a
// recoverable input problem, and must never partially commit.
type UnbalancedEntryError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("unbalanced journal entry: debits %s != credits %s", e.Debit, e.Credit)
}

func (e *UnbalancedEntryError) Reason() string { return "unbalanced_entry" }

// InvalidLineError reports a single journal line that violates the engine's
// preconditions, such as both sides set or excess decimal precision.
type InvalidLineError struct {
	msg string
}

// InvalidLinef creates a new InvalidLineError with a formatted message.
func InvalidLinef(format string, args ...any) *InvalidLineError {
	return &InvalidLineError{msg: fmt.Sprintf(format, args...)}
}

func (e *InvalidLineError) Error() string  { return e.msg }
func (e *InvalidLineError) Reason() string { return "invalid_line" }

// CeilingExceededError reports a posting rejected by a blocking ceiling.
// It carries the configured limit and the exposure the posting would have
// produced, so callers can show both to the user.
type CeilingExceededError struct {
	Limit     decimal.Decimal
	Attempted decimal.Decimal
	Side      EntrySide
}

func (e *CeilingExceededError) Error() string {
	return fmt.Sprintf("ceiling exceeded: %s exposure %s is over the configured limit %s", e.Side, e.Attempted, e.Limit)
}

func (e *CeilingExceededError) Reason() string { return "ceiling_exceeded" }
