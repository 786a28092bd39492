package domain

import (
	"errors"
	"fmt"
)

// ErrAlreadyExists is returned (wrapped) when a ledger already holds an import id.
var ErrAlreadyExists = errors.New("already exists")

// ErrEmptySource is returned when a run finds no source transactions at all.
var ErrEmptySource = errors.New("source batch is empty")

// ConversionError reports a source record field that could not be converted.
// Not retried: the run aborts rather than silently dropping financial data.
type ConversionError struct {
	Field  string // "amount", "date", "description"
	Value  string
	Record int // 1-based position within the source batch, 0 if unknown
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("cannot convert %s %q", e.Field, e.Value)
	if e.Record > 0 {
		msg = fmt.Sprintf("record %d: %s", e.Record, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

// SourceFetchError reports that a collaborator could not deliver its data
// (source export unreadable, ledger read failed). No ledger writes follow it.
type SourceFetchError struct {
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// LedgerWriteError reports one failed create/update/delete. Write errors are
// accumulated for the end-of-run report and never stop the remaining writes.
type LedgerWriteError struct {
	Op            string // "create", "update", "delete"
	AccountID     string
	TransactionID string
	ImportID      string
	Err           error
}

func (e *LedgerWriteError) Error() string {
	target := e.TransactionID
	if target == "" {
		target = e.ImportID
	}
	if e.AccountID != "" {
		target = e.AccountID + "/" + target
	}
	return fmt.Sprintf("ledger %s %s failed: %v", e.Op, target, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }
