// Package ledger defines what a sync run needs from a budgeting ledger.
// Backends live in subpackages and sibling packages (sqlite, firestore, mongo).
package ledger

import (
	"context"
	"time"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/dedup"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
)

// Ledger is the read/write contract a backend implements.
//
// Import IDs are dedup keys scoped to an account: creating a transaction whose
// (account, import ID) the ledger already holds, deleted or not, is a no-op
// reported in CreateResult.Duplicates rather than an error.
type Ledger interface {
	// PendingTransactions returns the non-deleted uncleared transactions of
	// the given accounts (all accounts when empty).
	PendingTransactions(ctx context.Context, accountIDs []string) ([]domain.LedgerTransaction, error)
	// ImportIDs returns the import IDs held for the given accounts on
	// transactions dated since or later ("" for no lower bound).
	ImportIDs(ctx context.Context, accountIDs []string, since string) ([]dedup.Key, error)
	// CreateTransactions creates txns, all of one account.
	CreateTransactions(ctx context.Context, txns []domain.Transaction) (*CreateResult, error)
	// UpdateTransaction overwrites the ledger entry id with t.
	UpdateTransaction(ctx context.Context, id string, t domain.Transaction) error
	// DeleteTransaction marks the ledger entry id deleted.
	DeleteTransaction(ctx context.Context, id string) error
	Close() error
}

// Created pairs an import ID with the ledger ID assigned to it.
type Created struct {
	ImportID string `json:"importId"`
	LedgerID string `json:"ledgerId"`
}

// CreateResult reports what a CreateTransactions call did.
type CreateResult struct {
	Created    []Created
	Duplicates []string // import IDs the ledger already held
}

// RunStatus is the outcome of one sync run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial" // some writes failed
	RunStatusFailed    RunStatus = "failed"
	RunStatusDryRun    RunStatus = "dry-run"
)

// RunRecord summarizes one sync run for the ledger's run history.
type RunRecord struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Status      RunStatus `json:"status"`
	Accounts    []string  `json:"accounts"`
	Incoming    int       `json:"incoming"`
	Voided      int       `json:"voided"`
	Created     int       `json:"created"`
	Duplicates  int       `json:"duplicates"`
	Cleared     int       `json:"cleared"`
	Deleted     int       `json:"deleted"`
	Unchanged   int       `json:"unchanged"`
	Ambiguous   int       `json:"ambiguous"`
	WriteErrors int       `json:"writeErrors"`
	Error       string    `json:"error,omitempty"`
}

// RunRecorder is implemented by backends that keep a run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *RunRecord) error
}
