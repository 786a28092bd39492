package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used by every transaction date.
const DateLayout = "2006-01-02"

// ClearedStatus is the ledger clearing state of a transaction.
// Use ValidateClearedStatus to ensure validity before use.
type ClearedStatus string

const (
	ClearedStatusUncleared  ClearedStatus = "uncleared"
	ClearedStatusCleared    ClearedStatus = "cleared"
	ClearedStatusReconciled ClearedStatus = "reconciled"
)

var validClearedStatuses = map[ClearedStatus]struct{}{
	ClearedStatusUncleared: {}, ClearedStatusCleared: {}, ClearedStatusReconciled: {},
}

// SubTransaction is one split line of a ledger transaction.
type SubTransaction struct {
	Amount     int64  `json:"amount"`
	PayeeName  string `json:"payeeName,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

// Transaction is the canonical in-memory transaction every source is normalized into.
type Transaction struct {
	AccountID string `json:"accountId"`
	// Amount is in integer minor units.
	// Sign convention:
	//   Positive = inflow (payments, refunds, deposits)
	//   Negative = outflow (charges, withdrawals)
	// The Normalizer converts from source convention exactly once.
	Amount         int64         `json:"amount"`
	Date           string        `json:"date"` // ISO format YYYY-MM-DD
	PayeeName      string        `json:"payeeName"`
	Cleared        ClearedStatus `json:"cleared"`
	FlaggedPending bool          `json:"flaggedPending"`
	ImportID       string        `json:"importId"`

	// SourcePayeeName is the payee the source reported when PayeeName was
	// carried over from an edited ledger entry; empty otherwise.
	SourcePayeeName string `json:"sourcePayeeName,omitempty"`

	// Ledger metadata, only ever carried over from an existing pending entry.
	Memo            string           `json:"memo,omitempty"`
	Approved        bool             `json:"approved"`
	CategoryID      string           `json:"categoryId,omitempty"`
	Subtransactions []SubTransaction `json:"subtransactions,omitempty"`
}

// IsPending reports whether the transaction still represents an authorization hold.
func (t *Transaction) IsPending() bool {
	return t.Cleared == ClearedStatusUncleared
}

// ImportPayee returns the payee as the source reported it.
func (t *Transaction) ImportPayee() string {
	if t.SourcePayeeName != "" {
		return t.SourcePayeeName
	}
	return t.PayeeName
}

// Time returns the parsed calendar date.
func (t *Transaction) Time() (time.Time, error) {
	return ParseDate(t.Date)
}

// String formats the transaction for log lines: "acct: -12.00 at Payee on 2024-01-02".
func (t *Transaction) String() string {
	return fmt.Sprintf("%s: %d at %s on %s", t.AccountID, t.Amount, t.PayeeName, t.Date)
}

// Clone returns a deep copy (subtransactions are not shared).
func (t Transaction) Clone() Transaction {
	if t.Subtransactions != nil {
		t.Subtransactions = append([]SubTransaction(nil), t.Subtransactions...)
	}
	return t
}

// LedgerTransaction is a transaction as it currently exists in the ledger.
type LedgerTransaction struct {
	ID string `json:"id"`
	Transaction
	// ImportPayeeName is the payee at original import time; PayeeName may have been edited since.
	ImportPayeeName string `json:"importPayeeName,omitempty"`
	Deleted         bool   `json:"deleted"`
}

// PayeeNames returns the distinct non-empty names this entry is known by,
// import-time name first.
func (l *LedgerTransaction) PayeeNames() []string {
	names := make([]string, 0, 2)
	if l.ImportPayeeName != "" {
		names = append(names, l.ImportPayeeName)
	}
	if l.PayeeName != "" && l.PayeeName != l.ImportPayeeName {
		names = append(names, l.PayeeName)
	}
	return names
}

// NewTransaction creates a validated canonical transaction
func NewTransaction(accountID string, amount int64, date, payeeName string, cleared ClearedStatus) (*Transaction, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if _, err := ParseDate(date); err != nil {
		return nil, fmt.Errorf("invalid date format: %w", err)
	}
	if strings.TrimSpace(payeeName) == "" {
		return nil, fmt.Errorf("payee name cannot be empty")
	}
	if !ValidateClearedStatus(cleared) {
		return nil, fmt.Errorf("invalid cleared status: %s", cleared)
	}

	return &Transaction{
		AccountID:      accountID,
		Amount:         amount,
		Date:           date,
		PayeeName:      payeeName,
		Cleared:        cleared,
		FlaggedPending: cleared == ClearedStatusUncleared,
	}, nil
}

// ValidateClearedStatus checks if the cleared status is valid
func ValidateClearedStatus(s ClearedStatus) bool {
	_, ok := validClearedStatuses[s]
	return ok
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(date string) (time.Time, error) {
	return time.Parse(DateLayout, date)
}

// FormatDate truncates t to its calendar date in t's own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DaysBetween returns b - a in whole calendar days.
func DaysBetween(a, b string) (int, error) {
	ta, err := ParseDate(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDate(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta) / (24 * time.Hour)), nil
}
