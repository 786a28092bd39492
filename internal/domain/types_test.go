package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestValidateClearedStatus(t *testing.T) {
	t.Run("valid statuses", func(t *testing.T) {
		for _, s := range []ClearedStatus{ClearedStatusUncleared, ClearedStatusCleared, ClearedStatusReconciled} {
			if !ValidateClearedStatus(s) {
				t.Errorf("Expected %s to be valid", s)
			}
		}
	})

	t.Run("invalid statuses", func(t *testing.T) {
		invalidCases := []ClearedStatus{
			"",
			"Cleared",  // wrong case
			"pending",  // not a ledger state
			"cleared ", // trailing space
			"unclear",  // typo
		}
		for _, s := range invalidCases {
			if ValidateClearedStatus(s) {
				t.Errorf("Expected %q to be invalid", s)
			}
		}
	})
}

func TestNewTransaction(t *testing.T) {
	tests := []struct {
		name      string
		accountID string
		date      string
		payee     string
		cleared   ClearedStatus
		wantErr   bool
	}{
		{name: "posted", accountID: "acc-1", date: "2024-03-01", payee: "Store", cleared: ClearedStatusCleared},
		{name: "pending", accountID: "acc-1", date: "2024-03-01", payee: "Store", cleared: ClearedStatusUncleared},
		{name: "empty account", accountID: "", date: "2024-03-01", payee: "Store", cleared: ClearedStatusCleared, wantErr: true},
		{name: "bad date", accountID: "acc-1", date: "03/01/2024", payee: "Store", cleared: ClearedStatusCleared, wantErr: true},
		{name: "blank payee", accountID: "acc-1", date: "2024-03-01", payee: "   ", cleared: ClearedStatusCleared, wantErr: true},
		{name: "bad status", accountID: "acc-1", date: "2024-03-01", payee: "Store", cleared: "posted", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn, err := NewTransaction(tt.accountID, -1200, tt.date, tt.payee, tt.cleared)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewTransaction() expected error, got %+v", txn)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTransaction() unexpected error: %v", err)
			}
			if txn.FlaggedPending != (tt.cleared == ClearedStatusUncleared) {
				t.Errorf("FlaggedPending = %v for status %s", txn.FlaggedPending, tt.cleared)
			}
			if txn.IsPending() != (tt.cleared == ClearedStatusUncleared) {
				t.Errorf("IsPending() = %v for status %s", txn.IsPending(), tt.cleared)
			}
		})
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2024-03-01", "2024-03-01", 0},
		{"2024-03-01", "2024-03-04", 3},
		{"2024-03-04", "2024-03-01", -3},
		{"2024-02-28", "2024-03-01", 2}, // leap year
		{"2023-12-31", "2024-01-01", 1},
		{"2024-03-09", "2024-03-11", 2}, // US DST change does not matter for UTC dates
	}

	for _, tt := range tests {
		got, err := DaysBetween(tt.a, tt.b)
		if err != nil {
			t.Fatalf("DaysBetween(%s, %s) error: %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("DaysBetween(%s, %s) = %d; want %d", tt.a, tt.b, got, tt.want)
		}
	}

	if _, err := DaysBetween("2024-13-01", "2024-03-01"); err == nil {
		t.Error("DaysBetween() expected error for invalid month")
	}
}

func TestFormatDate(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	ts := time.Date(2024, 3, 1, 23, 30, 0, 0, loc)
	if got := FormatDate(ts); got != "2024-03-01" {
		t.Errorf("FormatDate() = %s; want 2024-03-01 (no zone shifting)", got)
	}
}

func TestLedgerTransaction_PayeeNames(t *testing.T) {
	tests := []struct {
		name string
		tx   LedgerTransaction
		want []string
	}{
		{
			name: "both names differ",
			tx:   LedgerTransaction{ImportPayeeName: "Starbucks 123", Transaction: Transaction{PayeeName: "Coffee"}},
			want: []string{"Starbucks 123", "Coffee"},
		},
		{
			name: "same name once",
			tx:   LedgerTransaction{ImportPayeeName: "Store", Transaction: Transaction{PayeeName: "Store"}},
			want: []string{"Store"},
		},
		{
			name: "user entered, no import name",
			tx:   LedgerTransaction{Transaction: Transaction{PayeeName: "Store"}},
			want: []string{"Store"},
		},
		{
			name: "nothing",
			tx:   LedgerTransaction{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tx.PayeeNames()
			if len(got) != len(tt.want) {
				t.Fatalf("PayeeNames() = %v; want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("PayeeNames()[%d] = %s; want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTransaction_CloneDoesNotShareSplits(t *testing.T) {
	orig := Transaction{Subtransactions: []SubTransaction{{Amount: -100, Memo: "a"}}}
	clone := orig.Clone()
	clone.Subtransactions[0].Memo = "b"
	if orig.Subtransactions[0].Memo != "a" {
		t.Error("Clone() shares subtransactions with the original")
	}
}

func TestErrorTypes(t *testing.T) {
	base := errors.New("boom")

	convErr := &ConversionError{Field: "amount", Value: "12,3x", Record: 4, Err: base}
	if !errors.Is(convErr, base) {
		t.Error("ConversionError does not unwrap to its cause")
	}
	if got := convErr.Error(); got != `record 4: cannot convert amount "12,3x": boom` {
		t.Errorf("ConversionError.Error() = %q", got)
	}

	wrapped := fmt.Errorf("normalize: %w", convErr)
	var target *ConversionError
	if !errors.As(wrapped, &target) || target.Field != "amount" {
		t.Error("errors.As failed to find ConversionError")
	}

	fetchErr := &SourceFetchError{Source: "ledger", Err: base}
	if !errors.Is(fetchErr, base) {
		t.Error("SourceFetchError does not unwrap to its cause")
	}

	writeErr := &LedgerWriteError{Op: "delete", AccountID: "acc-1", TransactionID: "tx-9", Err: base}
	if got := writeErr.Error(); got != "ledger delete acc-1/tx-9 failed: boom" {
		t.Errorf("LedgerWriteError.Error() = %q", got)
	}
	createErr := &LedgerWriteError{Op: "create", ImportID: "std:-100:2024-01-01:1", Err: base}
	if got := createErr.Error(); got != "ledger create std:-100:2024-01-01:1 failed: boom" {
		t.Errorf("LedgerWriteError.Error() = %q", got)
	}
}
