package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/reconcile"
)

// Stdout is the file path that selects standard output.
const Stdout = "-"

// Report is the machine-readable account of one sync run.
type Report struct {
	RunID      string             `json:"runId"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Status     ledger.RunStatus   `json:"status"`
	DryRun     bool               `json:"dryRun"`
	Strategy   reconcile.Strategy `json:"strategy"`
	Accounts   []string           `json:"accounts"`

	// SkippedAccounts are source accounts with no ledger mapping.
	SkippedAccounts []string `json:"skippedAccounts,omitempty"`

	Summary     Summary               `json:"summary"`
	Created     []Line                `json:"created"`
	Cleared     []Line                `json:"cleared"`
	Deleted     []Line                `json:"deleted"`
	Voided      []VoidedPair          `json:"voided"`
	Ambiguities []reconcile.Ambiguity `json:"ambiguities"`
	WriteErrors []string              `json:"writeErrors"`
	Error       string                `json:"error,omitempty"`
}

// Summary holds the run counters.
type Summary struct {
	Incoming    int `json:"incoming"`
	Voided      int `json:"voided"`
	Created     int `json:"created"`
	Duplicates  int `json:"duplicates"`
	Cleared     int `json:"cleared"`
	Deleted     int `json:"deleted"`
	Unchanged   int `json:"unchanged"`
	Ambiguous   int `json:"ambiguous"`
	WriteErrors int `json:"writeErrors"`
}

// Line is one transaction as shown in the report. Amount is formatted in
// major units ("-12.50").
type Line struct {
	LedgerID  string `json:"ledgerId,omitempty"`
	AccountID string `json:"accountId"`
	ImportID  string `json:"importId,omitempty"`
	Date      string `json:"date"`
	Payee     string `json:"payee"`
	Amount    string `json:"amount"`
}

// VoidedPair is a charge and the reversal that cancelled it.
type VoidedPair struct {
	Charge   Line `json:"charge"`
	Reversal Line `json:"reversal"`
}

// NewReport creates a report with empty (not null) collections.
func NewReport(runID string, startedAt time.Time) *Report {
	return &Report{
		RunID:       runID,
		StartedAt:   startedAt,
		Accounts:    []string{},
		Created:     []Line{},
		Cleared:     []Line{},
		Deleted:     []Line{},
		Voided:      []VoidedPair{},
		Ambiguities: []reconcile.Ambiguity{},
		WriteErrors: []string{},
	}
}

// RunRecord converts the report into the ledger's run history entry.
func (r *Report) RunRecord() *ledger.RunRecord {
	return &ledger.RunRecord{
		ID:          r.RunID,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Status:      r.Status,
		Accounts:    append([]string{}, r.Accounts...),
		Incoming:    r.Summary.Incoming,
		Voided:      r.Summary.Voided,
		Created:     r.Summary.Created,
		Duplicates:  r.Summary.Duplicates,
		Cleared:     r.Summary.Cleared,
		Deleted:     r.Summary.Deleted,
		Unchanged:   r.Summary.Unchanged,
		Ambiguous:   r.Summary.Ambiguous,
		WriteErrors: r.Summary.WriteErrors,
		Error:       r.Error,
	}
}

// NewLine formats a transaction for the report. scale is minor units per
// major unit.
func NewLine(ledgerID string, t *domain.Transaction, scale int64) Line {
	return Line{
		LedgerID:  ledgerID,
		AccountID: t.AccountID,
		ImportID:  t.ImportID,
		Date:      t.Date,
		Payee:     t.PayeeName,
		Amount:    FormatAmount(t.Amount, scale),
	}
}

// FormatAmount renders integer minor units in major units with as many
// decimals as scale has zeros: FormatAmount(-1250, 100) = "-12.50".
func FormatAmount(minor, scale int64) string {
	if scale <= 1 {
		return strconv.FormatInt(minor, 10)
	}
	places := int32(len(strconv.FormatInt(scale, 10)) - 1)
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(scale)).StringFixed(places)
}

// WriteReport serializes the report to JSON with 2-space indentation
func WriteReport(report *Report, w io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report as JSON: %w", err)
	}

	return nil
}

// WriteReportToFile writes the report to filePath, or stdout for "-".
// Files are written to a temp file and renamed so a reader never sees a
// partial report.
func WriteReportToFile(report *Report, filePath string) (err error) {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	if filePath == Stdout {
		return WriteReport(report, os.Stdout)
	}

	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", filePath, err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if err = WriteReport(report, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report to %s: %w", filePath, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close output file %s: %w", filePath, err)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}

	return nil
}

// LoadReport reads a report written by WriteReportToFile
func LoadReport(filePath string) (*Report, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	f, err := os.Open(filePath)
	if err != nil {
		// Unwrapped so callers can check os.IsNotExist
		return nil, err
	}
	defer f.Close()

	var report Report
	if err := json.NewDecoder(f).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report JSON: %w", err)
	}

	return &report, nil
}
