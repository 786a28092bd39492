package validate

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/dedup"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/reconcile"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/transform"
)

// ValidationResult contains all validation errors and warnings for a batch or plan
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError represents a validation error
type ValidationError struct {
	Entity  string // "transaction", "create", "delete", "update", "unchanged"
	ID      string // import ID or ledger ID
	Field   string
	Value   string
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
}

// ValidationWarning represents a non-critical validation issue
type ValidationWarning struct {
	Entity  string
	ID      string
	Field   string
	Value   string
	Message string
}

// Valid reports whether no errors were found. Warnings do not count.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns nil when valid, otherwise one error listing every problem.
func (r *ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.String()
	}
	return fmt.Errorf("%d validation error(s): %s", len(r.Errors), strings.Join(msgs, "; "))
}

func newResult() *ValidationResult {
	return &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}
}

// ValidateBatch checks canonical transactions before reconciliation:
// required fields, date and import ID formats, agreement between the import
// ID and the transaction it labels, and import ID uniqueness per account.
func ValidateBatch(txns []domain.Transaction) *ValidationResult {
	result := newResult()
	seen := make(map[dedup.Key]bool)

	for i := range txns {
		checkTransaction(result, "transaction", &txns[i])

		txn := &txns[i]
		if txn.ImportID == "" || txn.AccountID == "" {
			continue
		}
		key := dedup.Key{AccountID: txn.AccountID, ImportID: txn.ImportID}
		if seen[key] {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "transaction",
				ID:      txn.ImportID,
				Field:   "ImportID",
				Value:   txn.ImportID,
				Message: fmt.Sprintf("duplicate import ID in account %s", txn.AccountID),
			})
		}
		seen[key] = true

		if txn.Amount == 0 {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Entity:  "transaction",
				ID:      txn.ImportID,
				Field:   "Amount",
				Value:   "0",
				Message: "zero amount transaction",
			})
		}
	}

	return result
}

func checkTransaction(result *ValidationResult, entity string, txn *domain.Transaction) {
	if txn.AccountID == "" {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  entity,
			ID:      txn.ImportID,
			Field:   "AccountID",
			Value:   "",
			Message: "account ID cannot be empty",
		})
	}
	if _, err := domain.ParseDate(txn.Date); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  entity,
			ID:      txn.ImportID,
			Field:   "Date",
			Value:   txn.Date,
			Message: "date must be YYYY-MM-DD",
		})
	}
	if strings.TrimSpace(txn.PayeeName) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  entity,
			ID:      txn.ImportID,
			Field:   "PayeeName",
			Value:   "",
			Message: "payee name cannot be empty",
		})
	}
	if !domain.ValidateClearedStatus(txn.Cleared) {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  entity,
			ID:      txn.ImportID,
			Field:   "Cleared",
			Value:   string(txn.Cleared),
			Message: "invalid cleared status",
		})
	}

	id, err := transform.ParseImportID(txn.ImportID)
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  entity,
			ID:      txn.ImportID,
			Field:   "ImportID",
			Value:   txn.ImportID,
			Message: err.Error(),
		})
		return
	}
	if id.Amount != txn.Amount || id.Date != txn.Date {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  entity,
			ID:      txn.ImportID,
			Field:   "ImportID",
			Value:   txn.ImportID,
			Message: fmt.Sprintf("import ID does not match amount %d on %s", txn.Amount, txn.Date),
		})
	}
	wantPending := id.Namespace == transform.NamespacePending
	if wantPending != txn.IsPending() {
		result.Errors = append(result.Errors, ValidationError{
			Entity:  entity,
			ID:      txn.ImportID,
			Field:   "Cleared",
			Value:   string(txn.Cleared),
			Message: fmt.Sprintf("cleared status %s does not fit import ID namespace %s", txn.Cleared, id.Namespace),
		})
	}
}

// ValidatePlan checks a reconciliation plan before any write: the output sets
// are disjoint, every ledger ID is present and used once, and no create
// carries an import ID the ledger already holds.
func ValidatePlan(p *reconcile.Plan, existing *dedup.Index) *ValidationResult {
	result := newResult()

	// Ledger IDs across delete, update and unchanged
	owner := make(map[string]string)
	claim := func(entity, id string) {
		if id == "" {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  entity,
				Field:   "ID",
				Message: "ledger ID cannot be empty",
			})
			return
		}
		if prev, ok := owner[id]; ok {
			msg := fmt.Sprintf("ledger ID already scheduled as %s", prev)
			if prev == entity {
				msg = "duplicate ledger ID"
			}
			result.Errors = append(result.Errors, ValidationError{
				Entity:  entity,
				ID:      id,
				Field:   "ID",
				Value:   id,
				Message: msg,
			})
			return
		}
		owner[id] = entity
	}

	for _, id := range p.DeleteIDs() {
		claim("delete", id)
	}
	for _, u := range p.ClearPending {
		claim("update", u.LedgerID)
		checkTransaction(result, "update", &u.Transaction)
		if u.Transaction.IsPending() {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "update",
				ID:      u.LedgerID,
				Field:   "Cleared",
				Value:   string(u.Transaction.Cleared),
				Message: "clear-pending update must not leave the transaction uncleared",
			})
		}
	}
	for _, u := range p.Unchanged {
		claim("unchanged", u.ID)
	}

	// Import IDs across creates and updates
	created := make(map[dedup.Key]bool)
	for i := range p.Create {
		txn := &p.Create[i]
		checkTransaction(result, "create", txn)

		key := dedup.Key{AccountID: txn.AccountID, ImportID: txn.ImportID}
		if created[key] {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "create",
				ID:      txn.ImportID,
				Field:   "ImportID",
				Value:   key.String(),
				Message: "import ID created twice",
			})
		}
		created[key] = true

		if existing.Contains(txn.AccountID, txn.ImportID) {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "create",
				ID:      txn.ImportID,
				Field:   "ImportID",
				Value:   key.String(),
				Message: "ledger already holds this import ID",
			})
		}
	}
	for _, u := range p.ClearPending {
		key := dedup.Key{AccountID: u.Transaction.AccountID, ImportID: u.Transaction.ImportID}
		if created[key] {
			result.Errors = append(result.Errors, ValidationError{
				Entity:  "update",
				ID:      u.LedgerID,
				Field:   "ImportID",
				Value:   key.String(),
				Message: "import ID is also being created",
			})
		}
	}

	for _, a := range p.Ambiguities {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Entity:  "match",
			ID:      a.LedgerID,
			Field:   "ImportID",
			Value:   a.ImportID,
			Message: fmt.Sprintf("%d candidates matched, first in batch order taken", a.Candidates),
		})
	}

	return result
}
