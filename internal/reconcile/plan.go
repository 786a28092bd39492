package reconcile

import "github.com/rumor-ml/commons.systems/ledgersync/internal/domain"

// Update clears a pending ledger entry in place with merged values.
type Update struct {
	LedgerID    string
	Transaction domain.Transaction
}

// Ambiguity notes that more than one incoming transaction could have matched
// a pending entry. The first in batch order was taken.
type Ambiguity struct {
	LedgerID   string `json:"ledgerId"`
	AccountID  string `json:"accountId"`
	ImportID   string `json:"importId"` // chosen candidate
	Candidates int    `json:"candidates"`
}

// Plan is the outcome of one reconciliation. Create, Delete, ClearPending and
// Unchanged are disjoint: no transaction appears in more than one of them.
type Plan struct {
	Create       []domain.Transaction
	Delete       []domain.LedgerTransaction
	ClearPending []Update
	Unchanged    []domain.LedgerTransaction
	Ambiguities  []Ambiguity
}

// DeleteIDs returns the ledger IDs of the entries to delete, in plan order.
func (p *Plan) DeleteIDs() []string {
	ids := make([]string, len(p.Delete))
	for i := range p.Delete {
		ids[i] = p.Delete[i].ID
	}
	return ids
}

// Empty reports whether applying the plan would change nothing.
func (p *Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Delete) == 0 && len(p.ClearPending) == 0
}

// CreatesByAccount groups creates by account, preserving plan order within
// each account and the order in which accounts first appear.
func (p *Plan) CreatesByAccount() (accounts []string, byAccount map[string][]domain.Transaction) {
	byAccount = make(map[string][]domain.Transaction)
	for _, t := range p.Create {
		if _, seen := byAccount[t.AccountID]; !seen {
			accounts = append(accounts, t.AccountID)
		}
		byAccount[t.AccountID] = append(byAccount[t.AccountID], t)
	}
	return accounts, byAccount
}
