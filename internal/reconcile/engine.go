// Package reconcile decides what a sync run does to the ledger: which
// transactions to create, which pending entries to delete as stale and which
// to clear now that their posted counterpart has arrived.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/dedup"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/match"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/rules"
)

// Strategy selects how a pending entry is retired when its posted
// counterpart arrives.
type Strategy string

const (
	// StrategyReplace deletes the pending entry and creates the posted
	// transaction with the pending entry's user edits carried over.
	StrategyReplace Strategy = "replace"
	// StrategyUpdate clears the pending entry in place.
	StrategyUpdate Strategy = "update"
)

// ParseStrategy validates a strategy name. Empty means replace.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyReplace:
		return StrategyReplace, nil
	case StrategyUpdate:
		return StrategyUpdate, nil
	}
	return "", fmt.Errorf("unknown reconcile strategy %q (want %s or %s)", s, StrategyReplace, StrategyUpdate)
}

// Input is everything one reconciliation needs. Nothing here is modified.
type Input struct {
	// Incoming is the normalized, voiding-resolved source batch in batch order.
	Incoming []domain.Transaction
	// Pending is the ledger's view of uncleared transactions.
	Pending []domain.LedgerTransaction
	// Existing holds every import ID the ledger already has. May be nil.
	Existing *dedup.Index
	// Accounts restricts which pending entries are eligible. Empty means all.
	Accounts []string
}

// Engine runs reconciliation. It holds no state between calls.
type Engine struct {
	matcher  *match.Matcher
	rules    *rules.Engine
	strategy Strategy
	log      zerolog.Logger
}

// NewEngine creates an engine. r may be nil, in which case no payee counts as
// reserved.
func NewEngine(m *match.Matcher, r *rules.Engine, strategy Strategy, log zerolog.Logger) (*Engine, error) {
	if m == nil {
		return nil, fmt.Errorf("matcher cannot be nil")
	}
	if strategy != StrategyReplace && strategy != StrategyUpdate {
		return nil, fmt.Errorf("unknown reconcile strategy %q", strategy)
	}
	return &Engine{matcher: m, rules: r, strategy: strategy, log: log}, nil
}

// Strategy returns the configured strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// Reconcile builds the plan for in. It runs in two passes: every eligible
// pending entry is matched against the unconsumed incoming transactions in
// (date, id) order, then every incoming transaction not consumed by a match
// and not already in the ledger is scheduled for creation.
func (e *Engine) Reconcile(in Input) *Plan {
	plan := &Plan{}
	consumed := make([]bool, len(in.Incoming))
	// merged replacements, emitted at their batch position in the second pass
	replacements := make(map[int]domain.Transaction)

	for _, existing := range e.eligible(in) {
		res := e.matcher.Match(&existing, in.Incoming, consumed)
		if !res.Found() {
			e.log.Debug().
				Str("ledger_id", existing.ID).
				Str("import_id", existing.ImportID).
				Msg("pending transaction no longer reported, deleting")
			plan.Delete = append(plan.Delete, existing)
			continue
		}

		consumed[res.Index] = true
		incoming := in.Incoming[res.Index]

		if res.Ambiguous() {
			note := Ambiguity{
				LedgerID:   existing.ID,
				AccountID:  existing.AccountID,
				ImportID:   incoming.ImportID,
				Candidates: res.Candidates,
			}
			plan.Ambiguities = append(plan.Ambiguities, note)
			e.log.Info().
				Str("ledger_id", note.LedgerID).
				Str("chosen_import_id", note.ImportID).
				Int("candidates", note.Candidates).
				Msg("ambiguous match, taking first in batch order")
		}

		if incoming.IsPending() {
			plan.Unchanged = append(plan.Unchanged, existing)
			continue
		}

		merged := e.merge(&existing, incoming)
		switch e.strategy {
		case StrategyUpdate:
			plan.ClearPending = append(plan.ClearPending, Update{LedgerID: existing.ID, Transaction: merged})
		default:
			plan.Delete = append(plan.Delete, existing)
			// A previous run may already have created the posted copy before
			// failing to delete the pending one.
			if !in.Existing.Contains(merged.AccountID, merged.ImportID) {
				replacements[res.Index] = merged
			}
		}
		e.log.Debug().
			Str("ledger_id", existing.ID).
			Str("import_id", merged.ImportID).
			Str("strategy", string(e.strategy)).
			Msg("pending transaction posted")
	}

	for i := range in.Incoming {
		if consumed[i] {
			if merged, ok := replacements[i]; ok {
				plan.Create = append(plan.Create, merged)
			}
			continue
		}
		t := in.Incoming[i]
		if in.Existing.Contains(t.AccountID, t.ImportID) {
			continue
		}
		plan.Create = append(plan.Create, t)
	}

	return plan
}

// eligible returns the pending entries the engine manages, sorted by (date, id).
func (e *Engine) eligible(in Input) []domain.LedgerTransaction {
	var accounts map[string]bool
	if len(in.Accounts) > 0 {
		accounts = make(map[string]bool, len(in.Accounts))
		for _, a := range in.Accounts {
			accounts[a] = true
		}
	}

	out := make([]domain.LedgerTransaction, 0, len(in.Pending))
	for _, p := range in.Pending {
		if p.Deleted || p.Cleared != domain.ClearedStatusUncleared || !p.FlaggedPending {
			continue
		}
		if accounts != nil && !accounts[p.AccountID] {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// merge carries the user's edits on a pending entry over to its posted
// counterpart. A payee the ledger generated itself (transfers, balance
// adjustments) is not carried: the posted payee wins.
func (e *Engine) merge(existing *domain.LedgerTransaction, posted domain.Transaction) domain.Transaction {
	merged := posted.Clone()
	merged.FlaggedPending = false
	merged.Memo = existing.Memo
	merged.Approved = existing.Approved
	merged.CategoryID = existing.CategoryID
	merged.Subtransactions = nil
	if existing.Subtransactions != nil {
		merged.Subtransactions = append([]domain.SubTransaction(nil), existing.Subtransactions...)
	}
	if existing.PayeeName != "" && !e.reserved(existing.PayeeName) && existing.PayeeName != posted.PayeeName {
		merged.SourcePayeeName = posted.ImportPayee()
		merged.PayeeName = existing.PayeeName
	}
	return merged
}

func (e *Engine) reserved(payee string) bool {
	return e.rules != nil && e.rules.IsReserved(payee)
}
