// Package voiding removes charge/reversal pairs from a batch before
// reconciliation: a charge and its exact reversal on the same day cancel out
// and neither should reach the ledger.
package voiding

import "github.com/rumor-ml/commons.systems/ledgersync/internal/domain"

// Pair is a charge and the reversal that voided it, in batch order.
type Pair struct {
	First  domain.Transaction
	Second domain.Transaction
}

// Resolve scans batch in order. Each unconsumed transaction is paired with the
// first later unconsumed transaction of the same account with the negated
// amount, the same payee and the same date. Both members are removed; a
// transaction pairs at most once. Zero amounts never pair.
//
// kept preserves the original order. batch is not modified.
func Resolve(batch []domain.Transaction) (kept []domain.Transaction, pairs []Pair) {
	consumed := make([]bool, len(batch))

	for i := range batch {
		if consumed[i] || batch[i].Amount == 0 {
			continue
		}
		t1 := &batch[i]
		for j := i + 1; j < len(batch); j++ {
			if consumed[j] {
				continue
			}
			t2 := &batch[j]
			if t2.AccountID == t1.AccountID &&
				t2.Amount == -t1.Amount &&
				t2.PayeeName == t1.PayeeName &&
				t2.Date == t1.Date {
				consumed[i], consumed[j] = true, true
				pairs = append(pairs, Pair{First: *t1, Second: *t2})
				break
			}
		}
	}

	kept = make([]domain.Transaction, 0, len(batch)-2*len(pairs))
	for i := range batch {
		if !consumed[i] {
			kept = append(kept, batch[i])
		}
	}
	return kept, pairs
}
