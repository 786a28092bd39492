// Package match finds the incoming transaction that corresponds to an
// existing pending ledger entry.
package match

import (
	"fmt"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/rules"
)

const (
	// DefaultDateWindowDays is how far apart, in calendar days, a pending
	// hold and its posted counterpart may be dated.
	DefaultDateWindowDays = 3
	// DefaultSimilarityThreshold is the payee similarity score that must be
	// exceeded. Low on purpose: pending feeds abbreviate merchant names.
	DefaultSimilarityThreshold = 0.25
)

// Config holds the tunable match parameters.
type Config struct {
	DateWindowDays      int
	SimilarityThreshold float64
}

// DefaultConfig returns the default match parameters.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:      DefaultDateWindowDays,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.DateWindowDays < 0 {
		return fmt.Errorf("date window must be >= 0 days, got %d", c.DateWindowDays)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold >= 1 {
		return fmt.Errorf("similarity threshold must be in [0,1), got %v", c.SimilarityThreshold)
	}
	return nil
}

// Matcher applies the match predicate. Stateless after construction.
type Matcher struct {
	cfg   Config
	rules *rules.Engine // optional, supplies noise prefixes
}

// New creates a matcher. r may be nil, in which case no prefixes are stripped.
func New(cfg Config, r *rules.Engine) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{cfg: cfg, rules: r}, nil
}

// Config returns the matcher's parameters.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Result reports the outcome of Match.
type Result struct {
	// Index of the chosen candidate, -1 when nothing matched.
	Index int
	// Candidates is how many unconsumed candidates satisfied the predicate.
	// More than one means the choice was a tie broken by batch order.
	Candidates int
}

// Found reports whether a candidate was chosen.
func (r Result) Found() bool { return r.Index >= 0 }

// Ambiguous reports whether more than one candidate qualified.
func (r Result) Ambiguous() bool { return r.Candidates > 1 }

// Match returns the first candidate in batch order, skipping consumed ones,
// that satisfies the predicate for existing. consumed may be nil or shorter
// than candidates; missing entries count as unconsumed.
func (m *Matcher) Match(existing *domain.LedgerTransaction, candidates []domain.Transaction, consumed []bool) Result {
	res := Result{Index: -1}
	for i := range candidates {
		if i < len(consumed) && consumed[i] {
			continue
		}
		if !m.Satisfies(existing, &candidates[i]) {
			continue
		}
		if res.Index < 0 {
			res.Index = i
		}
		res.Candidates++
	}
	return res
}

// Satisfies reports whether candidate can be the same real-world charge as
// existing: same account, dates within the window, exactly equal amounts and
// similar payees. The existing entry is compared by its import-time payee and
// by its current payee, since the user may have renamed it.
func (m *Matcher) Satisfies(existing *domain.LedgerTransaction, candidate *domain.Transaction) bool {
	if existing.AccountID != candidate.AccountID {
		return false
	}
	if existing.Amount != candidate.Amount {
		return false
	}
	days, err := domain.DaysBetween(existing.Date, candidate.Date)
	if err != nil {
		return false
	}
	if days < 0 {
		days = -days
	}
	if days > m.cfg.DateWindowDays {
		return false
	}
	for _, name := range existing.PayeeNames() {
		if m.PayeeSimilar(name, candidate.PayeeName) {
			return true
		}
	}
	return false
}

// PayeeSimilar strips noise prefixes from both names, then accepts an exact
// case-sensitive match or a similarity score strictly above the threshold.
func (m *Matcher) PayeeSimilar(a, b string) bool {
	a, b = m.strip(a), m.strip(b)
	if a == b {
		return a != ""
	}
	return Similarity(a, b) > m.cfg.SimilarityThreshold
}

func (m *Matcher) strip(name string) string {
	if m.rules == nil {
		return strings.TrimSpace(name)
	}
	return m.rules.StripNoise(name)
}

// Similarity is the Levenshtein ratio of the lower-cased names, in [0,1].
// 1 means identical; substitutions cost two, so unrelated names score 0.
func Similarity(a, b string) float64 {
	return levenshtein.RatioForStrings(
		[]rune(strings.ToLower(a)),
		[]rune(strings.ToLower(b)),
		levenshtein.DefaultOptions,
	)
}
