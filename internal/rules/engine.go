// Package rules provides the YAML-based payee rules: noise prefixes stripped
// before comparison, reserved ledger payee prefixes, and payee rename rules.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// MatchType defines how patterns are matched against payee names
type MatchType string

const (
	// MatchTypeExact requires the pattern to match the entire payee exactly
	MatchTypeExact MatchType = "exact"
	// MatchTypeContains requires the pattern to be a substring of the payee
	MatchTypeContains MatchType = "contains"
	// MatchTypePrefix requires the payee to start with the pattern
	MatchTypePrefix MatchType = "prefix"
)

func (m MatchType) valid() bool {
	return m == MatchTypeExact || m == MatchTypeContains || m == MatchTypePrefix
}

// Rule renames payees matching Pattern to Payee.
//
// Rules should be created via NewEngine/LoadEmbedded/LoadFromFile or NewRule.
// Both validate:
//   - Priority in range [0, 999]
//   - Pattern and Payee not empty after trimming
//   - MatchType is "exact", "contains" or "prefix"
type Rule struct {
	Name      string    `yaml:"name"`
	Pattern   string    `yaml:"pattern"`
	MatchType MatchType `yaml:"match_type"`
	Priority  int       `yaml:"priority"`
	Payee     string    `yaml:"payee"`
}

func (r *Rule) validate() error {
	if r.Priority < 0 || r.Priority > 999 {
		return fmt.Errorf("priority must be in [0,999], got %d", r.Priority)
	}
	if !r.MatchType.valid() {
		return fmt.Errorf("invalid match_type %q (must be 'exact', 'contains' or 'prefix')", r.MatchType)
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if strings.TrimSpace(r.Payee) == "" {
		return fmt.Errorf("payee cannot be empty")
	}
	return nil
}

// NewRule creates a validated rule.
func NewRule(name, pattern string, matchType MatchType, priority int, payee string) (*Rule, error) {
	r := &Rule{
		Name:      name,
		Pattern:   pattern,
		MatchType: matchType,
		Priority:  priority,
		Payee:     payee,
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// RuleSet represents the top-level YAML structure
type RuleSet struct {
	// StripPrefixes are badges the bank prepends to merchant names
	// (mobile wallet, point of sale). Compared case-insensitively.
	StripPrefixes []string `yaml:"strip_prefixes"`
	// ReservedPrefixes mark payees the ledger owns (transfers, balance
	// adjustments). Compared case-sensitively.
	ReservedPrefixes []string `yaml:"reserved_prefixes"`
	Rules            []Rule   `yaml:"rules"`
}

// Engine applies payee rules. Safe for concurrent use after construction.
type Engine struct {
	rules            []Rule // Sorted by priority (highest first)
	stripPrefixes    []string
	reservedPrefixes []string
}

// MatchResult contains the result of applying a rename rule
type MatchResult struct {
	Payee    string
	RuleName string
}

// NewEngine creates a rules engine from YAML data
func NewEngine(rulesData []byte) (*Engine, error) {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(rulesData, &ruleSet); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}

	for i, rule := range ruleSet.Rules {
		if err := rule.validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.Name, err)
		}
	}

	strip := make([]string, 0, len(ruleSet.StripPrefixes))
	for i, p := range ruleSet.StripPrefixes {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("strip_prefixes[%d]: prefix cannot be empty", i)
		}
		strip = append(strip, strings.ToLower(p))
	}
	// Longest first so "apple pay " wins over "apple "
	sort.SliceStable(strip, func(i, j int) bool {
		return len(strip[i]) > len(strip[j])
	})

	for i, p := range ruleSet.ReservedPrefixes {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("reserved_prefixes[%d]: prefix cannot be empty", i)
		}
	}

	// Stable sort keeps YAML order for equal priorities
	sortedRules := make([]Rule, len(ruleSet.Rules))
	copy(sortedRules, ruleSet.Rules)
	sort.SliceStable(sortedRules, func(i, j int) bool {
		return sortedRules[i].Priority > sortedRules[j].Priority
	})

	return &Engine{
		rules:            sortedRules,
		stripPrefixes:    strip,
		reservedPrefixes: append([]string(nil), ruleSet.ReservedPrefixes...),
	}, nil
}

// LoadEmbedded loads the embedded rules.yaml file
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rules (possible binary corruption): %w", err)
	}
	return engine, nil
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return engine, nil
}

// Load loads rules from path, or the embedded defaults when path is empty.
func Load(path string) (*Engine, error) {
	if path == "" {
		return LoadEmbedded()
	}
	return LoadFromFile(path)
}

// Match applies rename rules to a payee and returns the first match.
// Rules are evaluated in priority order (highest first), YAML order for ties.
// Matching is case-insensitive. Returns (nil, false) if no rules match.
func (e *Engine) Match(payee string) (*MatchResult, bool) {
	normalized := strings.ToLower(strings.TrimSpace(payee))

	for _, rule := range e.rules {
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))

		matched := false
		switch rule.MatchType {
		case MatchTypeExact:
			matched = normalized == pattern
		case MatchTypeContains:
			matched = strings.Contains(normalized, pattern)
		case MatchTypePrefix:
			matched = strings.HasPrefix(normalized, pattern)
		}

		if matched {
			return &MatchResult{Payee: rule.Payee, RuleName: rule.Name}, true
		}
	}

	return nil, false
}

// Rename returns the renamed payee, or payee unchanged when no rule matches.
func (e *Engine) Rename(payee string) string {
	if res, ok := e.Match(payee); ok {
		return res.Payee
	}
	return payee
}

// StripNoise removes leading noise prefixes, repeatedly, and trims the result.
// A name that is nothing but a prefix is returned trimmed but otherwise intact.
func (e *Engine) StripNoise(name string) string {
	out := strings.TrimSpace(name)
	for {
		stripped := false
		lower := strings.ToLower(out)
		for _, p := range e.stripPrefixes {
			if strings.HasPrefix(lower, p) {
				rest := strings.TrimSpace(out[len(p):])
				if rest == "" {
					return out
				}
				out = rest
				stripped = true
				break
			}
		}
		if !stripped {
			return out
		}
	}
}

// IsReserved reports whether payee starts with a ledger-owned prefix.
func (e *Engine) IsReserved(payee string) bool {
	for _, p := range e.reservedPrefixes {
		if strings.HasPrefix(payee, p) {
			return true
		}
	}
	return false
}

// GetRules returns a copy of the rename rules in evaluation order.
func (e *Engine) GetRules() []Rule {
	result := make([]Rule, len(e.rules))
	copy(result, e.rules)
	return result
}

// ReservedPrefixes returns a copy of the reserved payee prefixes.
func (e *Engine) ReservedPrefixes() []string {
	return append([]string(nil), e.reservedPrefixes...)
}
