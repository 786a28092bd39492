package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
)

// Import ID namespaces. Posted and pending copies of the same charge never
// share an import ID.
const (
	NamespacePosted  = "std"
	NamespacePending = "pending"
)

// Namespace returns the import ID namespace for a source kind
func Namespace(kind parser.SourceKind) string {
	if kind == parser.KindPending {
		return NamespacePending
	}
	return NamespacePosted
}

// ImportID is the parsed form of "<namespace>:<amount>:<date>:<occurrence>".
type ImportID struct {
	Namespace  string
	Amount     int64
	Date       string
	Occurrence int
}

func (id ImportID) String() string {
	return fmt.Sprintf("%s:%d:%s:%d", id.Namespace, id.Amount, id.Date, id.Occurrence)
}

// ParseImportID parses an import ID produced by GenerateImportID.
func ParseImportID(s string) (ImportID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return ImportID{}, fmt.Errorf("import id %q: expected 4 colon-separated parts, got %d", s, len(parts))
	}
	if parts[0] != NamespacePosted && parts[0] != NamespacePending {
		return ImportID{}, fmt.Errorf("import id %q: unknown namespace %q", s, parts[0])
	}
	amount, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ImportID{}, fmt.Errorf("import id %q: invalid amount: %w", s, err)
	}
	if _, err := domain.ParseDate(parts[2]); err != nil {
		return ImportID{}, fmt.Errorf("import id %q: invalid date: %w", s, err)
	}
	occ, err := strconv.Atoi(parts[3])
	if err != nil || occ < 1 {
		return ImportID{}, fmt.Errorf("import id %q: occurrence must be a positive integer", s)
	}
	return ImportID{Namespace: parts[0], Amount: amount, Date: parts[2], Occurrence: occ}, nil
}

// namespaceOf returns the namespace of an already emitted transaction's import ID
func namespaceOf(t *domain.Transaction) string {
	ns, _, _ := strings.Cut(t.ImportID, ":")
	return ns
}

// GenerateImportID returns "<namespace>:<amount>:<date>:<occurrence>" where
// occurrence is 1 + the number of transactions in emitted for the same account
// sharing (namespace, amount, date). Deterministic for a fixed emitted order.
//
// Example: two -300 charges on 2024-03-01 get "std:-300:2024-03-01:1" and
// "std:-300:2024-03-01:2".
func GenerateImportID(accountID string, amount int64, date string, kind parser.SourceKind, emitted []domain.Transaction) string {
	ns := Namespace(kind)
	occurrence := 1
	for i := range emitted {
		t := &emitted[i]
		if t.AccountID == accountID && t.Amount == amount && t.Date == date && namespaceOf(t) == ns {
			occurrence++
		}
	}
	return ImportID{Namespace: ns, Amount: amount, Date: date, Occurrence: occurrence}.String()
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a name to a lowercase, hyphenated, path-safe slug.
// Examples: "Gold Card" → "gold-card", "Épargne" → "epargne"
func Slugify(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name cannot be empty")
	}

	// Strip accents
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, name)
	if err != nil {
		return "", fmt.Errorf("failed to normalize name %q: %w", name, err)
	}

	slug := nonSlugChars.ReplaceAllString(strings.ToLower(normalized), "-")
	slug = strings.Trim(slug, "-")

	if slug == "" {
		return "", fmt.Errorf("name %q contains no alphanumeric characters", name)
	}

	return slug, nil
}
