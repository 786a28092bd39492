package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/rules"
)

// DefaultAmountScale is the number of minor units per major unit (cents).
const DefaultAmountScale = 100

// dateLayouts are the source date formats accepted, tried in order.
// Timestamps keep their own calendar date, no zone shifting.
var dateLayouts = []string{
	domain.DateLayout,
	"1/2/2006",
	"2006/01/02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102",
}

var (
	errEmptyValue  = errors.New("empty value")
	errUnknownDate = errors.New("unrecognized date format")
	errOutOfRange  = errors.New("amount out of range")

	minAmount = decimal.NewFromInt(math.MinInt64)
	maxAmount = decimal.NewFromInt(math.MaxInt64)
)

// Normalizer converts raw source records into canonical transactions.
// It holds configuration only; every call is a pure function of its inputs.
type Normalizer struct {
	scale decimal.Decimal
	rules *rules.Engine // optional
}

// NewNormalizer creates a normalizer. scale is the minor units per major unit
// (100 for cents, 1000 for milliunits). rules may be nil.
func NewNormalizer(scale int64, r *rules.Engine) (*Normalizer, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("amount scale must be positive, got %d", scale)
	}
	return &Normalizer{scale: decimal.NewFromInt(scale), rules: r}, nil
}

// Normalize converts one raw record. emitted is everything already produced
// in this run and only feeds the import ID occurrence counter.
func (n *Normalizer) Normalize(rec parser.RawRecord, kind parser.SourceKind, accountID string, emitted []domain.Transaction) (domain.Transaction, error) {
	amount, err := n.ConvertAmount(rec.Amount())
	if err != nil {
		return domain.Transaction{}, &domain.ConversionError{Field: "amount", Value: rec.Amount(), Record: rec.Line(), Err: err}
	}

	date, err := ConvertDate(rec.Date())
	if err != nil {
		return domain.Transaction{}, &domain.ConversionError{Field: "date", Value: rec.Date(), Record: rec.Line(), Err: err}
	}

	payee := n.NormalizePayee(rec.Description())
	if payee == "" {
		return domain.Transaction{}, &domain.ConversionError{Field: "description", Value: rec.Description(), Record: rec.Line(), Err: errEmptyValue}
	}

	cleared := domain.ClearedStatusCleared
	if kind == parser.KindPending {
		cleared = domain.ClearedStatusUncleared
	}

	txn, err := domain.NewTransaction(accountID, amount, date, payee, cleared)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("record %d: %w", rec.Line(), err)
	}
	txn.ImportID = GenerateImportID(accountID, amount, date, kind, emitted)

	return *txn, nil
}

// NormalizeBatch normalizes a parsed batch in source order. emitted is the
// run's output so far (other files); the returned slice holds only this
// batch's transactions. Stops at the first conversion error.
func (n *Normalizer) NormalizeBatch(batch *parser.RawBatch, accountID string, emitted []domain.Transaction) ([]domain.Transaction, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}

	seen := make([]domain.Transaction, len(emitted), len(emitted)+batch.Len())
	copy(seen, emitted)

	out := make([]domain.Transaction, 0, batch.Len())
	for _, rec := range batch.Records() {
		txn, err := n.Normalize(rec, batch.Kind(), accountID, seen)
		if err != nil {
			return nil, err
		}
		seen = append(seen, txn)
		out = append(out, txn)
	}
	return out, nil
}

// ConvertAmount parses a source amount (positive = charge), negates it and
// scales it to integer minor units, rounding half away from zero.
func (n *Normalizer) ConvertAmount(s string) (int64, error) {
	cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, errEmptyValue
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, err
	}
	minor := d.Neg().Mul(n.scale).Round(0)
	if minor.LessThan(minAmount) || minor.GreaterThan(maxAmount) {
		return 0, errOutOfRange
	}
	return minor.IntPart(), nil
}

// ConvertDate parses any accepted source date layout into YYYY-MM-DD.
func ConvertDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errEmptyValue
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.FormatDate(t), nil
		}
	}
	return "", errUnknownDate
}

// NormalizePayee title-cases a raw description, cuts it at the first double
// space (merchant codes and cities trail there), strips noise prefixes and
// applies rename rules.
func (n *Normalizer) NormalizePayee(description string) string {
	payee := cases.Title(language.English).String(strings.TrimSpace(description))
	if i := strings.Index(payee, "  "); i >= 0 {
		payee = payee[:i]
	}
	payee = strings.TrimSpace(payee)

	if n.rules != nil && payee != "" {
		payee = n.rules.StripNoise(payee)
		payee = n.rules.Rename(payee)
	}
	return payee
}
