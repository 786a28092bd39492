// Package ofx provides OFX/QFX posted export parsing for ledgersync
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
)

// amountPlaces is the number of decimal places kept when rendering OFX amounts.
// OFX amounts are exact rationals; four places covers every currency in use.
const amountPlaces = 4

// Parser implements OFX/QFX parsing with a stateless design.
// Safe for concurrent use without locking.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
func NewParser() *Parser {
	return parserInstance
}

// getFileInfo returns a formatted file path string for error messages
func getFileInfo(meta *parser.Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return fmt.Sprintf(" from %s", meta.FilePath())
	}
	return ""
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ofx" && ext != ".qfx" {
		return false
	}

	headerUpper := strings.ToUpper(string(header))

	// Both v1 SGML and v2 XML formats
	return strings.Contains(headerUpper, "OFXHEADER") ||
		strings.Contains(headerUpper, "<?OFX") ||
		strings.Contains(headerUpper, "<OFX>")
}

// Parse extracts posted records from an OFX/QFX file.
// Amounts are converted to the export convention (positive = charge) so the
// normalizer treats every posted source alike.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.RawBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content%s: %w", getFileInfo(meta), err)
	}

	// ofxgo.ParseResponse does not take a context
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file%s (%d bytes): %w", getFileInfo(meta), len(content), err)
	}

	if len(response.CreditCard) > 0 {
		ccStmt, ok := response.CreditCard[0].(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, fmt.Errorf("failed to type assert credit card statement: expected *ofxgo.CCStatementResponse, got %T", response.CreditCard[0])
		}
		return p.buildBatch(ccStmt.CCAcctFrom.AcctID.String(), ccStmt.BankTranList, "credit card")
	}

	if len(response.Bank) > 0 {
		bankStmt, ok := response.Bank[0].(*ofxgo.StatementResponse)
		if !ok {
			return nil, fmt.Errorf("failed to type assert bank statement: expected *ofxgo.StatementResponse, got %T", response.Bank[0])
		}
		return p.buildBatch(bankStmt.BankAcctFrom.AcctID.String(), bankStmt.BankTranList, "bank")
	}

	return nil, fmt.Errorf("no supported statement type found in OFX file%s. Expected a credit card (CREDITCARDMSGSRSV1) or bank (BANKMSGSRSV1) statement (creditcard: %d, bank: %d, investment: %d)",
		getFileInfo(meta), len(response.CreditCard), len(response.Bank), len(response.InvStmt))
}

func (p *Parser) buildBatch(accountID string, tranList *ofxgo.TransactionList, kind string) (*parser.RawBatch, error) {
	if accountID == "" {
		return nil, fmt.Errorf("missing account ID in %s statement", kind)
	}
	if tranList == nil {
		return nil, fmt.Errorf("missing transaction list in %s statement", kind)
	}

	batch, err := parser.NewRawBatch(parser.KindPosted)
	if err != nil {
		return nil, err
	}
	batch.SetAccount(accountID)

	for i, txn := range tranList.Transactions {
		rec, err := extractRecord(txn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction at index %d: %w", i, err)
		}
		rec.SetLine(i + 1)
		batch.Append(rec)
	}

	return batch, nil
}

// extractRecord converts one OFX transaction into a raw record
func extractRecord(txn ofxgo.Transaction) (parser.RawRecord, error) {
	id := txn.FiTID.String()

	// Use posted date; if not available, fallback to user date
	date := txn.DtPosted.Time
	if date.IsZero() {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return parser.RawRecord{}, fmt.Errorf("transaction %s missing both posted date and user date", id)
	}

	// Use Name field for description; if empty, fallback to Memo field
	description := txn.Name.String()
	if strings.TrimSpace(description) == "" {
		description = txn.Memo.String()
	}

	// OFX: negative = money out. Export convention: positive = charge.
	var charge big.Rat
	charge.Neg(&txn.TrnAmt.Rat)

	rec := parser.NewRawRecord(domain.FormatDate(date), description, charge.FloatString(amountPlaces))
	rec.SetReference(id)
	return rec, nil
}
