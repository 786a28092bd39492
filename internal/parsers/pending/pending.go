// Package pending parses the pending-transactions feed: authorization holds
// the bank shows but has not posted yet.
package pending

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
)

// Parser reads the JSON pending feed. Stateless, safe for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared pending feed parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "pending-json"
}

// feed is the document layout:
//
//	{"account": "Gold", "transactions": [{"date": "2024-03-01", "amount": 12.5, "description": "..."}]}
type feed struct {
	Account      string     `json:"account"`
	Transactions []feedItem `json:"transactions"`
}

type feedItem struct {
	Date        string          `json:"date"`
	Amount      json.RawMessage `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
}

// CanParse accepts .json files holding a JSON object
func (p *Parser) CanParse(path string, header []byte) bool {
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return false
	}
	trimmed := bytes.TrimLeft(header, " \t\r\n\ufeff")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Parse extracts pending records. Amounts keep the feed's convention (positive = charge).
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.RawBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc feed
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode pending feed%s: %w", fileInfo(meta), err)
	}
	if doc.Transactions == nil {
		return nil, fmt.Errorf("pending feed%s has no transactions array", fileInfo(meta))
	}

	batch, err := parser.NewRawBatch(parser.KindPending)
	if err != nil {
		return nil, err
	}
	batch.SetAccount(strings.TrimSpace(doc.Account))

	for i, item := range doc.Transactions {
		amount, err := amountString(item.Amount)
		if err != nil {
			return nil, fmt.Errorf("pending transaction %d%s: %w", i+1, fileInfo(meta), err)
		}
		rec := parser.NewRawRecord(strings.TrimSpace(item.Date), item.Description, amount)
		rec.SetReference(item.Reference)
		rec.SetLine(i + 1)
		batch.Append(rec)
	}

	return batch, nil
}

// amountString accepts a JSON number or a JSON string and returns its text.
// Numbers are kept verbatim so no float conversion ever happens.
func amountString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid amount %s: %w", raw, err)
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid amount %s: %w", raw, err)
	}
	return n.String(), nil
}

func fileInfo(meta *parser.Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return " " + meta.FilePath()
	}
	return ""
}
