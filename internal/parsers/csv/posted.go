// Package csv provides posted bank export CSV parsing for ledgersync
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
)

// Parser implements header-driven CSV parsing with a stateless design.
// Safe for concurrent use without locking.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared CSV parser instance.
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
	return "csv-posted"
}

// Column names, matched case-insensitively after trimming.
const (
	colDate        = "date"
	colDescription = "description"
	colAmount      = "amount"
	colReference   = "reference"
)

// columns maps required and optional column names to their position
type columns struct {
	date, description, amount int
	reference                 int // -1 when absent
}

func findColumns(header []string) (columns, error) {
	cols := columns{date: -1, description: -1, amount: -1, reference: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case colDate:
			if cols.date < 0 {
				cols.date = i
			}
		case colDescription:
			if cols.description < 0 {
				cols.description = i
			}
		case colAmount:
			if cols.amount < 0 {
				cols.amount = i
			}
		case colReference:
			if cols.reference < 0 {
				cols.reference = i
			}
		}
	}

	var missing []string
	if cols.date < 0 {
		missing = append(missing, "Date")
	}
	if cols.description < 0 {
		missing = append(missing, "Description")
	}
	if cols.amount < 0 {
		missing = append(missing, "Amount")
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func newReader(r io.Reader) *csv.Reader {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	return csvReader
}

// CanParse checks if this parser can handle the file based on extension and header row
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" {
		return false
	}

	record, err := newReader(strings.NewReader(string(header))).Read()
	if err != nil {
		return false
	}

	_, err = findColumns(record)
	return err == nil
}

// Parse extracts raw records from a posted export.
// Amounts keep the export's convention (positive = charge).
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.RawBatch, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	csvReader := newReader(r)

	header, err := csvReader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("CSV file is empty%s", getFileInfo(meta))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header%s: %w", getFileInfo(meta), err)
	}

	cols, err := findColumns(header)
	if err != nil {
		return nil, fmt.Errorf("unsupported CSV layout%s: %w", getFileInfo(meta), err)
	}

	batch, err := parser.NewRawBatch(parser.KindPosted)
	if err != nil {
		return nil, err
	}

	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV content%s: %w", getFileInfo(meta), err)
		}
		// encoding/csv skips blank lines, so the row number comes from the reader
		line, _ := csvReader.FieldPos(0)

		// Skip whitespace-only rows
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		rec, err := p.parseRow(record, cols)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction at row %d%s: %w", line, getFileInfo(meta), err)
		}
		rec.SetLine(line)
		batch.Append(rec)
	}

	return batch, nil
}

// parseRow extracts a single record. Values are validated by the normalizer.
func (p *Parser) parseRow(record []string, cols columns) (parser.RawRecord, error) {
	last := max(cols.date, cols.description, cols.amount)
	if len(record) <= last {
		return parser.RawRecord{}, fmt.Errorf("row has %d fields, need at least %d", len(record), last+1)
	}

	rec := parser.NewRawRecord(
		strings.TrimSpace(record[cols.date]),
		record[cols.description],
		strings.TrimSpace(record[cols.amount]),
	)
	if cols.reference >= 0 && cols.reference < len(record) {
		rec.SetReference(strings.Trim(strings.TrimSpace(record[cols.reference]), "'"))
	}
	return rec, nil
}
