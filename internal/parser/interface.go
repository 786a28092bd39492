package parser

import (
	"context"
	"fmt"
	"io"
)

// Parser is the strategy interface for all source export parsers
type Parser interface {
	// Name returns parser identifier (e.g., "ofx", "csv-posted", "pending-json")
	Name() string

	// CanParse checks if parser can handle this file
	// Returns true if this parser should be used for the file
	CanParse(path string, header []byte) bool

	// Parse extracts raw records from the export
	Parse(ctx context.Context, r io.Reader, meta *Metadata) (*RawBatch, error)
}

// SourceKind tells whether a batch came from the posted export or the pending feed.
type SourceKind string

const (
	KindPosted  SourceKind = "posted"
	KindPending SourceKind = "pending"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == KindPosted || k == KindPending
}

// RawBatch is the parsed content of one source file, in file order,
// before normalization.
type RawBatch struct {
	kind    SourceKind
	account string // Account named inside the file; empty when the file doesn't say
	records []RawRecord
}

// NewRawBatch creates an empty batch of the given kind
func NewRawBatch(kind SourceKind) (*RawBatch, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid source kind: %q", kind)
	}
	return &RawBatch{kind: kind}, nil
}

// Kind returns the source kind
func (b *RawBatch) Kind() SourceKind { return b.kind }

// Account returns the account named in the file, if any
func (b *RawBatch) Account() string { return b.account }

// SetAccount records the account named in the file
func (b *RawBatch) SetAccount(account string) { b.account = account }

// Records returns the raw records in file order
func (b *RawBatch) Records() []RawRecord { return b.records }

// Len returns the number of records
func (b *RawBatch) Len() int { return len(b.records) }

// Append adds a record at the end of the batch
func (b *RawBatch) Append(rec RawRecord) {
	b.records = append(b.records, rec)
}

// RawRecord is one source row exactly as the source expressed it.
// Amount and date stay strings: conversion happens once, in the normalizer,
// so a malformed value surfaces as a conversion error there.
type RawRecord struct {
	date        string // Source layout, e.g. "01/02/2006" or "2006-01-02"
	description string
	amount      string // Decimal string, source convention: positive = charge
	reference   string // Optional source reference (FITID, bank reference)
	line        int    // 1-based position in the source, 0 if unknown
}

// NewRawRecord creates a raw record. Values are not interpreted here.
func NewRawRecord(date, description, amount string) RawRecord {
	return RawRecord{
		date:        date,
		description: description,
		amount:      amount,
	}
}

// Date returns the source date string
func (r *RawRecord) Date() string { return r.date }

// Description returns the source description
func (r *RawRecord) Description() string { return r.description }

// Amount returns the source amount string
func (r *RawRecord) Amount() string { return r.amount }

// Reference returns the optional source reference
func (r *RawRecord) Reference() string { return r.reference }

// Line returns the 1-based source position, 0 if unknown
func (r *RawRecord) Line() int { return r.line }

// SetReference sets the optional source reference
func (r *RawRecord) SetReference(ref string) {
	r.reference = ref
}

// SetLine records the source position used in conversion errors
func (r *RawRecord) SetLine(line int) {
	r.line = line
}
