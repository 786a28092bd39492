package parser

import (
	"fmt"
	"time"
)

// Metadata contains context about the source file being parsed.
// Extracted from directory structure: {sources}/{account}/file.ext
//
// When Account() returns an empty string, the file sat directly in the sources
// root. This is not an error: the parser may still name the account inside the
// file (pending feed "account" field, OFX account id).
type Metadata struct {
	filePath   string
	account    string // Inferred from directory (e.g., "Checking")
	detectedAt time.Time
}

// NewMetadata creates a new Metadata instance with validated required fields.
// Returns an error if filePath is empty or detectedAt is zero.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{
		filePath:   filePath,
		detectedAt: detectedAt,
	}, nil
}

// FilePath returns the absolute file path
func (m *Metadata) FilePath() string {
	return m.filePath
}

// Account returns the account name inferred from directory structure.
func (m *Metadata) Account() string {
	return m.account
}

// DetectedAt returns the timestamp when the file was detected
func (m *Metadata) DetectedAt() time.Time {
	return m.detectedAt
}

// SetAccount sets the account name
func (m *Metadata) SetAccount(account string) {
	m.account = account
}

// ResolveAccount picks the account a batch belongs to: the directory name wins,
// the name inside the file is the fallback.
func ResolveAccount(meta *Metadata, batch *RawBatch) string {
	if meta != nil && meta.Account() != "" {
		return meta.Account()
	}
	if batch != nil {
		return batch.Account()
	}
	return ""
}
