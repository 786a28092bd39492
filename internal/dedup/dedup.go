// Package dedup tracks which import IDs the ledger already holds, so a
// resubmitted source transaction is recognized and skipped.
package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Key identifies an imported transaction. Import IDs are only unique within
// an account.
type Key struct {
	AccountID string `json:"accountId"`
	ImportID  string `json:"importId"`
}

func (k Key) String() string {
	return k.AccountID + "/" + k.ImportID
}

// Index is the set of (account, import ID) pairs present in the ledger.
// A nil *Index is a valid empty index.
type Index struct {
	keys map[Key]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{keys: make(map[Key]struct{})}
}

// FromKeys builds an index from keys, ignoring entries without an import ID
// (transactions entered by hand).
func FromKeys(keys []Key) *Index {
	ix := NewIndex()
	for _, k := range keys {
		_ = ix.Add(k.AccountID, k.ImportID)
	}
	return ix
}

// Add records an import ID for an account.
func (ix *Index) Add(accountID, importID string) error {
	if accountID == "" {
		return fmt.Errorf("account ID cannot be empty")
	}
	if importID == "" {
		return fmt.Errorf("import ID cannot be empty")
	}
	ix.keys[Key{AccountID: accountID, ImportID: importID}] = struct{}{}
	return nil
}

// Contains reports whether the ledger already holds importID in accountID.
func (ix *Index) Contains(accountID, importID string) bool {
	if ix == nil || importID == "" {
		return false
	}
	_, ok := ix.keys[Key{AccountID: accountID, ImportID: importID}]
	return ok
}

// Len returns the number of keys.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.keys)
}

// Keys returns every key sorted by account, then import ID.
func (ix *Index) Keys() []Key {
	if ix == nil {
		return nil
	}
	keys := make([]Key, 0, len(ix.keys))
	for k := range ix.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].AccountID != keys[j].AccountID {
			return keys[i].AccountID < keys[j].AccountID
		}
		return keys[i].ImportID < keys[j].ImportID
	})
	return keys
}

// Snapshot is the on-disk form of an index, written in dry-run mode so the
// operator can inspect what the ledger was believed to hold.
type Snapshot struct {
	Version int       `json:"version"`
	TakenAt time.Time `json:"takenAt"`
	Keys    []Key     `json:"keys"`
}

const (
	// CurrentVersion is the current snapshot file format version
	CurrentVersion = 1
)

// SaveSnapshot atomically writes the index to disk.
// Uses atomic write pattern: write to temp file, then rename.
func SaveSnapshot(ix *Index, filePath string, takenAt time.Time) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	snap := Snapshot{Version: CurrentVersion, TakenAt: takenAt, Keys: ix.Keys()}
	if snap.Keys == nil {
		snap.Keys = []Key{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tempFile := filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
// Returns os.IsNotExist error if file doesn't exist (caller should handle).
func LoadSnapshot(filePath string) (*Index, *Snapshot, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, nil, err // Preserve os.IsNotExist for caller
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	if snap.Version != CurrentVersion {
		return nil, nil, fmt.Errorf("unsupported snapshot file version %d (current version: %d)", snap.Version, CurrentVersion)
	}
	return FromKeys(snap.Keys), &snap, nil
}
