// Package sqlite is a local ledger backed by a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/dedup"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL,
	amount            INTEGER NOT NULL,
	date              TEXT NOT NULL,
	payee_name        TEXT NOT NULL,
	import_payee_name TEXT NOT NULL DEFAULT '',
	cleared           TEXT NOT NULL,
	flagged_pending   INTEGER NOT NULL DEFAULT 0,
	import_id         TEXT,
	memo              TEXT NOT NULL DEFAULT '',
	approved          INTEGER NOT NULL DEFAULT 0,
	category_id       TEXT NOT NULL DEFAULT '',
	subtransactions   TEXT NOT NULL DEFAULT '[]',
	deleted           INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	UNIQUE (account_id, import_id)
);
CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions (account_id, cleared, deleted);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	status      TEXT NOT NULL,
	summary     TEXT NOT NULL
);
`

// Fixed width so runs sort lexically.
const runTimeLayout = "2006-01-02T15:04:05.000000Z"

const txnColumns = `id, account_id, amount, date, payee_name, import_payee_name, cleared,
	flagged_pending, import_id, memo, approved, category_id, subtransactions, deleted`

// Store is a ledger.Ledger and ledger.RunRecorder on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the ledger database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// PendingTransactions implements ledger.Ledger.
func (s *Store) PendingTransactions(ctx context.Context, accountIDs []string) ([]domain.LedgerTransaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE deleted = 0 AND cleared = ?`
	args := []any{string(domain.ClearedStatusUncleared)}
	query, args = whereAccounts(query, args, accountIDs)
	query += ` ORDER BY date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending transactions: %w", err)
	}
	return out, nil
}

// ImportIDs implements ledger.Ledger. Deleted rows are included: their
// import IDs stay reserved.
func (s *Store) ImportIDs(ctx context.Context, accountIDs []string, since string) ([]dedup.Key, error) {
	query := `SELECT account_id, import_id FROM transactions WHERE import_id IS NOT NULL`
	var args []any
	if since != "" {
		query += ` AND date >= ?`
		args = append(args, since)
	}
	query, args = whereAccounts(query, args, accountIDs)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query import IDs: %w", err)
	}
	defer rows.Close()

	var keys []dedup.Key
	for rows.Next() {
		var k dedup.Key
		if err := rows.Scan(&k.AccountID, &k.ImportID); err != nil {
			return nil, fmt.Errorf("failed to scan import ID: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import IDs: %w", err)
	}
	return keys, nil
}

// CreateTransactions implements ledger.Ledger. The batch is written in one
// database transaction: either every row is inserted (or found duplicate) or
// none is.
func (s *Store) CreateTransactions(ctx context.Context, txns []domain.Transaction) (*ledger.CreateResult, error) {
	result := &ledger.CreateResult{}
	if len(txns) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions (`+txnColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (account_id, import_id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	ts := s.now().UTC().Format(time.RFC3339)
	for i := range txns {
		t := &txns[i]
		subs, err := encodeSubtransactions(t.Subtransactions)
		if err != nil {
			return nil, err
		}
		id := uuid.New().String()
		res, err := stmt.ExecContext(ctx,
			id, t.AccountID, t.Amount, t.Date, t.PayeeName, t.ImportPayee(), string(t.Cleared),
			t.FlaggedPending, nullable(t.ImportID), t.Memo, t.Approved, t.CategoryID, subs,
			ts, ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert %s: %w", t.ImportID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to insert %s: %w", t.ImportID, err)
		}
		if n == 0 {
			result.Duplicates = append(result.Duplicates, t.ImportID)
			continue
		}
		result.Created = append(result.Created, ledger.Created{ImportID: t.ImportID, LedgerID: id})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return result, nil
}

// UpdateTransaction implements ledger.Ledger. The import-time payee is kept.
func (s *Store) UpdateTransaction(ctx context.Context, id string, t domain.Transaction) error {
	subs, err := encodeSubtransactions(t.Subtransactions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET
		amount = ?, date = ?, payee_name = ?, cleared = ?, flagged_pending = ?, import_id = ?,
		memo = ?, approved = ?, category_id = ?, subtransactions = ?, updated_at = ?
		WHERE id = ? AND deleted = 0`,
		t.Amount, t.Date, t.PayeeName, string(t.Cleared), t.FlaggedPending, nullable(t.ImportID),
		t.Memo, t.Approved, t.CategoryID, subs, s.now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("import ID %s: %w", t.ImportID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// DeleteTransaction implements ledger.Ledger.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`,
		s.now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// Transaction returns one ledger entry by ID, deleted or not.
func (s *Store) Transaction(ctx context.Context, id string) (*domain.LedgerTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return t, err
}

// RecordRun implements ledger.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, run *ledger.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	summary, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, status, summary) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(runTimeLayout), run.FinishedAt.UTC().Format(runTimeLayout),
		string(run.Status), string(summary))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT summary FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.RunRecord
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var run ledger.RunRecord
		if err := json.Unmarshal([]byte(summary), &run); err != nil {
			return nil, fmt.Errorf("failed to parse run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*domain.LedgerTransaction, error) {
	var (
		t        domain.LedgerTransaction
		cleared  string
		importID sql.NullString
		subs     string
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Date, &t.PayeeName, &t.ImportPayeeName, &cleared,
		&t.FlaggedPending, &importID, &t.Memo, &t.Approved, &t.CategoryID, &subs, &t.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.Cleared = domain.ClearedStatus(cleared)
	t.ImportID = importID.String
	if err := json.Unmarshal([]byte(subs), &t.Subtransactions); err != nil {
		return nil, fmt.Errorf("transaction %s: invalid subtransactions: %w", t.ID, err)
	}
	if len(t.Subtransactions) == 0 {
		t.Subtransactions = nil
	}
	return &t, nil
}

func whereAccounts(query string, args []any, accountIDs []string) (string, []any) {
	if len(accountIDs) == 0 {
		return query, args
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(accountIDs)), ",")
	query += ` AND account_id IN (` + placeholders + `)`
	for _, a := range accountIDs {
		args = append(args, a)
	}
	return query, args
}

func encodeSubtransactions(subs []domain.SubTransaction) (string, error) {
	if len(subs) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(subs)
	if err != nil {
		return "", fmt.Errorf("failed to encode subtransactions: %w", err)
	}
	return string(data), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check result for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s not found or already deleted", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
