package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/dedup"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/transform"
)

// DefaultCollectionPrefix names the collections "<prefix>-transactions" and
// "<prefix>-sync-runs".
const DefaultCollectionPrefix = "ledger"

// Options configures NewClient.
type Options struct {
	ProjectID        string
	CredentialsFile  string // empty means Application Default Credentials
	CollectionPrefix string
}

// Client is a ledger.Ledger and ledger.RunRecorder on Cloud Firestore.
type Client struct {
	Firestore *firestore.Client
	projectID string
	prefix    string
	now       func() time.Time
}

// NewClient creates a new Firestore client
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("firestore project ID is required")
	}
	conf := &firebase.Config{ProjectID: opts.ProjectID}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	prefix := opts.CollectionPrefix
	if prefix == "" {
		prefix = DefaultCollectionPrefix
	}

	return &Client{
		Firestore: firestoreClient,
		projectID: opts.ProjectID,
		prefix:    prefix,
		now:       time.Now,
	}, nil
}

// Close closes the Firestore client
func (c *Client) Close() error {
	return c.Firestore.Close()
}

func (c *Client) transactions() *firestore.CollectionRef {
	return c.Firestore.Collection(c.prefix + "-transactions")
}

func (c *Client) runs() *firestore.CollectionRef {
	return c.Firestore.Collection(c.prefix + "-sync-runs")
}

// SubTransaction is one split line stored inside a Transaction document.
type SubTransaction struct {
	Amount     int64  `firestore:"amount"`
	PayeeName  string `firestore:"payeeName,omitempty"`
	CategoryID string `firestore:"categoryId,omitempty"`
	Memo       string `firestore:"memo,omitempty"`
}

// Transaction represents a ledger transaction in Firestore
type Transaction struct {
	ID              string           `firestore:"id"`
	AccountID       string           `firestore:"accountId"`
	Amount          int64            `firestore:"amount"`
	Date            string           `firestore:"date"`
	PayeeName       string           `firestore:"payeeName"`
	ImportPayeeName string           `firestore:"importPayeeName"`
	Cleared         string           `firestore:"cleared"`
	FlaggedPending  bool             `firestore:"flaggedPending"`
	ImportID        string           `firestore:"importId"`
	Memo            string           `firestore:"memo"`
	Approved        bool             `firestore:"approved"`
	CategoryID      string           `firestore:"categoryId"`
	Subtransactions []SubTransaction `firestore:"subtransactions"`
	Deleted         bool             `firestore:"deleted"`
	CreatedAt       time.Time        `firestore:"createdAt"`
	UpdatedAt       time.Time        `firestore:"updatedAt"`
}

// Validate checks if the Transaction has valid data
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if t.AccountID == "" {
		return fmt.Errorf("account ID is required")
	}
	if _, err := domain.ParseDate(t.Date); err != nil {
		return fmt.Errorf("invalid date format (expected YYYY-MM-DD): %w", err)
	}
	if !domain.ValidateClearedStatus(domain.ClearedStatus(t.Cleared)) {
		return fmt.Errorf("invalid cleared status: %s", t.Cleared)
	}

	// Ensure Subtransactions is not nil
	if t.Subtransactions == nil {
		t.Subtransactions = []SubTransaction{}
	}

	return nil
}

// DocumentID derives the document ID of an imported transaction from its
// account and import ID, so a resubmitted import collides on Create.
// Transactions without an import ID get a random ID.
func DocumentID(accountID, importID string) (string, error) {
	if importID == "" {
		return uuid.New().String(), nil
	}
	slug, err := transform.Slugify(accountID)
	if err != nil {
		return "", fmt.Errorf("invalid account ID: %w", err)
	}
	return slug + "--" + importID, nil
}

func toDocument(id string, t *domain.Transaction, ts time.Time) *Transaction {
	doc := &Transaction{
		ID:              id,
		AccountID:       t.AccountID,
		Amount:          t.Amount,
		Date:            t.Date,
		PayeeName:       t.PayeeName,
		ImportPayeeName: t.ImportPayee(),
		Cleared:         string(t.Cleared),
		FlaggedPending:  t.FlaggedPending,
		ImportID:        t.ImportID,
		Memo:            t.Memo,
		Approved:        t.Approved,
		CategoryID:      t.CategoryID,
		Subtransactions: make([]SubTransaction, len(t.Subtransactions)),
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	for i, s := range t.Subtransactions {
		doc.Subtransactions[i] = SubTransaction(s)
	}
	return doc
}

func (t *Transaction) toDomain() domain.LedgerTransaction {
	lt := domain.LedgerTransaction{
		ID: t.ID,
		Transaction: domain.Transaction{
			AccountID:      t.AccountID,
			Amount:         t.Amount,
			Date:           t.Date,
			PayeeName:      t.PayeeName,
			Cleared:        domain.ClearedStatus(t.Cleared),
			FlaggedPending: t.FlaggedPending,
			ImportID:       t.ImportID,
			Memo:           t.Memo,
			Approved:       t.Approved,
			CategoryID:     t.CategoryID,
		},
		ImportPayeeName: t.ImportPayeeName,
		Deleted:         t.Deleted,
	}
	for _, s := range t.Subtransactions {
		lt.Subtransactions = append(lt.Subtransactions, domain.SubTransaction(s))
	}
	return lt
}

// updates lists the fields UpdateTransaction overwrites. The import-time
// payee and creation time are kept.
func updates(t *domain.Transaction, ts time.Time) []firestore.Update {
	subs := make([]SubTransaction, len(t.Subtransactions))
	for i, s := range t.Subtransactions {
		subs[i] = SubTransaction(s)
	}
	return []firestore.Update{
		{Path: "amount", Value: t.Amount},
		{Path: "date", Value: t.Date},
		{Path: "payeeName", Value: t.PayeeName},
		{Path: "cleared", Value: string(t.Cleared)},
		{Path: "flaggedPending", Value: t.FlaggedPending},
		{Path: "importId", Value: t.ImportID},
		{Path: "memo", Value: t.Memo},
		{Path: "approved", Value: t.Approved},
		{Path: "categoryId", Value: t.CategoryID},
		{Path: "subtransactions", Value: subs},
		{Path: "updatedAt", Value: ts},
	}
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// PendingTransactions implements ledger.Ledger.
func (c *Client) PendingTransactions(ctx context.Context, accountIDs []string) ([]domain.LedgerTransaction, error) {
	q := c.transactions().
		Where("cleared", "==", string(domain.ClearedStatusUncleared)).
		Where("deleted", "==", false)

	var out []domain.LedgerTransaction
	err := c.eachAccount(ctx, q, accountIDs, func(doc *Transaction) {
		out = append(out, doc.toDomain())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ImportIDs implements ledger.Ledger. Deleted documents are included.
func (c *Client) ImportIDs(ctx context.Context, accountIDs []string, since string) ([]dedup.Key, error) {
	q := c.transactions().Query
	if since != "" {
		q = q.Where("date", ">=", since)
	}

	var keys []dedup.Key
	err := c.eachAccount(ctx, q, accountIDs, func(doc *Transaction) {
		if doc.ImportID != "" {
			keys = append(keys, dedup.Key{AccountID: doc.AccountID, ImportID: doc.ImportID})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query import IDs: %w", err)
	}
	return keys, nil
}

// eachAccount runs q once per account (once unfiltered when accountIDs is
// empty) and calls fn for every document.
func (c *Client) eachAccount(ctx context.Context, q firestore.Query, accountIDs []string, fn func(*Transaction)) error {
	queries := []firestore.Query{q}
	if len(accountIDs) > 0 {
		queries = queries[:0]
		for _, a := range accountIDs {
			queries = append(queries, q.Where("accountId", "==", a))
		}
	}

	for _, query := range queries {
		iter := query.Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return err
			}
			var txn Transaction
			if err := doc.DataTo(&txn); err != nil {
				iter.Stop()
				return fmt.Errorf("failed to parse transaction %s: %w", doc.Ref.ID, err)
			}
			fn(&txn)
		}
		iter.Stop()
	}
	return nil
}

// CreateTransactions implements ledger.Ledger. Documents are created one at a
// time; on error the result holds what was written before it.
func (c *Client) CreateTransactions(ctx context.Context, txns []domain.Transaction) (*ledger.CreateResult, error) {
	result := &ledger.CreateResult{}
	ts := c.now().UTC()

	for i := range txns {
		t := &txns[i]
		id, err := DocumentID(t.AccountID, t.ImportID)
		if err != nil {
			return result, err
		}
		doc := toDocument(id, t, ts)
		if err := doc.Validate(); err != nil {
			return result, fmt.Errorf("invalid transaction %s: %w", t.ImportID, err)
		}

		_, err = c.transactions().Doc(id).Create(ctx, doc)
		if isAlreadyExists(err) {
			result.Duplicates = append(result.Duplicates, t.ImportID)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to create %s: %w", t.ImportID, err)
		}
		result.Created = append(result.Created, ledger.Created{ImportID: t.ImportID, LedgerID: id})
	}
	return result, nil
}

// UpdateTransaction implements ledger.Ledger.
func (c *Client) UpdateTransaction(ctx context.Context, id string, t domain.Transaction) error {
	ref := c.transactions().Doc(id)
	return c.Firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := requireLive(tx, ref); err != nil {
			return err
		}
		return tx.Update(ref, updates(&t, c.now().UTC()))
	})
}

// DeleteTransaction implements ledger.Ledger.
func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	ref := c.transactions().Doc(id)
	return c.Firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := requireLive(tx, ref); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "deleted", Value: true},
			{Path: "updatedAt", Value: c.now().UTC()},
		})
	})
}

func requireLive(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
	snap, err := tx.Get(ref)
	if isNotFound(err) {
		return fmt.Errorf("transaction %s not found", ref.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read transaction %s: %w", ref.ID, err)
	}
	deleted, err := snap.DataAt("deleted")
	if err == nil && deleted == true {
		return fmt.Errorf("transaction %s already deleted", ref.ID)
	}
	return nil
}

// SyncRun represents one sync run in Firestore
type SyncRun struct {
	ID          string         `firestore:"id"`
	Status      string         `firestore:"status"`
	Accounts    []string       `firestore:"accounts"`
	Stats       map[string]int `firestore:"stats"`
	Error       string         `firestore:"error,omitempty"`
	StartedAt   time.Time      `firestore:"startedAt"`
	CompletedAt time.Time      `firestore:"completedAt"`
}

// Validate checks if the SyncRun has valid data
func (r *SyncRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	validStatuses := map[ledger.RunStatus]bool{
		ledger.RunStatusCompleted: true,
		ledger.RunStatusPartial:   true,
		ledger.RunStatusFailed:    true,
		ledger.RunStatusDryRun:    true,
	}
	if !validStatuses[ledger.RunStatus(r.Status)] {
		return fmt.Errorf("invalid status: %s", r.Status)
	}
	if r.CompletedAt.Before(r.StartedAt) {
		return fmt.Errorf("run completed before it started")
	}
	return nil
}

func toSyncRun(run *ledger.RunRecord) *SyncRun {
	accounts := run.Accounts
	if accounts == nil {
		accounts = []string{}
	}
	return &SyncRun{
		ID:       run.ID,
		Status:   string(run.Status),
		Accounts: accounts,
		Stats: map[string]int{
			"incoming":    run.Incoming,
			"voided":      run.Voided,
			"created":     run.Created,
			"duplicates":  run.Duplicates,
			"cleared":     run.Cleared,
			"deleted":     run.Deleted,
			"unchanged":   run.Unchanged,
			"ambiguous":   run.Ambiguous,
			"writeErrors": run.WriteErrors,
		},
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		CompletedAt: run.FinishedAt,
	}
}

// RecordRun implements ledger.RunRecorder.
func (c *Client) RecordRun(ctx context.Context, run *ledger.RunRecord) error {
	doc := toSyncRun(run)
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid sync run: %w", err)
	}
	_, err := c.runs().Doc(doc.ID).Create(ctx, doc)
	if isAlreadyExists(err) {
		return fmt.Errorf("sync run %s: %w", doc.ID, domain.ErrAlreadyExists)
	}
	return err
}
