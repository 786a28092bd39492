// Package mongo is a ledger backed by MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/dedup"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger"
)

const (
	DefaultDatabase        = "ledgersync"
	TransactionsCollection = "transactions"
	SyncRunsCollection     = "syncRuns"
)

// ---- Abstractions for Testability ----

// Cursor is the part of *mongo.Cursor the store reads through.
type Cursor interface {
	All(ctx context.Context, results interface{}) error
}

// DataStore defines the collection operations the store uses.
type DataStore interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (Cursor, error)
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// CollectionProvider defines the interface for obtaining a collection.
type CollectionProvider interface {
	Collection(name string) DataStore
}

// MongoCollection adapts *mongo.Collection to DataStore.
type MongoCollection struct {
	*mongo.Collection
}

// Find runs a query.
func (c *MongoCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (Cursor, error) {
	cur, err := c.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform Find: %w", err)
	}
	return cur, nil
}

// MongoProvider adapts *mongo.Client to CollectionProvider.
type MongoProvider struct {
	client   *mongo.Client
	database string
}

// NewMongoProvider creates a new MongoProvider.
func NewMongoProvider(client *mongo.Client, database string) *MongoProvider {
	if database == "" {
		database = DefaultDatabase
	}
	return &MongoProvider{client: client, database: database}
}

// Collection returns a DataStore for the given collection name.
func (p *MongoProvider) Collection(name string) DataStore {
	return &MongoCollection{p.client.Database(p.database).Collection(name)}
}

// Connect establishes a connection to MongoDB and makes sure the import ID
// index exists.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	provider := NewMongoProvider(client, database)
	_, err = client.Database(provider.database).Collection(TransactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "importId", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"importId": bson.M{"$gt": ""}}),
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create import ID index: %w", err)
	}

	s := NewStore(provider)
	s.client = client
	return s, nil
}

// Document is a ledger transaction as stored in MongoDB.
type Document struct {
	ID              string                  `bson:"_id"`
	AccountID       string                  `bson:"accountId"`
	Amount          int64                   `bson:"amount"`
	Date            string                  `bson:"date"`
	PayeeName       string                  `bson:"payeeName"`
	ImportPayeeName string                  `bson:"importPayeeName"`
	Cleared         string                  `bson:"cleared"`
	FlaggedPending  bool                    `bson:"flaggedPending"`
	ImportID        string                  `bson:"importId"`
	Memo            string                  `bson:"memo"`
	Approved        bool                    `bson:"approved"`
	CategoryID      string                  `bson:"categoryId"`
	Subtransactions []domain.SubTransaction `bson:"subtransactions"`
	Deleted         bool                    `bson:"deleted"`
	CreatedAt       time.Time               `bson:"createdAt"`
	UpdatedAt       time.Time               `bson:"updatedAt"`
}

func newDocument(t *domain.Transaction, ts time.Time) *Document {
	subs := t.Subtransactions
	if subs == nil {
		subs = []domain.SubTransaction{}
	}
	return &Document{
		ID:              uuid.New().String(),
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
		Subtransactions: subs,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

func (d *Document) toDomain() domain.LedgerTransaction {
	lt := domain.LedgerTransaction{
		ID: d.ID,
		Transaction: domain.Transaction{
			AccountID:      d.AccountID,
			Amount:         d.Amount,
			Date:           d.Date,
			PayeeName:      d.PayeeName,
			Cleared:        domain.ClearedStatus(d.Cleared),
			FlaggedPending: d.FlaggedPending,
			ImportID:       d.ImportID,
			Memo:           d.Memo,
			Approved:       d.Approved,
			CategoryID:     d.CategoryID,
		},
		ImportPayeeName: d.ImportPayeeName,
		Deleted:         d.Deleted,
	}
	if len(d.Subtransactions) > 0 {
		lt.Subtransactions = append([]domain.SubTransaction(nil), d.Subtransactions...)
	}
	return lt
}

// SyncRun is one entry of the sync log collection.
type SyncRun struct {
	ID         string    `bson:"_id"`
	Status     string    `bson:"status"`
	Accounts   []string  `bson:"accounts"`
	Summary    bson.M    `bson:"summary"`
	Error      string    `bson:"error,omitempty"`
	StartedAt  time.Time `bson:"startedAt"`
	FinishedAt time.Time `bson:"finishedAt"`
}

// Store is a ledger.Ledger and ledger.RunRecorder on MongoDB.
type Store struct {
	provider CollectionProvider
	client   *mongo.Client // nil when built from a bare provider
	now      func() time.Time
}

// NewStore creates a store over provider.
func NewStore(provider CollectionProvider) *Store {
	return &Store{provider: provider, now: time.Now}
}

// Close disconnects the client, if the store owns one.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func accountFilter(filter bson.M, accountIDs []string) bson.M {
	if len(accountIDs) > 0 {
		filter["accountId"] = bson.M{"$in": accountIDs}
	}
	return filter
}

// PendingTransactions implements ledger.Ledger.
func (s *Store) PendingTransactions(ctx context.Context, accountIDs []string) ([]domain.LedgerTransaction, error) {
	filter := accountFilter(bson.M{
		"cleared": string(domain.ClearedStatusUncleared),
		"deleted": false,
	}, accountIDs)
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := s.provider.Collection(TransactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}
	var docs []Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode pending transactions: %w", err)
	}

	out := make([]domain.LedgerTransaction, len(docs))
	for i := range docs {
		out[i] = docs[i].toDomain()
	}
	return out, nil
}

// ImportIDs implements ledger.Ledger. Deleted documents are included.
func (s *Store) ImportIDs(ctx context.Context, accountIDs []string, since string) ([]dedup.Key, error) {
	filter := accountFilter(bson.M{"importId": bson.M{"$gt": ""}}, accountIDs)
	if since != "" {
		filter["date"] = bson.M{"$gte": since}
	}
	opts := options.Find().SetProjection(bson.M{"accountId": 1, "importId": 1})

	cur, err := s.provider.Collection(TransactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query import IDs: %w", err)
	}
	var docs []Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode import IDs: %w", err)
	}

	keys := make([]dedup.Key, len(docs))
	for i, d := range docs {
		keys[i] = dedup.Key{AccountID: d.AccountID, ImportID: d.ImportID}
	}
	return keys, nil
}

// CreateTransactions implements ledger.Ledger. Imported transactions are
// upserted with $setOnInsert keyed on (account, import ID), so a resubmission
// matches the existing document and changes nothing.
func (s *Store) CreateTransactions(ctx context.Context, txns []domain.Transaction) (*ledger.CreateResult, error) {
	result := &ledger.CreateResult{}
	if len(txns) == 0 {
		return result, nil
	}

	ts := s.now().UTC()
	docs := make([]*Document, len(txns))
	models := make([]mongo.WriteModel, len(txns))
	for i := range txns {
		doc := newDocument(&txns[i], ts)
		docs[i] = doc
		if doc.ImportID == "" {
			models[i] = mongo.NewInsertOneModel().SetDocument(doc)
			continue
		}
		filter := bson.M{"accountId": doc.AccountID, "importId": doc.ImportID}
		update := bson.M{"$setOnInsert": doc}
		models[i] = mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true)
	}

	res, err := s.provider.Collection(TransactionsCollection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return nil, fmt.Errorf("failed to perform bulk write: %w", err)
	}

	for i, doc := range docs {
		if doc.ImportID != "" {
			if _, upserted := res.UpsertedIDs[int64(i)]; !upserted {
				result.Duplicates = append(result.Duplicates, doc.ImportID)
				continue
			}
		}
		result.Created = append(result.Created, ledger.Created{ImportID: doc.ImportID, LedgerID: doc.ID})
	}
	return result, nil
}

// UpdateTransaction implements ledger.Ledger. The import-time payee is kept.
func (s *Store) UpdateTransaction(ctx context.Context, id string, t domain.Transaction) error {
	subs := t.Subtransactions
	if subs == nil {
		subs = []domain.SubTransaction{}
	}
	update := bson.M{"$set": bson.M{
		"amount":          t.Amount,
		"date":            t.Date,
		"payeeName":       t.PayeeName,
		"cleared":         string(t.Cleared),
		"flaggedPending":  t.FlaggedPending,
		"importId":        t.ImportID,
		"memo":            t.Memo,
		"approved":        t.Approved,
		"categoryId":      t.CategoryID,
		"subtransactions": subs,
		"updatedAt":       s.now().UTC(),
	}}
	return s.updateLive(ctx, id, update)
}

// DeleteTransaction implements ledger.Ledger.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	return s.updateLive(ctx, id, bson.M{"$set": bson.M{"deleted": true, "updatedAt": s.now().UTC()}})
}

func (s *Store) updateLive(ctx context.Context, id string, update bson.M) error {
	res, err := s.provider.Collection(TransactionsCollection).UpdateOne(ctx, bson.M{"_id": id, "deleted": false}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("transaction %s: %w", id, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("transaction %s not found or already deleted", id)
	}
	return nil
}

// RecordRun implements ledger.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, run *ledger.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	doc := SyncRun{
		ID:       run.ID,
		Status:   string(run.Status),
		Accounts: run.Accounts,
		Summary: bson.M{
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
		Error:      run.Error,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	if _, err := s.provider.Collection(SyncRunsCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert into %s collection: %w", SyncRunsCollection, err)
	}
	return nil
}
