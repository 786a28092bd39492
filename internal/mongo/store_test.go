package mongo_test

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger"
	store "github.com/rumor-ml/commons.systems/ledgersync/internal/mongo"
)

var _ ledger.Ledger = (*store.Store)(nil)
var _ ledger.RunRecorder = (*store.Store)(nil)

// Mock for Cursor interface.
type mockCursor struct {
	docs []store.Document
	err  error
}

func (c *mockCursor) All(ctx context.Context, results interface{}) error {
	if c.err != nil {
		return c.err
	}
	*(results.(*[]store.Document)) = c.docs
	return nil
}

// Mock for DataStore interface.
type mockDataStore struct {
	findFunc      func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (store.Cursor, error)
	bulkWriteFunc func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	updateOneFunc func(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	insertOneFunc func(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

func (m *mockDataStore) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (store.Cursor, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, filter, opts...)
	}
	return &mockCursor{}, nil
}

func (m *mockDataStore) BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	if m.bulkWriteFunc != nil {
		return m.bulkWriteFunc(ctx, models, opts...)
	}
	return &mongo.BulkWriteResult{}, nil
}

func (m *mockDataStore) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	if m.updateOneFunc != nil {
		return m.updateOneFunc(ctx, filter, update, opts...)
	}
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (m *mockDataStore) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if m.insertOneFunc != nil {
		return m.insertOneFunc(ctx, document, opts...)
	}
	return &mongo.InsertOneResult{}, nil
}

// Mock for CollectionProvider interface.
type mockCollectionProvider struct {
	collectionFunc func(name string) store.DataStore
}

func (m *mockCollectionProvider) Collection(name string) store.DataStore {
	if m.collectionFunc != nil {
		return m.collectionFunc(name)
	}
	return &mockDataStore{}
}

func providerFor(t *testing.T, want string, ds store.DataStore) *mockCollectionProvider {
	return &mockCollectionProvider{
		collectionFunc: func(name string) store.DataStore {
			if name != want {
				t.Errorf("Expected collection %s, got %s", want, name)
			}
			return ds
		},
	}
}

func TestPendingTransactions(t *testing.T) {
	ctx := context.Background()
	ds := &mockDataStore{
		findFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (store.Cursor, error) {
			f := filter.(bson.M)
			if f["cleared"] != "uncleared" || f["deleted"] != false {
				t.Errorf("unexpected filter %v", f)
			}
			in, ok := f["accountId"].(bson.M)
			if !ok || len(in["$in"].([]string)) != 1 {
				t.Errorf("expected account filter, got %v", f["accountId"])
			}
			return &mockCursor{docs: []store.Document{
				{ID: "L1", AccountID: "acc-1", Amount: -1200, Date: "2024-03-01", PayeeName: "Gas", ImportPayeeName: "Shell",
					Cleared: "uncleared", FlaggedPending: true, ImportID: "pending:-1200:2024-03-01:1", Subtransactions: []domain.SubTransaction{}},
			}}, nil
		},
	}

	s := store.NewStore(providerFor(t, store.TransactionsCollection, ds))
	got, err := s.PendingTransactions(ctx, []string{"acc-1"})
	if err != nil {
		t.Fatalf("PendingTransactions failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(got))
	}
	if got[0].ID != "L1" || got[0].ImportPayeeName != "Shell" || got[0].Cleared != domain.ClearedStatusUncleared {
		t.Errorf("unexpected transaction %+v", got[0])
	}
	if got[0].Subtransactions != nil {
		t.Errorf("empty subtransactions should decode as nil, got %v", got[0].Subtransactions)
	}
}

func TestPendingTransactions_FindError(t *testing.T) {
	ds := &mockDataStore{
		findFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (store.Cursor, error) {
			return nil, errors.New("connection reset")
		},
	}
	s := store.NewStore(providerFor(t, store.TransactionsCollection, ds))
	if _, err := s.PendingTransactions(context.Background(), nil); err == nil {
		t.Error("Expected error")
	}
}

func TestImportIDs(t *testing.T) {
	ds := &mockDataStore{
		findFunc: func(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (store.Cursor, error) {
			f := filter.(bson.M)
			if _, ok := f["accountId"]; ok {
				t.Errorf("no account filter expected for empty account list")
			}
			if f["date"].(bson.M)["$gte"] != "2024-03-01" {
				t.Errorf("expected since filter, got %v", f["date"])
			}
			return &mockCursor{docs: []store.Document{
				{AccountID: "acc-1", ImportID: "std:-1:2024-03-01:1"},
				{AccountID: "acc-2", ImportID: "std:-1:2024-03-01:1"},
			}}, nil
		},
	}

	s := store.NewStore(providerFor(t, store.TransactionsCollection, ds))
	keys, err := s.ImportIDs(context.Background(), nil, "2024-03-01")
	if err != nil {
		t.Fatalf("ImportIDs failed: %v", err)
	}
	if len(keys) != 2 || keys[1].AccountID != "acc-2" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestCreateTransactions_UpsertReportsDuplicates(t *testing.T) {
	txns := []domain.Transaction{
		{AccountID: "acc-1", Amount: -300, Date: "2024-03-01", PayeeName: "Cafe", Cleared: domain.ClearedStatusCleared, ImportID: "std:-300:2024-03-01:1"},
		{AccountID: "acc-1", Amount: -300, Date: "2024-03-01", PayeeName: "Cafe", Cleared: domain.ClearedStatusCleared, ImportID: "std:-300:2024-03-01:2"},
		{AccountID: "acc-1", Amount: -100, Date: "2024-03-01", PayeeName: "Cash", Cleared: domain.ClearedStatusCleared},
	}

	ds := &mockDataStore{
		bulkWriteFunc: func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			if len(models) != 3 {
				t.Fatalf("Expected 3 write models, got %d", len(models))
			}
			upsert, ok := models[0].(*mongo.UpdateOneModel)
			if !ok {
				t.Fatalf("Expected UpdateOneModel, got %T", models[0])
			}
			if upsert.Upsert == nil || !*upsert.Upsert {
				t.Error("Expected upsert")
			}
			if _, ok := upsert.Update.(bson.M)["$setOnInsert"]; !ok {
				t.Errorf("Expected $setOnInsert update, got %v", upsert.Update)
			}
			if _, ok := models[2].(*mongo.InsertOneModel); !ok {
				t.Errorf("Expected InsertOneModel for manual entry, got %T", models[2])
			}
			// Second one already existed
			return &mongo.BulkWriteResult{UpsertedIDs: map[int64]interface{}{0: "x"}, InsertedCount: 1}, nil
		},
	}

	s := store.NewStore(providerFor(t, store.TransactionsCollection, ds))
	res, err := s.CreateTransactions(context.Background(), txns)
	if err != nil {
		t.Fatalf("CreateTransactions failed: %v", err)
	}
	if len(res.Created) != 2 {
		t.Errorf("Expected 2 created, got %d", len(res.Created))
	}
	if len(res.Duplicates) != 1 || res.Duplicates[0] != "std:-300:2024-03-01:2" {
		t.Errorf("unexpected duplicates %v", res.Duplicates)
	}
	if res.Created[0].LedgerID == "" {
		t.Error("Expected a ledger ID")
	}
}

func TestCreateTransactions_Empty(t *testing.T) {
	s := store.NewStore(&mockCollectionProvider{
		collectionFunc: func(name string) store.DataStore {
			t.Error("no collection access expected")
			return &mockDataStore{}
		},
	})
	res, err := s.CreateTransactions(context.Background(), nil)
	if err != nil || len(res.Created) != 0 {
		t.Errorf("CreateTransactions(nil) = %v, %v", res, err)
	}
}

func TestCreateTransactions_BulkWriteError(t *testing.T) {
	ds := &mockDataStore{
		bulkWriteFunc: func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			return nil, errors.New("bulk write error")
		},
	}
	s := store.NewStore(providerFor(t, store.TransactionsCollection, ds))
	_, err := s.CreateTransactions(context.Background(), []domain.Transaction{{AccountID: "a", ImportID: "std:1:2024-03-01:1"}})
	if err == nil {
		t.Error("Expected error")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	var updates []bson.M
	ds := &mockDataStore{
		updateOneFunc: func(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
			f := filter.(bson.M)
			if f["deleted"] != false {
				t.Errorf("writes must only touch live documents, filter %v", f)
			}
			updates = append(updates, update.(bson.M)["$set"].(bson.M))
			if f["_id"] == "missing" {
				return &mongo.UpdateResult{}, nil
			}
			return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		},
	}
	s := store.NewStore(providerFor(t, store.TransactionsCollection, ds))
	ctx := context.Background()

	cleared := domain.Transaction{AccountID: "acc-1", Amount: -1, Date: "2024-03-02", PayeeName: "Gas", Cleared: domain.ClearedStatusCleared, ImportID: "std:-1:2024-03-02:1"}
	if err := s.UpdateTransaction(ctx, "L1", cleared); err != nil {
		t.Fatalf("UpdateTransaction failed: %v", err)
	}
	if updates[0]["importId"] != "std:-1:2024-03-02:1" || updates[0]["cleared"] != "cleared" {
		t.Errorf("unexpected update %v", updates[0])
	}
	if _, ok := updates[0]["importPayeeName"]; ok {
		t.Error("import-time payee must not be overwritten")
	}

	if err := s.DeleteTransaction(ctx, "L1"); err != nil {
		t.Fatalf("DeleteTransaction failed: %v", err)
	}
	if updates[1]["deleted"] != true {
		t.Errorf("expected soft delete, got %v", updates[1])
	}

	if err := s.DeleteTransaction(ctx, "missing"); err == nil {
		t.Error("Expected not-found error")
	}
}

func TestRecordRun(t *testing.T) {
	ds := &mockDataStore{
		insertOneFunc: func(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
			run, ok := document.(store.SyncRun)
			if !ok {
				t.Fatalf("Expected SyncRun document, got %T", document)
			}
			if run.ID != "run-1" || run.Summary["created"] != 4 {
				t.Errorf("unexpected sync run %+v", run)
			}
			return &mongo.InsertOneResult{}, nil
		},
	}
	s := store.NewStore(providerFor(t, store.SyncRunsCollection, ds))

	if err := s.RecordRun(context.Background(), &ledger.RunRecord{ID: "run-1", Status: ledger.RunStatusCompleted, Created: 4}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := s.RecordRun(context.Background(), &ledger.RunRecord{}); err == nil {
		t.Error("Expected error for missing run ID")
	}
}

func TestClose_WithoutClient(t *testing.T) {
	if err := store.NewStore(&mockCollectionProvider{}).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
