package firestore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger"
)

var _ ledger.Ledger = (*Client)(nil)
var _ ledger.RunRecorder = (*Client)(nil)

func TestNewClient_RequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), Options{})
	assert.ErrorContains(t, err, "project ID is required")
}

func TestDocumentID(t *testing.T) {
	id, err := DocumentID("Gold Card", "std:-450:2024-03-01:1")
	require.NoError(t, err)
	assert.Equal(t, "gold-card--std:-450:2024-03-01:1", id)

	again, err := DocumentID("Gold Card", "std:-450:2024-03-01:1")
	require.NoError(t, err)
	assert.Equal(t, id, again, "resubmission maps to the same document")

	other, err := DocumentID("Checking", "std:-450:2024-03-01:1")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	manual1, err := DocumentID("Gold Card", "")
	require.NoError(t, err)
	manual2, err := DocumentID("Gold Card", "")
	require.NoError(t, err)
	assert.NotEqual(t, manual1, manual2)
	assert.False(t, strings.Contains(manual1, "/"))

	_, err = DocumentID("***", "std:-450:2024-03-01:1")
	assert.Error(t, err)
}

func TestDocumentConversion(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := domain.Transaction{
		AccountID:       "acc-1",
		Amount:          -1200,
		Date:            "2024-03-01",
		PayeeName:       "Shell",
		Cleared:         domain.ClearedStatusUncleared,
		FlaggedPending:  true,
		ImportID:        "pending:-1200:2024-03-01:1",
		Memo:            "road trip",
		CategoryID:      "cat-fuel",
		Subtransactions: []domain.SubTransaction{{Amount: -1200, CategoryID: "cat-fuel"}},
	}

	doc := toDocument("doc-1", &in, ts)
	require.NoError(t, doc.Validate())
	assert.Equal(t, "Shell", doc.ImportPayeeName)
	assert.Equal(t, ts, doc.CreatedAt)

	out := doc.toDomain()
	assert.Equal(t, "doc-1", out.ID)
	assert.Equal(t, in, out.Transaction)
	assert.False(t, out.Deleted)
}

func TestDocumentConversion_CarriedPayee(t *testing.T) {
	in := domain.Transaction{
		AccountID:       "acc-1",
		Amount:          -1200,
		Date:            "2024-03-02",
		PayeeName:       "Gas for road trip",
		SourcePayeeName: "Shell",
		Cleared:         domain.ClearedStatusCleared,
		ImportID:        "std:-1200:2024-03-02:1",
	}

	doc := toDocument("doc-1", &in, time.Now())
	assert.Equal(t, "Gas for road trip", doc.PayeeName)
	assert.Equal(t, "Shell", doc.ImportPayeeName)
}

func TestTransaction_Validate(t *testing.T) {
	valid := func() *Transaction {
		return &Transaction{ID: "x", AccountID: "acc-1", Date: "2024-03-01", Cleared: "cleared"}
	}

	doc := valid()
	require.NoError(t, doc.Validate())
	assert.NotNil(t, doc.Subtransactions, "nil subtransactions are stored as an empty array")

	tests := map[string]func(*Transaction){
		"missing id":      func(d *Transaction) { d.ID = "" },
		"missing account": func(d *Transaction) { d.AccountID = "" },
		"bad date":        func(d *Transaction) { d.Date = "03/01/2024" },
		"bad status":      func(d *Transaction) { d.Cleared = "pending" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			d := valid()
			mutate(d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestUpdates_KeepImportPayee(t *testing.T) {
	txn := domain.Transaction{AccountID: "acc-1", Amount: -1, Date: "2024-03-02", PayeeName: "Gas", Cleared: domain.ClearedStatusCleared}
	ups := updates(&txn, time.Now())

	paths := make(map[string]bool)
	for _, u := range ups {
		paths[u.Path] = true
	}
	assert.True(t, paths["cleared"])
	assert.True(t, paths["importId"])
	assert.False(t, paths["importPayeeName"])
	assert.False(t, paths["createdAt"])
	assert.False(t, paths["accountId"])
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, isAlreadyExists(status.Error(codes.AlreadyExists, "document already exists")))
	assert.False(t, isAlreadyExists(status.Error(codes.Unavailable, "try again")))
	assert.False(t, isAlreadyExists(errors.New("plain")))
	assert.False(t, isAlreadyExists(nil))
	assert.True(t, isNotFound(status.Error(codes.NotFound, "missing")))
}

func TestSyncRun(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &ledger.RunRecord{
		ID:         "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Status:     ledger.RunStatusPartial,
		Created:    3,
		Deleted:    1,
	}

	doc := toSyncRun(run)
	require.NoError(t, doc.Validate())
	assert.Equal(t, 3, doc.Stats["created"])
	assert.Equal(t, 1, doc.Stats["deleted"])
	assert.Equal(t, []string{}, doc.Accounts)

	doc.Status = "exploded"
	assert.Error(t, doc.Validate())

	doc = toSyncRun(&ledger.RunRecord{ID: "run-2", Status: ledger.RunStatusCompleted, StartedAt: start, FinishedAt: start.Add(-time.Second)})
	assert.Error(t, doc.Validate())

	doc = toSyncRun(&ledger.RunRecord{Status: ledger.RunStatusCompleted})
	assert.Error(t, doc.Validate())
}
