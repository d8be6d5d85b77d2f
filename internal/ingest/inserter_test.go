package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/models"
)

func numberedCandidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{Row: i + 1, Record: models.InvestorRecord{
			Email:  fmt.Sprintf("inv%03d@x.com", i+1),
			Status: models.StatusCold,
		}}
	}
	return out
}

func rowsOf(cands []Candidate) []int {
	out := make([]int, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Row)
	}
	return out
}

func failedRows(failed []models.FailedRecord) []int {
	out := make([]int, 0, len(failed))
	for _, f := range failed {
		out = append(out, f.Row)
	}
	return out
}

func rowRange(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func testPreparer(owner uuid.UUID) *recordPreparer {
	return &recordPreparer{ownerID: owner, firms: NewFirmResolver(""), sanitizer: bluemonday.StrictPolicy()}
}

func TestInsertBatches_FailedBatchIsIsolated(t *testing.T) {
	store := newMemStore()
	store.failInsert = func(batch int, _ []models.Investor) error {
		if batch == 2 {
			return &pgconn.PgError{Code: "23514", ConstraintName: "investors_status_check"}
		}
		return nil
	}

	out, err := NewBatchInserter(store, 50, testLogger()).
		InsertBatches(context.Background(), numberedCandidates(120), testPreparer(uuid.New()))
	require.NoError(t, err)

	assert.Equal(t, append(rowRange(1, 50), rowRange(101, 120)...), rowsOf(out.Succeeded))
	assert.Equal(t, rowRange(51, 100), failedRows(out.Failed))
	for _, f := range out.Failed {
		assert.Equal(t, models.StageBatch, f.Stage)
		assert.Equal(t, "value rejected by investors_status_check", f.Reason)
	}
	assert.Len(t, store.storedEmails(), 70)
	assert.Equal(t, 3, store.batches)
}

func TestInsertBatches_DefaultBatchSize(t *testing.T) {
	store := newMemStore()
	out, err := NewBatchInserter(store, 0, testLogger()).
		InsertBatches(context.Background(), numberedCandidates(101), testPreparer(uuid.New()))
	require.NoError(t, err)
	assert.Len(t, out.Succeeded, 101)
	assert.Equal(t, 3, store.batches)
}

func TestInsertBatches_NameFallbackAndOwner(t *testing.T) {
	store := newMemStore()
	owner := uuid.New()
	cands := []Candidate{{Row: 1, Record: models.InvestorRecord{
		Email: "nameless@x.com", LastName: "Known", Status: models.StatusCold,
		Bio: "<script>alert(1)</script><b>Operator</b> &amp; angel",
	}}}

	_, err := NewBatchInserter(store, 10, testLogger()).InsertBatches(context.Background(), cands, testPreparer(owner))
	require.NoError(t, err)

	inv, ok := store.investorByEmail("nameless@x.com")
	require.True(t, ok)
	assert.Equal(t, "nameless@x.com", inv.FirstName)
	assert.Equal(t, "Known", inv.LastName)
	assert.Equal(t, owner, inv.CreatedBy)
	assert.Equal(t, "Operator & angel", inv.Bio)
	require.NotNil(t, inv.FirmID)
	assert.Equal(t, store.firms[IndependentFirm].ID, *inv.FirmID)
}

func TestInsertBatches_FirmFailureRejectsOnlyThatRecord(t *testing.T) {
	store := newMemStore()
	store.failFirm = func(name string) error {
		if name == "Bad Firm" {
			return errors.New("value too long")
		}
		return nil
	}
	cands := numberedCandidates(3)
	cands[1].Record.FirmName = "Bad Firm"

	out, err := NewBatchInserter(store, 50, testLogger()).InsertBatches(context.Background(), cands, testPreparer(uuid.New()))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, rowsOf(out.Succeeded))
	require.Len(t, out.Failed, 1)
	assert.Equal(t, models.StageFirm, out.Failed[0].Stage)
	assert.Contains(t, out.Failed[0].Reason, `firm "Bad Firm"`)
}

func TestInsertBatches_RolledBackBatchKeepsFirmRejections(t *testing.T) {
	store := newMemStore()
	store.failFirm = func(name string) error {
		if name == "Bad Firm" {
			return errors.New("boom")
		}
		return nil
	}
	store.failInsert = func(int, []models.Investor) error { return errors.New("connection lost") }
	cands := numberedCandidates(2)
	cands[0].Record.FirmName = "Bad Firm"

	out, err := NewBatchInserter(store, 50, testLogger()).InsertBatches(context.Background(), cands, testPreparer(uuid.New()))
	require.NoError(t, err)

	assert.Empty(t, out.Succeeded)
	require.Len(t, out.Failed, 2)
	assert.Equal(t, models.StageFirm, out.Failed[0].Stage)
	assert.Equal(t, models.StageBatch, out.Failed[1].Stage)
	assert.Zero(t, store.firmCount())
}

func TestInsertBatches_StopsBetweenBatchesWhenCancelled(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	store.failInsert = func(batch int, _ []models.Investor) error {
		if batch == 1 {
			cancel()
		}
		return nil
	}

	out, err := NewBatchInserter(store, 10, testLogger()).InsertBatches(ctx, numberedCandidates(25), testPreparer(uuid.New()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, rowRange(1, 10), rowsOf(out.Succeeded))
	assert.Equal(t, 1, store.batches)
}

var _ db.ImportTx = (*memTx)(nil)
