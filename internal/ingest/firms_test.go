package ingest

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/models"
)

func resolveIn(t *testing.T, store *memStore, r *FirmResolver, recs ...models.InvestorRecord) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	err := store.InBatch(context.Background(), func(tx db.ImportTx) error {
		for _, rec := range recs {
			id, err := r.Resolve(context.Background(), tx, rec)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	require.NoError(t, err)
	r.Commit()
	return ids
}

func TestFirmResolver_SameNameSameID(t *testing.T) {
	store := newMemStore()
	r := NewFirmResolver("")

	first := resolveIn(t, store, r, models.InvestorRecord{FirmName: "Sequoia"})
	second := resolveIn(t, store, r, models.InvestorRecord{FirmName: "Sequoia"}, models.InvestorRecord{FirmName: "Sequoia"})

	assert.Equal(t, first[0], second[0])
	assert.Equal(t, first[0], second[1])
	assert.Equal(t, 1, store.firmCount())
	assert.Equal(t, models.DefaultFirmType, store.firms["Sequoia"].Type)
}

func TestFirmResolver_ExistingFirmReused(t *testing.T) {
	store := newMemStore()
	existing := store.seedFirm("Accel")

	ids := resolveIn(t, store, NewFirmResolver(""), models.InvestorRecord{FirmName: "Accel"})
	assert.Equal(t, existing, ids[0])
	assert.Equal(t, 1, store.firmCount())
}

func TestFirmResolver_IndependentAndFirmType(t *testing.T) {
	store := newMemStore()
	ids := resolveIn(t, store, NewFirmResolver("Venture Capital"),
		models.InvestorRecord{},
		models.InvestorRecord{FirmName: "Angel Co", FirmType: "Angel Network"},
	)

	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, "Venture Capital", store.firms[IndependentFirm].Type)
	assert.Equal(t, "Angel Network", store.firms["Angel Co"].Type)
}

func TestFirmResolver_ExplicitFirmIDSkipsLookup(t *testing.T) {
	store := newMemStore()
	given := uuid.New()

	ids := resolveIn(t, store, NewFirmResolver(""), models.InvestorRecord{FirmName: "Ignored", FirmID: &given})
	assert.Equal(t, given, ids[0])
	assert.Zero(t, store.firmCount())
}

func TestFirmResolver_Failure(t *testing.T) {
	store := newMemStore()
	store.failFirm = func(name string) error { return errors.New("permission denied") }
	r := NewFirmResolver("")

	err := store.InBatch(context.Background(), func(tx db.ImportTx) error {
		_, err := r.Resolve(context.Background(), tx, models.InvestorRecord{FirmName: "Broken"})
		return err
	})

	var firmErr *FirmResolutionError
	require.ErrorAs(t, err, &firmErr)
	assert.Equal(t, "Broken", firmErr.Name)
	assert.Zero(t, store.firmCount())
}

func TestFirmResolver_DiscardForgetsRolledBackFirms(t *testing.T) {
	store := newMemStore()
	r := NewFirmResolver("")

	var rolledBack uuid.UUID
	err := store.InBatch(context.Background(), func(tx db.ImportTx) error {
		var err error
		rolledBack, err = r.Resolve(context.Background(), tx, models.InvestorRecord{FirmName: "Ephemeral"})
		require.NoError(t, err)
		return errors.New("insert failed")
	})
	require.Error(t, err)
	r.Discard()

	ids := resolveIn(t, store, r, models.InvestorRecord{FirmName: "Ephemeral"})
	assert.NotEqual(t, rolledBack, ids[0])
	assert.Equal(t, 1, store.firmCount())
}
