package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/models"
)

// IndependentFirm is used for investors whose row names no firm.
const IndependentFirm = "Independent"

// FirmResolver finds or creates firms by exact name and remembers the answer
// for the rest of the job. Firms created inside a batch are only remembered
// once that batch commits.
type FirmResolver struct {
	defaultType string
	known       map[string]uuid.UUID
	pending     map[string]uuid.UUID
}

func NewFirmResolver(defaultType string) *FirmResolver {
	if defaultType == "" {
		defaultType = models.DefaultFirmType
	}
	return &FirmResolver{
		defaultType: defaultType,
		known:       make(map[string]uuid.UUID),
		pending:     make(map[string]uuid.UUID),
	}
}

// Resolve returns the firm for rec. A record that already carries a firm ID
// is returned as is.
func (r *FirmResolver) Resolve(ctx context.Context, tx db.ImportTx, rec models.InvestorRecord) (uuid.UUID, error) {
	if rec.FirmID != nil {
		return *rec.FirmID, nil
	}
	name := rec.FirmName
	if name == "" {
		name = IndependentFirm
	}
	if id, ok := r.known[name]; ok {
		return id, nil
	}
	if id, ok := r.pending[name]; ok {
		return id, nil
	}

	var (
		id      uuid.UUID
		created bool
	)
	err := tx.Savepoint(ctx, func() error {
		found, ok, err := tx.FindFirmByName(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			id = found
			return nil
		}
		firmType := rec.FirmType
		if firmType == "" {
			firmType = r.defaultType
		}
		id, err = tx.CreateFirm(ctx, name, firmType)
		created = err == nil
		return err
	})
	if err != nil {
		return uuid.Nil, &FirmResolutionError{Name: name, Err: err}
	}

	if created {
		r.pending[name] = id
	} else {
		r.known[name] = id
	}
	return id, nil
}

// Commit keeps firms created in the batch that just committed.
func (r *FirmResolver) Commit() {
	for name, id := range r.pending {
		r.known[name] = id
	}
	clear(r.pending)
}

// Discard forgets firms created in a batch that rolled back.
func (r *FirmResolver) Discard() {
	clear(r.pending)
}
