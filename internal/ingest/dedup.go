package ingest

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/models"
)

const defaultLookupChunkSize = 500

// Candidate is a mapped record together with its row number in the source
// file, as reported by RowReader.Line.
type Candidate struct {
	Row    int
	Record models.InvestorRecord
}

// DedupFilter drops records whose email already belongs to the owner.
// Emails are compared exactly, without case folding.
type DedupFilter struct {
	store     db.ImportStore
	chunkSize int
	log       *logrus.Entry
}

func NewDedupFilter(store db.ImportStore, chunkSize int, log *logrus.Entry) *DedupFilter {
	if chunkSize <= 0 {
		chunkSize = defaultLookupChunkSize
	}
	return &DedupFilter{store: store, chunkSize: chunkSize, log: log}
}

type DedupResult struct {
	New      []Candidate
	Existing []Candidate
	// Failed holds records whose lookup chunk errored.
	Failed []models.FailedRecord
}

// FilterNew splits candidates into new and already-stored records, keeping
// source order. Records without an email are neither. A failed lookup chunk
// fails only the records in it; the returned error is non-nil only when ctx
// is done.
func (f *DedupFilter) FilterNew(ctx context.Context, ownerID uuid.UUID, candidates []Candidate) (*DedupResult, error) {
	emails := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		e := c.Record.Email
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		emails = append(emails, e)
	}

	existing := make(map[string]struct{})
	lookupErr := make(map[string]error)
	for start := 0; start < len(emails); start += f.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+f.chunkSize, len(emails))
		chunk := emails[start:end]

		found, err := f.store.ExistingEmails(ctx, ownerID, chunk)
		if err != nil {
			f.log.WithError(err).WithField("chunk_start", start).Warn("duplicate lookup failed for chunk")
			for _, e := range chunk {
				lookupErr[e] = err
			}
			continue
		}
		for _, e := range found {
			existing[e] = struct{}{}
		}
	}

	res := &DedupResult{}
	for _, c := range candidates {
		e := c.Record.Email
		if e == "" {
			continue
		}
		if err, failed := lookupErr[e]; failed {
			lookupFailure := &DedupLookupError{Err: err}
			res.Failed = append(res.Failed, models.FailedRecord{
				Row: c.Row, Stage: models.StageDedup, Reason: lookupFailure.Error(), Record: c.Record,
			})
			continue
		}
		if _, dup := existing[e]; dup {
			res.Existing = append(res.Existing, c)
			continue
		}
		res.New = append(res.New, c)
	}
	return res, nil
}

// dropRepeatedEmails keeps the first record for each email and returns the
// later ones separately.
func dropRepeatedEmails(candidates []Candidate) (unique, repeats []Candidate) {
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Record.Email]; ok {
			repeats = append(repeats, c)
			continue
		}
		seen[c.Record.Email] = struct{}{}
		unique = append(unique, c)
	}
	return unique, repeats
}
