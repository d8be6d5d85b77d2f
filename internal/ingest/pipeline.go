package ingest

import (
	"context"
	"html"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/models"
)

type Options struct {
	BatchSize       int
	LookupChunkSize int
	DefaultFirmType string
	// FailedDir receives failure workbooks. Empty disables them.
	FailedDir string
}

// Request is one import: whose investors, and which uploaded file.
type Request struct {
	OwnerID      uuid.UUID
	SourcePath   string
	FieldMapping map[string]string
	// KeepSource leaves the upload on disk after the run.
	KeepSource bool
}

// Pipeline runs the import stages in order: read and map rows, validate,
// drop duplicates, then resolve firms and insert in batches.
type Pipeline struct {
	store     db.ImportStore
	mapper    *Mapper
	dedup     *DedupFilter
	inserter  *BatchInserter
	artifacts *ArtifactWriter
	opts      Options
	sanitizer *bluemonday.Policy
	now       func() time.Time
	log       *logrus.Entry
}

func NewPipeline(store db.ImportStore, registry *Registry, opts Options, log *logrus.Entry) *Pipeline {
	p := &Pipeline{
		store:     store,
		opts:      opts,
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
		log:       log,
	}
	p.mapper = NewMapper(registry, func() time.Time { return p.now() })
	p.dedup = NewDedupFilter(store, opts.LookupChunkSize, log)
	p.inserter = NewBatchInserter(store, opts.BatchSize, log)
	if opts.FailedDir != "" {
		p.artifacts = NewArtifactWriter(opts.FailedDir, registry)
	}
	return p
}

// SetClock replaces the time source used for CreatedAt defaults and
// artifact names.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Run imports req.SourcePath for req.OwnerID. Only a source that cannot be
// read, or a done ctx, returns an error; per-record and per-batch failures are
// reported in the result. Batches committed before an error stay committed.
func (p *Pipeline) Run(ctx context.Context, req Request) (*models.ImportResult, error) {
	log := p.log.WithFields(logrus.Fields{"owner_id": req.OwnerID, "source": req.SourcePath})
	if !req.KeepSource {
		defer p.removeSource(req.SourcePath, log)
	}

	candidates, err := p.readCandidates(req)
	if err != nil {
		return nil, err
	}
	log.WithField("rows", len(candidates)).Info("source loaded")

	result := &models.ImportResult{Total: len(candidates), FailedRecords: []models.FailedRecord{}}

	var valid []Candidate
	for _, c := range candidates {
		if err := validateRecord(c.Record); err != nil {
			result.FailedRecords = append(result.FailedRecords, models.FailedRecord{
				Row: c.Row, Stage: models.StageValidation, Reason: err.Error(), Record: c.Record,
			})
			continue
		}
		valid = append(valid, c)
	}

	unique, repeats := dropRepeatedEmails(valid)
	result.Duplicates += len(repeats)

	deduped, err := p.dedup.FilterNew(ctx, req.OwnerID, unique)
	if err != nil {
		return nil, &FatalPipelineError{Err: err}
	}
	result.Duplicates += len(deduped.Existing)
	result.FailedRecords = append(result.FailedRecords, deduped.Failed...)

	prep := &recordPreparer{
		ownerID:   req.OwnerID,
		firms:     NewFirmResolver(p.opts.DefaultFirmType),
		sanitizer: p.sanitizer,
	}
	outcome, err := p.inserter.InsertBatches(ctx, deduped.New, prep)
	if err != nil {
		log.WithError(err).WithField("imported", len(outcome.Succeeded)).Warn("import interrupted between batches")
		return nil, &FatalPipelineError{Err: err}
	}
	result.Imported = len(outcome.Succeeded)
	result.Skipped = result.Total - result.Imported
	result.FailedRecords = append(result.FailedRecords, outcome.Failed...)
	sort.SliceStable(result.FailedRecords, func(i, j int) bool {
		return result.FailedRecords[i].Row < result.FailedRecords[j].Row
	})

	if len(result.FailedRecords) > 0 && p.artifacts != nil {
		path, err := p.artifacts.Write(result.FailedRecords, p.now())
		if err != nil {
			log.WithError(err).Warn("could not write failure workbook")
		} else {
			result.FailureFile = path
		}
	}

	observeResult(result)
	log.WithFields(logrus.Fields{
		"total":      result.Total,
		"imported":   result.Imported,
		"skipped":    result.Skipped,
		"duplicates": result.Duplicates,
		"failed":     len(result.FailedRecords),
	}).Info("import finished")
	return result, nil
}

func (p *Pipeline) readCandidates(req Request) ([]Candidate, error) {
	reader, err := OpenSource(req.SourcePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	mapper := p.mapper.WithFieldMapping(req.FieldMapping)
	var candidates []Candidate
	for reader.Next() {
		candidates = append(candidates, Candidate{Row: reader.Line(), Record: mapper.Map(reader.Row())})
	}
	if err := reader.Err(); err != nil {
		return nil, &SourceLoadError{Path: req.SourcePath, Err: err}
	}
	return candidates, nil
}

func (p *Pipeline) removeSource(path string, log *logrus.Entry) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("could not remove upload")
	}
}

// recordPreparer resolves the firm and cleans free text for one record.
type recordPreparer struct {
	ownerID   uuid.UUID
	firms     *FirmResolver
	sanitizer *bluemonday.Policy
}

func (p *recordPreparer) Prepare(ctx context.Context, tx db.ImportTx, c Candidate) (models.Investor, error) {
	rec := c.Record
	firmID, err := p.firms.Resolve(ctx, tx, rec)
	if err != nil {
		return models.Investor{}, err
	}
	rec.FirmID = &firmID
	rec.Bio = stripMarkup(p.sanitizer, rec.Bio)
	rec.Notes = stripMarkup(p.sanitizer, rec.Notes)
	return models.Investor{InvestorRecord: rec, CreatedBy: p.ownerID}, nil
}

func (p *recordPreparer) BatchCommitted()  { p.firms.Commit() }
func (p *recordPreparer) BatchRolledBack() { p.firms.Discard() }

// stripMarkup removes any HTML from pasted free text and returns plain text.
func stripMarkup(policy *bluemonday.Policy, s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
}
