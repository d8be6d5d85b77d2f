package ingest

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/models"
)

const defaultBatchSize = 50

// Preparer turns a candidate into an insertable row inside the batch
// transaction. It is told how each batch ended so it can drop state that
// only existed in a rolled back transaction.
type Preparer interface {
	Prepare(ctx context.Context, tx db.ImportTx, c Candidate) (models.Investor, error)
	BatchCommitted()
	BatchRolledBack()
}

type BatchOutcome struct {
	Succeeded []Candidate
	Failed    []models.FailedRecord
}

// BatchInserter writes candidates in fixed-size batches, one transaction and
// one multi-row INSERT per batch. Batches run one after another.
type BatchInserter struct {
	store     db.ImportStore
	batchSize int
	log       *logrus.Entry
}

func NewBatchInserter(store db.ImportStore, batchSize int, log *logrus.Entry) *BatchInserter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &BatchInserter{store: store, batchSize: batchSize, log: log}
}

// InsertBatches inserts every candidate. A record the preparer rejects fails
// alone; a batch whose INSERT or commit fails fails as a whole, and the next
// batch still runs. A done ctx stops work between batches and is returned
// along with the outcome so far.
func (b *BatchInserter) InsertBatches(ctx context.Context, candidates []Candidate, prep Preparer) (*BatchOutcome, error) {
	out := &BatchOutcome{}
	batchNo := 0
	for start := 0; start < len(candidates); start += b.batchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		batchNo++
		chunk := candidates[start:min(start+b.batchSize, len(candidates))]
		b.runBatch(ctx, batchNo, chunk, prep, out)
	}
	return out, nil
}

func (b *BatchInserter) runBatch(ctx context.Context, batchNo int, chunk []Candidate, prep Preparer, out *BatchOutcome) {
	started := time.Now()
	var kept []Candidate
	var rejected []models.FailedRecord

	err := b.store.InBatch(ctx, func(tx db.ImportTx) error {
		rows := make([]models.Investor, 0, len(chunk))
		for _, c := range chunk {
			inv, err := prep.Prepare(ctx, tx, c)
			if err != nil {
				rejected = append(rejected, models.FailedRecord{
					Row: c.Row, Stage: stageOf(err), Reason: describe(err), Record: c.Record,
				})
				continue
			}
			applyNameFallback(&inv)
			rows = append(rows, inv)
			kept = append(kept, c)
		}
		return tx.InsertInvestors(ctx, rows)
	})

	log := b.log.WithFields(logrus.Fields{"batch": batchNo, "size": len(chunk)})
	if err != nil {
		prep.BatchRolledBack()
		batchSeconds.WithLabelValues("failed").Observe(time.Since(started).Seconds())
		batchErr := &BatchInsertError{Batch: batchNo, Size: len(chunk), Err: err}
		log.WithError(err).Warn("batch rolled back")
		// Rejected records keep their own reason; everything else fails with the batch.
		rejectedRows := make(map[int]models.FailedRecord, len(rejected))
		for _, r := range rejected {
			rejectedRows[r.Row] = r
		}
		for _, c := range chunk {
			if r, ok := rejectedRows[c.Row]; ok {
				out.Failed = append(out.Failed, r)
				continue
			}
			out.Failed = append(out.Failed, models.FailedRecord{
				Row: c.Row, Stage: models.StageBatch, Reason: describe(batchErr), Record: c.Record,
			})
		}
		return
	}

	prep.BatchCommitted()
	batchSeconds.WithLabelValues("committed").Observe(time.Since(started).Seconds())
	log.WithFields(logrus.Fields{"inserted": len(kept), "rejected": len(rejected)}).Debug("batch committed")
	out.Succeeded = append(out.Succeeded, kept...)
	out.Failed = append(out.Failed, rejected...)
}

// applyNameFallback fills missing names with the email, just before insert.
func applyNameFallback(inv *models.Investor) {
	if inv.FirstName == "" {
		inv.FirstName = inv.Email
	}
	if inv.LastName == "" {
		inv.LastName = inv.Email
	}
}

func stageOf(err error) models.FailureStage {
	var firmErr *FirmResolutionError
	if errors.As(err, &firmErr) {
		return models.StageFirm
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return models.StageValidation
	}
	return models.StageBatch
}

// describe renders err for a failure report, translating database constraint
// errors into plain reasons.
func describe(err error) string {
	var batchErr *BatchInsertError
	if errors.As(err, &batchErr) {
		return db.DescribeError(batchErr.Err)
	}
	var firmErr *FirmResolutionError
	if errors.As(err, &firmErr) {
		return "firm " + `"` + firmErr.Name + `": ` + db.DescribeError(firmErr.Err)
	}
	return err.Error()
}
