package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/david/investor-crm/internal/models"
)

// JobStore persists import job state transitions.
type JobStore interface {
	GetImportJob(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	MarkImportJobRunning(ctx context.Context, id uuid.UUID) error
	CompleteImportJob(ctx context.Context, id uuid.UUID, result models.ImportResult) error
	FailImportJob(ctx context.Context, id uuid.UUID, reason string) error
}

// JobRunner drives one queued job through pending -> running -> completed|failed.
type JobRunner struct {
	jobs     JobStore
	pipeline *Pipeline
	timeout  time.Duration
	log      *logrus.Entry
}

func NewJobRunner(jobs JobStore, pipeline *Pipeline, timeout time.Duration, log *logrus.Entry) *JobRunner {
	return &JobRunner{jobs: jobs, pipeline: pipeline, timeout: timeout, log: log}
}

// Process runs the job with the given id. A job that is no longer pending is
// left alone, so a redelivered queue message is harmless.
func (r *JobRunner) Process(ctx context.Context, jobID uuid.UUID) (err error) {
	log := r.log.WithField("job_id", jobID)

	job, err := r.jobs.GetImportJob(ctx, jobID)
	if err != nil {
		return errors.Wrap(err, "load job")
	}
	if job.Status != models.JobPending {
		log.WithField("status", job.Status).Info("job already handled, skipping")
		return nil
	}
	if err := r.jobs.MarkImportJobRunning(ctx, jobID); err != nil {
		return errors.Wrap(err, "start job")
	}
	log.WithField("file", job.FileName).Info("import started")

	// Final status writes must land even if the run context was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = &FatalPipelineError{Err: fmt.Errorf("panic: %v", p)}
			r.fail(finishCtx, log, jobID, err)
		}
	}()

	result, err := r.pipeline.Run(runCtx, Request{
		OwnerID:      job.CreatedBy,
		SourcePath:   job.FilePath,
		FieldMapping: job.FieldMapping,
	})
	if err != nil {
		r.fail(finishCtx, log, jobID, err)
		return err
	}

	if err := r.jobs.CompleteImportJob(finishCtx, jobID, *result); err != nil {
		return errors.Wrap(err, "complete job")
	}
	jobsTotal.WithLabelValues(string(models.JobCompleted)).Inc()
	return nil
}

func (r *JobRunner) fail(ctx context.Context, log *logrus.Entry, jobID uuid.UUID, cause error) {
	jobsTotal.WithLabelValues(string(models.JobFailed)).Inc()
	log.WithError(cause).Error("import failed")
	if err := r.jobs.FailImportJob(ctx, jobID, cause.Error()); err != nil {
		log.WithError(err).Error("could not record job failure")
	}
}
