// Package sweeper removes stale uploads and failure files on a cron schedule.
package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/david/investor-crm/internal/config"
)

// JobStore is the part of db.Store the sweeper needs.
type JobStore interface {
	// ReferencedUploads reports upload paths that queued or running jobs
	// still need.
	ReferencedUploads(ctx context.Context) ([]string, error)
	FailStaleImportJobs(ctx context.Context, cutoff time.Time, reason string) ([]uuid.UUID, error)
}

// staleGrace is added to the job timeout before a running job counts as
// abandoned, leaving room for the worker to record its own result.
const staleGrace = 5 * time.Minute

const staleReason = "import worker stopped before the job finished"

type Report struct {
	Uploads   int
	Failures  int
	Kept      int
	StaleJobs int
}

type Sweeper struct {
	uploadDir string
	failedDir string
	opts      config.SweepOptions
	timeout   time.Duration
	jobs      JobStore
	cron      *cron.Cron
	now       func() time.Time
	log       *logrus.Entry
}

func New(importOpts config.ImportOptions, opts config.SweepOptions, jobs JobStore, log *logrus.Entry) *Sweeper {
	return &Sweeper{
		uploadDir: importOpts.UploadDir,
		failedDir: importOpts.FailedDir,
		opts:      opts,
		timeout:   importOpts.JobTimeout,
		jobs:      jobs,
		cron:      cron.New(),
		now:       time.Now,
		log:       log.WithField("component", "sweeper"),
	}
}

// Start schedules Sweep. Runs stop once ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.opts.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Sweep(ctx); err != nil {
			s.log.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		return errors.Wrapf(err, "invalid sweep schedule %q", s.opts.Schedule)
	}
	s.cron.Start()
	s.log.WithField("schedule", s.opts.Schedule).Info("sweeper started")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep fails running jobs that outlived the job timeout, then deletes
// uploads older than UploadTTL that no pending or running job references and
// failure files older than FailedTTL.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	now := s.now()

	if s.timeout > 0 {
		ids, err := s.jobs.FailStaleImportJobs(ctx, now.Add(-(s.timeout + staleGrace)), staleReason)
		if err != nil {
			return report, errors.Wrap(err, "fail stale jobs")
		}
		for _, id := range ids {
			s.log.WithField("job_id", id).Warn("failed import job left running past its timeout")
		}
		report.StaleJobs = len(ids)
	}

	paths, err := s.jobs.ReferencedUploads(ctx)
	if err != nil {
		return report, errors.Wrap(err, "list active uploads")
	}
	keep := make(map[string]bool, len(paths))
	for _, p := range paths {
		keep[filepath.Clean(p)] = true
	}

	report.Uploads, report.Kept, err = s.sweepDir(s.uploadDir, now.Add(-s.opts.UploadTTL), keep)
	if err != nil {
		return report, err
	}
	report.Failures, _, err = s.sweepDir(s.failedDir, now.Add(-s.opts.FailedTTL), nil)
	if err != nil {
		return report, err
	}

	if report.Uploads > 0 || report.Failures > 0 {
		s.log.WithFields(logrus.Fields{
			"uploads":  report.Uploads,
			"failures": report.Failures,
			"kept":     report.Kept,
		}).Info("sweep removed stale files")
	}
	return report, nil
}

// sweepDir removes regular files in dir modified before cutoff. It does not
// descend into subdirectories.
func (s *Sweeper) sweepDir(dir string, cutoff time.Time, keep map[string]bool) (removed, kept int, err error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, errors.Wrapf(err, "read %s", dir)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if keep[filepath.Clean(path)] {
			kept++
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("path", path).Warn("failed to remove stale file")
			continue
		}
		removed++
	}
	return removed, kept, nil
}
