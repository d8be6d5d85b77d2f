package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/investor-crm/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store holds import job bookkeeping and owner-level read queries.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const jobCols = `id, created_by, status, file_name, file_path, file_size, field_mapping,
	total_records, imported_records, skipped_records, duplicate_records, failed_records,
	failure_file, error_summary, started_at, finished_at, created_at, updated_at`

func scanImportJob(scan func(dest ...any) error) (models.ImportJob, error) {
	var j models.ImportJob
	var status string
	var mappingRaw []byte
	var failureFile, errorSummary *string

	err := scan(
		&j.ID, &j.CreatedBy, &status, &j.FileName, &j.FilePath, &j.FileSize, &mappingRaw,
		&j.TotalRecords, &j.Imported, &j.Skipped, &j.Duplicates, &j.Failed,
		&failureFile, &errorSummary, &j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}

	j.Status = models.JobStatus(status)
	if len(mappingRaw) > 0 {
		_ = json.Unmarshal(mappingRaw, &j.FieldMapping)
	}
	if failureFile != nil {
		j.FailureFile = *failureFile
		j.HasFailureFile = *failureFile != ""
	}
	if errorSummary != nil {
		j.ErrorSummary = *errorSummary
	}
	return j, nil
}

// CreateImportJob inserts job in the pending state and fills in its generated fields.
func (s *Store) CreateImportJob(ctx context.Context, job *models.ImportJob) error {
	var mapping []byte
	if len(job.FieldMapping) > 0 {
		var err error
		if mapping, err = json.Marshal(job.FieldMapping); err != nil {
			return fmt.Errorf("error encoding field mapping: %w", err)
		}
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO import_jobs (created_by, status, file_name, file_path, file_size, field_mapping)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, job.CreatedBy, models.JobPending, job.FileName, job.FilePath, job.FileSize, mapping).
		Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating import job: %w", err)
	}
	job.Status = models.JobPending
	return nil
}

func (s *Store) GetImportJob(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM import_jobs WHERE id = $1`, jobCols), id)
	j, err := scanImportJob(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading import job: %w", err)
	}
	return &j, nil
}

// GetOwnedImportJob returns the job only if ownerID created it.
func (s *Store) GetOwnedImportJob(ctx context.Context, ownerID, id uuid.UUID) (*models.ImportJob, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM import_jobs WHERE id = $1 AND created_by = $2`, jobCols), id, ownerID)
	j, err := scanImportJob(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading import job: %w", err)
	}
	return &j, nil
}

// JobFilter narrows ListImportJobs. Zero values mean no filter.
type JobFilter struct {
	OwnerID uuid.UUID
	Status  models.JobStatus
	Limit   int
}

func (s *Store) ListImportJobs(ctx context.Context, filter JobFilter) ([]models.ImportJob, error) {
	where, args := buildJobFilter(filter)
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	args = append(args, limit)

	sql := fmt.Sprintf(`SELECT %s FROM import_jobs %s ORDER BY created_at DESC LIMIT $%d`, jobCols, where, len(args))
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing import jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.ImportJob{}
	for rows.Next() {
		j, err := scanImportJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("error scanning import job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func buildJobFilter(filter JobFilter) (string, []any) {
	var clauses []string
	var args []any
	argIdx := 1

	if filter.OwnerID != uuid.Nil {
		clauses = append(clauses, fmt.Sprintf("created_by = $%d", argIdx))
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// MarkImportJobRunning moves a pending job to running.
func (s *Store) MarkImportJobRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = 'running', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("error starting import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CompleteImportJob records the result of a running job.
func (s *Store) CompleteImportJob(ctx context.Context, id uuid.UUID, result models.ImportResult) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = 'completed', total_records = $2, imported_records = $3, skipped_records = $4,
		    duplicate_records = $5, failed_records = $6, failure_file = $7,
		    finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, result.Total, result.Imported, result.Skipped, result.Duplicates, len(result.FailedRecords), nilIfEmpty(result.FailureFile))
	if err != nil {
		return fmt.Errorf("error completing import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// FailImportJob marks a pending or running job as failed.
func (s *Store) FailImportJob(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = 'failed', error_summary = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, reason)
	if err != nil {
		return fmt.Errorf("error failing import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// FailStaleImportJobs fails running jobs started before cutoff. Their worker
// is gone, so nothing else would ever finish them.
func (s *Store) FailStaleImportJobs(ctx context.Context, cutoff time.Time, reason string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE import_jobs
		SET status = 'failed', error_summary = $2, finished_at = NOW(), updated_at = NOW()
		WHERE status = 'running' AND started_at < $1
		RETURNING id
	`, cutoff, reason)
	if err != nil {
		return nil, fmt.Errorf("error failing stale import jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReferencedUploads lists the upload paths of jobs that have not finished yet.
func (s *Store) ReferencedUploads(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT file_path FROM import_jobs WHERE status IN ('pending', 'running')`)
	if err != nil {
		return nil, fmt.Errorf("error listing active uploads: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *Store) GetOwnerStats(ctx context.Context, ownerID uuid.UUID) (*models.OwnerStats, error) {
	stats := &models.OwnerStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT firm_id), MAX(created_at)
		FROM investors
		WHERE created_by = $1
	`, ownerID).Scan(&stats.Investors, &stats.Firms, &stats.LastImportedAt)
	if err != nil {
		return nil, fmt.Errorf("error loading owner stats: %w", err)
	}
	return stats, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
