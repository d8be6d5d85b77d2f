package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ImportJob tracks one uploaded file through the import pipeline.
type ImportJob struct {
	ID             uuid.UUID         `json:"id"`
	CreatedBy      uuid.UUID         `json:"created_by"`
	Status         JobStatus         `json:"status"`
	FileName       string            `json:"file_name"`
	FilePath       string            `json:"-"`
	FileSize       int64             `json:"file_size"`
	FieldMapping   map[string]string `json:"field_mapping,omitempty"`
	TotalRecords   int               `json:"total_records"`
	Imported       int               `json:"imported"`
	Skipped        int               `json:"skipped"`
	Duplicates     int               `json:"duplicates"`
	Failed         int               `json:"failed"`
	FailureFile    string            `json:"-"`
	HasFailureFile bool              `json:"has_failure_file"`
	ErrorSummary   string            `json:"error_summary,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// FailureStage names the pipeline step that rejected a record.
type FailureStage string

const (
	StageValidation FailureStage = "validation"
	StageDedup      FailureStage = "dedup"
	StageFirm       FailureStage = "firm"
	StageBatch      FailureStage = "batch"
)

type FailedRecord struct {
	Row    int            `json:"row"`
	Stage  FailureStage   `json:"stage"`
	Reason string         `json:"reason"`
	Record InvestorRecord `json:"record"`
}

// ImportResult is the outcome of one pipeline run. Skipped always equals
// Total minus Imported; Duplicates is the part of Skipped that matched an
// existing or earlier email.
type ImportResult struct {
	Total         int            `json:"total"`
	Imported      int            `json:"imported"`
	Skipped       int            `json:"skipped"`
	Duplicates    int            `json:"duplicates"`
	FailedRecords []FailedRecord `json:"failed_records"`
	FailureFile   string         `json:"failure_file,omitempty"`
}
