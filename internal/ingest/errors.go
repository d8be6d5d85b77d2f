package ingest

import (
	"fmt"

	"github.com/go-faster/errors"
)

// SourceLoadError means the upload could not be opened or decoded. It aborts
// the whole job before anything is written.
type SourceLoadError struct {
	Path string
	Err  error
}

func (e *SourceLoadError) Error() string {
	return fmt.Sprintf("load source %s: %v", e.Path, e.Err)
}

func (e *SourceLoadError) Unwrap() error { return e.Err }

// ValidationError rejects a single record before deduplication.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// DedupLookupError marks records whose duplicate check could not be answered.
type DedupLookupError struct {
	Err error
}

func (e *DedupLookupError) Error() string {
	return fmt.Sprintf("duplicate lookup failed: %v", e.Err)
}

func (e *DedupLookupError) Unwrap() error { return e.Err }

// FirmResolutionError rejects a single record whose firm could not be found or created.
type FirmResolutionError struct {
	Name string
	Err  error
}

func (e *FirmResolutionError) Error() string {
	return fmt.Sprintf("resolve firm %q: %v", e.Name, e.Err)
}

func (e *FirmResolutionError) Unwrap() error { return e.Err }

// BatchInsertError fails every record of one batch.
type BatchInsertError struct {
	Batch int
	Size  int
	Err   error
}

func (e *BatchInsertError) Error() string {
	return fmt.Sprintf("batch %d (%d records): %v", e.Batch, e.Size, e.Err)
}

func (e *BatchInsertError) Unwrap() error { return e.Err }

// FatalPipelineError is anything outside the per-record and per-batch
// categories. Batches committed before it stay committed.
type FatalPipelineError struct {
	Err error
}

func (e *FatalPipelineError) Error() string {
	return fmt.Sprintf("import aborted: %v", e.Err)
}

func (e *FatalPipelineError) Unwrap() error { return e.Err }

// IsSourceLoad reports whether err stopped a job before any row was read.
func IsSourceLoad(err error) bool {
	var target *SourceLoadError
	return errors.As(err, &target)
}
