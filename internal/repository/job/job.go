package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autome/transcriber/internal/model"
)

// Repository defines persistence operations for TranscriptionJob.
// Beyond plain CRUD it carries the specialized pipeline-state updates; every
// mutation is a single atomic row update keyed by id.
type Repository interface {
	Create(ctx context.Context, job *model.TranscriptionJob) error
	GetByID(ctx context.Context, id string) (*model.TranscriptionJob, error)
	Delete(ctx context.Context, id string) error

	// AdvanceStage sets the current stage, derives the coarse status from it,
	// stamps started_at on the first non-created transition and completed_at
	// on completion.
	AdvanceStage(ctx context.Context, id string, stage model.Stage, progress float64) error

	// SetStageProgress updates the stage-specific progress entry and the
	// job's overall progress (defined as the active stage's progress).
	SetStageProgress(ctx context.Context, id string, stage model.Stage, progress float64) error

	// SetCheckpoint stores opaque resumption state keyed by stage.
	SetCheckpoint(ctx context.Context, id string, stage model.Stage, payload any) error

	// GetCheckpoint returns the checkpoint for a stage, or nil if none exists.
	GetCheckpoint(ctx context.Context, id string, stage model.Stage) (json.RawMessage, error)

	RecordStageDuration(ctx context.Context, id string, stage model.Stage, seconds float64) error

	SetStoragePath(ctx context.Context, id string, name, path string) error

	// SetResults stores the success-only result fields.
	SetResults(ctx context.Context, id string, results model.JobResults) error

	// MarkFailed sets status=failed, stage=failed, stores the error code and
	// message, and increments retry_count.
	MarkFailed(ctx context.Context, id string, code, message string) error

	// RequeueForRetry transitions a failed job back to created so the worker
	// picks it up again. No-op (NOT_FOUND) when the retry budget is exhausted
	// or the job is not failed.
	RequeueForRetry(ctx context.Context, id string) error

	// RequeueInterrupted resets processing jobs whose last write predates
	// updatedBefore back to created, preserving their checkpoints. Returns
	// the number of jobs reclaimed.
	RequeueInterrupted(ctx context.Context, updatedBefore time.Time) (int64, error)

	// ListRetryable returns failed jobs with retry budget remaining, oldest first.
	ListRetryable(ctx context.Context, limit int) ([]*model.TranscriptionJob, error)

	// ListByStatus returns jobs oldest first for FIFO worker consumption.
	ListByStatus(ctx context.Context, status model.JobStatus, limit int) ([]*model.TranscriptionJob, error)

	// ListForUser returns a user's jobs newest first.
	ListForUser(ctx context.Context, userID string, limit int) ([]*model.TranscriptionJob, error)

	CountByStatus(ctx context.Context, status model.JobStatus) (int, error)
	CountRetryable(ctx context.Context) (int, error)
}

// AssetRepository defines persistence operations for TranscriptionAsset
type AssetRepository interface {
	Create(ctx context.Context, asset *model.TranscriptionAsset) error
	ListByJobID(ctx context.Context, jobID string) ([]*model.TranscriptionAsset, error)
	DeleteByJobID(ctx context.Context, jobID string) error
}
