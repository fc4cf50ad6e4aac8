package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/autome/transcriber/internal/errors"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool interface for abstracting pgx connection pool
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// jobRepository implements Repository using PostgreSQL
type jobRepository struct {
	pool Pool
}

// NewRepository creates a new instance of Repository
func NewRepository(pool Pool) Repository {
	return &jobRepository{
		pool: pool,
	}
}

const jobColumns = `id, user_id, upload_id, filename, total_size, mime_type, language,
	enable_diarization, model, output_formats, priority,
	status, current_stage, progress,
	stage_progress, stage_durations, stage_checkpoints,
	detected_language, confidence_score, total_duration, word_count,
	error_code, error_message, retry_count, max_retries,
	created_at, updated_at, started_at, completed_at, storage_paths`

// Create inserts a new transcription job record
func (r *jobRepository) Create(ctx context.Context, job *model.TranscriptionJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusCreated
	}
	if job.CurrentStage == "" {
		job.CurrentStage = model.StageCreated
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = model.DefaultMaxRetries
	}

	sql := `INSERT INTO transcription_jobs
		(id, user_id, upload_id, filename, total_size, mime_type, language,
		 enable_diarization, model, output_formats, priority,
		 status, current_stage, progress, retry_count, max_retries,
		 created_at, updated_at, storage_paths)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.pool.Exec(ctx, sql,
		job.ID,
		job.UserID,
		job.UploadID,
		job.Filename,
		job.TotalSize,
		job.MimeType,
		job.Language,
		job.EnableDiarization,
		job.Model,
		job.OutputFormats,
		job.Priority,
		job.Status,
		job.CurrentStage,
		job.Progress,
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
		job.StoragePaths,
	)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to create transcription job")
	}
	return nil
}

// GetByID retrieves a job by its ID
func (r *jobRepository) GetByID(ctx context.Context, id string) (*model.TranscriptionJob, error) {
	sql := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE id = $1`
	job, err := scanJob(r.pool.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "transcription job not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get transcription job")
	}
	return job, nil
}

// Delete deletes a job by ID
func (r *jobRepository) Delete(ctx context.Context, id string) error {
	sql := "DELETE FROM transcription_jobs WHERE id = $1"
	_, err := r.pool.Exec(ctx, sql, id)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to delete transcription job")
	}
	return nil
}

// AdvanceStage sets the current stage and derives the coarse status from it.
// The edge is checked against the stage ordering first, so an out-of-order
// caller gets CONFLICT instead of silently rewinding the pipeline.
func (r *jobRepository) AdvanceStage(ctx context.Context, id string, stage model.Stage, progress float64) error {
	var current model.Stage
	err := r.pool.QueryRow(ctx, `SELECT current_stage FROM transcription_jobs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.Wrap(err, apperrors.CodeNotFound, "transcription job not found")
		}
		return common.HandlePostgreSQLError(err, "failed to advance job stage")
	}
	if !model.IsValidTransition(current, stage) {
		return apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("invalid stage transition %s to %s", current, stage))
	}

	status := model.StatusForStage(stage)
	starts := stage != model.StageCreated

	sql := `UPDATE transcription_jobs
		SET current_stage = $2,
		    status = $3,
		    progress = $4,
		    started_at = CASE WHEN $5::boolean AND started_at IS NULL THEN now() ELSE started_at END,
		    completed_at = CASE WHEN $3 = 'complete' THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1 AND current_stage = $6`

	tag, err := r.pool.Exec(ctx, sql, id, stage, status, progress, starts, current)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to advance job stage")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeConflict, "job stage changed concurrently")
	}
	return nil
}

// SetStageProgress updates the per-stage progress entry and the overall progress
func (r *jobRepository) SetStageProgress(ctx context.Context, id string, stage model.Stage, progress float64) error {
	sql := `UPDATE transcription_jobs
		SET stage_progress = jsonb_set(COALESCE(stage_progress, '{}'::jsonb), ARRAY[$2::text], to_jsonb($3::double precision)),
		    progress = $3,
		    updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, sql, id, stage, progress)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to set stage progress")
	}
	return nil
}

// SetCheckpoint stores opaque resumption state keyed by stage
func (r *jobRepository) SetCheckpoint(ctx context.Context, id string, stage model.Stage, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode checkpoint payload")
	}

	sql := `UPDATE transcription_jobs
		SET stage_checkpoints = jsonb_set(COALESCE(stage_checkpoints, '{}'::jsonb), ARRAY[$2::text], $3::jsonb),
		    updated_at = now()
		WHERE id = $1`

	_, err = r.pool.Exec(ctx, sql, id, stage, data)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to set checkpoint")
	}
	return nil
}

// GetCheckpoint returns the checkpoint payload for a stage, nil when absent
func (r *jobRepository) GetCheckpoint(ctx context.Context, id string, stage model.Stage) (json.RawMessage, error) {
	sql := `SELECT stage_checkpoints -> $2::text FROM transcription_jobs WHERE id = $1`

	var payload []byte
	err := r.pool.QueryRow(ctx, sql, id, stage).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "transcription job not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get checkpoint")
	}
	if payload == nil {
		return nil, nil
	}
	return json.RawMessage(payload), nil
}

// RecordStageDuration stores the elapsed seconds for a completed stage
func (r *jobRepository) RecordStageDuration(ctx context.Context, id string, stage model.Stage, seconds float64) error {
	sql := `UPDATE transcription_jobs
		SET stage_durations = jsonb_set(COALESCE(stage_durations, '{}'::jsonb), ARRAY[$2::text], to_jsonb($3::double precision)),
		    updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, sql, id, stage, seconds)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to record stage duration")
	}
	return nil
}

// SetStoragePath records a named intermediate artifact path
func (r *jobRepository) SetStoragePath(ctx context.Context, id string, name, path string) error {
	sql := `UPDATE transcription_jobs
		SET storage_paths = jsonb_set(COALESCE(storage_paths, '{}'::jsonb), ARRAY[$2::text], to_jsonb($3::text)),
		    updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, sql, id, name, path)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to set storage path")
	}
	return nil
}

// SetResults stores the success-only result fields
func (r *jobRepository) SetResults(ctx context.Context, id string, results model.JobResults) error {
	sql := `UPDATE transcription_jobs
		SET detected_language = $2,
		    confidence_score = $3,
		    total_duration = $4,
		    word_count = $5,
		    updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, sql, id,
		results.DetectedLanguage,
		results.ConfidenceScore,
		results.TotalDuration,
		results.WordCount,
	)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to set job results")
	}
	return nil
}

// MarkFailed moves the job to failed and consumes one retry
func (r *jobRepository) MarkFailed(ctx context.Context, id string, code, message string) error {
	sql := `UPDATE transcription_jobs
		SET status = 'failed',
		    current_stage = 'failed',
		    error_code = $2,
		    error_message = $3,
		    retry_count = retry_count + 1,
		    updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, sql, id, code, message)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to mark job failed")
	}
	return nil
}

// RequeueForRetry transitions a failed job with budget remaining back to created
func (r *jobRepository) RequeueForRetry(ctx context.Context, id string) error {
	sql := `UPDATE transcription_jobs
		SET status = 'created',
		    current_stage = 'created',
		    error_code = NULL,
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'failed' AND retry_count < max_retries`

	tag, err := r.pool.Exec(ctx, sql, id)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to requeue job")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeNotFound, "job is not retryable")
	}
	return nil
}

// RequeueInterrupted returns processing jobs that stopped making progress to
// created so the poll loop picks them up again. Checkpoints survive the
// reset, so a recovered job resumes instead of restarting.
func (r *jobRepository) RequeueInterrupted(ctx context.Context, updatedBefore time.Time) (int64, error) {
	sql := `UPDATE transcription_jobs
		SET status = 'created',
		    current_stage = 'created',
		    updated_at = now()
		WHERE status = 'processing' AND updated_at < $1`

	tag, err := r.pool.Exec(ctx, sql, updatedBefore)
	if err != nil {
		return 0, common.HandlePostgreSQLError(err, "failed to requeue interrupted jobs")
	}
	return tag.RowsAffected(), nil
}

// ListRetryable returns failed jobs with retry budget remaining, oldest first
func (r *jobRepository) ListRetryable(ctx context.Context, limit int) ([]*model.TranscriptionJob, error) {
	sql := `SELECT ` + jobColumns + ` FROM transcription_jobs
		WHERE status = 'failed' AND retry_count < max_retries
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list retryable jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListByStatus returns jobs in FIFO order for worker consumption
func (r *jobRepository) ListByStatus(ctx context.Context, status model.JobStatus, limit int) ([]*model.TranscriptionJob, error) {
	sql := `SELECT ` + jobColumns + ` FROM transcription_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, sql, status, limit)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list jobs by status")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListForUser returns a user's jobs, newest first
func (r *jobRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*model.TranscriptionJob, error) {
	sql := `SELECT ` + jobColumns + ` FROM transcription_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, sql, userID, limit)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list jobs for user")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CountByStatus counts jobs in a given coarse status
func (r *jobRepository) CountByStatus(ctx context.Context, status model.JobStatus) (int, error) {
	sql := `SELECT COUNT(*) FROM transcription_jobs WHERE status = $1`

	var count int
	if err := r.pool.QueryRow(ctx, sql, status).Scan(&count); err != nil {
		return 0, common.HandlePostgreSQLError(err, "failed to count jobs by status")
	}
	return count, nil
}

// CountRetryable counts failed jobs with retry budget remaining
func (r *jobRepository) CountRetryable(ctx context.Context) (int, error) {
	sql := `SELECT COUNT(*) FROM transcription_jobs WHERE status = 'failed' AND retry_count < max_retries`

	var count int
	if err := r.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, common.HandlePostgreSQLError(err, "failed to count retryable jobs")
	}
	return count, nil
}

// scanJob scans a single job row
func scanJob(row pgx.Row) (*model.TranscriptionJob, error) {
	var job model.TranscriptionJob
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.UploadID,
		&job.Filename,
		&job.TotalSize,
		&job.MimeType,
		&job.Language,
		&job.EnableDiarization,
		&job.Model,
		&job.OutputFormats,
		&job.Priority,
		&job.Status,
		&job.CurrentStage,
		&job.Progress,
		&job.StageProgress,
		&job.StageDurations,
		&job.StageCheckpoints,
		&job.DetectedLanguage,
		&job.ConfidenceScore,
		&job.TotalDuration,
		&job.WordCount,
		&job.ErrorCode,
		&job.ErrorMessage,
		&job.RetryCount,
		&job.MaxRetries,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.StoragePaths,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// scanJobs scans a result set of job rows
func scanJobs(rows pgx.Rows) ([]*model.TranscriptionJob, error) {
	var jobs []*model.TranscriptionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan transcription job")
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
