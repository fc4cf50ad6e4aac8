package note

import (
	"context"
	"encoding/json"
	"errors"

	apperrors "github.com/autome/transcriber/internal/errors"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool interface for abstracting pgx connection pool
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// noteRepository implements Repository using PostgreSQL
type noteRepository struct {
	pool Pool
}

// NewRepository creates a new instance of Repository
func NewRepository(pool Pool) Repository {
	return &noteRepository{
		pool: pool,
	}
}

// GetByJobID finds the note that back-references the given job
func (r *noteRepository) GetByJobID(ctx context.Context, jobID string) (*model.Note, error) {
	sql := `SELECT id, user_id, status, transcription_job_id, artifacts, metrics, created_at, updated_at
		FROM notes WHERE transcription_job_id = $1`

	var n model.Note
	err := r.pool.QueryRow(ctx, sql, jobID).Scan(
		&n.ID,
		&n.UserID,
		&n.Status,
		&n.TranscriptionJobID,
		&n.Artifacts,
		&n.Metrics,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "note not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get note by job ID")
	}
	return &n, nil
}

// UpdateStatus sets the note's legacy status
func (r *noteRepository) UpdateStatus(ctx context.Context, noteID string, status model.NoteStatus) error {
	sql := `UPDATE notes SET status = $2, updated_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, sql, noteID, status)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to update note status")
	}
	return nil
}

// SetArtifacts merges the given bag into the note's artifacts
func (r *noteRepository) SetArtifacts(ctx context.Context, noteID string, artifacts map[string]any) error {
	return r.mergeBag(ctx, noteID, "artifacts", artifacts)
}

// SetMetrics merges the given bag into the note's metrics
func (r *noteRepository) SetMetrics(ctx context.Context, noteID string, metrics map[string]any) error {
	return r.mergeBag(ctx, noteID, "metrics", metrics)
}

// mergeBag merges a JSON object into one of the note's jsonb bags
func (r *noteRepository) mergeBag(ctx context.Context, noteID, column string, bag map[string]any) error {
	data, err := json.Marshal(bag)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode note "+column)
	}

	var sql string
	if column == "artifacts" {
		sql = `UPDATE notes SET artifacts = COALESCE(artifacts, '{}'::jsonb) || $2::jsonb, updated_at = now() WHERE id = $1`
	} else {
		sql = `UPDATE notes SET metrics = COALESCE(metrics, '{}'::jsonb) || $2::jsonb, updated_at = now() WHERE id = $1`
	}

	_, err = r.pool.Exec(ctx, sql, noteID, data)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to update note "+column)
	}
	return nil
}
