package session

import (
	"context"
	"errors"
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

// sessionRepository implements Repository using PostgreSQL
type sessionRepository struct {
	pool Pool
}

// NewRepository creates a new instance of Repository
func NewRepository(pool Pool) Repository {
	return &sessionRepository{
		pool: pool,
	}
}

// Create inserts a new upload session record
func (r *sessionRepository) Create(ctx context.Context, session *model.UploadSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = model.SessionStatusActive
	}
	if session.ChunksUploaded == nil {
		session.ChunksUploaded = []int32{}
	}

	sql := `INSERT INTO upload_sessions
		(id, user_id, filename, total_size, mime_type, chunk_size, chunks_uploaded,
		 content_hash, status, storage_key, created_at, expires_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, sql,
		session.ID,
		session.UserID,
		session.Filename,
		session.TotalSize,
		session.MimeType,
		session.ChunkSize,
		session.ChunksUploaded,
		session.ContentHash,
		session.Status,
		session.StorageKey,
		session.CreatedAt,
		session.ExpiresAt,
		session.CompletedAt,
	)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to create upload session")
	}
	return nil
}

// GetByID retrieves an upload session by its ID
func (r *sessionRepository) GetByID(ctx context.Context, id string) (*model.UploadSession, error) {
	sql := `SELECT id, user_id, filename, total_size, mime_type, chunk_size, chunks_uploaded,
		content_hash, status, storage_key, created_at, expires_at, completed_at
		FROM upload_sessions WHERE id = $1`

	var session model.UploadSession
	err := r.pool.QueryRow(ctx, sql, id).Scan(
		&session.ID,
		&session.UserID,
		&session.Filename,
		&session.TotalSize,
		&session.MimeType,
		&session.ChunkSize,
		&session.ChunksUploaded,
		&session.ContentHash,
		&session.Status,
		&session.StorageKey,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "upload session not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get upload session")
	}
	return &session, nil
}

// RecordChunk adds a chunk index to the uploaded set, idempotently.
// The CASE keeps the update a single atomic statement: a duplicate index
// matches the row but leaves the array untouched.
func (r *sessionRepository) RecordChunk(ctx context.Context, id string, chunkIndex int) error {
	sql := `UPDATE upload_sessions
		SET chunks_uploaded = CASE
			WHEN $2 = ANY(chunks_uploaded) THEN chunks_uploaded
			ELSE array_append(chunks_uploaded, $2)
		END
		WHERE id = $1 AND status = 'active'`

	tag, err := r.pool.Exec(ctx, sql, id, int32(chunkIndex))
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to record uploaded chunk")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeNotFound, "upload session not found or not active")
	}
	return nil
}

// Complete marks the session completed; double-completion is rejected
func (r *sessionRepository) Complete(ctx context.Context, id string, storageKey string, contentHash *string) error {
	sql := `UPDATE upload_sessions
		SET status = 'completed',
		    storage_key = $2,
		    content_hash = $3,
		    completed_at = now()
		WHERE id = $1 AND status <> 'completed'`

	tag, err := r.pool.Exec(ctx, sql, id, storageKey, contentHash)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to complete upload session")
	}
	if tag.RowsAffected() == 0 {
		// Distinguish an unknown session from one already completed
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return apperrors.New(apperrors.CodeConflict, "upload session already completed")
	}
	return nil
}

// PurgeExpired deletes every non-completed session past its expiry. The
// deleted ids come back so the caller can remove the matching chunk dirs.
func (r *sessionRepository) PurgeExpired(ctx context.Context) ([]string, error) {
	sql := `DELETE FROM upload_sessions
		WHERE status <> 'completed' AND expires_at < now()
		RETURNING id`

	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to purge expired upload sessions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan purged session id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes a session by ID
func (r *sessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	sql := "DELETE FROM upload_sessions WHERE id = $1"

	tag, err := r.pool.Exec(ctx, sql, id)
	if err != nil {
		return false, common.HandlePostgreSQLError(err, "failed to delete upload session")
	}
	return tag.RowsAffected() > 0, nil
}
