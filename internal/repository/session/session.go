package session

import (
	"context"

	"github.com/autome/transcriber/internal/model"
)

// Repository defines persistence operations for UploadSession
type Repository interface {
	Create(ctx context.Context, session *model.UploadSession) error
	GetByID(ctx context.Context, id string) (*model.UploadSession, error)

	// RecordChunk adds a chunk index to the uploaded set. Duplicate indices
	// are a no-op; the set never double-counts. Returns NOT_FOUND when the
	// session is unknown or no longer active.
	RecordChunk(ctx context.Context, id string, chunkIndex int) error

	// Complete marks the session completed with its assembled storage key.
	// Rejects double-completion with CONFLICT.
	Complete(ctx context.Context, id string, storageKey string, contentHash *string) error

	// PurgeExpired deletes every non-completed session past its expiry and
	// returns the removed ids so callers can sweep per-session state of
	// their own, like chunk files on disk.
	PurgeExpired(ctx context.Context) ([]string, error)

	// Delete removes a session; reports whether a row existed.
	Delete(ctx context.Context, id string) (bool, error)
}
