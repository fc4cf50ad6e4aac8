//go:build integration

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/autome/transcriber/internal/errors"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/common"
)

func TestSessionRepository_ChunkSet_Integration(t *testing.T) {
	pool := common.SetupTestDB(t)
	ctx := context.Background()

	repo := NewRepository(pool)

	s := &model.UploadSession{
		Filename:  "lecture.mp3",
		TotalSize: 1 << 20,
		MimeType:  "audio/mpeg",
		ChunkSize: 1 << 18,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, s))

	// Chunks arrive out of order, with one duplicate
	require.NoError(t, repo.RecordChunk(ctx, s.ID, 2))
	require.NoError(t, repo.RecordChunk(ctx, s.ID, 0))
	require.NoError(t, repo.RecordChunk(ctx, s.ID, 2)) // duplicate
	require.NoError(t, repo.RecordChunk(ctx, s.ID, 1))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.ChunksUploaded, 3, "the duplicate index must not double-count")
	assert.True(t, got.HasAllChunks(3))
}

func TestSessionRepository_Complete_Integration(t *testing.T) {
	pool := common.SetupTestDB(t)
	ctx := context.Background()

	repo := NewRepository(pool)

	s := &model.UploadSession{
		Filename:  "lecture.mp3",
		TotalSize: 1 << 20,
		MimeType:  "audio/mpeg",
		ChunkSize: 1 << 18,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, s))

	hash := "deadbeef"
	require.NoError(t, repo.Complete(ctx, s.ID, "sources/x/lecture.mp3", &hash))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// Completing again is a conflict, and completed sessions reject chunks
	err = repo.Complete(ctx, s.ID, "sources/x/lecture.mp3", &hash)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	err = repo.RecordChunk(ctx, s.ID, 9)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestSessionRepository_PurgeExpired_Integration(t *testing.T) {
	pool := common.SetupTestDB(t)
	ctx := context.Background()

	repo := NewRepository(pool)

	expired := &model.UploadSession{
		Filename:  "old.mp3",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, repo.Create(ctx, expired))

	fresh := &model.UploadSession{
		Filename:  "fresh.mp3",
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, fresh))

	completedButExpired := &model.UploadSession{
		Filename:  "done.mp3",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, repo.Create(ctx, completedButExpired))
	require.NoError(t, repo.Complete(ctx, completedButExpired.ID, "sources/x/done.mp3", nil))

	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Len(t, purged, 1, "completed sessions survive the purge")
	assert.Equal(t, expired.ID, purged[0])

	_, err = repo.GetByID(ctx, expired.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = repo.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)
}
