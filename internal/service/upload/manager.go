package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/autome/transcriber/internal/errors"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/session"
)

// SessionTTL is the fixed relative lifetime of an upload session.
const SessionTTL = 24 * time.Hour

// Manager tracks resumable chunked uploads of a source audio file before
// a transcription job exists.
type Manager interface {
	// CreateSession starts a new upload session; always succeeds given a
	// reachable store. Expiry is CreateSession time + SessionTTL.
	CreateSession(ctx context.Context, filename string, totalSize int64, mimeType string, chunkSize int64) (*model.UploadSession, error)

	// SaveChunk persists one chunk's bytes and records its index. Duplicate
	// indices overwrite the chunk file and leave the recorded set unchanged.
	// Indices past the session's declared chunk count are rejected.
	SaveChunk(ctx context.Context, uploadID string, chunkIndex int, data io.Reader) error

	// RecordChunkUploaded marks a chunk index as received. Idempotent; an
	// unknown session is logged and otherwise ignored (log-only failure).
	RecordChunkUploaded(ctx context.Context, uploadID string, chunkIndex int)

	// IsComplete reports whether every chunk index 0..totalChunks-1 is present.
	IsComplete(ctx context.Context, uploadID string, totalChunks int) (bool, error)

	// CompleteSession assembles the chunks into one file, records its
	// storage key and content hash, and marks the session completed.
	// Rejects double-completion.
	CompleteSession(ctx context.Context, uploadID string, totalChunks int) (*model.UploadSession, error)

	// PurgeExpired deletes every non-completed session past its expiry,
	// including any chunk files on disk. Driven by an external scheduler.
	PurgeExpired(ctx context.Context) (int64, error)

	// DeleteSession removes the session and its on-disk chunks.
	DeleteSession(ctx context.Context, uploadID string) (bool, error)
}

// manager implements Manager over a session repository and a local storage root
type manager struct {
	sessions   session.Repository
	storageDir string
	now        func() time.Time
}

// NewManager creates a new upload session Manager
func NewManager(sessions session.Repository, storageDir string) Manager {
	return &manager{
		sessions:   sessions,
		storageDir: storageDir,
		now:        time.Now,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing)
func NewManagerWithClock(sessions session.Repository, storageDir string, now func() time.Time) Manager {
	return &manager{
		sessions:   sessions,
		storageDir: storageDir,
		now:        now,
	}
}

// CreateSession starts a new upload session
func (m *manager) CreateSession(ctx context.Context, filename string, totalSize int64, mimeType string, chunkSize int64) (*model.UploadSession, error) {
	now := m.now().UTC()
	s := &model.UploadSession{
		Filename:  filename,
		TotalSize: totalSize,
		MimeType:  mimeType,
		ChunkSize: chunkSize,
		Status:    model.SessionStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SaveChunk writes the chunk file and records its index
func (m *manager) SaveChunk(ctx context.Context, uploadID string, chunkIndex int, data io.Reader) error {
	if chunkIndex < 0 {
		return errors.New(errors.CodeInvalidArg, "chunk index must not be negative")
	}

	// An index past the declared chunk count would satisfy the set-size
	// completeness check while hiding a real gap; reject it up front.
	if s, err := m.sessions.GetByID(ctx, uploadID); err == nil {
		if total := s.TotalChunks(); total > 0 && chunkIndex >= total {
			return errors.New(errors.CodeInvalidArg,
				fmt.Sprintf("chunk index %d out of range for %d expected chunks", chunkIndex, total))
		}
	}

	dir := m.chunkDir(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create chunk directory")
	}

	path := filepath.Join(dir, chunkFilename(chunkIndex))
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create chunk file")
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(path)
		return errors.Wrap(err, errors.CodeInternal, "failed to write chunk file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to close chunk file")
	}

	m.RecordChunkUploaded(ctx, uploadID, chunkIndex)
	return nil
}

// RecordChunkUploaded marks a chunk index as received; log-only on unknown session
func (m *manager) RecordChunkUploaded(ctx context.Context, uploadID string, chunkIndex int) {
	if err := m.sessions.RecordChunk(ctx, uploadID, chunkIndex); err != nil {
		// The caller should already have validated existence; nothing to
		// surface here beyond an operator trace.
		log.Printf("upload: could not record chunk %d for session %s: %v", chunkIndex, uploadID, err)
	}
}

// IsComplete reports whether all chunks are present
func (m *manager) IsComplete(ctx context.Context, uploadID string, totalChunks int) (bool, error) {
	s, err := m.sessions.GetByID(ctx, uploadID)
	if err != nil {
		return false, err
	}
	return s.HasAllChunks(totalChunks), nil
}

// CompleteSession assembles the chunks and marks the session completed
func (m *manager) CompleteSession(ctx context.Context, uploadID string, totalChunks int) (*model.UploadSession, error) {
	s, err := m.sessions.GetByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if s.Status == model.SessionStatusCompleted {
		return nil, errors.New(errors.CodeConflict, "upload session already completed")
	}
	if !s.HasAllChunks(totalChunks) {
		return nil, errors.New(errors.CodeInvalidArg,
			fmt.Sprintf("upload incomplete: %d of %d chunks present", len(s.ChunksUploaded), totalChunks))
	}

	storageKey, contentHash, err := m.assembleChunks(uploadID, s.Filename, totalChunks)
	if err != nil {
		return nil, err
	}

	if err := m.sessions.Complete(ctx, uploadID, storageKey, &contentHash); err != nil {
		return nil, err
	}

	// Chunk files are consumed by assembly
	if err := os.RemoveAll(m.chunkDir(uploadID)); err != nil {
		log.Printf("upload: failed to remove chunk directory for session %s: %v", uploadID, err)
	}

	return m.sessions.GetByID(ctx, uploadID)
}

// assembleChunks concatenates chunk files 0..totalChunks-1 into the source
// file, hashing as it goes. The write lands under a temp name and is
// renamed into place so a partial assembly is never observable.
func (m *manager) assembleChunks(uploadID, filename string, totalChunks int) (string, string, error) {
	destDir := filepath.Join(m.storageDir, "sources", uploadID)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", "", errors.Wrap(err, errors.CodeInternal, "failed to create source directory")
	}

	destPath := filepath.Join(destDir, filepath.Base(filename))
	tmpPath := destPath + ".partial"

	out, err := os.Create(tmpPath)
	if err != nil {
		return "", "", errors.Wrap(err, errors.CodeInternal, "failed to create assembled file")
	}
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	writer := io.MultiWriter(out, hasher)

	for i := 0; i < totalChunks; i++ {
		chunkPath := filepath.Join(m.chunkDir(uploadID), chunkFilename(i))
		chunk, err := os.Open(chunkPath)
		if err != nil {
			out.Close()
			return "", "", errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("missing chunk file %d", i))
		}
		if _, err := io.Copy(writer, chunk); err != nil {
			chunk.Close()
			out.Close()
			return "", "", errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("failed to append chunk %d", i))
		}
		chunk.Close()
	}

	if err := out.Close(); err != nil {
		return "", "", errors.Wrap(err, errors.CodeInternal, "failed to close assembled file")
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", "", errors.Wrap(err, errors.CodeInternal, "failed to move assembled file into place")
	}

	storageKey, err := filepath.Rel(m.storageDir, destPath)
	if err != nil {
		storageKey = destPath
	}
	return storageKey, hex.EncodeToString(hasher.Sum(nil)), nil
}

// PurgeExpired deletes expired sessions; chunk directories go with them
func (m *manager) PurgeExpired(ctx context.Context) (int64, error) {
	// Row deletion first so a half-finished purge can never resurrect a
	// session whose chunks are already gone.
	ids, err := m.sessions.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := os.RemoveAll(m.chunkDir(id)); err != nil {
			log.Printf("upload: failed to remove chunk directory for purged session %s: %v", id, err)
		}
	}
	return int64(len(ids)), nil
}

// DeleteSession removes the session and its on-disk chunks
func (m *manager) DeleteSession(ctx context.Context, uploadID string) (bool, error) {
	deleted, err := m.sessions.Delete(ctx, uploadID)
	if err != nil {
		return false, err
	}
	if deleted {
		if err := os.RemoveAll(m.chunkDir(uploadID)); err != nil {
			log.Printf("upload: failed to remove chunk directory for session %s: %v", uploadID, err)
		}
	}
	return deleted, nil
}

// chunkDir returns the on-disk directory holding a session's chunk files
func (m *manager) chunkDir(uploadID string) string {
	return filepath.Join(m.storageDir, "uploads", uploadID)
}

// chunkFilename names a chunk file by its index
func chunkFilename(index int) string {
	return fmt.Sprintf("chunk_%06d", index)
}
