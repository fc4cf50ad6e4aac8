package model

import "time"

// SessionStatus is the lifecycle state of a chunked upload session
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusFailed    SessionStatus = "failed"
)

// UploadSession represents an in-progress resumable chunked upload
type UploadSession struct {
	ID        string  `json:"id" db:"id"`
	UserID    *string `json:"user_id,omitempty" db:"user_id"` // nil for anonymous uploads
	Filename  string  `json:"filename" db:"filename"`
	TotalSize int64   `json:"total_size" db:"total_size"`
	MimeType  string  `json:"mime_type" db:"mime_type"`
	ChunkSize int64   `json:"chunk_size" db:"chunk_size"`
	// ChunksUploaded carries set semantics: duplicate indices are never stored.
	ChunksUploaded []int32       `json:"chunks_uploaded" db:"chunks_uploaded"`
	ContentHash    *string       `json:"content_hash,omitempty" db:"content_hash"`
	Status         SessionStatus `json:"status" db:"status"`
	StorageKey     *string       `json:"storage_key,omitempty" db:"storage_key"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at" db:"expires_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// HasAllChunks reports whether every chunk index 0..totalChunks-1 is present.
func (s *UploadSession) HasAllChunks(totalChunks int) bool {
	return len(s.ChunksUploaded) == totalChunks
}

// TotalChunks derives the expected chunk count from the declared sizes,
// or 0 when either size is unknown.
func (s *UploadSession) TotalChunks() int {
	if s.TotalSize <= 0 || s.ChunkSize <= 0 {
		return 0
	}
	return int((s.TotalSize + s.ChunkSize - 1) / s.ChunkSize)
}
