package model

import "time"

// TranscriptionAsset is an immutable output artifact belonging to one job.
// Assets are created once at job completion and never mutated.
type TranscriptionAsset struct {
	ID         string    `json:"id" db:"id"`
	JobID      string    `json:"job_id" db:"job_id"`
	Format     string    `json:"format" db:"format"` // txt, json, srt, vtt
	StorageKey string    `json:"storage_key" db:"storage_key"`
	SizeBytes  int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
