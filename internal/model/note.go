package model

import "time"

// NoteStatus is the legacy note lifecycle state
type NoteStatus string

const (
	NoteStatusUploading  NoteStatus = "uploading"
	NoteStatusProcessing NoteStatus = "processing"
	NoteStatusReady      NoteStatus = "ready"
	NoteStatusFailed     NoteStatus = "failed"
)

// Note is the legacy record kept for backward-compatible reads. The bridge
// projects job state onto it; nothing flows the other way.
type Note struct {
	ID                 string         `json:"id" db:"id"`
	UserID             *string        `json:"user_id,omitempty" db:"user_id"`
	Status             NoteStatus     `json:"status" db:"status"`
	TranscriptionJobID *string        `json:"transcription_job_id,omitempty" db:"transcription_job_id"`
	Artifacts          map[string]any `json:"artifacts" db:"artifacts"`
	Metrics            map[string]any `json:"metrics" db:"metrics"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// NoteStatusForJob maps a job status onto the legacy note status table.
func NoteStatusForJob(status JobStatus) NoteStatus {
	switch status {
	case JobStatusCreated:
		return NoteStatusUploading
	case JobStatusProcessing:
		return NoteStatusProcessing
	case JobStatusComplete:
		return NoteStatusReady
	default:
		// failed and cancelled both surface as failed to legacy readers
		return NoteStatusFailed
	}
}
