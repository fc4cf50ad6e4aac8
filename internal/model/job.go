package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the coarse lifecycle state of a transcription job
type JobStatus string

const (
	JobStatusCreated    JobStatus = "created"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Stage is the fine-grained pipeline position of a transcription job
type Stage string

const (
	StageCreated           Stage = "created"
	StageQueued            Stage = "queued"
	StageValidating        Stage = "validating"
	StageTranscoding       Stage = "transcoding"
	StageSegmenting        Stage = "segmenting"
	StageDetectingLanguage Stage = "detecting_language"
	StageTranscribing      Stage = "transcribing"
	StageMerging           Stage = "merging"
	StageDiarizing         Stage = "diarizing"
	StageGeneratingOutputs Stage = "generating_outputs"
	StageComplete          Stage = "complete"
	StageFailed            Stage = "failed"
)

// stageOrder defines the happy-path ordering of pipeline stages.
// StageFailed is deliberately absent: it is reachable from anywhere.
var stageOrder = map[Stage]int{
	StageCreated:           0,
	StageQueued:            1,
	StageValidating:        2,
	StageTranscoding:       3,
	StageSegmenting:        4,
	StageDetectingLanguage: 5,
	StageTranscribing:      6,
	StageMerging:           7,
	StageDiarizing:         8,
	StageGeneratingOutputs: 9,
	StageComplete:          10,
}

// StatusForStage derives the coarse status from a pipeline stage.
// This is the single place the status/stage coupling invariant lives.
func StatusForStage(stage Stage) JobStatus {
	switch stage {
	case StageCreated:
		return JobStatusCreated
	case StageComplete:
		return JobStatusComplete
	case StageFailed:
		return JobStatusFailed
	default:
		return JobStatusProcessing
	}
}

// IsValidTransition enforces the allowed stage edges: strictly forward on
// the happy path, failed from anywhere, and failed back to created for retry.
func IsValidTransition(from, to Stage) bool {
	if to == StageFailed {
		return from != StageComplete
	}
	if from == StageFailed {
		return to == StageCreated
	}
	fromOrder, ok := stageOrder[from]
	if !ok {
		return false
	}
	toOrder, ok := stageOrder[to]
	if !ok {
		return false
	}
	return toOrder > fromOrder
}

// Domain error codes persisted on failed jobs (distinct from AppError codes)
const (
	JobErrorTransient   = "transient"
	JobErrorValidation  = "validation"
	JobErrorEmptyResult = "empty_result"
)

// DefaultMaxRetries is the retry budget assigned to new jobs.
const DefaultMaxRetries = 3

// TranscriptionJob is the unit of pipeline work
type TranscriptionJob struct {
	ID       string  `json:"id" db:"id"`
	UserID   *string `json:"user_id,omitempty" db:"user_id"`
	UploadID string  `json:"upload_id" db:"upload_id"`

	// Config, immutable after creation
	Filename          string   `json:"filename" db:"filename"`
	TotalSize         int64    `json:"total_size" db:"total_size"`
	MimeType          string   `json:"mime_type" db:"mime_type"`
	Language          *string  `json:"language,omitempty" db:"language"` // nil means auto-detect
	EnableDiarization bool     `json:"enable_diarization" db:"enable_diarization"`
	Model             string   `json:"model" db:"model"`
	OutputFormats     []string `json:"output_formats" db:"output_formats"`
	Priority          int      `json:"priority" db:"priority"`

	// Pipeline state
	Status       JobStatus `json:"status" db:"status"`
	CurrentStage Stage     `json:"current_stage" db:"current_stage"`
	// Progress is the progress of the currently active stage, not a
	// weighted blend across stages.
	Progress float64 `json:"progress" db:"progress"`

	StageProgress    map[Stage]float64         `json:"stage_progress" db:"stage_progress"`
	StageDurations   map[Stage]float64         `json:"stage_durations" db:"stage_durations"`
	StageCheckpoints map[Stage]json.RawMessage `json:"stage_checkpoints" db:"stage_checkpoints"`

	// Results, set only on success
	DetectedLanguage *string  `json:"detected_language,omitempty" db:"detected_language"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty" db:"confidence_score"`
	TotalDuration    *float64 `json:"total_duration,omitempty" db:"total_duration"`
	WordCount        *int     `json:"word_count,omitempty" db:"word_count"`

	// Error state
	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int     `json:"retry_count" db:"retry_count"`
	MaxRetries   int     `json:"max_retries" db:"max_retries"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Named paths for intermediate artifacts (source, normalized audio, segments dir)
	StoragePaths map[string]string `json:"storage_paths" db:"storage_paths"`
}

// IsRetryable reports whether the job may still be transitioned out of failed.
func (j *TranscriptionJob) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// JobResults bundles the success-only result fields set at completion.
type JobResults struct {
	DetectedLanguage string
	ConfidenceScore  float64
	TotalDuration    float64
	WordCount        int
}
