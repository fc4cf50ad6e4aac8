package bridge

import (
	"context"
	"log"
	"os"
	"path/filepath"

	apperrors "github.com/autome/transcriber/internal/errors"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/job"
	"github.com/autome/transcriber/internal/repository/note"
)

// Bridge projects transcription job state onto the legacy Note record,
// one way only. It exists for read-path backward compatibility; new
// clients read job state directly.
type Bridge struct {
	jobs       job.Repository
	notes      note.Repository
	storageDir string
}

// NewBridge creates a new Bridge
func NewBridge(jobs job.Repository, notes note.Repository, storageDir string) *Bridge {
	return &Bridge{
		jobs:       jobs,
		notes:      notes,
		storageDir: storageDir,
	}
}

// SyncJobToNote copies the job's state onto the note referencing it.
// A job without a note is a no-op.
func (b *Bridge) SyncJobToNote(ctx context.Context, jobID string) error {
	j, err := b.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	n, err := b.notes.GetByJobID(ctx, jobID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return nil
		}
		return err
	}

	if err := b.notes.UpdateStatus(ctx, n.ID, model.NoteStatusForJob(j.Status)); err != nil {
		return err
	}

	switch j.Status {
	case model.JobStatusComplete:
		return b.copyResults(ctx, n.ID, j)
	case model.JobStatusFailed:
		message := "transcription failed"
		if j.ErrorMessage != nil {
			message = *j.ErrorMessage
		}
		return b.notes.SetArtifacts(ctx, n.ID, map[string]any{"error": message})
	default:
		return nil
	}
}

// copyResults copies the final transcript and metrics into the note's bags
func (b *Bridge) copyResults(ctx context.Context, noteID string, j *model.TranscriptionJob) error {
	artifacts := map[string]any{}
	if transcriptKey, ok := j.StoragePaths["transcript"]; ok {
		text, err := os.ReadFile(filepath.Join(b.storageDir, transcriptKey))
		if err != nil {
			// Legacy readers still get the status flip and metrics
			log.Printf("bridge: failed to read transcript for job %s: %v", j.ID, err)
		} else {
			artifacts["transcript"] = string(text)
		}
	}

	metrics := map[string]any{
		"stage_durations": j.StageDurations,
	}
	if j.DetectedLanguage != nil {
		metrics["language"] = *j.DetectedLanguage
	}
	if j.ConfidenceScore != nil {
		metrics["confidence"] = *j.ConfidenceScore
	}
	if j.TotalDuration != nil {
		metrics["duration"] = *j.TotalDuration
	}
	if j.WordCount != nil {
		metrics["word_count"] = *j.WordCount
	}

	if len(artifacts) > 0 {
		if err := b.notes.SetArtifacts(ctx, noteID, artifacts); err != nil {
			return err
		}
	}
	return b.notes.SetMetrics(ctx, noteID, metrics)
}
