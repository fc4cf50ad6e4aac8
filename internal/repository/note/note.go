package note

import (
	"context"

	"github.com/autome/transcriber/internal/model"
)

// Repository is the read/update surface over the legacy notes collection.
// The bridge is its only writer; legacy clients only read.
type Repository interface {
	// GetByJobID finds the note holding a back-reference to the given job.
	GetByJobID(ctx context.Context, jobID string) (*model.Note, error)

	UpdateStatus(ctx context.Context, noteID string, status model.NoteStatus) error

	// SetArtifacts merges the given bag into the note's artifacts.
	SetArtifacts(ctx context.Context, noteID string, artifacts map[string]any) error

	// SetMetrics merges the given bag into the note's metrics.
	SetMetrics(ctx context.Context, noteID string, metrics map[string]any) error
}
