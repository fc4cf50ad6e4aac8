package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autome/transcriber/internal/config"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/job"
	"github.com/autome/transcriber/internal/service/media"
	"github.com/autome/transcriber/internal/service/transcribe"
)

// NoteSyncer pushes job state onto the legacy note record
type NoteSyncer interface {
	SyncJobToNote(ctx context.Context, jobID string) error
}

// maxSourceBytes is the absolute cap on an accepted source file
const maxSourceBytes = 2 << 30

// supportedMimeTypes lists the source types the pipeline accepts
var supportedMimeTypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/mp4":   true,
	"audio/m4a":   true,
	"audio/x-m4a": true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/webm":  true,
	"audio/ogg":   true,
	"audio/flac":  true,
	"video/mp4":   true,
	"video/webm":  true,
}

// supportedOutputFormats lists the asset formats the pipeline can render
var supportedOutputFormats = map[string]bool{
	"txt":  true,
	"json": true,
	"srt":  true,
	"vtt":  true,
}

// jobFailure is a terminal per-job error carrying its domain error code
type jobFailure struct {
	code    string
	message string
}

func (e *jobFailure) Error() string {
	return e.code + ": " + e.message
}

func failValidation(format string, args ...any) error {
	return &jobFailure{code: model.JobErrorValidation, message: fmt.Sprintf(format, args...)}
}

func failTransient(format string, args ...any) error {
	return &jobFailure{code: model.JobErrorTransient, message: fmt.Sprintf(format, args...)}
}

// Worker drives transcription jobs through the pipeline stages. It never
// lets an error escape its per-job loop: every failure becomes either a
// segment placeholder or a MarkFailed call.
type Worker struct {
	jobs        job.Repository
	assets      job.AssetRepository
	prober      media.Prober
	splitter    media.Splitter
	transcriber transcribe.Transcriber
	noteSync    NoteSyncer
	cfg         config.WorkerConfig
	storageDir  string

	stopped atomic.Bool // stop accepting new jobs
	active  atomic.Bool // currently processing at least one job
}

// NewWorker creates a new pipeline Worker
func NewWorker(
	jobs job.Repository,
	assets job.AssetRepository,
	prober media.Prober,
	splitter media.Splitter,
	transcriber transcribe.Transcriber,
	noteSync NoteSyncer,
	cfg config.WorkerConfig,
	storageDir string,
) *Worker {
	return &Worker{
		jobs:        jobs,
		assets:      assets,
		prober:      prober,
		splitter:    splitter,
		transcriber: transcriber,
		noteSync:    noteSync,
		cfg:         cfg,
		storageDir:  storageDir,
	}
}

// StopAccepting tells the worker to finish in-flight work and take no new jobs
func (w *Worker) StopAccepting() {
	w.stopped.Store(true)
}

// Active reports whether the worker is currently processing jobs
func (w *Worker) Active() bool {
	return w.active.Load()
}

// Run polls for work until the context is cancelled or the worker is told
// to stop. Cancellation is cooperative: it is observed at job and segment
// boundaries, never mid-write.
func (w *Worker) Run(ctx context.Context) {
	interval := time.Duration(w.cfg.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("pipeline: worker started (poll interval %s)", interval)
	for {
		if ctx.Err() != nil || w.stopped.Load() {
			log.Printf("pipeline: worker stopping")
			return
		}
		w.cycle(ctx)
		select {
		case <-ctx.Done():
			log.Printf("pipeline: worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// cycle reclaims interrupted jobs, requeues retryable ones, then processes
// pending jobs FIFO
func (w *Worker) cycle(ctx context.Context) {
	// A processing job whose row has gone quiet was interrupted by a crash
	// or shutdown. Resetting it to created puts it back in front of the
	// poll; its checkpoints make the rerun a resume, not a restart.
	cutoff := time.Now().Add(-time.Duration(w.cfg.RecoverAfterSeconds) * time.Second)
	recovered, err := w.jobs.RequeueInterrupted(ctx, cutoff)
	if err != nil {
		log.Printf("pipeline: failed to requeue interrupted jobs: %v", err)
	} else if recovered > 0 {
		log.Printf("pipeline: requeued %d interrupted job(s) for resumption", recovered)
	}

	retryable, err := w.jobs.ListRetryable(ctx, w.cfg.MaxConcurrentJobs)
	if err != nil {
		log.Printf("pipeline: failed to list retryable jobs: %v", err)
	}
	for _, j := range retryable {
		if err := w.jobs.RequeueForRetry(ctx, j.ID); err != nil {
			log.Printf("pipeline: failed to requeue job %s: %v", j.ID, err)
		} else {
			log.Printf("pipeline: requeued failed job %s (retry %d of %d)", j.ID, j.RetryCount, j.MaxRetries)
		}
	}

	pending, err := w.jobs.ListByStatus(ctx, model.JobStatusCreated, w.cfg.MaxConcurrentJobs)
	if err != nil {
		log.Printf("pipeline: failed to list pending jobs: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	w.active.Store(true)
	defer w.active.Store(false)

	sem := make(chan struct{}, w.cfg.MaxConcurrentJobs)
	var wg sync.WaitGroup
	for _, j := range pending {
		if ctx.Err() != nil || w.stopped.Load() {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(jobID string) {
			defer wg.Done()
			defer func() { <-sem }()
			w.processJob(ctx, jobID)
		}(j.ID)
	}
	wg.Wait()
}

// processJob drives one job through the pipeline
func (w *Worker) processJob(ctx context.Context, jobID string) {
	j, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		log.Printf("pipeline: failed to load job %s: %v", jobID, err)
		return
	}

	// The note reflects the outcome whether we succeed, fail, or are
	// interrupted mid-flight.
	defer w.syncNote(jobID)

	log.Printf("pipeline: processing job %s (%s, %d bytes)", j.ID, j.Filename, j.TotalSize)
	if err := w.jobs.AdvanceStage(ctx, j.ID, model.StageQueued, 0); err != nil {
		log.Printf("pipeline: failed to queue job %s: %v", j.ID, err)
		return
	}

	if err := w.runPipeline(ctx, j); err != nil {
		if ctx.Err() != nil {
			// Interrupted: the job stays processing with its checkpoints
			// and resumes from them on restart.
			log.Printf("pipeline: job %s interrupted, will resume from checkpoint", j.ID)
			return
		}
		w.fail(j.ID, err)
	}
}

// runPipeline executes the stages in order; any returned error fails the job
func (w *Worker) runPipeline(ctx context.Context, j *model.TranscriptionJob) error {
	segCP, err := w.loadSegmentingCheckpoint(ctx, j.ID)
	if err != nil {
		return err
	}
	if segCP == nil {
		// First pass: validate, normalize, and split the source. A retried
		// job skips all of this and reuses the checkpoint.
		segCP, err = w.prepareSegments(ctx, j)
		if err != nil {
			return err
		}
	} else {
		log.Printf("pipeline: job %s resuming with %d checkpointed segments", j.ID, len(segCP.SegmentPaths))
	}

	if err := w.runStage(ctx, j.ID, model.StageDetectingLanguage, func() error {
		// Language resolution is deferred to the provider results; the
		// stage exists so operators can see the pipeline move through it.
		return nil
	}); err != nil {
		return err
	}

	transcribeCP, err := w.transcribeSegments(ctx, j, segCP)
	if err != nil {
		return err
	}

	var transcript string
	if err := w.runStage(ctx, j.ID, model.StageMerging, func() error {
		var mergeErr error
		transcript, mergeErr = mergeSegments(segCP, transcribeCP)
		return mergeErr
	}); err != nil {
		return err
	}

	if j.EnableDiarization {
		if err := w.runStage(ctx, j.ID, model.StageDiarizing, func() error {
			// Speaker labels arrive embedded in the provider text; the
			// stage records its own timing for operator visibility.
			return nil
		}); err != nil {
			return err
		}
	}

	if err := w.runStage(ctx, j.ID, model.StageGeneratingOutputs, func() error {
		return w.generateOutputs(ctx, j, segCP, transcribeCP, transcript)
	}); err != nil {
		return err
	}

	w.cleanupSegments(segCP)

	results := buildResults(j, segCP, transcribeCP, transcript)
	if err := w.jobs.SetResults(ctx, j.ID, results); err != nil {
		return failTransient("failed to persist results: %v", err)
	}
	if err := w.jobs.AdvanceStage(ctx, j.ID, model.StageComplete, 100); err != nil {
		return failTransient("failed to complete job: %v", err)
	}

	log.Printf("pipeline: job %s complete (%d words, language %s)", j.ID, results.WordCount, results.DetectedLanguage)
	return nil
}

// prepareSegments runs validating, transcoding, and segmenting, persisting
// the segment list as a checkpoint before any transcription call.
func (w *Worker) prepareSegments(ctx context.Context, j *model.TranscriptionJob) (*model.SegmentingCheckpoint, error) {
	sourcePath := filepath.Join(w.storageDir, j.StoragePaths["source"])

	if err := w.runStage(ctx, j.ID, model.StageValidating, func() error {
		return validateSource(j, sourcePath)
	}); err != nil {
		return nil, err
	}

	var normalized string
	if err := w.runStage(ctx, j.ID, model.StageTranscoding, func() error {
		var encErr error
		normalized, encErr = w.splitter.Normalize(ctx, sourcePath)
		if encErr != nil {
			return failTransient("failed to normalize audio: %v", encErr)
		}
		return w.jobs.SetStoragePath(ctx, j.ID, "normalized", normalized)
	}); err != nil {
		return nil, err
	}

	var segCP *model.SegmentingCheckpoint
	if err := w.runStage(ctx, j.ID, model.StageSegmenting, func() error {
		duration := w.prober.GetDuration(ctx, normalized)

		var segments []string
		if j.TotalSize > w.cfg.MaxFileBytes {
			var splitErr error
			segments, splitErr = w.splitter.SplitIntoSegments(ctx, normalized, w.cfg.SegmentSeconds)
			if splitErr != nil {
				return failTransient("failed to split audio: %v", splitErr)
			}
			if len(segments) == 0 {
				return failTransient("no segments could be encoded from source")
			}
			// The normalized file is consumed once its segments exist
			if segments[0] != normalized {
				removeQuietly(normalized)
			}
		} else {
			segments = []string{normalized}
		}

		segCP = &model.SegmentingCheckpoint{SegmentPaths: segments, TotalDuration: duration}
		return w.jobs.SetCheckpoint(ctx, j.ID, model.StageSegmenting, segCP)
	}); err != nil {
		return nil, err
	}

	return segCP, nil
}

// transcribeSegments runs the transcribing stage with bounded parallelism.
// The checkpoint is updated after every segment so a crash loses at most
// one segment's work; already-checkpointed segments are never re-sent.
func (w *Worker) transcribeSegments(ctx context.Context, j *model.TranscriptionJob, segCP *model.SegmentingCheckpoint) (*model.TranscribingCheckpoint, error) {
	cp := &model.TranscribingCheckpoint{Segments: map[int]model.SegmentResult{}}
	raw, err := w.jobs.GetCheckpoint(ctx, j.ID, model.StageTranscribing)
	if err != nil {
		return nil, failTransient("failed to load transcribing checkpoint: %v", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, cp); err != nil {
			return nil, failTransient("corrupt transcribing checkpoint: %v", err)
		}
		if cp.Segments == nil {
			cp.Segments = map[int]model.SegmentResult{}
		}
	}

	total := len(segCP.SegmentPaths)
	if err := w.jobs.AdvanceStage(ctx, j.ID, model.StageTranscribing, progressOf(len(cp.Segments), total)); err != nil {
		return nil, failTransient("failed to enter transcribing stage: %v", err)
	}

	start := time.Now()
	sem := make(chan struct{}, w.cfg.MaxConcurrentSegments)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, segmentPath := range segCP.SegmentPaths {
		mu.Lock()
		_, done := cp.Segments[i]
		mu.Unlock()
		if done {
			continue
		}
		if ctx.Err() != nil {
			break // cooperative cancel at the segment boundary
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(index int, path string) {
			defer wg.Done()
			defer func() { <-sem }()

			result := w.transcribeOne(ctx, j, index, path)

			mu.Lock()
			defer mu.Unlock()
			cp.Segments[index] = result
			if err := w.jobs.SetCheckpoint(ctx, j.ID, model.StageTranscribing, cp); err != nil {
				log.Printf("pipeline: failed to checkpoint segment %d of job %s: %v", index, j.ID, err)
			}
			if err := w.jobs.SetStageProgress(ctx, j.ID, model.StageTranscribing, progressOf(len(cp.Segments), total)); err != nil {
				log.Printf("pipeline: failed to update progress of job %s: %v", j.ID, err)
			}
		}(i, segmentPath)
	}
	wg.Wait()

	if err := w.jobs.RecordStageDuration(ctx, j.ID, model.StageTranscribing, time.Since(start).Seconds()); err != nil {
		log.Printf("pipeline: failed to record transcribing duration for job %s: %v", j.ID, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return cp, nil
}

// transcribeOne sends a single segment to the provider. Provider failures
// become an inline placeholder: partial success beats total failure, and
// segment errors consume no retry budget.
func (w *Worker) transcribeOne(ctx context.Context, j *model.TranscriptionJob, index int, path string) model.SegmentResult {
	result, err := w.transcriber.Transcribe(ctx, path)
	if err != nil {
		log.Printf("pipeline: segment %d of job %s failed: %v", index, j.ID, err)
		return model.SegmentResult{Text: "Error processing this segment", Failed: true}
	}
	return model.SegmentResult{
		Text:       result.Text,
		Language:   result.Language,
		Confidence: result.Confidence,
	}
}

// mergeSegments joins segment texts in index order, tagging each part when
// more than one segment exists. Merge output is deterministic regardless
// of the order segments finished in.
func mergeSegments(segCP *model.SegmentingCheckpoint, cp *model.TranscribingCheckpoint) (string, error) {
	total := len(segCP.SegmentPaths)

	var parts []string
	empty := true
	for i := 0; i < total; i++ {
		result, ok := cp.Segments[i]
		if !ok {
			// Tolerate indices that never produced a result
			continue
		}
		if !result.Failed && strings.TrimSpace(result.Text) != "" {
			empty = false
		}
		parts = append(parts, tagSegment(i, total, result.Text))
	}

	if empty {
		return "", &jobFailure{
			code:    model.JobErrorEmptyResult,
			message: fmt.Sprintf("merged transcript empty after %d segments attempted", total),
		}
	}
	return strings.Join(parts, " "), nil
}

// tagSegment prefixes text with its part tag when the job has multiple segments
func tagSegment(index, total int, text string) string {
	if total <= 1 {
		return text
	}
	return fmt.Sprintf("[Part %d] %s", index+1, text)
}

// generateOutputs renders one asset per requested output format
func (w *Worker) generateOutputs(ctx context.Context, j *model.TranscriptionJob, segCP *model.SegmentingCheckpoint, cp *model.TranscribingCheckpoint, transcript string) error {
	formats := j.OutputFormats
	if len(formats) == 0 {
		formats = []string{"txt"}
	}

	outDir := filepath.Join(w.storageDir, "outputs", j.ID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return failTransient("failed to create output directory: %v", err)
	}

	// A rerun after a partial failure regenerates every asset; rows from
	// the earlier attempt go first so the unique (job_id, format)
	// constraint cannot strand the job.
	if err := w.assets.DeleteByJobID(ctx, j.ID); err != nil {
		return failTransient("failed to clear previous assets: %v", err)
	}

	for _, format := range formats {
		content, err := renderOutput(format, j, segCP, cp, transcript)
		if err != nil {
			return err
		}

		path := filepath.Join(outDir, "transcript."+format)
		if err := os.WriteFile(path, content, 0644); err != nil {
			return failTransient("failed to write %s output: %v", format, err)
		}

		storageKey, relErr := filepath.Rel(w.storageDir, path)
		if relErr != nil {
			storageKey = path
		}
		asset := &model.TranscriptionAsset{
			JobID:      j.ID,
			Format:     format,
			StorageKey: storageKey,
			SizeBytes:  int64(len(content)),
		}
		if err := w.assets.Create(ctx, asset); err != nil {
			return failTransient("failed to record %s asset: %v", format, err)
		}
		if format == "txt" {
			if err := w.jobs.SetStoragePath(ctx, j.ID, "transcript", storageKey); err != nil {
				log.Printf("pipeline: failed to record transcript path for job %s: %v", j.ID, err)
			}
		}
	}
	return nil
}

// buildResults derives the success-only result fields
func buildResults(j *model.TranscriptionJob, segCP *model.SegmentingCheckpoint, cp *model.TranscribingCheckpoint, transcript string) model.JobResults {
	language := ""
	var confidenceSum float64
	confidenceCount := 0
	for i := 0; i < len(segCP.SegmentPaths); i++ {
		result, ok := cp.Segments[i]
		if !ok || result.Failed {
			continue
		}
		if language == "" && result.Language != "" {
			language = result.Language
		}
		confidenceSum += result.Confidence
		confidenceCount++
	}
	if language == "" {
		if j.Language != nil {
			language = *j.Language
		} else {
			language = "unknown"
		}
	}

	var confidence float64
	if confidenceCount > 0 {
		confidence = confidenceSum / float64(confidenceCount)
	}

	return model.JobResults{
		DetectedLanguage: language,
		ConfidenceScore:  confidence,
		TotalDuration:    segCP.TotalDuration,
		WordCount:        len(strings.Fields(transcript)),
	}
}

// validateSource rejects jobs the provider can never process
func validateSource(j *model.TranscriptionJob, sourcePath string) error {
	if !supportedMimeTypes[strings.ToLower(j.MimeType)] {
		return failValidation("unsupported MIME type %q", j.MimeType)
	}
	if j.TotalSize <= 0 {
		return failValidation("source file is empty")
	}
	if j.TotalSize > maxSourceBytes {
		return failValidation("source file exceeds maximum size (%d bytes)", int64(maxSourceBytes))
	}
	for _, format := range j.OutputFormats {
		if !supportedOutputFormats[format] {
			return failValidation("unsupported output format %q", format)
		}
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return failValidation("source file unavailable: %v", err)
	}
	if info.Size() == 0 {
		return failValidation("source file is empty")
	}
	return nil
}

// runStage advances to a stage, times its body, and records the duration
func (w *Worker) runStage(ctx context.Context, jobID string, stage model.Stage, fn func() error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := w.jobs.AdvanceStage(ctx, jobID, stage, 0); err != nil {
		return failTransient("failed to enter stage %s: %v", stage, err)
	}

	start := time.Now()
	err := fn()
	if recordErr := w.jobs.RecordStageDuration(ctx, jobID, stage, time.Since(start).Seconds()); recordErr != nil {
		log.Printf("pipeline: failed to record %s duration for job %s: %v", stage, jobID, recordErr)
	}
	return err
}

// fail converts a pipeline error into a MarkFailed call
func (w *Worker) fail(jobID string, err error) {
	code := model.JobErrorTransient
	message := err.Error()
	if failure, ok := err.(*jobFailure); ok {
		code = failure.code
		message = failure.message
	}

	log.Printf("pipeline: job %s failed (%s): %s", jobID, code, message)
	// MarkFailed must land even when the run context is gone
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if markErr := w.jobs.MarkFailed(ctx, jobID, code, message); markErr != nil {
		log.Printf("pipeline: failed to mark job %s failed: %v", jobID, markErr)
	}

	// Checkpointed segment files are kept while the job can still be
	// retried; a terminally failed job's segments are swept here.
	j, getErr := w.jobs.GetByID(ctx, jobID)
	if getErr == nil && !j.IsRetryable() {
		if segCP, cpErr := w.loadSegmentingCheckpoint(ctx, jobID); cpErr == nil && segCP != nil {
			w.cleanupSegments(segCP)
		}
	}
}

// syncNote pushes the job's final state onto the legacy note
func (w *Worker) syncNote(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.noteSync.SyncJobToNote(ctx, jobID); err != nil {
		log.Printf("pipeline: failed to sync job %s to note: %v", jobID, err)
	}
}

// loadSegmentingCheckpoint returns the parsed segmenting checkpoint, nil when absent
func (w *Worker) loadSegmentingCheckpoint(ctx context.Context, jobID string) (*model.SegmentingCheckpoint, error) {
	raw, err := w.jobs.GetCheckpoint(ctx, jobID, model.StageSegmenting)
	if err != nil {
		return nil, failTransient("failed to load segmenting checkpoint: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	var cp model.SegmentingCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, failTransient("corrupt segmenting checkpoint: %v", err)
	}
	return &cp, nil
}

// cleanupSegments removes consumed segment files
func (w *Worker) cleanupSegments(segCP *model.SegmentingCheckpoint) {
	for _, path := range segCP.SegmentPaths {
		removeQuietly(path)
	}
}

// removeQuietly deletes a temp file, logging rather than failing
func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("pipeline: failed to remove temp file %s: %v", path, err)
	}
}

// progressOf converts done/total into a 0-100 progress value
func progressOf(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}
