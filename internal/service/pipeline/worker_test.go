package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autome/transcriber/internal/config"
	apperrors "github.com/autome/transcriber/internal/errors"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/service/transcribe"
)

// memJobRepo is an in-memory job.Repository that records every stage
// transition so tests can assert on the pipeline's path through the stages.
type memJobRepo struct {
	mu      sync.Mutex
	jobs    map[string]*model.TranscriptionJob
	history map[string][]model.Stage
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{
		jobs:    map[string]*model.TranscriptionJob{},
		history: map[string][]model.Stage{},
	}
}

func (r *memJobRepo) put(j *model.TranscriptionJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j.StageCheckpoints == nil {
		j.StageCheckpoints = map[model.Stage]json.RawMessage{}
	}
	if j.StageProgress == nil {
		j.StageProgress = map[model.Stage]float64{}
	}
	if j.StageDurations == nil {
		j.StageDurations = map[model.Stage]float64{}
	}
	if j.StoragePaths == nil {
		j.StoragePaths = map[string]string{}
	}
	r.jobs[j.ID] = j
}

func (r *memJobRepo) get(id string) *model.TranscriptionJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *memJobRepo) stages(id string) []model.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Stage(nil), r.history[id]...)
}

func (r *memJobRepo) Create(ctx context.Context, j *model.TranscriptionJob) error {
	r.put(j)
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, id string) (*model.TranscriptionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeNotFound, "transcription job not found")
	}
	copied := *j
	return &copied, nil
}

func (r *memJobRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *memJobRepo) AdvanceStage(ctx context.Context, id string, stage model.Stage, progress float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	if !model.IsValidTransition(j.CurrentStage, stage) {
		return apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("invalid stage transition %s to %s", j.CurrentStage, stage))
	}
	j.CurrentStage = stage
	j.Status = model.StatusForStage(stage)
	j.Progress = progress
	j.UpdatedAt = time.Now()
	r.history[id] = append(r.history[id], stage)
	return nil
}

func (r *memJobRepo) SetStageProgress(ctx context.Context, id string, stage model.Stage, progress float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.StageProgress[stage] = progress
	j.Progress = progress
	return nil
}

func (r *memJobRepo) SetCheckpoint(ctx context.Context, id string, stage model.Stage, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].StageCheckpoints[stage] = data
	return nil
}

func (r *memJobRepo) GetCheckpoint(ctx context.Context, id string, stage model.Stage) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.jobs[id].StageCheckpoints[stage]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (r *memJobRepo) RecordStageDuration(ctx context.Context, id string, stage model.Stage, seconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].StageDurations[stage] = seconds
	return nil
}

func (r *memJobRepo) SetStoragePath(ctx context.Context, id string, name, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].StoragePaths[name] = path
	return nil
}

func (r *memJobRepo) SetResults(ctx context.Context, id string, results model.JobResults) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.DetectedLanguage = &results.DetectedLanguage
	j.ConfidenceScore = &results.ConfidenceScore
	j.TotalDuration = &results.TotalDuration
	j.WordCount = &results.WordCount
	return nil
}

func (r *memJobRepo) MarkFailed(ctx context.Context, id string, code, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.Status = model.JobStatusFailed
	j.CurrentStage = model.StageFailed
	j.ErrorCode = &code
	j.ErrorMessage = &message
	j.RetryCount++
	r.history[id] = append(r.history[id], model.StageFailed)
	return nil
}

func (r *memJobRepo) RequeueForRetry(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != model.JobStatusFailed || j.RetryCount >= j.MaxRetries {
		return apperrors.New(apperrors.CodeNotFound, "job is not retryable")
	}
	j.Status = model.JobStatusCreated
	j.CurrentStage = model.StageCreated
	j.ErrorCode = nil
	j.ErrorMessage = nil
	return nil
}

func (r *memJobRepo) RequeueInterrupted(ctx context.Context, updatedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reclaimed int64
	for _, j := range r.jobs {
		if j.Status == model.JobStatusProcessing && j.UpdatedAt.Before(updatedBefore) {
			j.Status = model.JobStatusCreated
			j.CurrentStage = model.StageCreated
			j.UpdatedAt = time.Now()
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (r *memJobRepo) ListRetryable(ctx context.Context, limit int) ([]*model.TranscriptionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TranscriptionJob
	for _, j := range r.jobs {
		if j.Status == model.JobStatusFailed && j.RetryCount < j.MaxRetries {
			copied := *j
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memJobRepo) ListByStatus(ctx context.Context, status model.JobStatus, limit int) ([]*model.TranscriptionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TranscriptionJob
	for _, j := range r.jobs {
		if j.Status == status {
			copied := *j
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memJobRepo) ListForUser(ctx context.Context, userID string, limit int) ([]*model.TranscriptionJob, error) {
	return nil, nil
}

func (r *memJobRepo) CountByStatus(ctx context.Context, status model.JobStatus) (int, error) {
	jobs, _ := r.ListByStatus(ctx, status, 0)
	return len(jobs), nil
}

func (r *memJobRepo) CountRetryable(ctx context.Context) (int, error) {
	jobs, _ := r.ListRetryable(ctx, 0)
	return len(jobs), nil
}

// memAssetRepo collects created assets, enforcing the (job_id, format)
// uniqueness the table carries
type memAssetRepo struct {
	mu     sync.Mutex
	assets []*model.TranscriptionAsset
}

func (r *memAssetRepo) Create(ctx context.Context, asset *model.TranscriptionAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.assets {
		if existing.JobID == asset.JobID && existing.Format == asset.Format {
			return apperrors.New(apperrors.CodeConflict, "transcription asset already exists")
		}
	}
	r.assets = append(r.assets, asset)
	return nil
}

func (r *memAssetRepo) ListByJobID(ctx context.Context, jobID string) ([]*model.TranscriptionAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TranscriptionAsset
	for _, asset := range r.assets {
		if asset.JobID == jobID {
			out = append(out, asset)
		}
	}
	return out, nil
}

func (r *memAssetRepo) DeleteByJobID(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.assets[:0]
	for _, asset := range r.assets {
		if asset.JobID != jobID {
			kept = append(kept, asset)
		}
	}
	r.assets = kept
	return nil
}

// fakeProber returns a fixed duration
type fakeProber struct {
	duration float64
}

func (p *fakeProber) GetDuration(ctx context.Context, filePath string) float64 {
	return p.duration
}

// fakeSplitter returns canned segment paths
type fakeSplitter struct {
	segments []string
}

func (s *fakeSplitter) SplitIntoSegments(ctx context.Context, filePath string, segmentSeconds float64) ([]string, error) {
	if s.segments == nil {
		return []string{filePath}, nil
	}
	return s.segments, nil
}

func (s *fakeSplitter) Normalize(ctx context.Context, filePath string) (string, error) {
	return filePath + ".16k.wav", nil
}

// fakeTranscriber dispatches on segment path and records every call
type fakeTranscriber struct {
	mu      sync.Mutex
	results map[string]*transcribe.Result
	errs    map[string]error
	calls   []string
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (*transcribe.Result, error) {
	t.mu.Lock()
	t.calls = append(t.calls, audioPath)
	t.mu.Unlock()
	if err, ok := t.errs[audioPath]; ok {
		return nil, err
	}
	if result, ok := t.results[audioPath]; ok {
		return result, nil
	}
	return &transcribe.Result{Text: "default text", Language: "en", Confidence: 0.5}, nil
}

func (t *fakeTranscriber) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// recordingNoteSyncer counts sync calls
type recordingNoteSyncer struct {
	mu     sync.Mutex
	jobIDs []string
}

func (s *recordingNoteSyncer) SyncJobToNote(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobIDs = append(s.jobIDs, jobID)
	return nil
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		MaxConcurrentJobs:     1,
		MaxConcurrentSegments: 3,
		SegmentSeconds:        300,
		MaxFileBytes:          24 * 1024 * 1024,
		PollIntervalSeconds:   1,
		StopTimeoutSeconds:    5,
		RecoverAfterSeconds:   300,
		RetryableWarn:         10,
		QueueWarn:             50,
	}
}

// seedJob writes a real source file and registers a created job against it
func seedJob(t *testing.T, repo *memJobRepo, storageDir string, mutate func(*model.TranscriptionJob)) *model.TranscriptionJob {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(storageDir, "sources"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(storageDir, "sources", "audio.mp3"), []byte("fake audio bytes"), 0644))

	j := &model.TranscriptionJob{
		ID:            "job-1",
		UploadID:      "upload-1",
		Filename:      "audio.mp3",
		TotalSize:     1 << 20,
		MimeType:      "audio/mpeg",
		Model:         "base",
		OutputFormats: []string{"txt"},
		Status:        model.JobStatusCreated,
		CurrentStage:  model.StageCreated,
		MaxRetries:    model.DefaultMaxRetries,
		StoragePaths:  map[string]string{"source": filepath.Join("sources", "audio.mp3")},
	}
	if mutate != nil {
		mutate(j)
	}
	repo.put(j)
	return j
}

func TestWorker_ProcessJob_SmallFileCompletes(t *testing.T) {
	storageDir := t.TempDir()
	repo := newMemJobRepo()
	assets := &memAssetRepo{}
	syncer := &recordingNoteSyncer{}
	transcriber := &fakeTranscriber{
		results: map[string]*transcribe.Result{},
	}

	seedJob(t, repo, storageDir, nil)

	w := NewWorker(repo, assets, &fakeProber{duration: 120}, &fakeSplitter{}, transcriber, syncer, testWorkerConfig(), storageDir)
	w.processJob(context.Background(), "job-1")

	j := repo.get("job-1")
	assert.Equal(t, model.JobStatusComplete, j.Status)
	assert.Equal(t, model.StageComplete, j.CurrentStage)
	assert.Equal(t, 100.0, j.Progress)

	// A file under the provider limit is never split
	assert.Equal(t, 1, transcriber.callCount())

	// Single-segment transcripts carry no part tags
	require.NotNil(t, j.WordCount)
	assert.Equal(t, 2, *j.WordCount)
	require.NotNil(t, j.DetectedLanguage)
	assert.Equal(t, "en", *j.DetectedLanguage)
	require.NotNil(t, j.TotalDuration)
	assert.Equal(t, 120.0, *j.TotalDuration)

	// The txt asset exists on disk and is recorded
	recorded, _ := assets.ListByJobID(context.Background(), "job-1")
	require.Len(t, recorded, 1)
	content, err := os.ReadFile(filepath.Join(storageDir, recorded[0].StorageKey))
	require.NoError(t, err)
	assert.Equal(t, "default text\n", string(content))

	// Every processing stage derived a processing status
	for _, stage := range repo.stages("job-1") {
		if stage != model.StageComplete {
			assert.Equal(t, model.JobStatusProcessing, model.StatusForStage(stage))
		}
	}

	assert.NotEmpty(t, syncer.jobIDs, "the note bridge runs after every job")
}

func TestWorker_ProcessJob_ResumesFromCheckpoint(t *testing.T) {
	storageDir := t.TempDir()
	repo := newMemJobRepo()
	syncer := &recordingNoteSyncer{}
	transcriber := &fakeTranscriber{
		results: map[string]*transcribe.Result{
			"/tmp/seg2.wav": {Text: "third part", Language: "en", Confidence: 0.9},
		},
	}

	seedJob(t, repo, storageDir, func(j *model.TranscriptionJob) {
		segCP := model.SegmentingCheckpoint{
			SegmentPaths:  []string{"/tmp/seg0.wav", "/tmp/seg1.wav", "/tmp/seg2.wav"},
			TotalDuration: 900,
		}
		transcribeCP := model.TranscribingCheckpoint{
			Segments: map[int]model.SegmentResult{
				0: {Text: "first part", Language: "en", Confidence: 0.8},
				1: {Text: "second part", Language: "en", Confidence: 0.8},
			},
		}
		segData, _ := json.Marshal(segCP)
		trData, _ := json.Marshal(transcribeCP)
		j.StageCheckpoints = map[model.Stage]json.RawMessage{
			model.StageSegmenting:   segData,
			model.StageTranscribing: trData,
		}
	})

	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{duration: 900}, &fakeSplitter{}, transcriber, syncer, testWorkerConfig(), storageDir)
	w.processJob(context.Background(), "job-1")

	j := repo.get("job-1")
	assert.Equal(t, model.JobStatusComplete, j.Status)

	// Only the segment missing from the checkpoint was sent to the provider
	assert.Equal(t, 1, transcriber.callCount())
	assert.Equal(t, []string{"/tmp/seg2.wav"}, transcriber.calls)

	// Validation and segmentation never re-ran
	for _, stage := range repo.stages("job-1") {
		assert.NotEqual(t, model.StageValidating, stage)
		assert.NotEqual(t, model.StageSegmenting, stage)
	}
}

func TestWorker_ProcessJob_SegmentFailureBecomesPlaceholder(t *testing.T) {
	storageDir := t.TempDir()
	repo := newMemJobRepo()
	transcriber := &fakeTranscriber{
		results: map[string]*transcribe.Result{
			"/tmp/seg0.wav": {Text: "good text", Language: "en", Confidence: 0.9},
		},
		errs: map[string]error{
			"/tmp/seg1.wav": fmt.Errorf("provider exploded"),
		},
	}

	seedJob(t, repo, storageDir, func(j *model.TranscriptionJob) {
		j.TotalSize = 100 << 20 // force segmentation
	})

	splitter := &fakeSplitter{segments: []string{"/tmp/seg0.wav", "/tmp/seg1.wav"}}
	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{duration: 600}, splitter, transcriber, &recordingNoteSyncer{}, testWorkerConfig(), storageDir)
	w.processJob(context.Background(), "job-1")

	j := repo.get("job-1")
	assert.Equal(t, model.JobStatusComplete, j.Status, "one failed segment must not fail the job")

	transcript, err := os.ReadFile(filepath.Join(storageDir, j.StoragePaths["transcript"]))
	require.NoError(t, err)
	assert.Equal(t, "[Part 1] good text [Part 2] Error processing this segment\n", string(transcript))

	// The placeholder contributes neither language nor confidence
	require.NotNil(t, j.ConfidenceScore)
	assert.InDelta(t, 0.9, *j.ConfidenceScore, 1e-9)
}

func TestWorker_ProcessJob_EmptyResultFails(t *testing.T) {
	storageDir := t.TempDir()
	repo := newMemJobRepo()
	transcriber := &fakeTranscriber{
		results: map[string]*transcribe.Result{},
	}
	// Every segment comes back blank
	transcriber.results["/tmp/seg0.wav"] = &transcribe.Result{Text: "   "}

	seedJob(t, repo, storageDir, func(j *model.TranscriptionJob) {
		j.TotalSize = 100 << 20
	})

	splitter := &fakeSplitter{segments: []string{"/tmp/seg0.wav"}}
	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{duration: 300}, splitter, transcriber, &recordingNoteSyncer{}, testWorkerConfig(), storageDir)
	w.processJob(context.Background(), "job-1")

	j := repo.get("job-1")
	assert.Equal(t, model.JobStatusFailed, j.Status)
	require.NotNil(t, j.ErrorCode)
	assert.Equal(t, model.JobErrorEmptyResult, *j.ErrorCode)
	assert.Equal(t, 1, j.RetryCount, "failure consumes one retry")
}

func TestWorker_ProcessJob_ValidationFailure(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.TranscriptionJob)
	}{
		{
			name:   "unsupported mime type",
			mutate: func(j *model.TranscriptionJob) { j.MimeType = "application/pdf" },
		},
		{
			name:   "empty source",
			mutate: func(j *model.TranscriptionJob) { j.TotalSize = 0 },
		},
		{
			name:   "oversized source",
			mutate: func(j *model.TranscriptionJob) { j.TotalSize = 3 << 30 },
		},
		{
			name:   "unsupported output format",
			mutate: func(j *model.TranscriptionJob) { j.OutputFormats = []string{"pdf"} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storageDir := t.TempDir()
			repo := newMemJobRepo()
			transcriber := &fakeTranscriber{}

			seedJob(t, repo, storageDir, tt.mutate)

			w := NewWorker(repo, &memAssetRepo{}, &fakeProber{duration: 300}, &fakeSplitter{}, transcriber, &recordingNoteSyncer{}, testWorkerConfig(), storageDir)
			w.processJob(context.Background(), "job-1")

			j := repo.get("job-1")
			assert.Equal(t, model.JobStatusFailed, j.Status)
			require.NotNil(t, j.ErrorCode)
			assert.Equal(t, model.JobErrorValidation, *j.ErrorCode)
			assert.Equal(t, 0, transcriber.callCount(), "validation failures never reach the provider")
		})
	}
}

func TestWorker_ProcessJob_FourSegmentScenario(t *testing.T) {
	// A 16-minute file with 300s segments crosses into four parts
	storageDir := t.TempDir()
	repo := newMemJobRepo()
	transcriber := &fakeTranscriber{
		results: map[string]*transcribe.Result{
			"/tmp/seg0.wav": {Text: "one", Language: "en", Confidence: 0.9},
			"/tmp/seg1.wav": {Text: "two", Language: "en", Confidence: 0.9},
			"/tmp/seg2.wav": {Text: "three", Language: "en", Confidence: 0.9},
			"/tmp/seg3.wav": {Text: "four", Language: "en", Confidence: 0.9},
		},
	}

	seedJob(t, repo, storageDir, func(j *model.TranscriptionJob) {
		j.TotalSize = 100 << 20
	})

	splitter := &fakeSplitter{segments: []string{"/tmp/seg0.wav", "/tmp/seg1.wav", "/tmp/seg2.wav", "/tmp/seg3.wav"}}
	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{duration: 960}, splitter, transcriber, &recordingNoteSyncer{}, testWorkerConfig(), storageDir)
	w.processJob(context.Background(), "job-1")

	j := repo.get("job-1")
	assert.Equal(t, model.JobStatusComplete, j.Status)
	assert.Equal(t, 4, transcriber.callCount())

	// Merge order follows segment index regardless of completion order
	transcript, err := os.ReadFile(filepath.Join(storageDir, j.StoragePaths["transcript"]))
	require.NoError(t, err)
	assert.Equal(t, "[Part 1] one [Part 2] two [Part 3] three [Part 4] four\n", string(transcript))
}

func TestWorker_ProcessJob_DiarizationStage(t *testing.T) {
	storageDir := t.TempDir()
	repo := newMemJobRepo()

	seedJob(t, repo, storageDir, func(j *model.TranscriptionJob) {
		j.EnableDiarization = true
	})

	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{duration: 60}, &fakeSplitter{}, &fakeTranscriber{}, &recordingNoteSyncer{}, testWorkerConfig(), storageDir)
	w.processJob(context.Background(), "job-1")

	assert.Contains(t, repo.stages("job-1"), model.StageDiarizing)
	assert.Equal(t, model.JobStatusComplete, repo.get("job-1").Status)
}

func TestWorker_ProcessJob_DiarizationSkippedWhenDisabled(t *testing.T) {
	storageDir := t.TempDir()
	repo := newMemJobRepo()

	seedJob(t, repo, storageDir, nil)

	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{duration: 60}, &fakeSplitter{}, &fakeTranscriber{}, &recordingNoteSyncer{}, testWorkerConfig(), storageDir)
	w.processJob(context.Background(), "job-1")

	assert.NotContains(t, repo.stages("job-1"), model.StageDiarizing)
	assert.Equal(t, model.JobStatusComplete, repo.get("job-1").Status)
}

func TestWorker_Cycle_ResumesInterruptedProcessingJob(t *testing.T) {
	// A crash mid-transcribing leaves the job processing with intact
	// checkpoints and no fresh writes. The next cycle must reclaim it.
	storageDir := t.TempDir()
	repo := newMemJobRepo()
	transcriber := &fakeTranscriber{
		results: map[string]*transcribe.Result{
			"/tmp/seg2.wav": {Text: "third part", Language: "en", Confidence: 0.9},
		},
	}

	seedJob(t, repo, storageDir, func(j *model.TranscriptionJob) {
		j.Status = model.JobStatusProcessing
		j.CurrentStage = model.StageTranscribing
		j.UpdatedAt = time.Now().Add(-time.Hour)

		segCP := model.SegmentingCheckpoint{
			SegmentPaths:  []string{"/tmp/seg0.wav", "/tmp/seg1.wav", "/tmp/seg2.wav"},
			TotalDuration: 900,
		}
		transcribeCP := model.TranscribingCheckpoint{
			Segments: map[int]model.SegmentResult{
				0: {Text: "first part", Language: "en", Confidence: 0.8},
				1: {Text: "second part", Language: "en", Confidence: 0.8},
			},
		}
		segData, _ := json.Marshal(segCP)
		trData, _ := json.Marshal(transcribeCP)
		j.StageCheckpoints = map[model.Stage]json.RawMessage{
			model.StageSegmenting:   segData,
			model.StageTranscribing: trData,
		}
	})

	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{duration: 900}, &fakeSplitter{}, transcriber, &recordingNoteSyncer{}, testWorkerConfig(), storageDir)
	w.cycle(context.Background())

	j := repo.get("job-1")
	assert.Equal(t, model.JobStatusComplete, j.Status, "an interrupted job must finish after restart")

	// Only the segment missing from the checkpoint went to the provider
	assert.Equal(t, []string{"/tmp/seg2.wav"}, transcriber.calls)
}

func TestWorker_Cycle_LeavesFreshProcessingJobsAlone(t *testing.T) {
	repo := newMemJobRepo()
	repo.put(&model.TranscriptionJob{
		ID:           "live-1",
		Status:       model.JobStatusProcessing,
		CurrentStage: model.StageTranscribing,
		MaxRetries:   model.DefaultMaxRetries,
		UpdatedAt:    time.Now(),
	})

	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{}, &fakeSplitter{}, &fakeTranscriber{}, &recordingNoteSyncer{}, testWorkerConfig(), t.TempDir())
	w.cycle(context.Background())

	j := repo.get("live-1")
	assert.Equal(t, model.JobStatusProcessing, j.Status, "a recently active job is not reclaimed")
	assert.Equal(t, model.StageTranscribing, j.CurrentStage)
}

func TestWorker_ProcessJob_RerunReplacesEarlierAssets(t *testing.T) {
	storageDir := t.TempDir()
	repo := newMemJobRepo()
	assets := &memAssetRepo{}

	// A previous attempt got as far as recording the txt asset row
	require.NoError(t, assets.Create(context.Background(), &model.TranscriptionAsset{
		JobID:      "job-1",
		Format:     "txt",
		StorageKey: "outputs/job-1/transcript.txt",
	}))

	seedJob(t, repo, storageDir, nil)

	w := NewWorker(repo, assets, &fakeProber{duration: 120}, &fakeSplitter{}, &fakeTranscriber{}, &recordingNoteSyncer{}, testWorkerConfig(), storageDir)
	w.processJob(context.Background(), "job-1")

	j := repo.get("job-1")
	assert.Equal(t, model.JobStatusComplete, j.Status, "a stale asset row must not strand the job")

	recorded, _ := assets.ListByJobID(context.Background(), "job-1")
	require.Len(t, recorded, 1, "reruns replace earlier assets instead of duplicating them")
	assert.Equal(t, "txt", recorded[0].Format)
}

func TestMergeSegments(t *testing.T) {
	segCP := &model.SegmentingCheckpoint{SegmentPaths: []string{"a", "b", "c"}}

	t.Run("joins by index order", func(t *testing.T) {
		cp := &model.TranscribingCheckpoint{Segments: map[int]model.SegmentResult{
			2: {Text: "gamma"},
			0: {Text: "alpha"},
			1: {Text: "beta"},
		}}
		got, err := mergeSegments(segCP, cp)
		require.NoError(t, err)
		assert.Equal(t, "[Part 1] alpha [Part 2] beta [Part 3] gamma", got)
	})

	t.Run("single segment is untagged", func(t *testing.T) {
		single := &model.SegmentingCheckpoint{SegmentPaths: []string{"a"}}
		cp := &model.TranscribingCheckpoint{Segments: map[int]model.SegmentResult{
			0: {Text: "just this"},
		}}
		got, err := mergeSegments(single, cp)
		require.NoError(t, err)
		assert.Equal(t, "just this", got)
	})

	t.Run("all placeholders is an empty result", func(t *testing.T) {
		cp := &model.TranscribingCheckpoint{Segments: map[int]model.SegmentResult{
			0: {Text: "Error processing this segment", Failed: true},
			1: {Text: "Error processing this segment", Failed: true},
			2: {Text: "Error processing this segment", Failed: true},
		}}
		_, err := mergeSegments(segCP, cp)
		require.Error(t, err)
		failure, ok := err.(*jobFailure)
		require.True(t, ok)
		assert.Equal(t, model.JobErrorEmptyResult, failure.code)
	})

	t.Run("missing index is tolerated", func(t *testing.T) {
		cp := &model.TranscribingCheckpoint{Segments: map[int]model.SegmentResult{
			0: {Text: "alpha"},
			2: {Text: "gamma"},
		}}
		got, err := mergeSegments(segCP, cp)
		require.NoError(t, err)
		assert.Equal(t, "[Part 1] alpha [Part 3] gamma", got)
	})
}

func TestProgressOf(t *testing.T) {
	assert.Equal(t, 0.0, progressOf(0, 0))
	assert.Equal(t, 0.0, progressOf(0, 4))
	assert.Equal(t, 50.0, progressOf(2, 4))
	assert.Equal(t, 100.0, progressOf(4, 4))
}
