package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autome/transcriber/internal/model"
)

func newTestManager(t *testing.T, repo *memJobRepo) *Manager {
	t.Helper()
	w := NewWorker(repo, &memAssetRepo{}, &fakeProber{}, &fakeSplitter{}, &fakeTranscriber{}, &recordingNoteSyncer{}, testWorkerConfig(), t.TempDir())
	return NewManager(w, repo, testWorkerConfig())
}

func TestManager_StartIsIdempotent(t *testing.T) {
	repo := newMemJobRepo()
	m := newTestManager(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	assert.True(t, m.Status().Running)

	// A second start is a logged no-op, not a second worker
	m.Start(ctx)
	assert.True(t, m.Status().Running)

	m.Stop(5 * time.Second)
	assert.False(t, m.Status().Running)
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := newTestManager(t, newMemJobRepo())

	// Must not panic or block
	m.Stop(time.Second)
	assert.False(t, m.Status().Running)
}

func TestManager_StopDrains(t *testing.T) {
	repo := newMemJobRepo()
	m := newTestManager(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Stop(5 * time.Second)

	status := m.Status()
	assert.False(t, status.Running)
	assert.False(t, status.TaskRunning)
}

func TestManager_QueueStatus(t *testing.T) {
	repo := newMemJobRepo()
	for i := 0; i < 3; i++ {
		repo.put(&model.TranscriptionJob{
			ID:         fmt.Sprintf("created-%d", i),
			Status:     model.JobStatusCreated,
			MaxRetries: 3,
		})
	}
	repo.put(&model.TranscriptionJob{
		ID:         "processing-1",
		Status:     model.JobStatusProcessing,
		MaxRetries: 3,
	})
	repo.put(&model.TranscriptionJob{
		ID:         "failed-1",
		Status:     model.JobStatusFailed,
		RetryCount: 1,
		MaxRetries: 3,
	})
	repo.put(&model.TranscriptionJob{
		ID:         "exhausted-1",
		Status:     model.JobStatusFailed,
		RetryCount: 3,
		MaxRetries: 3,
	})

	m := newTestManager(t, repo)
	queue, err := m.QueueStatus(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, queue.CreatedCount)
	assert.Equal(t, 1, queue.ProcessingCount)
	assert.Equal(t, 1, queue.RetryableCount, "exhausted jobs are not retryable")
	assert.Equal(t, 5, queue.TotalQueued)
}

func TestManager_WithoutWorkerServesQueueQueries(t *testing.T) {
	// The status command builds a manager over the store alone; none of
	// the lifecycle surface may touch the absent worker.
	repo := newMemJobRepo()
	repo.put(&model.TranscriptionJob{
		ID:         "created-1",
		Status:     model.JobStatusCreated,
		MaxRetries: 3,
	})

	m := NewManager(nil, repo, testWorkerConfig())

	status := m.Status()
	assert.False(t, status.Running)
	assert.False(t, status.WorkerActive)

	health := m.HealthCheck(context.Background())
	assert.Equal(t, HealthUnhealthy, health.Status)

	queue, err := m.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queue.CreatedCount)

	// Starting without a worker is refused, not a panic
	m.Start(context.Background())
	assert.False(t, m.Status().Running)
}

func TestManager_HealthCheck(t *testing.T) {
	t.Run("unhealthy when not running", func(t *testing.T) {
		m := newTestManager(t, newMemJobRepo())

		health := m.HealthCheck(context.Background())
		assert.Equal(t, HealthUnhealthy, health.Status)
	})

	t.Run("healthy with an empty queue", func(t *testing.T) {
		m := newTestManager(t, newMemJobRepo())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		m.Start(ctx)
		defer m.Stop(5 * time.Second)

		health := m.HealthCheck(context.Background())
		assert.Equal(t, HealthHealthy, health.Status)
	})

	t.Run("degraded when retryable failures pile up", func(t *testing.T) {
		repo := newMemJobRepo()
		for i := 0; i < 15; i++ {
			repo.put(&model.TranscriptionJob{
				ID:         fmt.Sprintf("failed-%d", i),
				Status:     model.JobStatusFailed,
				RetryCount: 1,
				MaxRetries: 3,
			})
		}

		m := newTestManager(t, repo)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		m.Start(ctx)
		defer m.Stop(5 * time.Second)

		health := m.HealthCheck(context.Background())
		assert.Equal(t, HealthDegraded, health.Status)
	})
}
