package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/autome/transcriber/internal/config"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/job"
)

// HealthState classifies the manager's health for operators
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// Status is a snapshot of the manager's lifecycle state
type Status struct {
	Running      bool `json:"running"`
	WorkerActive bool `json:"worker_active"`
	TaskRunning  bool `json:"task_running"`
}

// QueueStatus is a snapshot of the job backlog
type QueueStatus struct {
	CreatedCount    int `json:"created_count"`
	ProcessingCount int `json:"processing_count"`
	RetryableCount  int `json:"retryable_count"`
	TotalQueued     int `json:"total_queued"`
}

// Health is the operator-facing health verdict. Degraded is a soft
// backpressure signal, not an auto-scaling trigger.
type Health struct {
	Status HealthState `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Manager supervises the pipeline worker's lifecycle: one long-lived
// background task per process.
type Manager struct {
	mu      sync.Mutex
	worker  *Worker
	jobs    job.Repository
	cfg     config.WorkerConfig
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewManager creates a new worker Manager
func NewManager(worker *Worker, jobs job.Repository, cfg config.WorkerConfig) *Manager {
	return &Manager{
		worker: worker,
		jobs:   jobs,
		cfg:    cfg,
	}
}

// Start spawns the worker as a background task. Idempotent: starting a
// running manager is a warning, not an error.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.worker == nil {
		log.Printf("pipeline: manager has no worker attached, ignoring start")
		return
	}
	if m.running {
		log.Printf("pipeline: manager already running, ignoring start")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.running = true

	go func() {
		m.worker.Run(runCtx)
		close(done)
	}()
}

// Stop signals the worker to stop accepting jobs, waits for a graceful
// drain up to the timeout, then forcibly cancels. Safe to call even if
// the manager was never started.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.worker.StopAccepting()

	select {
	case <-m.done:
		// drained cleanly
	case <-time.After(timeout):
		log.Printf("pipeline: graceful drain timed out after %s, cancelling worker", timeout)
		m.cancel()
		<-m.done
	}

	m.cancel()
	m.cancel = nil
	m.done = nil
	m.running = false
}

// Status returns a snapshot of the manager's lifecycle state
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	taskRunning := false
	if m.done != nil {
		select {
		case <-m.done:
		default:
			taskRunning = true
		}
	}

	// A manager built without a worker still serves queue queries
	return Status{
		Running:      m.running,
		WorkerActive: m.worker != nil && m.worker.Active(),
		TaskRunning:  taskRunning,
	}
}

// QueueStatus reports the job backlog from the state store
func (m *Manager) QueueStatus(ctx context.Context) (QueueStatus, error) {
	created, err := m.jobs.CountByStatus(ctx, model.JobStatusCreated)
	if err != nil {
		return QueueStatus{}, err
	}
	processing, err := m.jobs.CountByStatus(ctx, model.JobStatusProcessing)
	if err != nil {
		return QueueStatus{}, err
	}
	retryable, err := m.jobs.CountRetryable(ctx)
	if err != nil {
		return QueueStatus{}, err
	}

	return QueueStatus{
		CreatedCount:    created,
		ProcessingCount: processing,
		RetryableCount:  retryable,
		TotalQueued:     created + processing + retryable,
	}, nil
}

// HealthCheck classifies the manager's health against the configured thresholds
func (m *Manager) HealthCheck(ctx context.Context) Health {
	if !m.Status().Running {
		return Health{Status: HealthUnhealthy, Reason: "worker not running"}
	}

	queue, err := m.QueueStatus(ctx)
	if err != nil {
		return Health{Status: HealthDegraded, Reason: "queue status unavailable: " + err.Error()}
	}

	if queue.RetryableCount > m.cfg.RetryableWarn {
		return Health{Status: HealthDegraded, Reason: "retryable failed jobs exceed threshold"}
	}
	if queue.TotalQueued > m.cfg.QueueWarn {
		return Health{Status: HealthDegraded, Reason: "queued jobs exceed threshold"}
	}
	return Health{Status: HealthHealthy}
}
