package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldmemo/memo-service/internal/metrics"
	"github.com/fieldmemo/memo-service/internal/minutes"
	"github.com/fieldmemo/memo-service/internal/storage"
	"github.com/fieldmemo/memo-service/internal/transcription"
)

// ErrStopped is returned by Submit after Stop
var ErrStopped = errors.New("job manager stopped")

// ErrJobNotFound is returned for unknown or expired job IDs
var ErrJobNotFound = errors.New("job not found")

// Status is the processing stage of a job
type Status string

const (
	StatusPending      Status = "pending"
	StatusDecoding     Status = "decoding"
	StatusTranscribing Status = "transcribing"
	StatusSummarizing  Status = "summarizing"
	StatusStoring      Status = "storing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Finished reports whether the status is terminal
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transcriber produces the full transcript of an upload
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename string, progress transcription.ProgressFunc) (string, error)
}

// Summarizer produces meeting minutes from a transcript
type Summarizer interface {
	Generate(ctx context.Context, transcript string, meta minutes.Meta) (*minutes.Minutes, error)
}

// RecordStore persists finished memos
type RecordStore interface {
	Create(ctx context.Context, record *storage.Record) error
	GetByAudioHash(ctx context.Context, hash string) (*storage.Record, error)
}

// ObjectStore keeps the original audio
type ObjectStore interface {
	Put(key, contentType string, data []byte) error
}

// Dependencies are the pipeline stages a job runs through. Summarizer may be nil.
type Dependencies struct {
	Transcriber Transcriber
	Summarizer  Summarizer
	Records     RecordStore
	Objects     ObjectStore
}

// ManagerConfig contains configuration for the job manager
type ManagerConfig struct {
	MaxConcurrent   int
	Retention       time.Duration
	CleanupInterval time.Duration
}

// Upload is a voice memo submitted for processing
type Upload struct {
	Audio    []byte
	Filename string
	Title    string
	Customer string
	Language string
}

// Job is a snapshot of a processing job
type Job struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Percent    int        `json:"percent"`
	Message    string     `json:"message"`
	RecordID   string     `json:"record_id,omitempty"`
	Duplicate  bool       `json:"duplicate,omitempty"`
	Error      string     `json:"error,omitempty"`
	Filename   string     `json:"filename"`
	SizeBytes  int        `json:"size_bytes"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Event is a job state change delivered to subscribers
type Event struct {
	JobID    string    `json:"job_id"`
	Status   Status    `json:"status"`
	Percent  int       `json:"percent"`
	Message  string    `json:"message"`
	RecordID string    `json:"record_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// subscriberBuffer is the number of events a slow subscriber may lag behind
const subscriberBuffer = 32

// Manager runs memo processing jobs on a bounded worker pool
type Manager struct {
	jobs        map[string]*Job
	subscribers map[string][]chan Event
	mu          sync.RWMutex
	logger      *slog.Logger
	config      ManagerConfig
	deps        Dependencies
	metrics     *metrics.Metrics

	// Worker management
	slots   chan struct{}
	running int
	workers sync.WaitGroup
	stopped bool

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a job manager and starts its cleanup routine
func NewManager(logger *slog.Logger, config ManagerConfig, deps Dependencies, m *metrics.Metrics) (*Manager, error) {
	if deps.Transcriber == nil || deps.Records == nil || deps.Objects == nil {
		return nil, fmt.Errorf("transcriber, record store and object store are required")
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	if config.Retention <= 0 {
		config.Retention = time.Hour
	}

	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		jobs:        make(map[string]*Job),
		subscribers: make(map[string][]chan Event),
		logger:      logger,
		config:      config,
		deps:        deps,
		metrics:     m,
		slots:       make(chan struct{}, config.MaxConcurrent),
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// Submit queues an upload and returns the new job
func (m *Manager) Submit(upload Upload) (Job, error) {
	if len(upload.Audio) == 0 {
		return Job{}, fmt.Errorf("audio cannot be empty")
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Message:   "Queued",
		Filename:  upload.Filename,
		SizeBytes: len(upload.Audio),
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return Job{}, ErrStopped
	}
	m.jobs[job.ID] = job
	m.workers.Add(1)
	snapshot := *job
	m.mu.Unlock()

	m.logger.Info("Accepted memo upload",
		slog.String("job_id", job.ID),
		slog.String("filename", upload.Filename),
		slog.Int("size_bytes", len(upload.Audio)),
	)

	go m.work(job.ID, upload)

	return snapshot, nil
}

// Get returns a snapshot of the job
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all tracked jobs, newest first
func (m *Manager) List() []Job {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Stats returns the number of tracked jobs per status
func (m *Manager) Stats() map[Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[Status]int)
	for _, job := range m.jobs {
		stats[job.Status]++
	}
	return stats
}

// Subscribe streams the job's events, starting with its current state. The
// channel is closed after the terminal event or when cancel is called.
func (m *Manager) Subscribe(id string) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[id]
	if !exists {
		return nil, nil, ErrJobNotFound
	}

	ch := make(chan Event, subscriberBuffer)
	ch <- eventOf(job)

	if job.Status.Finished() {
		close(ch)
		return ch, func() {}, nil
	}

	m.subscribers[id] = append(m.subscribers[id], ch)

	var once sync.Once
	cancel := func() {
		once.Do(func() { m.unsubscribe(id, ch) })
	}

	return ch, cancel, nil
}

func (m *Manager) unsubscribe(id string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subscribers[id]
	for i, sub := range subs {
		if sub == ch {
			m.subscribers[id] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(m.subscribers[id]) == 0 {
		delete(m.subscribers, id)
	}
}

// update applies fn to the job and notifies subscribers
func (m *Manager) update(id string, fn func(job *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[id]
	if !exists {
		return
	}

	fn(job)
	job.UpdatedAt = time.Now()
	if job.Status.Finished() && job.FinishedAt == nil {
		finishedAt := job.UpdatedAt
		job.FinishedAt = &finishedAt
	}

	event := eventOf(job)
	for _, ch := range m.subscribers[id] {
		deliver(ch, event)
	}

	if job.Status.Finished() {
		for _, ch := range m.subscribers[id] {
			close(ch)
		}
		delete(m.subscribers, id)
	}
}

// deliver sends without blocking; a full buffer drops the oldest event so
// the latest state always arrives
func deliver(ch chan Event, event Event) {
	select {
	case ch <- event:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- event:
	default:
	}
}

func eventOf(job *Job) Event {
	return Event{
		JobID:    job.ID,
		Status:   job.Status,
		Percent:  job.Percent,
		Message:  job.Message,
		RecordID: job.RecordID,
		Error:    job.Error,
		Time:     job.UpdatedAt,
	}
}

// work waits for a worker slot and runs the pipeline
func (m *Manager) work(id string, upload Upload) {
	defer m.workers.Done()

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-m.ctx.Done():
		m.fail(id, time.Now(), m.ctx.Err())
		return
	}

	m.setRunning(1)
	defer m.setRunning(-1)

	startTime := time.Now()
	recordID, duplicate, err := m.process(m.ctx, id, upload)
	if err != nil {
		m.fail(id, startTime, err)
		return
	}

	message := "Memo processed"
	if duplicate {
		message = "Recording was already processed"
	}

	m.update(id, func(job *Job) {
		job.Status = StatusCompleted
		job.Percent = 100
		job.Message = message
		job.RecordID = recordID
		job.Duplicate = duplicate
	})
	m.metrics.RecordJobFinished(string(StatusCompleted), time.Since(startTime).Seconds())

	m.logger.Info("Job completed",
		slog.String("job_id", id),
		slog.String("record_id", recordID),
		slog.Bool("duplicate", duplicate),
		slog.Duration("elapsed", time.Since(startTime)),
	)
}

func (m *Manager) fail(id string, startTime time.Time, err error) {
	m.update(id, func(job *Job) {
		job.Status = StatusFailed
		job.Message = "Processing failed"
		job.Error = err.Error()
	})
	m.metrics.RecordJobFinished(string(StatusFailed), time.Since(startTime).Seconds())

	m.logger.Error("Job failed",
		slog.String("job_id", id),
		slog.String("error", err.Error()),
	)
}

func (m *Manager) setRunning(delta int) {
	m.mu.Lock()
	m.running += delta
	running := m.running
	m.mu.Unlock()

	m.metrics.SetActiveJobs(running)
}

// Stop cancels queued and running jobs, waits for workers and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping job manager...")

	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.workers.Wait()
	<-m.cleanup

	m.logger.Info("Job manager stopped",
		slog.Int("remaining_jobs", len(m.List())),
	)
}

// startCleanupRoutine runs in a separate goroutine to forget finished jobs
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case now := <-ticker.C:
			m.cleanupFinishedJobs(now)
		}
	}
}

// cleanupFinishedJobs removes jobs that finished more than the retention period ago
func (m *Manager) cleanupFinishedJobs(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, job := range m.jobs {
		if job.FinishedAt != nil && now.Sub(*job.FinishedAt) > m.config.Retention {
			delete(m.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("Cleaned up finished jobs", slog.Int("removed", removed))
	}

	return removed
}
