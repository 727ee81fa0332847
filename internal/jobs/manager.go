// Package jobs coordinates the asynchronous analysis work: dataset ingests,
// cleaning runs, crosstabs, model training, and export transforms.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/statforge/statstream/internal/events"
	"github.com/statforge/statstream/internal/logutil"
	"github.com/statforge/statstream/internal/metrics"
	"github.com/statforge/statstream/internal/store"
)

// Runner executes one job type and returns its result payload.
type Runner interface {
	Run(ctx context.Context, job *store.Job) (map[string]interface{}, error)
}

type eventPublisher interface {
	Publish(context.Context, events.Envelope) error
}

// Manager coordinates asynchronous background work.
type Manager struct {
	store       *store.Store
	runners     map[string]Runner
	events      eventPublisher
	maxAttempts int
	timeout     time.Duration
	notifyKeep  int
}

// Options configures the job manager.
type Options struct {
	Store          *store.Store
	Runners        map[string]Runner
	EventPublisher eventPublisher
	MaxJobAttempts int
	JobTimeout     time.Duration
	// NotificationKeep caps the persisted notification feed.
	NotificationKeep int
}

// New creates a job manager.
func New(opts Options) *Manager {
	if opts.MaxJobAttempts <= 0 {
		opts.MaxJobAttempts = 3
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.NotificationKeep <= 0 {
		opts.NotificationKeep = 50
	}
	return &Manager{
		store:       opts.Store,
		runners:     opts.Runners,
		events:      opts.EventPublisher,
		maxAttempts: opts.MaxJobAttempts,
		timeout:     opts.JobTimeout,
		notifyKeep:  opts.NotificationKeep,
	}
}

// SubmitRequest describes a job submission.
type SubmitRequest struct {
	Type      string                 `json:"type"`
	UserID    string                 `json:"userId,omitempty"`
	DatasetID string                 `json:"datasetId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Enqueue persists the job and starts executing it asynchronously.
func (m *Manager) Enqueue(req SubmitRequest) (*store.Job, error) {
	job, err := m.CreateJob(req)
	if err != nil {
		return nil, err
	}
	m.ExecuteJob(job)
	return job, nil
}

// CreateJob persists a new pending job without executing it.
func (m *Manager) CreateJob(req SubmitRequest) (*store.Job, error) {
	if m.store == nil {
		return nil, fmt.Errorf("job manager not configured")
	}
	if req.Type == "" {
		return nil, fmt.Errorf("job type is required")
	}
	if _, ok := m.runners[req.Type]; !ok {
		return nil, fmt.Errorf("unsupported job type %q", req.Type)
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if req.DatasetID != "" {
		payload["datasetId"] = req.DatasetID
	}
	job := &store.Job{
		ID:          uuid.NewString(),
		Type:        req.Type,
		UserID:      req.UserID,
		Payload:     payload,
		Status:      store.JobPending,
		MaxAttempts: m.maxAttempts,
	}
	if err := m.store.CreateJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// ExecuteJob kicks off the job asynchronously.
func (m *Manager) ExecuteJob(job *store.Job) {
	go m.processJob(job)
}

// ProcessJob executes the job synchronously (used by workers).
func (m *Manager) ProcessJob(job *store.Job) {
	m.processJob(job)
}

// GetJob loads a job by ID.
func (m *Manager) GetJob(id string) (*store.Job, error) {
	if m.store == nil {
		return nil, fmt.Errorf("job manager not configured")
	}
	return m.store.GetJob(id)
}

// ListJobs returns recent jobs, newest first.
func (m *Manager) ListJobs(limit int) ([]store.Job, error) {
	if m.store == nil {
		return nil, fmt.Errorf("job manager not configured")
	}
	return m.store.ListJobs(limit)
}

func (m *Manager) processJob(job *store.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	start := time.Now()
	finalStatus := "failed"
	defer func() {
		metrics.ObserveJobCompletion(job.Type, finalStatus, time.Since(start))
	}()

	job.Attempt++
	m.updateJob(job, store.JobRunning, 5, "queued", fmt.Sprintf("Attempt %d/%d queued", job.Attempt, job.MaxAttempts))
	m.updateJob(job, store.JobRunning, 15, "preparing", "Resolving dataset and parameters")

	runner, ok := m.runners[job.Type]
	if !ok {
		job.Error = fmt.Sprintf("no runner registered for job type %q", job.Type)
		m.updateJob(job, store.JobFailed, job.Progress, "failed", job.Error)
		return
	}

	m.updateJob(job, store.JobRunning, 30, "executing", fmt.Sprintf("Running %s", job.Type))
	result, err := runner.Run(ctx, job)

	if err != nil {
		job.Error = err.Error()
		m.updateJob(job, store.JobFailed, job.Progress, "failed", err.Error())
		m.notifyTerminal(job)
		m.appendHistory(job, fmt.Sprintf("%s_failed", job.Type), map[string]interface{}{
			"error": err.Error(),
		})
		logutil.Error("job_failed", err, map[string]interface{}{
			"jobId":   job.ID,
			"jobType": job.Type,
			"attempt": job.Attempt,
		})
		return
	}
	finalStatus = "success"

	job.Error = ""
	job.Result = result
	m.updateJob(job, store.JobDone, 100, "completed", fmt.Sprintf("%s finished", job.Type))
	m.notifyTerminal(job)

	m.appendHistory(job, fmt.Sprintf("%s_completed", job.Type), job.Result)
	logutil.Info("job_completed", map[string]interface{}{
		"jobId":    job.ID,
		"jobType":  job.Type,
		"duration": time.Since(start).String(),
	})
}

func (m *Manager) updateJob(job *store.Job, status store.JobStatus, progress int, stage, message string) {
	if status != "" {
		job.Status = status
	}
	if progress >= 0 {
		if progress > 100 {
			progress = 100
		}
		// Progress never moves backwards once reported.
		if progress > job.Progress {
			job.Progress = progress
		}
	}
	if stage != "" {
		job.Stage = stage
	}
	if message != "" {
		job.Message = message
	}
	if err := m.store.UpdateJob(job); err != nil {
		log.Printf("jobs: failed to update job %s: %v", job.ID, err)
		return
	}
	m.emitJobEvent(job)
}

// UpdateProgress lets runners report intermediate progress between the fixed
// lifecycle stages.
func (m *Manager) UpdateProgress(job *store.Job, progress int, stage, message string) {
	m.updateJob(job, store.JobRunning, progress, stage, message)
}

func (m *Manager) appendHistory(job *store.Job, event string, meta map[string]interface{}) {
	if m.store == nil {
		return
	}
	datasetID, _ := job.Payload["datasetId"].(string)
	_ = m.store.AppendHistory(&store.HistoryEntry{
		Event:     event,
		DatasetID: datasetID,
		Metadata:  meta,
	})
}

func tagFor(job *store.Job) string {
	switch job.Status {
	case store.JobDone:
		return events.JobCompleted
	case store.JobFailed:
		return events.JobFailed
	default:
		if job.Stage == "queued" {
			return events.JobStarted
		}
		return events.JobProgress
	}
}

func (m *Manager) emitJobEvent(job *store.Job) {
	if m.events == nil || job == nil {
		return
	}
	env, err := events.New(tagFor(job), events.JobUpdate{
		JobID:    job.ID,
		JobType:  job.Type,
		Status:   string(job.Status),
		Stage:    job.Stage,
		Progress: job.Progress,
		Message:  job.Message,
		Error:    job.Error,
	})
	if err != nil {
		log.Printf("jobs: failed to encode event for job %s: %v", job.ID, err)
		return
	}
	env.ID = fmt.Sprintf("%s-%d", job.ID, time.Now().UnixNano())
	env.UserID = job.UserID
	env.Room = "jobs"
	if !job.UpdatedAt.IsZero() {
		env.Timestamp = job.UpdatedAt
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.events.Publish(ctx, env); err != nil {
		log.Printf("jobs: failed to publish event for job %s: %v", job.ID, err)
	}
}

// notifyTerminal persists and broadcasts a notification once a job reaches a
// terminal state.
func (m *Manager) notifyTerminal(job *store.Job) {
	severity := "success"
	body := job.Message
	if job.Status == store.JobFailed {
		severity = "error"
		body = job.Error
	}
	item := &store.NotificationItem{
		Event:    tagFor(job),
		Title:    fmt.Sprintf("%s %s", job.Type, job.Status),
		Body:     body,
		Severity: severity,
		UserID:   job.UserID,
	}
	if m.store != nil {
		if err := m.store.AppendNotification(item, m.notifyKeep); err != nil {
			log.Printf("jobs: failed to persist notification for job %s: %v", job.ID, err)
		}
	}
	if m.events == nil {
		return
	}
	env, err := events.New(events.Notification, events.NotificationPayload{
		Title:    item.Title,
		Body:     item.Body,
		Severity: item.Severity,
	})
	if err != nil {
		return
	}
	env.UserID = job.UserID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.events.Publish(ctx, env); err != nil {
		log.Printf("jobs: failed to publish notification for job %s: %v", job.ID, err)
	}
}
