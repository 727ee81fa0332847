// Package worker runs the background process that consumes queued analysis
// jobs and executes them through the job manager.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/statforge/statstream/internal/jobs"
	"github.com/statforge/statstream/internal/queue"
	"github.com/statforge/statstream/internal/store"
)

// Options configure the background worker process.
type Options struct {
	Store    *store.Store
	Jobs     *jobs.Manager
	Queue    *queue.Consumer
	Logger   *log.Logger
	Interval time.Duration
}

// Runner consumes queued jobs and reports a periodic heartbeat.
type Runner struct {
	store    *store.Store
	jobs     *jobs.Manager
	queue    *queue.Consumer
	logger   *log.Logger
	interval time.Duration
}

// New creates a new Runner.
func New(opts Options) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Runner{
		store:    opts.Store,
		jobs:     opts.Jobs,
		queue:    opts.Queue,
		logger:   opts.Logger,
		interval: interval,
	}
}

// Run starts the worker loop. With a queue consumer configured it blocks on
// Redis Streams; without one it only emits heartbeats (jobs then execute
// inline on the gateway).
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Println("statstream worker started")

	if r.queue != nil {
		if err := r.queue.EnsureGroup(ctx); err != nil {
			return err
		}
		go r.heartbeat(ctx)
		return r.consume(ctx)
	}

	r.logger.Println("no queue configured, worker running heartbeat only")
	r.heartbeat(ctx)
	return ctx.Err()
}

func (r *Runner) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			r.logger.Println("worker shutting down")
			return ctx.Err()
		}
		msg, id, err := r.queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Printf("worker: queue read failed: %v", err)
			// Poison messages are acked so they do not loop forever.
			if id != "" {
				_ = r.queue.Ack(ctx, id)
			}
			time.Sleep(2 * time.Second)
			continue
		}
		if msg == nil {
			continue
		}
		r.process(ctx, msg)
		if err := r.queue.Ack(ctx, id); err != nil {
			r.logger.Printf("worker: failed to ack message %s: %v", id, err)
		}
	}
}

func (r *Runner) process(ctx context.Context, msg *queue.JobMessage) {
	job, err := r.jobs.GetJob(msg.JobID)
	if err != nil {
		// The gateway persisted the job before enqueueing; a miss means the
		// record was purged, so recreate it from the message.
		job, err = r.jobs.CreateJob(msg.Request)
		if err != nil {
			r.logger.Printf("worker: cannot materialize job %s: %v", msg.JobID, err)
			return
		}
	}
	if job.Status.Terminal() {
		r.logger.Printf("worker: skipping already finished job %s", job.ID)
		return
	}
	r.logger.Printf("worker: processing job %s (%s)", job.ID, job.Type)
	r.jobs.ProcessJob(job)
}

func (r *Runner) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Printf("worker heartbeat: %d jobs recorded", r.recordedJobs())
		}
	}
}

func (r *Runner) recordedJobs() int {
	if r.store == nil {
		return 0
	}
	jobs, err := r.store.ListJobs(10)
	if err != nil {
		r.logger.Printf("worker: failed to list jobs: %v", err)
		return 0
	}
	return len(jobs)
}
