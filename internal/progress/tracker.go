// Package progress maintains the client-side view of backend job progress,
// keyed by job id and fed by realtime envelopes.
package progress

import (
	"sync"
	"time"

	"github.com/statforge/statstream/internal/events"
)

// Record is the tracked state of a single backend job.
type Record struct {
	JobID     string
	JobType   string
	Progress  int
	Stage     string
	Message   string
	Error     string
	Done      bool
	Failed    bool
	UpdatedAt time.Time
}

// Tracker keeps one record per job id. Records are created on the first
// job_started/job_progress envelope, updated in place, and never deleted.
// Once a job reaches a terminal state further envelopes for it are ignored.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*Record
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*Record)}
}

// Apply folds a job envelope into the tracker. It returns the updated record,
// or nil when the envelope does not carry a usable job update.
func (t *Tracker) Apply(tag string, upd events.JobUpdate) *Record {
	if !events.IsJobEvent(tag) || upd.JobID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.jobs[upd.JobID]
	if !ok {
		rec = &Record{JobID: upd.JobID}
		t.jobs[upd.JobID] = rec
	}
	if rec.Done || rec.Failed {
		// Terminal records are never resurrected.
		return nil
	}

	if upd.JobType != "" {
		rec.JobType = upd.JobType
	}
	if upd.Stage != "" {
		rec.Stage = upd.Stage
	}
	if upd.Message != "" {
		rec.Message = upd.Message
	}
	if upd.Error != "" {
		rec.Error = upd.Error
	}
	// Progress only moves forward; late or repeated envelopes cannot wind
	// the bar back.
	if upd.Progress > rec.Progress {
		rec.Progress = upd.Progress
	}
	if rec.Progress > 100 {
		rec.Progress = 100
	}

	switch tag {
	case events.JobCompleted:
		rec.Progress = 100
		rec.Done = true
	case events.JobFailed:
		rec.Failed = true
	}
	rec.UpdatedAt = time.Now().UTC()

	snapshot := *rec
	return &snapshot
}

// Get returns a copy of the record for the given job id.
func (t *Tracker) Get(jobID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.jobs[jobID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Active returns all non-terminal records.
func (t *Tracker) Active() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Record
	for _, rec := range t.jobs {
		if !rec.Done && !rec.Failed {
			out = append(out, *rec)
		}
	}
	return out
}

// Len reports the number of tracked jobs, terminal included.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}
