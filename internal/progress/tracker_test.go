package progress

import (
	"testing"

	"github.com/statforge/statstream/internal/events"
)

func TestApplyCreatesAndUpdates(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	rec := tr.Apply(events.JobStarted, events.JobUpdate{JobID: "j1", JobType: "ml_train", Progress: 0})
	if rec == nil {
		t.Fatal("expected record for job_started")
	}
	rec = tr.Apply(events.JobProgress, events.JobUpdate{JobID: "j1", Progress: 55, Stage: "training", Message: "epoch 3/10"})
	if rec == nil || rec.Progress != 55 || rec.Stage != "training" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.JobType != "ml_train" {
		t.Fatalf("job type lost on update: %+v", rec)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Apply(events.JobProgress, events.JobUpdate{JobID: "j1", Progress: 70})
	rec := tr.Apply(events.JobProgress, events.JobUpdate{JobID: "j1", Progress: 40})
	if rec.Progress != 70 {
		t.Fatalf("progress moved backwards: %+v", rec)
	}
	rec = tr.Apply(events.JobProgress, events.JobUpdate{JobID: "j1", Progress: 250})
	if rec.Progress != 100 {
		t.Fatalf("progress not clamped: %+v", rec)
	}
}

func TestCompletionReaches100AndSticks(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Apply(events.JobStarted, events.JobUpdate{JobID: "j1", Progress: 10})
	rec := tr.Apply(events.JobCompleted, events.JobUpdate{JobID: "j1", Progress: 90})
	if rec == nil || !rec.Done || rec.Progress != 100 {
		t.Fatalf("completion not recorded: %+v", rec)
	}

	// No resurrection after a terminal envelope.
	if rec := tr.Apply(events.JobProgress, events.JobUpdate{JobID: "j1", Progress: 10}); rec != nil {
		t.Fatalf("terminal job was resurrected: %+v", rec)
	}
	got, ok := tr.Get("j1")
	if !ok || !got.Done || got.Progress != 100 {
		t.Fatalf("terminal state mutated: %+v", got)
	}
}

func TestFailedIsTerminal(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Apply(events.JobFailed, events.JobUpdate{JobID: "j2", Error: "compute backend unreachable"})
	if rec := tr.Apply(events.JobStarted, events.JobUpdate{JobID: "j2"}); rec != nil {
		t.Fatalf("failed job was resurrected: %+v", rec)
	}
	if got := tr.Active(); len(got) != 0 {
		t.Fatalf("failed job still active: %+v", got)
	}
}

func TestNonJobTagsIgnored(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	if rec := tr.Apply(events.Notification, events.JobUpdate{JobID: "j3"}); rec != nil {
		t.Fatalf("notification tag should not touch tracker: %+v", rec)
	}
	if rec := tr.Apply(events.JobProgress, events.JobUpdate{}); rec != nil {
		t.Fatalf("missing job id should be ignored: %+v", rec)
	}
	if tr.Len() != 0 {
		t.Fatalf("tracker not empty: %d", tr.Len())
	}
}
