package events

import (
	"encoding/json"
	"time"
)

// Envelope tags identify the shape of the data payload. Receivers switch on
// the tag; there is no schema enforcement beyond that.
const (
	JobStarted   = "job_started"
	JobProgress  = "job_progress"
	JobCompleted = "job_completed"
	JobFailed    = "job_failed"
	Notification = "notification"
	SystemAlert  = "system_alert"
)

// Envelope is the tagged message carried over the realtime channel.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Room      string          `json:"room,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// JobUpdate is the data payload of the job_* envelope tags.
type JobUpdate struct {
	JobID    string `json:"jobId"`
	JobType  string `json:"jobType"`
	Status   string `json:"status,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NotificationPayload is the data payload of notification-bearing tags.
type NotificationPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Severity string `json:"severity,omitempty"`
	Link     string `json:"link,omitempty"`
}

// New builds an envelope with the payload marshaled into Data.
func New(event string, data interface{}) (Envelope, error) {
	env := Envelope{
		Event:     event,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = raw
	}
	return env, nil
}

// IsJobEvent reports whether the tag carries a JobUpdate payload.
func IsJobEvent(tag string) bool {
	switch tag {
	case JobStarted, JobProgress, JobCompleted, JobFailed:
		return true
	}
	return false
}

// IsTerminalJobEvent reports whether the tag ends a job's lifecycle.
func IsTerminalJobEvent(tag string) bool {
	return tag == JobCompleted || tag == JobFailed
}
