package session

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supervisor lifecycle events.
type EventType string

const (
	EventStepStarted   EventType = "step_started"
	EventStepApproved  EventType = "step_approved"
	EventStepRejected  EventType = "step_rejected"
	EventReplanning    EventType = "replanning"
	EventSessionDone   EventType = "session_done"
	EventSessionFailed EventType = "session_failed"
)

// Event is one entry in the append-only, replayable session history.
// Feedback is carried verbatim for auditability.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	StepID     int       `json:"step_id,omitempty"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Version    int       `json:"version,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
	Feedback   string    `json:"feedback,omitempty"`
	Cause      string    `json:"cause,omitempty"`
	At         time.Time `json:"at"`
}

func newEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Type: t, At: time.Now().UTC()}
}

// StepStarted builds a step_started event.
func StepStarted(stepID int) Event {
	e := newEvent(EventStepStarted)
	e.StepID = stepID
	return e
}

// StepApproved builds a step_approved event.
func StepApproved(stepID int, artifactID string, version int) Event {
	e := newEvent(EventStepApproved)
	e.StepID = stepID
	e.ArtifactID = artifactID
	e.Version = version
	return e
}

// StepRejected builds a step_rejected event carrying the reviewer feedback.
func StepRejected(stepID, retryCount int, feedback string) Event {
	e := newEvent(EventStepRejected)
	e.StepID = stepID
	e.RetryCount = retryCount
	e.Feedback = feedback
	return e
}

// Replanning builds a replanning event for the failing step.
func Replanning(stepID int) Event {
	e := newEvent(EventReplanning)
	e.StepID = stepID
	return e
}

// SessionDone builds the successful terminal event.
func SessionDone() Event {
	return newEvent(EventSessionDone)
}

// SessionFailed builds the failed terminal event with its cause.
func SessionFailed(cause string) Event {
	e := newEvent(EventSessionFailed)
	e.Cause = cause
	return e
}
