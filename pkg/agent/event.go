// Package agent contains the session core: the event stream, the state
// delta extractor, the step hooks, and the run supervisor that drives a
// browser task from start to its single terminal event.
package agent

import (
	"time"

	"github.com/odvcencio/pilot/pkg/observability"
)

// EventKind identifies what an update event reports.
type EventKind string

const (
	KindStatus     EventKind = "status"
	KindThinking   EventKind = "thinking"
	KindEvaluation EventKind = "evaluation"
	KindMemory     EventKind = "memory"
	KindPlanning   EventKind = "planning"
	KindAction     EventKind = "action"
	KindResult     EventKind = "result"
	KindStepStart  EventKind = "step_start"
	KindStepEnd    EventKind = "step_end"
	KindScreenshot EventKind = "screenshot"
	KindComplete   EventKind = "complete"
	KindError      EventKind = "error"
)

// Event is one immutable progress update. Events are enqueued once, in
// order, and dequeued exactly once by the supervisor's drain loop.
type Event struct {
	Kind      EventKind      `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

func newEvent(kind EventKind, sessionID string, data map[string]any) Event {
	observability.EventsEmitted.WithLabelValues(string(kind)).Inc()
	return Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
