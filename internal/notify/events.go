// Package notify fans out lifecycle and knowledge base events to
// connected supervisor clients.
package notify

import "time"

// EventType tags an event delivered to supervisor clients.
type EventType string

const (
	EventConnection      EventType = "connection"
	EventNewRequest      EventType = "new_request"
	EventRequestResolved EventType = "request_resolved"
	EventRequestTimeout  EventType = "request_timeout"
	EventKBUpdated       EventType = "knowledge_base_updated"
)

// Event is the uniform payload shape across event types: a type tag and
// a data body carrying the affected entity.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an event with the timestamp set to now.
func NewEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}
