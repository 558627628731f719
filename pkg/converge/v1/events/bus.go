package events

import "time"

// EventType represents the type of a converge engine event.
type EventType string

const (
	RunStarted     EventType = "RunStarted"
	RunFinished    EventType = "RunFinished"
	PlayStarted    EventType = "PlayStarted"
	HostStarted    EventType = "HostStarted"
	HostFinished   EventType = "HostFinished"
	TaskStarted    EventType = "TaskStarted"
	TaskFinished   EventType = "TaskFinished"
	PhaseFinished  EventType = "PhaseFinished"
	SecretAccessed EventType = "SecretAccessed"
)

// Event represents a significant occurrence within the engine.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Play      string    `json:"play,omitempty"`
	Host      string    `json:"host,omitempty"`
	Task      string    `json:"task,omitempty"`
	// Payload contains event-specific data. Secret values MUST NOT be
	// included; secret names may be.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bus defines the interface for publishing engine events. Implementations
// must not block the caller for long; host pipelines emit on their hot path.
type Bus interface {
	Emit(event Event)
}
