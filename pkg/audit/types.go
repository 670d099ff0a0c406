package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event. The trail covers the full
// human task lifecycle and every capability token operation.
type EventType string

const (
	// === Human task lifecycle events ===
	EventTaskCreated   EventType = "task.created"
	EventTaskAssigned  EventType = "task.assigned"
	EventTaskCompleted EventType = "task.completed"
	EventTaskCancelled EventType = "task.cancelled"
	EventTaskTimedOut  EventType = "task.timed_out"

	// === Feedback ledger events ===
	EventFeedbackSubmitted EventType = "feedback.submitted"

	// === Capability token events ===
	EventTokenMinted   EventType = "token.minted"
	EventTokenVerified EventType = "token.verified"
	EventTokenRejected EventType = "token.rejected"
	EventTokenRevoked  EventType = "token.revoked"

	// === System events ===
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Severity represents the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event.
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the type of event
	Type EventType `json:"type"`

	// Severity indicates the importance of the event
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Actor is who triggered the event
	Actor Actor `json:"actor"`

	// Target is what was affected by the event
	Target Target `json:"target"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`
}

// Actor represents who triggered an audit event.
type Actor struct {
	// User is the reviewer or caller identity (empty for system-driven events)
	User string `json:"user,omitempty"`

	// AgentID is the upstream agent that produced the originating finding
	AgentID string `json:"agentId,omitempty"`

	// SessionID correlates events belonging to one upstream session
	SessionID string `json:"sessionId,omitempty"`

	// SourceIP is the IP address of the request origin
	SourceIP string `json:"sourceIP,omitempty"`
}

// Target represents what was affected by an audit event.
type Target struct {
	// Kind is the object kind ("HumanTask", "CapabilityToken", "System")
	Kind string `json:"kind"`

	// Name is the object identifier (task id, tool id)
	Name string `json:"name"`
}

// SystemEvent builds an event for service lifecycle transitions such as
// startup and shutdown. There is no actor; the service itself is the target.
func SystemEvent(eventType EventType, details map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  SeverityForEventType(eventType),
		Timestamp: time.Now(),
		Target:    Target{Kind: "System", Name: "oversight"},
		Details:   details,
	}
}

// SeverityForEventType returns the default severity for an event type.
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventTokenRejected, EventTokenRevoked:
		return SeverityCritical
	case EventTaskTimedOut, EventTaskCancelled:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
