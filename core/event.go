package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventSource identifies the telemetry origin of a security event.
type EventSource string

const (
	SourceFirewall        EventSource = "firewall"
	SourceIDS             EventSource = "ids"
	SourceEndpoint        EventSource = "endpoint"
	SourceNetwork         EventSource = "network"
	SourceEmail           EventSource = "email"
	SourceActiveDirectory EventSource = "active_directory"
	SourceApplication     EventSource = "application"
)

// IsValid checks if the event source is a recognized value.
func (s EventSource) IsValid() bool {
	switch s {
	case SourceFirewall, SourceIDS, SourceEndpoint, SourceNetwork, SourceEmail, SourceActiveDirectory, SourceApplication:
		return true
	}
	return false
}

// Severity ranks events and alert rules for triage ordering.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity is a recognized value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank returns a numeric weight for severity comparisons, higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// EventStatus tracks the triage lifecycle of an event.
type EventStatus string

const (
	EventStatusNew           EventStatus = "new"
	EventStatusInvestigating EventStatus = "investigating"
	EventStatusResolved      EventStatus = "resolved"
	EventStatusFalsePositive EventStatus = "false_positive"
)

// IsValid checks if the event status is a recognized value.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusNew, EventStatusInvestigating, EventStatusResolved, EventStatusFalsePositive:
		return true
	}
	return false
}

// Event is a single ingested security event.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Source      EventSource            `json:"source"`
	EventType   string                 `json:"event_type" validate:"required,max=200"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description,omitempty" validate:"max=2000"`
	RawLog      string                 `json:"raw_log,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Status      EventStatus            `json:"status"`
	AssignedTo  string                 `json:"assigned_to,omitempty"`
	SiteID      string                 `json:"site_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// GenerateEventID returns a new short event identifier.
func GenerateEventID() string {
	return fmt.Sprintf("evt-%s", uuid.New().String()[:8])
}

// NewEvent creates an event in status new. A zero timestamp defaults to now.
func NewEvent(source EventSource, eventType string, severity Severity, timestamp time.Time) *Event {
	now := time.Now().UTC()
	if timestamp.IsZero() {
		timestamp = now
	}
	return &Event{
		ID:        GenerateEventID(),
		Timestamp: timestamp.UTC(),
		Source:    source,
		EventType: eventType,
		Severity:  severity,
		Status:    EventStatusNew,
		Metadata:  map[string]interface{}{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the event fields.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.EventType) == "" {
		return NewValidationError("event_type", "event_type is required")
	}
	if err := checkTags(e); err != nil {
		return err
	}
	if !e.Source.IsValid() {
		return NewValidationError("source", "invalid source %q", e.Source)
	}
	if !e.Severity.IsValid() {
		return NewValidationError("severity", "invalid severity %q", e.Severity)
	}
	if !e.Status.IsValid() {
		return NewValidationError("status", "invalid status %q", e.Status)
	}
	return nil
}
