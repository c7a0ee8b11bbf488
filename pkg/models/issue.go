package models

import (
	"fmt"
	"time"
)

// EventType classifies which normalization pipeline produced an event.
type EventType int16

const (
	EventTypeDefault EventType = 0
	EventTypeError   EventType = 1
	EventTypeCSP     EventType = 2
)

// Label returns the wire form of the type, stored in event data and
// accepted as a list filter.
func (t EventType) Label() string {
	switch t {
	case EventTypeError:
		return "error"
	case EventTypeCSP:
		return "csp"
	default:
		return "default"
	}
}

// MarshalJSON emits the label rather than the storage integer.
func (t EventType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Label() + `"`), nil
}

// ParseEventType parses a wire label back into an EventType.
func ParseEventType(label string) (EventType, error) {
	switch label {
	case "default":
		return EventTypeDefault, nil
	case "error":
		return EventTypeError, nil
	case "csp":
		return EventTypeCSP, nil
	}
	return 0, fmt.Errorf("unknown event type %q", label)
}

// IssueStatus is the triage state of an issue.
type IssueStatus int16

const (
	IssueStatusUnresolved IssueStatus = 0
	IssueStatusResolved   IssueStatus = 1
	IssueStatusIgnored    IssueStatus = 2
)

func (s IssueStatus) Label() string {
	switch s {
	case IssueStatusResolved:
		return "resolved"
	case IssueStatusIgnored:
		return "ignored"
	default:
		return "unresolved"
	}
}

// MarshalJSON emits the label rather than the storage integer.
func (s IssueStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.Label() + `"`), nil
}

// ParseIssueStatus parses a wire label back into an IssueStatus.
func ParseIssueStatus(label string) (IssueStatus, error) {
	switch label {
	case "unresolved":
		return IssueStatusUnresolved, nil
	case "resolved":
		return IssueStatusResolved, nil
	case "ignored":
		return IssueStatusIgnored, nil
	}
	return 0, fmt.Errorf("unknown issue status %q", label)
}

// Issue is a deduplicated class of problem. The tuple
// (project_id, title, culprit, type) identifies a unique issue; grouping is
// a get-or-create on that tuple. Culprit is stored as "" when absent so the
// tuple stays comparable under the unique index.
type Issue struct {
	ID         int64          `db:"id"           json:"id"`
	ProjectID  int64          `db:"project_id"   json:"project_id"`
	Type       EventType      `db:"type"         json:"type"`
	Title      string         `db:"title"        json:"title"`
	Culprit    string         `db:"culprit"      json:"culprit,omitempty"`
	Metadata   map[string]any `db:"metadata"     json:"metadata"`
	Status     IssueStatus    `db:"status"       json:"status"`
	CreatedAt  time.Time      `db:"created_at"   json:"created_at"`
	LastSeenAt time.Time      `db:"last_seen_at" json:"last_seen_at"`
}
