package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one ingested occurrence of an issue. Rows are immutable once
// written; deletion is a retention concern outside this service.
type Event struct {
	ID         uuid.UUID  `db:"event_id"    json:"event_id"`
	IssueID    int64      `db:"issue_id"    json:"issue_id"`
	Timestamp  *time.Time `db:"timestamp"   json:"timestamp,omitempty"`
	ReceivedAt time.Time  `db:"received_at" json:"received_at"`
	Data       EventData  `db:"data"        json:"data"`
}

// IDHex returns the event id without dashes, the form returned to
// submitting SDKs.
func (e *Event) IDHex() string {
	return strings.ReplaceAll(e.ID.String(), "-", "")
}

// EventData is the normalized payload stored alongside an event. Which
// fields are populated depends on the event type: CSP reports fill CSP and
// leave the SDK fields empty, SDK events do the opposite.
type EventData struct {
	Contexts  map[string]any `json:"contexts,omitempty"`
	Culprit   string         `json:"culprit,omitempty"`
	Exception map[string]any `json:"exception,omitempty"`
	CSP       map[string]any `json:"csp,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Message   string         `json:"message,omitempty"`
	Modules   map[string]any `json:"modules,omitempty"`
	Platform  string         `json:"platform,omitempty"`
	Request   map[string]any `json:"request,omitempty"`
	SDK       map[string]any `json:"sdk,omitempty"`
	Title     string         `json:"title"`
	Type      string         `json:"type"`
}
