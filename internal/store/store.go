package store

import (
	"context"
	"errors"
	"time"

	"github.com/faultline-dev/faultline/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateProject(ctx context.Context, project *models.Project) error
	CreateProjectKey(ctx context.Context, key *models.ProjectKey) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectKey(ctx context.Context, publicKey uuid.UUID) (*models.ProjectKey, error)

	// StoreEvent finds or creates the issue identified by
	// (project, title, culprit, type) and inserts the event row, atomically.
	StoreEvent(ctx context.Context, params EventParams) (*models.Issue, *models.Event, error)
	// ReopenIssue moves a resolved issue back to unresolved. Reports whether
	// a transition happened.
	ReopenIssue(ctx context.Context, issueID int64) (bool, error)
	// SaveEventTags resolves key strings to shared tag-key identities and
	// writes the per-event value associations.
	SaveEventTags(ctx context.Context, eventID uuid.UUID, tags []models.TagPair) error

	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]*models.Issue, int, error)
	UpdateIssueStatus(ctx context.Context, id int64, status models.IssueStatus) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListEvents(ctx context.Context, issueID int64, page, limit int) ([]*models.Event, int, error)
	GetEventTags(ctx context.Context, eventID uuid.UUID) ([]models.TagPair, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// EventParams carries everything StoreEvent needs to group and persist one
// ingested occurrence.
type EventParams struct {
	ProjectID int64
	Type      models.EventType
	Title     string
	Culprit   string
	Metadata  map[string]any

	// EventID is the client-supplied identifier; uuid.Nil means generate one.
	EventID uuid.UUID
	// Timestamp is the event-reported time; nil falls back to receipt time.
	Timestamp *time.Time
	Data      models.EventData
}

type IssueFilter struct {
	ProjectID int64
	Status    *models.IssueStatus
	Type      *models.EventType
	Query     string
	Page      int
	Limit     int
}
