package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/faultline-dev/faultline/internal/store"
	"github.com/faultline-dev/faultline/pkg/models"
)

// mockStore is an in-memory store.Store for handler tests.
type mockStore struct {
	mu sync.Mutex

	projects map[int64]*models.Project
	keys     map[uuid.UUID]*models.ProjectKey
	issues   map[int64]*models.Issue
	events   map[uuid.UUID]*models.Event
	tags     map[uuid.UUID][]models.TagPair
	apiKeys  []*models.APIKey

	nextProjectID int64
	nextIssueID   int64

	failCreateProjectKey bool
	failListIssues       bool
}

func newMockStore() *mockStore {
	return &mockStore{
		projects: make(map[int64]*models.Project),
		keys:     make(map[uuid.UUID]*models.ProjectKey),
		issues:   make(map[int64]*models.Issue),
		events:   make(map[uuid.UUID]*models.Event),
		tags:     make(map[uuid.UUID][]models.TagPair),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateProject(_ context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Slug == project.Slug {
			return store.ErrDuplicateKey
		}
	}
	s.nextProjectID++
	project.ID = s.nextProjectID
	project.CreatedAt = time.Now().UTC()
	s.projects[project.ID] = project
	return nil
}

func (s *mockStore) CreateProjectKey(_ context.Context, key *models.ProjectKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateProjectKey {
		return store.ErrDuplicateKey
	}
	key.ID = int64(len(s.keys) + 1)
	key.CreatedAt = time.Now().UTC()
	s.keys[key.PublicKey] = key
	return nil
}

func (s *mockStore) GetProject(_ context.Context, id int64) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) GetProjectKey(_ context.Context, publicKey uuid.UUID) (*models.ProjectKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[publicKey]; ok {
		return k, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) StoreEvent(_ context.Context, params store.EventParams) (*models.Issue, *models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var issue *models.Issue
	for _, i := range s.issues {
		if i.ProjectID == params.ProjectID && i.Title == params.Title &&
			i.Culprit == params.Culprit && i.Type == params.Type {
			issue = i
			break
		}
	}
	now := time.Now().UTC()
	if issue == nil {
		s.nextIssueID++
		issue = &models.Issue{
			ID:         s.nextIssueID,
			ProjectID:  params.ProjectID,
			Type:       params.Type,
			Title:      params.Title,
			Culprit:    params.Culprit,
			Metadata:   params.Metadata,
			CreatedAt:  now,
			LastSeenAt: now,
		}
		s.issues[issue.ID] = issue
	}

	id := params.EventID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, exists := s.events[id]; exists {
		return nil, nil, store.ErrDuplicateKey
	}
	ts := params.Timestamp
	if ts == nil {
		ts = &now
	}
	event := &models.Event{ID: id, IssueID: issue.ID, Timestamp: ts, ReceivedAt: now, Data: params.Data}
	s.events[id] = event
	return issue, event, nil
}

func (s *mockStore) ReopenIssue(_ context.Context, issueID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[issueID]
	if !ok || issue.Status != models.IssueStatusResolved {
		return false, nil
	}
	issue.Status = models.IssueStatusUnresolved
	return true, nil
}

func (s *mockStore) SaveEventTags(_ context.Context, eventID uuid.UUID, tags []models.TagPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[eventID] = append(s.tags[eventID], tags...)
	return nil
}

func (s *mockStore) GetIssue(_ context.Context, id int64) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue, ok := s.issues[id]; ok {
		return issue, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListIssues(_ context.Context, filter store.IssueFilter) ([]*models.Issue, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failListIssues {
		return nil, 0, context.DeadlineExceeded
	}
	var out []*models.Issue
	for _, issue := range s.issues {
		if issue.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != nil && issue.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && issue.Type != *filter.Type {
			continue
		}
		out = append(out, issue)
	}
	return out, len(out), nil
}

func (s *mockStore) UpdateIssueStatus(_ context.Context, id int64, status models.IssueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[id]
	if !ok {
		return store.ErrNotFound
	}
	issue.Status = status
	return nil
}

func (s *mockStore) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.events[id]; ok {
		return event, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListEvents(_ context.Context, issueID int64, _, _ int) ([]*models.Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for _, event := range s.events {
		if event.IssueID == issueID {
			out = append(out, event)
		}
	}
	return out, len(out), nil
}

func (s *mockStore) GetEventTags(_ context.Context, eventID uuid.UUID) ([]models.TagPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[eventID], nil
}

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys = append(s.apiKeys, key)
	return nil
}

var _ store.Store = (*mockStore)(nil)

// --- response parsing helpers ---

func parseData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Data
}

func parseErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error.Code
}
