package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/faultline-dev/faultline/internal/store"
	"github.com/faultline-dev/faultline/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("faultline_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// createTestProject inserts a project and returns its id.
func createTestProject(t *testing.T, s store.Store) int64 {
	t.Helper()
	project := &models.Project{
		Name:     "Test Project " + uuid.NewString()[:8],
		Slug:     "test-" + uuid.NewString()[:8],
		Platform: "python",
	}
	require.NoError(t, s.CreateProject(context.Background(), project))
	return project.ID
}

func errorParams(projectID int64, title string) store.EventParams {
	return store.EventParams{
		ProjectID: projectID,
		Type:      models.EventTypeError,
		Title:     title,
		Culprit:   "handler(views.py)",
		Metadata:  map[string]any{"type": "ValueError", "value": "bad input"},
		Data: models.EventData{
			Metadata: map[string]any{"type": "ValueError", "value": "bad input"},
			Platform: "python",
			Title:    title,
			Type:     "error",
		},
	}
}

// --- Project Tests ---

func TestProject_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	project := &models.Project{Name: "Backend", Slug: "backend", Platform: "go"}
	require.NoError(t, s.CreateProject(ctx, project))
	assert.NotZero(t, project.ID)
	assert.False(t, project.CreatedAt.IsZero())

	got, err := s.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Backend", got.Name)
	assert.Equal(t, "backend", got.Slug)
}

func TestProject_DuplicateSlug(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.CreateProject(ctx, &models.Project{Name: "A", Slug: "same", Platform: "go"}))
	err := s.CreateProject(ctx, &models.Project{Name: "B", Slug: "same", Platform: "go"})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestProject_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetProject(context.Background(), 99999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProjectKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	key := &models.ProjectKey{
		ProjectID: projectID,
		PublicKey: uuid.New(),
		Label:     "Default",
	}
	require.NoError(t, s.CreateProjectKey(ctx, key))

	got, err := s.GetProjectKey(ctx, key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, projectID, got.ProjectID)
	assert.Equal(t, "Default", got.Label)
	assert.Nil(t, got.RateLimitCount)

	_, err = s.GetProjectKey(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Event Grouping Tests ---

func TestStoreEvent_GroupsIdenticalEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	issue1, event1, err := s.StoreEvent(ctx, errorParams(projectID, "ValueError: bad input"))
	require.NoError(t, err)
	issue2, event2, err := s.StoreEvent(ctx, errorParams(projectID, "ValueError: bad input"))
	require.NoError(t, err)

	assert.Equal(t, issue1.ID, issue2.ID)
	assert.NotEqual(t, event1.ID, event2.ID)

	events, total, err := s.ListEvents(ctx, issue1.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, events, 2)
}

func TestStoreEvent_DistinctTuplesCreateSeparateIssues(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	issue1, _, err := s.StoreEvent(ctx, errorParams(projectID, "ValueError: bad input"))
	require.NoError(t, err)

	other := errorParams(projectID, "ValueError: bad input")
	other.Culprit = "worker(tasks.py)"
	issue2, _, err := s.StoreEvent(ctx, other)
	require.NoError(t, err)

	assert.NotEqual(t, issue1.ID, issue2.ID)

	// Same tuple under a different project is also a different issue.
	otherProject := createTestProject(t, s)
	issue3, _, err := s.StoreEvent(ctx, errorParams(otherProject, "ValueError: bad input"))
	require.NoError(t, err)
	assert.NotEqual(t, issue1.ID, issue3.ID)
}

func TestStoreEvent_ConcurrentSameGroup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	const n = 8
	issueIDs := make([]int64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issue, _, err := s.StoreEvent(ctx, errorParams(projectID, "ConnectionError: refused"))
			errs[i] = err
			if err == nil {
				issueIDs[i] = issue.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, issueIDs[0], issueIDs[i])
	}

	_, total, err := s.ListEvents(ctx, issueIDs[0], 1, 100)
	require.NoError(t, err)
	assert.Equal(t, n, total)
}

func TestStoreEvent_TimestampDefaultsToReceivedAt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	_, event, err := s.StoreEvent(ctx, errorParams(projectID, "no timestamp"))
	require.NoError(t, err)
	require.NotNil(t, event.Timestamp)
	assert.Equal(t, event.ReceivedAt, *event.Timestamp)
	assert.False(t, event.ReceivedAt.IsZero())
}

func TestStoreEvent_ExplicitTimestampKept(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	ts := time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC)
	params := errorParams(projectID, "with timestamp")
	params.Timestamp = &ts

	_, event, err := s.StoreEvent(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, event.Timestamp)
	assert.Equal(t, ts, event.Timestamp.UTC())
	assert.NotEqual(t, event.ReceivedAt, *event.Timestamp)
}

func TestStoreEvent_LastSeenNeverMovesBackward(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	issue, _, err := s.StoreEvent(ctx, errorParams(projectID, "stale clock"))
	require.NoError(t, err)

	// A delayed event with an old client timestamp must not rewind last_seen_at.
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	params := errorParams(projectID, "stale clock")
	params.Timestamp = &old
	_, _, err = s.StoreEvent(ctx, params)
	require.NoError(t, err)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.After(old))
}

func TestStoreEvent_DuplicateEventID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	id := uuid.New()
	params := errorParams(projectID, "dup event id")
	params.EventID = id

	_, _, err := s.StoreEvent(ctx, params)
	require.NoError(t, err)
	_, _, err = s.StoreEvent(ctx, params)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestReopenIssue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	issue, _, err := s.StoreEvent(ctx, errorParams(projectID, "reopen me"))
	require.NoError(t, err)

	// Unresolved issues are left alone.
	reopened, err := s.ReopenIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.False(t, reopened)

	require.NoError(t, s.UpdateIssueStatus(ctx, issue.ID, models.IssueStatusResolved))
	reopened, err = s.ReopenIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, reopened)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusUnresolved, got.Status)

	// Ignored issues stay ignored.
	require.NoError(t, s.UpdateIssueStatus(ctx, issue.ID, models.IssueStatusIgnored))
	reopened, err = s.ReopenIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.False(t, reopened)
}

// --- Tag Tests ---

func TestSaveEventTags_SharedKeysAcrossEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	_, event1, err := s.StoreEvent(ctx, errorParams(projectID, "tagged one"))
	require.NoError(t, err)
	_, event2, err := s.StoreEvent(ctx, errorParams(projectID, "tagged two"))
	require.NoError(t, err)

	tags := []models.TagPair{
		{Key: "environment", Value: "production"},
		{Key: "level", Value: "error"},
	}
	require.NoError(t, s.SaveEventTags(ctx, event1.ID, tags))
	require.NoError(t, s.SaveEventTags(ctx, event2.ID, tags))

	got, err := s.GetEventTags(ctx, event1.ID)
	require.NoError(t, err)
	assert.Equal(t, tags, got)

	// Both events reference the same tag_keys rows.
	var keyCount int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tag_keys WHERE key IN ('environment', 'level')`).Scan(&keyCount)
	require.NoError(t, err)
	assert.Equal(t, 2, keyCount)
}

func TestSaveEventTags_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	_, event, err := s.StoreEvent(ctx, errorParams(projectID, "retagged"))
	require.NoError(t, err)

	tags := []models.TagPair{{Key: "release", Value: "v1.2.3"}}
	require.NoError(t, s.SaveEventTags(ctx, event.ID, tags))
	require.NoError(t, s.SaveEventTags(ctx, event.ID, tags))

	got, err := s.GetEventTags(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSaveEventTags_Empty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	assert.NoError(t, s.SaveEventTags(context.Background(), uuid.New(), nil))
}

// --- Issue Query Tests ---

func TestListIssues_Filters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	errIssue, _, err := s.StoreEvent(ctx, errorParams(projectID, "TypeError: boom"))
	require.NoError(t, err)

	defaultParams := store.EventParams{
		ProjectID: projectID,
		Type:      models.EventTypeDefault,
		Title:     "deploy started",
		Metadata:  map[string]any{"title": "deploy started"},
		Data:      models.EventData{Title: "deploy started", Type: "default"},
	}
	_, _, err = s.StoreEvent(ctx, defaultParams)
	require.NoError(t, err)

	require.NoError(t, s.UpdateIssueStatus(ctx, errIssue.ID, models.IssueStatusResolved))

	// No filters returns everything for the project.
	issues, total, err := s.ListIssues(ctx, store.IssueFilter{ProjectID: projectID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, issues, 2)

	resolved := models.IssueStatusResolved
	issues, total, err = s.ListIssues(ctx, store.IssueFilter{ProjectID: projectID, Status: &resolved})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, errIssue.ID, issues[0].ID)

	errType := models.EventTypeError
	_, total, err = s.ListIssues(ctx, store.IssueFilter{ProjectID: projectID, Type: &errType})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	issues, total, err = s.ListIssues(ctx, store.IssueFilter{ProjectID: projectID, Query: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "deploy started", issues[0].Title)
}

func TestListIssues_Pagination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	for i := 0; i < 5; i++ {
		_, _, err := s.StoreEvent(ctx, errorParams(projectID, "Error "+uuid.NewString()[:8]))
		require.NoError(t, err)
	}

	issues, total, err := s.ListIssues(ctx, store.IssueFilter{ProjectID: projectID, Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, issues, 3)

	issues, _, err = s.ListIssues(ctx, store.IssueFilter{ProjectID: projectID, Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestUpdateIssueStatus_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateIssueStatus(context.Background(), 99999, models.IssueStatusResolved)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	projectID := createTestProject(t, s)

	_, event, err := s.StoreEvent(ctx, errorParams(projectID, "fetch me"))
	require.NoError(t, err)

	got, err := s.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, "fetch me", got.Data.Title)
	assert.Equal(t, "python", got.Data.Platform)

	_, err = s.GetEvent(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "flk_abcd",
		Scopes:    []string{"ingest", "read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "flk_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
	assert.Nil(t, keys[0].LastUsedAt)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "flk_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.New()
	key := &models.APIKey{
		ID: id, Name: "dup1", KeyHash: "h1", KeyPrefix: "flk_dup1",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	key2 := &models.APIKey{
		ID: id, Name: "dup2", KeyHash: "h2", KeyPrefix: "flk_dup2",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	err := s.CreateAPIKey(ctx, key2)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
