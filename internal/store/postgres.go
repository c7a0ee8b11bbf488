package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/faultline-dev/faultline/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// issueCreateRetries bounds the find-or-create loop. Losing the insert race
// is expected traffic; the re-select on the next pass picks up the winner.
const issueCreateRetries = 3

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, project *models.Project) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, slug, platform) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		project.Name, project.Slug, project.Platform,
	).Scan(&project.ID, &project.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateProjectKey(ctx context.Context, key *models.ProjectKey) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO project_keys (project_id, public_key, label, rate_limit_count, rate_limit_window)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		key.ProjectID, key.PublicKey, key.Label, key.RateLimitCount, key.RateLimitWindow,
	).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, platform, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Slug, &p.Platform, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProjectKey(ctx context.Context, publicKey uuid.UUID) (*models.ProjectKey, error) {
	var k models.ProjectKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, public_key, label, rate_limit_count, rate_limit_window, created_at
		 FROM project_keys WHERE public_key = $1`, publicKey,
	).Scan(&k.ID, &k.ProjectID, &k.PublicKey, &k.Label, &k.RateLimitCount, &k.RateLimitWindow, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project key: %w", err)
	}
	return &k, nil
}

// --- Event grouping ---

// StoreEvent runs the grouping transaction: find-or-create the issue keyed
// by (project, title, culprit, type), then insert the event row referencing
// it. Both commit together or not at all.
func (s *PostgresStore) StoreEvent(ctx context.Context, params EventParams) (*models.Issue, *models.Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin store event: %w", err)
	}
	defer tx.Rollback(ctx)

	issue, err := s.getOrCreateIssue(ctx, tx, params)
	if err != nil {
		return nil, nil, err
	}

	event := &models.Event{
		ID:        params.EventID,
		IssueID:   issue.ID,
		Timestamp: params.Timestamp,
		Data:      params.Data,
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO events (event_id, issue_id, timestamp, data)
		 VALUES ($1, $2, $3, $4)
		 RETURNING received_at`,
		event.ID, event.IssueID, event.Timestamp, event.Data,
	).Scan(&event.ReceivedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, nil, ErrDuplicateKey
		}
		return nil, nil, fmt.Errorf("insert event: %w", err)
	}
	if event.Timestamp == nil {
		ts := event.ReceivedAt
		event.Timestamp = &ts
	}

	seenAt := event.Timestamp
	_, err = tx.Exec(ctx,
		`UPDATE issues SET last_seen_at = GREATEST(last_seen_at, $2) WHERE id = $1`,
		issue.ID, seenAt)
	if err != nil {
		return nil, nil, fmt.Errorf("update issue last seen: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit store event: %w", err)
	}
	return issue, event, nil
}

// getOrCreateIssue resolves the grouping identity inside tx. The insert uses
// ON CONFLICT DO NOTHING against the grouping unique index; a lost race is
// resolved by re-selecting the winner on the next pass.
func (s *PostgresStore) getOrCreateIssue(ctx context.Context, tx pgx.Tx, params EventParams) (*models.Issue, error) {
	for attempt := 0; attempt < issueCreateRetries; attempt++ {
		var issue models.Issue
		err := tx.QueryRow(ctx,
			`SELECT id, project_id, type, title, culprit, metadata, status, created_at, last_seen_at
			 FROM issues
			 WHERE project_id = $1 AND title = $2 AND culprit = $3 AND type = $4`,
			params.ProjectID, params.Title, params.Culprit, params.Type,
		).Scan(&issue.ID, &issue.ProjectID, &issue.Type, &issue.Title, &issue.Culprit,
			&issue.Metadata, &issue.Status, &issue.CreatedAt, &issue.LastSeenAt)
		if err == nil {
			return &issue, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("select issue: %w", err)
		}

		metadata := params.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO issues (project_id, type, title, culprit, metadata)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (project_id, title, culprit, type) DO NOTHING
			 RETURNING id, project_id, type, title, culprit, metadata, status, created_at, last_seen_at`,
			params.ProjectID, params.Type, params.Title, params.Culprit, metadata,
		).Scan(&issue.ID, &issue.ProjectID, &issue.Type, &issue.Title, &issue.Culprit,
			&issue.Metadata, &issue.Status, &issue.CreatedAt, &issue.LastSeenAt)
		if err == nil {
			return &issue, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("insert issue: %w", err)
		}
		// Conflict: a concurrent ingestion created the row first. Loop and
		// pick it up with the select.
	}
	return nil, fmt.Errorf("issue find-or-create retries exhausted for project %d", params.ProjectID)
}

func (s *PostgresStore) ReopenIssue(ctx context.Context, issueID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE issues SET status = $2 WHERE id = $1 AND status = $3`,
		issueID, models.IssueStatusUnresolved, models.IssueStatusResolved)
	if err != nil {
		return false, fmt.Errorf("reopen issue: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Tags ---

// SaveEventTags resolves tag key strings to their shared identities with one
// batched lookup, creates any missing keys race-tolerantly, then writes the
// per-event associations in a single transaction.
func (s *PostgresStore) SaveEventTags(ctx context.Context, eventID uuid.UUID, tags []models.TagPair) error {
	if len(tags) == 0 {
		return nil
	}

	keys := make([]string, 0, len(tags))
	for _, t := range tags {
		keys = append(keys, t.Key)
	}

	keyIDs, err := s.resolveTagKeys(ctx, keys)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save event tags: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range tags {
		id, ok := keyIDs[t.Key]
		if !ok {
			return fmt.Errorf("tag key %q missing after resolution", t.Key)
		}
		batch.Queue(
			`INSERT INTO event_tags (event_id, tag_key_id, value) VALUES ($1, $2, $3)
			 ON CONFLICT (event_id, tag_key_id) DO NOTHING`,
			eventID, id, t.Value)
	}

	br := tx.SendBatch(ctx, batch)
	for range tags {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert event tag: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close event tag batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save event tags: %w", err)
	}
	return nil
}

// resolveTagKeys maps key strings to tag_keys ids, creating missing rows.
// Two ingestions racing on a brand-new key both converge on the same row:
// the conflict clause swallows the loser's insert and the re-select returns
// the winner's id.
func (s *PostgresStore) resolveTagKeys(ctx context.Context, keys []string) (map[string]int64, error) {
	ids, err := s.selectTagKeys(ctx, keys)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, k := range keys {
		if _, ok := ids[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return ids, nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tag_keys (key) SELECT unnest($1::text[]) ON CONFLICT (key) DO NOTHING`,
		missing)
	if err != nil {
		return nil, fmt.Errorf("create tag keys: %w", err)
	}

	return s.selectTagKeys(ctx, keys)
}

func (s *PostgresStore) selectTagKeys(ctx context.Context, keys []string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key FROM tag_keys WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("select tag keys: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64, len(keys))
	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("scan tag key: %w", err)
		}
		ids[key] = id
	}
	return ids, rows.Err()
}

func (s *PostgresStore) GetEventTags(ctx context.Context, eventID uuid.UUID) ([]models.TagPair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT k.key, t.value FROM event_tags t
		 JOIN tag_keys k ON k.id = t.tag_key_id
		 WHERE t.event_id = $1 ORDER BY k.key`, eventID)
	if err != nil {
		return nil, fmt.Errorf("get event tags: %w", err)
	}
	defer rows.Close()

	var tags []models.TagPair
	for rows.Next() {
		var t models.TagPair
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			return nil, fmt.Errorf("scan event tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// --- Issue and event queries ---

func (s *PostgresStore) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	var issue models.Issue
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, type, title, culprit, metadata, status, created_at, last_seen_at
		 FROM issues WHERE id = $1`, id,
	).Scan(&issue.ID, &issue.ProjectID, &issue.Type, &issue.Title, &issue.Culprit,
		&issue.Metadata, &issue.Status, &issue.CreatedAt, &issue.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return &issue, nil
}

func (s *PostgresStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*models.Issue, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"project_id = $1"}
	args := []any{filter.ProjectID}
	argIdx := 2

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *filter.Type)
		argIdx++
	}
	if filter.Query != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR culprit ILIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+filter.Query+"%")
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM issues WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	limit, offset := normalizePagination(filter.Page, filter.Limit)

	dataQuery := fmt.Sprintf(
		`SELECT id, project_id, type, title, culprit, metadata, status, created_at, last_seen_at
		 FROM issues WHERE %s ORDER BY last_seen_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []*models.Issue
	for rows.Next() {
		var issue models.Issue
		if err := rows.Scan(&issue.ID, &issue.ProjectID, &issue.Type, &issue.Title, &issue.Culprit,
			&issue.Metadata, &issue.Status, &issue.CreatedAt, &issue.LastSeenAt); err != nil {
			return nil, 0, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, &issue)
	}
	return issues, total, rows.Err()
}

func (s *PostgresStore) UpdateIssueStatus(ctx context.Context, id int64, status models.IssueStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE issues SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update issue status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var e models.Event
	err := s.pool.QueryRow(ctx,
		`SELECT event_id, issue_id, timestamp, received_at, data
		 FROM events WHERE event_id = $1`, id,
	).Scan(&e.ID, &e.IssueID, &e.Timestamp, &e.ReceivedAt, &e.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, issueID int64, page, limit int) ([]*models.Event, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE issue_id = $1`, issueID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	lim, offset := normalizePagination(page, limit)

	rows, err := s.pool.Query(ctx,
		`SELECT event_id, issue_id, timestamp, received_at, data
		 FROM events WHERE issue_id = $1
		 ORDER BY received_at DESC LIMIT $2 OFFSET $3`, issueID, lim, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.IssueID, &e.Timestamp, &e.ReceivedAt, &e.Data); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func normalizePagination(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
