// Package ingest orchestrates the event pipeline: classify the raw payload,
// validate it against the type's schema, normalize and enrich it, group it
// into an issue, persist, and tag.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faultline-dev/faultline/internal/event"
	"github.com/faultline-dev/faultline/internal/store"
	"github.com/faultline-dev/faultline/pkg/models"
	"github.com/google/uuid"
)

// ErrValidation marks a payload rejection. Wrapped errors carry the field
// detail; callers map it to a 400.
var ErrValidation = errors.New("invalid event payload")

// Store is the slice of the storage interface the pipeline needs.
type Store interface {
	StoreEvent(ctx context.Context, params store.EventParams) (*models.Issue, *models.Event, error)
	ReopenIssue(ctx context.Context, issueID int64) (bool, error)
	SaveEventTags(ctx context.Context, eventID uuid.UUID, tags []models.TagPair) error
}

// Pipeline ingests raw payloads for a project. Safe for concurrent use; all
// mutable state lives in the store.
type Pipeline struct {
	store             Store
	contextProcessors []event.ContextProcessor
	tagProcessors     []event.TagProcessor
	logger            *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithContextProcessors replaces the default context processor set.
func WithContextProcessors(procs []event.ContextProcessor) Option {
	return func(p *Pipeline) { p.contextProcessors = procs }
}

// WithTagProcessors replaces the default tag processor set.
func WithTagProcessors(procs []event.TagProcessor) Option {
	return func(p *Pipeline) { p.tagProcessors = procs }
}

// WithLogger sets the logger used for per-processor and best-effort
// failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a Pipeline with the default processor sets.
func New(s Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:             s,
		contextProcessors: event.DefaultContextProcessors(),
		tagProcessors:     event.DefaultTagProcessors(),
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes one raw payload for a project and returns the stored
// event's identifier as 32 hex characters. Success is defined solely by
// issue and event persistence; status reconciliation and tag writes happen
// after commit and fail soft.
func (p *Pipeline) Ingest(ctx context.Context, projectID int64, payload event.Payload) (string, error) {
	eventType := event.Classify(payload)
	if eventType == models.EventTypeCSP {
		return p.ingestCSP(ctx, projectID, payload)
	}
	return p.ingestSDKEvent(ctx, projectID, eventType, payload)
}

// ingestSDKEvent handles the default and error types, which share a schema.
func (p *Pipeline) ingestSDKEvent(ctx context.Context, projectID int64, eventType models.EventType, payload event.Payload) (string, error) {
	eventID, err := validateSDKEvent(payload)
	if err != nil {
		return "", err
	}

	var timestamp *time.Time
	if raw, ok := payload["timestamp"]; ok && raw != nil {
		ts, err := event.ParseTimestamp(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		timestamp = &ts
	}

	exception := exceptionOf(payload)
	if eventType == models.EventTypeError {
		event.SanitizeException(exception)
	}

	request := requestOf(payload)
	event.NormalizeRequest(request)

	contexts := event.EnrichContexts(payload, p.contextProcessors, p.logger)
	payload["contexts"] = contexts

	metadata := event.DeriveMetadata(eventType, payload)
	title := event.DeriveTitle(eventType, metadata)
	culprit := event.DeriveCulprit(eventType, payload)

	issue, stored, err := p.store.StoreEvent(ctx, store.EventParams{
		ProjectID: projectID,
		Type:      eventType,
		Title:     title,
		Culprit:   culprit,
		Metadata:  metadata,
		EventID:   eventID,
		Timestamp: timestamp,
		Data: models.EventData{
			Contexts:  contexts,
			Culprit:   culprit,
			Exception: exception,
			Metadata:  metadata,
			Message:   messageOf(payload),
			Modules:   getMapField(payload, "modules"),
			Platform:  stringField(payload, "platform"),
			Request:   request,
			SDK:       getMapField(payload, "sdk"),
			Title:     title,
			Type:      eventType.Label(),
		},
	})
	if err != nil {
		return "", err
	}

	p.reconcileStatus(ctx, issue)
	p.saveTags(ctx, stored, payload)
	return stored.IDHex(), nil
}

// ingestCSP handles browser-generated CSP violation reports, which share no
// schema with SDK events: no event id, platform, sdk block, or tags.
func (p *Pipeline) ingestCSP(ctx context.Context, projectID int64, payload event.Payload) (string, error) {
	if err := validateCSPReport(payload); err != nil {
		return "", err
	}

	metadata := event.DeriveMetadata(models.EventTypeCSP, payload)
	title := event.DeriveTitle(models.EventTypeCSP, metadata)
	culprit := event.DeriveCulprit(models.EventTypeCSP, payload)
	normalized := event.NormalizeCSPReport(event.CSPReport(payload))

	_, stored, err := p.store.StoreEvent(ctx, store.EventParams{
		ProjectID: projectID,
		Type:      models.EventTypeCSP,
		Title:     title,
		Culprit:   culprit,
		Metadata:  metadata,
		Data: models.EventData{
			Culprit:  culprit,
			CSP:      normalized,
			Metadata: metadata,
			Message:  title,
			Title:    title,
			Type:     models.EventTypeCSP.Label(),
		},
	})
	if err != nil {
		return "", err
	}
	return stored.IDHex(), nil
}

// reconcileStatus reruns the issue's status rule after commit: an issue the
// team resolved comes back as unresolved when new events arrive. Runs
// outside the grouping transaction; failure never rolls back the event.
func (p *Pipeline) reconcileStatus(ctx context.Context, issue *models.Issue) {
	if issue.Status != models.IssueStatusResolved {
		return
	}
	reopened, err := p.store.ReopenIssue(ctx, issue.ID)
	if err != nil {
		p.logger.Warn("issue status reconciliation failed", "issue_id", issue.ID, "error", err)
		return
	}
	if reopened {
		p.logger.Info("issue reopened", "issue_id", issue.ID)
	}
}

// saveTags extracts and persists search tags. Best effort: the event is
// already committed, a tag failure leaves it untagged but valid.
func (p *Pipeline) saveTags(ctx context.Context, stored *models.Event, payload event.Payload) {
	tags := event.ExtractTags(payload, p.tagProcessors, p.logger)
	if len(tags) == 0 {
		return
	}
	if err := p.store.SaveEventTags(ctx, stored.ID, tags); err != nil {
		p.logger.Warn("tag persistence failed", "event_id", stored.IDHex(), "error", err)
	}
}

func exceptionOf(payload event.Payload) map[string]any {
	m, _ := payload["exception"].(map[string]any)
	return m
}

func requestOf(payload event.Payload) map[string]any {
	m, _ := payload["request"].(map[string]any)
	return m
}

func messageOf(payload event.Payload) string {
	if logentry, ok := payload["logentry"].(map[string]any); ok {
		if s, ok := logentry["message"].(string); ok {
			return s
		}
	}
	s, _ := payload["message"].(string)
	return s
}

func getMapField(payload event.Payload, key string) map[string]any {
	m, _ := payload[key].(map[string]any)
	return m
}

func stringField(payload event.Payload, key string) string {
	s, _ := payload[key].(string)
	return s
}
