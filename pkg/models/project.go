package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Project is the namespace under which issues are grouped. Every ingested
// event is scoped to exactly one project.
type Project struct {
	ID        int64     `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Slug      string    `db:"slug"       json:"slug"`
	Platform  string    `db:"platform"   json:"platform,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProjectKey is the DSN credential an SDK presents when submitting events.
// Keys are created explicitly alongside their project, never implicitly.
type ProjectKey struct {
	ID              int64     `db:"id"                json:"id"`
	ProjectID       int64     `db:"project_id"        json:"project_id"`
	PublicKey       uuid.UUID `db:"public_key"        json:"public_key"`
	Label           string    `db:"label"             json:"label,omitempty"`
	RateLimitCount  *int      `db:"rate_limit_count"  json:"rate_limit_count,omitempty"`
	RateLimitWindow *int      `db:"rate_limit_window" json:"rate_limit_window,omitempty"`
	CreatedAt       time.Time `db:"created_at"        json:"created_at"`
}

// PublicKeyHex returns the public key without dashes, the form SDKs embed
// in a DSN.
func (k *ProjectKey) PublicKeyHex() string {
	return strings.ReplaceAll(k.PublicKey.String(), "-", "")
}

// DSN renders the submission URL for this key, e.g.
// https://<key>@errors.example.com/1. Returns "" when the base URL is not
// configured.
func (k *ProjectKey) DSN(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	scheme, host, ok := strings.Cut(baseURL, "://")
	if !ok || host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s@%s/%d", scheme, k.PublicKeyHex(), host, k.ProjectID)
}
