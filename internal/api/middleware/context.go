package middleware

import (
	"context"
	"net/http"

	"github.com/faultline-dev/faultline/pkg/models"
)

type contextKey string

const (
	projectIDKey    contextKey = "project_id"
	projectKeyKey   contextKey = "project_key"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// SetProjectID records the ingest target project resolved from a DSN key.
func SetProjectID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, projectIDKey, id)
}

func GetProjectID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(projectIDKey).(int64)
	return id, ok
}

func setProjectKey(ctx context.Context, key *models.ProjectKey) context.Context {
	return context.WithValue(ctx, projectKeyKey, key)
}

func getProjectKey(r *http.Request) (*models.ProjectKey, bool) {
	key, ok := r.Context().Value(projectKeyKey).(*models.ProjectKey)
	return key, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// SetProjectKeyForTest injects a resolved project key, for handler tests
// that bypass DSN auth.
func SetProjectKeyForTest(ctx context.Context, key *models.ProjectKey) context.Context {
	return setProjectKey(ctx, key)
}

// SetScopesForTest injects API key scopes, for handler tests that bypass
// bearer auth.
func SetScopesForTest(ctx context.Context, scopes []string) context.Context {
	return setScopes(ctx, scopes)
}

// SetKeyPrefixForTest injects an API key prefix, for rate limit tests that
// bypass bearer auth.
func SetKeyPrefixForTest(ctx context.Context, prefix string) context.Context {
	return setKeyPrefix(ctx, prefix)
}
