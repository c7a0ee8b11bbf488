package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/faultline-dev/faultline/internal/api/response"
	"github.com/faultline-dev/faultline/internal/cache"
	"github.com/faultline-dev/faultline/internal/store"
	"github.com/faultline-dev/faultline/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// DSNAuth authenticates event submissions. SDKs present the public key of
// a project key either as a sentry_key query parameter or inside an
// X-Sentry-Auth header; the key must belong to the project in the URL.
// Resolved keys are cached to keep the hot path off the database.
type DSNAuth struct {
	store  store.Store
	cache  cache.Cache
	keyTTL time.Duration
}

// NewDSNAuth creates a new DSNAuth middleware.
func NewDSNAuth(s store.Store, c cache.Cache, keyTTL time.Duration) *DSNAuth {
	return &DSNAuth{store: s, cache: c, keyTTL: keyTTL}
}

// Authenticate resolves the presented key and sets the project id and key
// in the request context. The caller downstream trusts this resolution
// fully; nothing is ever persisted without it.
func (d *DSNAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusNotFound,
				"NOT_FOUND", "Unknown project", nil)
			return
		}

		rawKey, err := keyFromRequest(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_AUTH", err.Error(), nil)
			return
		}
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"MISSING_AUTH", "Unable to find authentication information", nil)
			return
		}

		publicKey, err := uuid.Parse(rawKey)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_KEY", "Invalid key format", nil)
			return
		}

		key, err := d.resolveKey(r, publicKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusUnauthorized,
					"INVALID_KEY", "Unknown key", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate key", nil)
			return
		}

		if key.ProjectID != projectID {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Key does not belong to this project", nil)
			return
		}

		ctx := SetProjectID(r.Context(), projectID)
		ctx = setProjectKey(ctx, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (d *DSNAuth) resolveKey(r *http.Request, publicKey uuid.UUID) (*models.ProjectKey, error) {
	if key, found, err := d.cache.GetProjectKey(r.Context(), publicKey); err == nil && found {
		return key, nil
	}

	key, err := d.store.GetProjectKey(r.Context(), publicKey)
	if err != nil {
		return nil, err
	}

	if cacheErr := d.cache.SetProjectKey(r.Context(), key, d.keyTTL); cacheErr != nil {
		slog.Warn("project key cache write failed", "error", cacheErr)
	}
	return key, nil
}

// keyFromRequest extracts the public key from the query string or an auth
// header. Presenting the key in more than one place is rejected outright.
func keyFromRequest(r *http.Request) (string, error) {
	fromQuery := r.URL.Query().Get("sentry_key")

	header := r.Header.Get("X-Sentry-Auth")
	if header == "" {
		header = r.Header.Get("Authorization")
	}

	if header != "" && strings.EqualFold(headerScheme(header), "sentry") {
		if fromQuery != "" {
			return "", errMultipleAuth
		}
		return parseAuthHeader(header)["sentry_key"], nil
	}

	return fromQuery, nil
}

var errMultipleAuth = errors.New("multiple authentication payloads were detected")

func headerScheme(header string) string {
	scheme, _, _ := strings.Cut(header, " ")
	return scheme
}

// parseAuthHeader splits "Sentry sentry_key=abc, sentry_version=7" into its
// key/value pairs.
func parseAuthHeader(header string) map[string]string {
	_, rest, _ := strings.Cut(header, " ")
	pairs := map[string]string{}
	for _, part := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok {
			pairs[k] = strings.Trim(v, `"`)
		}
	}
	return pairs
}
