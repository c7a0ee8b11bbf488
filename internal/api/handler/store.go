package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	mw "github.com/faultline-dev/faultline/internal/api/middleware"
	"github.com/faultline-dev/faultline/internal/api/response"
	"github.com/faultline-dev/faultline/internal/ingest"
)

// Ingester is the pipeline interface the store handler depends on.
type Ingester interface {
	Ingest(ctx context.Context, projectID int64, payload map[string]any) (string, error)
}

// NewStoreHandler returns the handler for POST /api/{projectID}/store/.
// maxBytes caps the payload size. Browser SDKs send JSON under a text/plain
// content type, so the body is decoded as JSON regardless of the declared
// type.
func NewStoreHandler(pipeline Ingester, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := mw.GetProjectID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"MISSING_AUTH", "Missing project", nil)
			return
		}

		var payload map[string]any
		body := http.MaxBytesReader(w, r.Body, maxBytes)
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge,
					"PAYLOAD_TOO_LARGE", "Event payload exceeds the size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		io.Copy(io.Discard, body)

		id, err := pipeline.Ingest(r.Context(), projectID, payload)
		if err != nil {
			if errors.Is(err, ingest.ErrValidation) {
				response.Error(w, http.StatusBadRequest,
					"INVALID_EVENT", err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to store event", nil)
			return
		}

		// SDK wire format: a bare object, no envelope.
		response.Raw(w, map[string]string{"id": id})
	}
}

// NewSecurityHandler returns the handler for POST /api/{projectID}/security/,
// the endpoint browsers deliver CSP violation reports to. Same pipeline;
// the classifier routes the report shape.
func NewSecurityHandler(pipeline Ingester, maxBytes int64) http.HandlerFunc {
	return NewStoreHandler(pipeline, maxBytes)
}
