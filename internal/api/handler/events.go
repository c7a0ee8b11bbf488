package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/faultline-dev/faultline/internal/api/response"
	"github.com/faultline-dev/faultline/internal/store"
	"github.com/faultline-dev/faultline/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// NewListEventsHandler returns the handler for
// GET /api/v1/issues/{issueID}/events.
func NewListEventsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueID, err := strconv.ParseInt(chi.URLParam(r, "issueID"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown issue", nil)
			return
		}

		q := r.URL.Query()
		page, limit := normalizePage(queryInt(q.Get("page")), queryInt(q.Get("limit")))

		events, total, err := s.ListEvents(r.Context(), issueID, page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list events", nil)
			return
		}
		if events == nil {
			events = []*models.Event{}
		}

		response.Collection(w, events, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetEventHandler returns the handler for GET /api/v1/events/{eventID},
// with the event's search tags attached.
func NewGetEventHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "eventID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown event", nil)
			return
		}

		event, err := s.GetEvent(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown event", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get event", nil)
			return
		}

		tags, err := s.GetEventTags(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get event tags", nil)
			return
		}
		if tags == nil {
			tags = []models.TagPair{}
		}

		response.JSON(w, map[string]any{
			"event": event,
			"tags":  tags,
		})
	}
}
