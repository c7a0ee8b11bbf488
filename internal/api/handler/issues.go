package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/faultline-dev/faultline/internal/api/response"
	"github.com/faultline-dev/faultline/internal/store"
	"github.com/faultline-dev/faultline/pkg/models"
	"github.com/go-chi/chi/v5"
)

// NewListIssuesHandler returns the handler for
// GET /api/v1/projects/{projectID}/issues.
func NewListIssuesHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown project", nil)
			return
		}

		q := r.URL.Query()
		filter := store.IssueFilter{
			ProjectID: projectID,
			Query:     q.Get("query"),
			Page:      queryInt(q.Get("page")),
			Limit:     queryInt(q.Get("limit")),
		}
		if raw := q.Get("status"); raw != "" {
			status, err := models.ParseIssueStatus(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"status must be one of unresolved, resolved, ignored", nil)
				return
			}
			filter.Status = &status
		}
		if raw := q.Get("type"); raw != "" {
			eventType, err := models.ParseEventType(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"type must be one of default, error, csp", nil)
				return
			}
			filter.Type = &eventType
		}

		issues, total, err := s.ListIssues(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list issues", nil)
			return
		}
		if issues == nil {
			issues = []*models.Issue{}
		}

		page, limit := normalizePage(filter.Page, filter.Limit)
		response.Collection(w, issues, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetIssueHandler returns the handler for GET /api/v1/issues/{issueID}.
func NewGetIssueHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "issueID"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown issue", nil)
			return
		}

		issue, err := s.GetIssue(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown issue", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get issue", nil)
			return
		}
		response.JSON(w, issue)
	}
}

// NewUpdateIssueHandler returns the handler for PUT /api/v1/issues/{issueID},
// which transitions the triage status.
func NewUpdateIssueHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "issueID"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown issue", nil)
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		status, err := models.ParseIssueStatus(req.Status)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of unresolved, resolved, ignored", nil)
			return
		}

		if err := s.UpdateIssueStatus(r.Context(), id, status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown issue", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update issue", nil)
			return
		}

		issue, err := s.GetIssue(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get issue", nil)
			return
		}
		response.JSON(w, issue)
	}
}

func queryInt(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

// normalizePage mirrors the store's pagination clamping so meta reflects
// what was actually queried.
func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
