package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/projectdesk/internal/channel"
	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/middleware"
	"github.com/projectdesk/internal/model"
	"github.com/projectdesk/internal/repository"
)

type ProgressHandler struct {
	progressRepo ProgressStore
	projectRepo  ProjectStore
	publisher    Publisher
}

func NewProgressHandler(progressRepo ProgressStore, projectRepo ProjectStore, publisher Publisher) *ProgressHandler {
	return &ProgressHandler{progressRepo: progressRepo, projectRepo: projectRepo, publisher: publisher}
}

type updateProgressRequest struct {
	Value    json.RawMessage `json:"value"`
	Note     string          `json:"note"`
	AuthorID string          `json:"author_id"`
}

type updateProgressResponse struct {
	OK      bool                  `json:"ok"`
	Project progressProjectView   `json:"project"`
	Update  *model.ProgressUpdate `json:"update"`
}

type progressProjectView struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
}

// parseValue validates the progress value: it must be a bare JSON number with
// no fractional part, between 0 and 100 inclusive. Everything else is rejected
// before any write happens.
func parseValue(raw json.RawMessage) (int, bool) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return 0, false
	}
	// json.Number happily unmarshals a quoted "45"; only an unquoted number
	// token counts as a number here.
	if v[0] != '-' && (v[0] < '0' || v[0] > '9') {
		return 0, false
	}
	var num json.Number
	if err := json.Unmarshal(v, &num); err != nil {
		return 0, false
	}
	f, err := num.Float64()
	if err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	if f < 0 || f > 100 {
		return 0, false
	}
	return int(f), true
}

// UpdateProgress validates, persists (denormalized value plus history row in
// one transaction) and only then broadcasts the new value to the project
// channel.
func (h *ProgressHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")

	var req updateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	value, ok := parseValue(req.Value)
	if !ok {
		writeError(w, http.StatusBadRequest, "value must be an integer between 0 and 100")
		return
	}

	// The author is part of the audit trail and must be stated explicitly;
	// falling back to the request's bearer identity would make the 400 path
	// unreachable on the authenticated route.
	authorID := req.AuthorID
	if authorID == "" {
		writeError(w, http.StatusBadRequest, "author is required")
		return
	}

	if userID := middleware.GetUserID(r.Context()); userID != "" {
		isMember, err := h.projectRepo.IsMember(r.Context(), projectID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check membership")
			return
		}
		if !isMember {
			writeError(w, http.StatusForbidden, "not a project member")
			return
		}
	}

	now := time.Now().UTC()
	project, update, err := h.progressRepo.SetProgress(r.Context(), projectID, authorID, value, req.Note, now)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		logger.Errorf("progress update project=%s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "failed to update progress")
		return
	}

	ch := channel.ForProject(projectID)
	payload := channel.ProgressUpdatePayload{Value: update.Value, AuthorID: update.AuthorID, At: update.CreatedAt}
	if err := h.publisher.Publish(r.Context(), ch, channel.EventProgressUpdate, payload); err != nil {
		logger.Errorf("progress broadcast project=%s: %v", projectID, err)
	}

	writeJSON(w, http.StatusOK, updateProgressResponse{
		OK:      true,
		Project: progressProjectView{ID: project.ID, Progress: project.Progress},
		Update:  update,
	})
}

// GetHistory returns the newest-first progress audit trail.
func (h *ProgressHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.projectRepo.IsMember(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a project member")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit > 100 {
		limit = 100
	}

	updates, err := h.progressRepo.History(r.Context(), projectID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get progress history")
		return
	}
	writeJSON(w, http.StatusOK, updates)
}
