package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/projectdesk/internal/channel"
	"github.com/projectdesk/internal/fileserver"
	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/middleware"
	"github.com/projectdesk/internal/model"
)

type MessageHandler struct {
	msgRepo     MessageStore
	projectRepo ProjectStore
	userRepo    UserStore
	publisher   Publisher
	notifier    Notifier
	files       *fileserver.Store
	maxBody     int64
}

func NewMessageHandler(msgRepo MessageStore, projectRepo ProjectStore, userRepo UserStore, publisher Publisher, notifier Notifier, files *fileserver.Store, maxBody int64) *MessageHandler {
	if maxBody <= 0 {
		maxBody = 20 << 20
	}
	return &MessageHandler{
		msgRepo:     msgRepo,
		projectRepo: projectRepo,
		userRepo:    userRepo,
		publisher:   publisher,
		notifier:    notifier,
		files:       files,
		maxBody:     maxBody,
	}
}

// GetMessages returns a newest-first page of the project's channel history.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
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

	messages, err := h.msgRepo.GetProjectMessages(r.Context(), projectID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

// SendMessage persists a message and then fans it out to the project channel.
// The order matters: the broadcast carries the server-assigned id clients
// deduplicate by, so nothing is published before the commit. A failed
// broadcast is logged and the request still succeeds; subscribers catch up
// from history on the next fetch.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
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

	msg := &model.Message{
		ProjectID: projectID,
		SenderID:  userID,
		CreatedAt: time.Now().UTC(),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
		if err := r.ParseMultipartForm(h.maxBody); err != nil {
			writeError(w, http.StatusBadRequest, "upload too large")
			return
		}
		msg.Body = r.FormValue("body")
		if r.MultipartForm != nil {
			for _, header := range r.MultipartForm.File["files[]"] {
				a, err := h.files.SaveAttachment(header)
				if err != nil {
					logger.Errorf("message attachment save: %v", err)
					writeError(w, http.StatusBadRequest, "attachment rejected")
					return
				}
				msg.Attachments = append(msg.Attachments, *a)
			}
		}
	} else {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		msg.Body = req.Body
	}
	msg.Body = strings.TrimRight(msg.Body, " \t\n\r")

	if !msg.HasContent() {
		writeError(w, http.StatusBadRequest, "message must have text or attachments")
		return
	}

	if sender, err := h.userRepo.GetByID(r.Context(), userID); err == nil {
		pub := sender.ToPublic()
		msg.Sender = &pub
	}

	if err := h.msgRepo.Create(r.Context(), msg); err != nil {
		logger.Errorf("message create project=%s: %v", projectID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	ch := channel.ForProject(projectID)
	if err := h.publisher.Publish(r.Context(), ch, channel.EventMessageCreated, channel.MessageCreatedPayload{Message: msg}); err != nil {
		logger.Errorf("message broadcast project=%s id=%d: %v", projectID, msg.ID, err)
	}

	h.notifyMembers(r, msg)

	writeJSON(w, http.StatusCreated, msg)
}

// notifyMembers pushes a best-effort notification to every member except the
// sender.
func (h *MessageHandler) notifyMembers(r *http.Request, msg *model.Message) {
	if h.notifier == nil {
		return
	}
	members, err := h.projectRepo.GetMemberIDs(r.Context(), msg.ProjectID)
	if err != nil {
		logger.Errorf("message notify members project=%s: %v", msg.ProjectID, err)
		return
	}
	title := "New message"
	if msg.Sender != nil && msg.Sender.Name != "" {
		title = msg.Sender.Name
	}
	body := msg.Body
	if body == "" && len(msg.Attachments) > 0 {
		body = "Attachment"
	}
	for _, id := range members {
		if id == msg.SenderID {
			continue
		}
		h.notifier.Notify(r.Context(), id, title, body, map[string]string{"project_id": msg.ProjectID})
	}
}
