package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectdesk/internal/fileserver"
)

type FileHandler struct {
	store *fileserver.Store
}

func NewFileHandler(store *fileserver.Store) *FileHandler {
	return &FileHandler{store: store}
}

// Serve streams a stored attachment. Attachment URLs embedded in messages
// point here.
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.store.Serve(w, r, chi.URLParam(r, "filename"))
}
