package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coralchat/docsync/internal/ingest"
	"github.com/coralchat/docsync/internal/store"
	"github.com/coralchat/docsync/internal/view"
)

type DocumentHandler struct {
	ingest *ingest.Service
	store  *store.Store
}

func NewDocumentHandler(svc *ingest.Service, st *store.Store) *DocumentHandler {
	return &DocumentHandler{ingest: svc, store: st}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(ingest.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	rec, err := h.ingest.Upload(r.Context(), name, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	records := h.store.List()
	views := make([]view.DocumentView, 0, len(records))
	for _, rec := range records {
		views = append(views, view.DocumentViewFor(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": views, "count": len(views)})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec := h.store.Get(chi.URLParam(r, "id"))
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record": rec,
		"view":   view.DocumentViewFor(*rec),
	})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	switch err := h.ingest.Discard(r.Context(), id, force); {
	case errors.Is(err, ingest.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
	case errors.Is(err, ingest.ErrInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "document is in flight; retry with force=true",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
