package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coralchat/docsync/internal/auditor"
	"github.com/coralchat/docsync/internal/view"
)

type AuditHandler struct {
	ctrl *auditor.Controller
}

func NewAuditHandler(ctrl *auditor.Controller) *AuditHandler {
	return &AuditHandler{ctrl: ctrl}
}

type startAuditRequest struct {
	DocIDs  []string        `json:"doc_ids"`
	Options auditor.Options `json:"options"`
}

func (h *AuditHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	session, err := h.ctrl.Start(r.Context(), req.DocIDs, req.Options)
	if err != nil {
		var rej *auditor.Rejection
		if errors.As(err, &rej) {
			status := http.StatusUnprocessableEntity
			if rej.Code == auditor.CodeAuditInProgress {
				status = http.StatusConflict
			}
			writeJSON(w, status, rej)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, session)
}

func (h *AuditHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.RequestCancellation(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

func (h *AuditHandler) Current(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ctrl.Session()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no audit session"})
		return
	}

	resp := map[string]interface{}{"session": session}
	if session.Result != nil {
		resp["summary"] = view.Summarize(*session.Result)
	}
	writeJSON(w, http.StatusOK, resp)
}
