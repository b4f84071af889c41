package queue

import "github.com/coralchat/docsync/internal/auditor"

const (
	TypeDocumentProcess = "document:process"
	TypeAuditRun        = "audit:run"
)

type DocumentProcessPayload struct {
	DocID      string `json:"doc_id"`
	JobID      string `json:"job_id"`
	StorageKey string `json:"storage_key"`
	MimeType   string `json:"mime_type"`
}

type AuditRunPayload struct {
	SessionID string           `json:"session_id"`
	Targets   []auditor.Target `json:"targets"`
	Options   auditor.Options  `json:"options"`
}
