package push

import (
	"context"
	"encoding/json"

	"github.com/coralchat/docsync/internal/models"
)

// Event types. An empty Type is treated as EventState.
const (
	EventState     = "state"
	EventCancelAck = "cancelled-ack"
)

// Payload carries the optional body of a push event.
type Payload struct {
	Progress        *int             `json:"progress,omitempty"`
	SegmentsCount   *int             `json:"segments_count,omitempty"`
	PageCount       *int             `json:"page_count,omitempty"`
	Error           string           `json:"error,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	Findings        []models.Finding `json:"findings,omitempty"`
	ReportedTotal   *int             `json:"reported_total,omitempty"`
	CompletedDocIDs []string         `json:"completed_doc_ids,omitempty"`
}

// Event is one inbound push message for a document.
type Event struct {
	Type     string                `json:"type,omitempty"`
	DocID    string                `json:"doc_id"`
	NewState models.LifecycleState `json:"new_state,omitempty"`
	Payload  *Payload              `json:"payload,omitempty"`
}

// Kind returns the event type, defaulting to EventState.
func (e Event) Kind() string {
	if e.Type == "" {
		return EventState
	}
	return e.Type
}

// Encode serializes an event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Transport delivers server push events for one (jobID, docID) pair. The
// returned channel is closed when the underlying connection drops or ctx is
// cancelled; reconnection is the manager's concern, not the transport's.
type Transport interface {
	Subscribe(ctx context.Context, jobID, docID string) (<-chan Event, error)
}

// Publisher is the backend-side counterpart used by the pipeline workers.
type Publisher interface {
	Publish(ctx context.Context, jobID, docID string, ev Event) error
}
