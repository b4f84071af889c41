package models

import "time"

// LifecycleState is the single authoritative stage of a tracked document.
type LifecycleState string

const (
	StateUploading  LifecycleState = "uploading"
	StateProcessing LifecycleState = "processing"
	StateReady      LifecycleState = "ready"
	StateReviewing  LifecycleState = "reviewing"
	StateCompleted  LifecycleState = "completed"
	StateFailed     LifecycleState = "failed"
)

// AllLifecycleStates lists every state in lifecycle order.
var AllLifecycleStates = []LifecycleState{
	StateUploading,
	StateProcessing,
	StateReady,
	StateReviewing,
	StateCompleted,
	StateFailed,
}

// forward holds the legal forward edges of the lifecycle graph.
// reviewing -> ready is the single sanctioned rollback: a cancellation
// acknowledgment reverts targets so the user can retry.
var forward = map[LifecycleState][]LifecycleState{
	StateUploading:  {StateProcessing},
	StateProcessing: {StateReady},
	StateReady:      {StateReviewing},
	StateReviewing:  {StateCompleted, StateReady},
}

// Terminal reports whether no further transition is accepted from s.
func (s LifecycleState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateUploading, StateProcessing, StateReady, StateReviewing, StateCompleted, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal transition. failed is
// reachable from any non-terminal state; terminal states accept nothing.
func (s LifecycleState) CanTransition(to LifecycleState) bool {
	if s.Terminal() || s == to || !to.Valid() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range forward[s] {
		if next == to {
			return true
		}
	}
	return false
}

// DocumentRecord is the client-side tracked state for one uploaded file.
// All mutation goes through the store.
type DocumentRecord struct {
	DocID         string         `json:"doc_id"`
	JobID         string         `json:"job_id,omitempty"`
	Name          string         `json:"name"`
	MimeType      string         `json:"mime_type"`
	SizeBytes     int64          `json:"size_bytes"`
	State         LifecycleState `json:"state"`
	Progress      int            `json:"progress"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	SegmentsCount int            `json:"segments_count,omitempty"`
	PageCount     *int           `json:"page_count,omitempty"`
	StorageKey    string         `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
}
