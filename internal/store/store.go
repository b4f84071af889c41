package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coralchat/docsync/internal/models"
)

// ChangeType classifies a store notification.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeRemoved ChangeType = "removed"
)

// Change is delivered to subscribers after every applied mutation. Old is nil
// for creations; New is nil for removals. Both are snapshots, never live
// pointers into the store.
type Change struct {
	Type ChangeType
	Old  *models.DocumentRecord
	New  *models.DocumentRecord
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	JobID         *string
	State         *models.LifecycleState
	Progress      *int
	ErrorMessage  *string
	SegmentsCount *int
	PageCount     *int
	StorageKey    *string
}

// CreateRequest is the immutable metadata set when a record is created.
type CreateRequest struct {
	DocID     string // optional; generated when empty
	Name      string
	MimeType  string
	SizeBytes int64
}

// Store is the single writable map of document records. Every other component
// reads or requests mutation through it; none keeps a parallel copy of
// lifecycle state.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.DocumentRecord
	order   []string // docIDs by creation time

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int

	now func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		records: make(map[string]*models.DocumentRecord),
		subs:    make(map[int]func(Change)),
		now:     time.Now,
	}
}

// Subscribe registers fn to be called synchronously after every applied
// change. The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(ch Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// Create inserts a new record in the uploading state with zero progress.
// It always succeeds and returns the record's docID.
func (s *Store) Create(req CreateRequest) string {
	docID := req.DocID
	if docID == "" {
		docID = uuid.NewString()
	}

	rec := &models.DocumentRecord{
		DocID:     docID,
		Name:      req.Name,
		MimeType:  req.MimeType,
		SizeBytes: req.SizeBytes,
		State:     models.StateUploading,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.records[docID] = rec
	s.order = append(s.order, docID)
	snapshot := *rec
	s.mu.Unlock()

	s.notify(Change{Type: ChangeCreated, New: &snapshot})
	return docID
}

// Patch merges p into the record identified by docID. Unknown ids are a
// logged no-op: a push event racing a local removal is expected, not an
// error. Illegal state transitions and attempts to leave a terminal state
// are dropped and logged as anomalies; the record keeps its last valid
// state. Returns true when anything was applied.
func (s *Store) Patch(docID string, p Patch) bool {
	s.mu.Lock()
	rec, ok := s.records[docID]
	if !ok {
		s.mu.Unlock()
		slog.Info("patch for unknown document dropped", "doc_id", docID)
		return false
	}

	old := *rec

	if p.State != nil && *p.State != rec.State {
		if !rec.State.CanTransition(*p.State) {
			s.mu.Unlock()
			slog.Warn("illegal lifecycle transition dropped",
				"doc_id", docID, "from", rec.State, "to", *p.State)
			return false
		}
		rec.State = *p.State
		switch *p.State {
		case models.StateProcessing:
			// progress restarts per phase; monotonicity holds within one
			rec.Progress = 0
		case models.StateReady:
			// reverted targets resume from a clean slate
			rec.ErrorMessage = ""
		}
	}

	if p.JobID != nil {
		rec.JobID = *p.JobID
	}
	if p.Progress != nil {
		switch rec.State {
		case models.StateUploading, models.StateProcessing:
			if *p.Progress >= rec.Progress {
				rec.Progress = clampProgress(*p.Progress)
			} else {
				slog.Warn("non-monotonic progress dropped",
					"doc_id", docID, "have", rec.Progress, "got", *p.Progress)
			}
		}
	}
	if p.ErrorMessage != nil && rec.State == models.StateFailed {
		rec.ErrorMessage = *p.ErrorMessage
	}
	if p.SegmentsCount != nil {
		rec.SegmentsCount = *p.SegmentsCount
	}
	if p.PageCount != nil {
		pages := *p.PageCount
		rec.PageCount = &pages
	}
	if p.StorageKey != nil {
		rec.StorageKey = *p.StorageKey
	}

	snapshot := *rec
	s.mu.Unlock()

	s.notify(Change{Type: ChangeUpdated, Old: &old, New: &snapshot})
	return true
}

// Remove deletes the record. While the record is processing or reviewing the
// removal is refused unless force is set, to avoid orphaning an in-flight
// subscription. Returns true when the record was removed.
func (s *Store) Remove(docID string, force bool) bool {
	s.mu.Lock()
	rec, ok := s.records[docID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if !force && (rec.State == models.StateProcessing || rec.State == models.StateReviewing) {
		s.mu.Unlock()
		slog.Warn("refusing to remove in-flight document without force",
			"doc_id", docID, "state", rec.State)
		return false
	}

	old := *rec
	delete(s.records, docID)
	for i, id := range s.order {
		if id == docID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.notify(Change{Type: ChangeRemoved, Old: &old})
	return true
}

// Get returns a snapshot of the record, or nil if unknown.
func (s *Store) Get(docID string) *models.DocumentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[docID]
	if !ok {
		return nil
	}
	snapshot := *rec
	return &snapshot
}

// List returns snapshots of all records in stable creation order.
func (s *Store) List() []models.DocumentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.DocumentRecord, 0, len(s.order))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			out = append(out, *rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
