// Package auditor gates, runs, and cancels audit sessions over ready
// documents. Session terminal transitions are driven by push events; local
// state only moves ahead of the backend where the design calls for an
// optimistic update.
package auditor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/push"
	"github.com/coralchat/docsync/internal/report"
	"github.com/coralchat/docsync/internal/store"
)

// Rejection reason codes returned by Start.
const (
	CodeNoTargets       = "NO_TARGETS"
	CodeTargetNotReady  = "TARGET_NOT_READY"
	CodeAuditInProgress = "AUDIT_IN_PROGRESS"
)

// Rejection is a synchronous validation failure. It is always recoverable by
// the caller adjusting input; it never leaves state changed.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Message }

// Options tune one audit run.
type Options struct {
	Model string   `json:"model,omitempty"`
	Rules []string `json:"rules,omitempty"`
}

// Target identifies one document for the backend.
type Target struct {
	DocID      string `json:"doc_id"`
	JobID      string `json:"job_id"`
	Name       string `json:"name"`
	MimeType   string `json:"mime_type"`
	StorageKey string `json:"storage_key"`
}

// StartRequest is what the backend consumes to begin an audit.
type StartRequest struct {
	SessionID string   `json:"session_id"`
	Targets   []Target `json:"targets"`
	Options   Options  `json:"options"`
}

// Backend is the external audit engine. Cancellation is a request, not a
// state change: the session moves to cancelled only on acknowledgment or
// after the bounded wait.
type Backend interface {
	StartAudit(ctx context.Context, req StartRequest) error
	CancelAudit(ctx context.Context, sessionID string) error
}

// Config bounds the controller's waits.
type Config struct {
	CancelAckWait time.Duration
}

// DefaultConfig returns the bounds used when none are supplied.
func DefaultConfig() Config {
	return Config{CancelAckWait: 15 * time.Second}
}

type timer interface {
	Stop() bool
}

// Controller owns the audit session state machine.
type Controller struct {
	st      *store.Store
	backend Backend
	cfg     Config

	mu       sync.Mutex
	session  *models.AuditSession
	ackTimer timer

	notifications chan models.AuditSession

	now            func() time.Time
	afterFunc      func(d time.Duration, fn func()) timer
	cancelObserver func()
}

// New constructs a controller bound to the store and backend, and registers
// it for the manager's applied push events.
func New(st *store.Store, mgr *push.Manager, backend Backend, cfg Config) *Controller {
	if cfg.CancelAckWait <= 0 {
		cfg = DefaultConfig()
	}
	c := &Controller{
		st:            st,
		backend:       backend,
		cfg:           cfg,
		notifications: make(chan models.AuditSession, 8),
		now:           time.Now,
		afterFunc: func(d time.Duration, fn func()) timer {
			return time.AfterFunc(d, fn)
		},
	}
	mgr.Notify(c.handlePushEvent)
	c.cancelObserver = st.Subscribe(c.observeStore)
	return c
}

// Notifications streams session snapshots on every status change for the
// presentation layer. Delivery is best-effort.
func (c *Controller) Notifications() <-chan models.AuditSession {
	return c.notifications
}

// Session returns a snapshot of the most recent session, if any.
func (c *Controller) Session() (models.AuditSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return models.AuditSession{}, false
	}
	return *c.session, true
}

// Stop detaches the controller from the store.
func (c *Controller) Stop() {
	c.cancelObserver()
	c.mu.Lock()
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.mu.Unlock()
}

// Start begins an audit over targetDocIDs. Every target must currently be
// ready; otherwise the call is rejected with a reason code and nothing
// changes. On acceptance the targets move to reviewing before the backend
// call completes; the push manager's activation rule depends on observing
// that transition, so the optimistic order is deliberate.
func (c *Controller) Start(ctx context.Context, targetDocIDs []string, opts Options) (models.AuditSession, error) {
	if len(targetDocIDs) == 0 {
		return models.AuditSession{}, &Rejection{Code: CodeNoTargets, Message: "no documents selected"}
	}

	c.mu.Lock()
	if c.session != nil && c.session.Status == models.SessionAuditing {
		c.mu.Unlock()
		return models.AuditSession{}, &Rejection{Code: CodeAuditInProgress, Message: "an audit is already running"}
	}

	targets := make([]Target, 0, len(targetDocIDs))
	for _, id := range targetDocIDs {
		rec := c.st.Get(id)
		if rec == nil || rec.State != models.StateReady {
			c.mu.Unlock()
			return models.AuditSession{}, &Rejection{
				Code:    CodeTargetNotReady,
				Message: "document " + id + " is not ready for audit",
			}
		}
		targets = append(targets, Target{
			DocID:      rec.DocID,
			JobID:      rec.JobID,
			Name:       rec.Name,
			MimeType:   rec.MimeType,
			StorageKey: rec.StorageKey,
		})
	}

	session := &models.AuditSession{
		ID:           uuid.NewString(),
		Status:       models.SessionAuditing,
		TargetDocIDs: append([]string(nil), targetDocIDs...),
		StartedAt:    c.now(),
	}
	c.session = session

	reviewing := models.StateReviewing
	for _, id := range targetDocIDs {
		c.st.Patch(id, store.Patch{State: &reviewing})
	}
	snapshot := *session
	c.mu.Unlock()

	req := StartRequest{SessionID: session.ID, Targets: targets, Options: opts}
	if err := c.backend.StartAudit(ctx, req); err != nil {
		slog.Warn("audit start failed, retrying once", "session_id", session.ID, "error", err)
		if err = c.backend.StartAudit(ctx, req); err != nil {
			c.abortStart(session.ID, err)
			return models.AuditSession{}, &Rejection{
				Code:    CodeTargetNotReady,
				Message: "audit backend unavailable: " + err.Error(),
			}
		}
	}

	slog.Info("audit started", "session_id", session.ID, "targets", len(targets))
	c.emit(snapshot)
	return snapshot, nil
}

// abortStart rolls an accepted-but-unstartable session back: targets revert
// to ready so the user can retry.
func (c *Controller) abortStart(sessionID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.ID != sessionID || c.session.Status != models.SessionAuditing {
		return
	}

	ready := models.StateReady
	for _, id := range c.session.TargetDocIDs {
		if rec := c.st.Get(id); rec != nil && rec.State == models.StateReviewing {
			c.st.Patch(id, store.Patch{State: &ready})
		}
	}
	c.session.Status = models.SessionError
	c.session.Error = &models.AuditError{Message: "audit could not be started: " + cause.Error()}
	c.session.EndedAt = c.now()
	c.emit(*c.session)
}

// RequestCancellation asks the backend to stop the running audit. It is a
// no-op outside auditing. The session transitions to cancelled only when the
// backend acknowledges, or after the bounded wait expires.
func (c *Controller) RequestCancellation(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil || c.session.Status != models.SessionAuditing {
		c.mu.Unlock()
		return nil
	}
	if c.session.CancellationRequested {
		c.mu.Unlock()
		return nil
	}
	c.session.CancellationRequested = true
	sessionID := c.session.ID
	c.ackTimer = c.afterFunc(c.cfg.CancelAckWait, func() {
		c.forceCancel(sessionID)
	})
	snapshot := *c.session
	c.mu.Unlock()

	c.emit(snapshot)

	if err := c.backend.CancelAudit(ctx, sessionID); err != nil {
		// The bounded wait recovers this path; surface nothing fatal.
		slog.Warn("audit cancel request failed", "session_id", sessionID, "error", err)
	}
	return nil
}

// forceCancel runs when the bounded wait elapses with no acknowledgment.
// Affected records are failed with an advisory error; this is a recovered,
// non-fatal condition.
func (c *Controller) forceCancel(sessionID string) {
	c.mu.Lock()
	if c.session == nil || c.session.ID != sessionID || c.session.Status != models.SessionAuditing {
		c.mu.Unlock()
		return
	}

	c.session.Status = models.SessionCancelled
	c.session.EndedAt = c.now()
	targets := append([]string(nil), c.session.TargetDocIDs...)
	snapshot := *c.session
	c.mu.Unlock()

	slog.Warn("audit cancellation unacknowledged, forcing", "session_id", sessionID)

	failed := models.StateFailed
	msg := "audit cancelled; the service did not confirm in time"
	for _, id := range targets {
		if rec := c.st.Get(id); rec != nil && rec.State == models.StateReviewing {
			c.st.Patch(id, store.Patch{State: &failed, ErrorMessage: &msg})
		}
	}
	c.emit(snapshot)
}

// observeStore keeps the session consistent when targets disappear: a
// removed target leaves the run, and a session with no targets left fails.
func (c *Controller) observeStore(ch store.Change) {
	if ch.Type != store.ChangeRemoved {
		return
	}

	c.mu.Lock()
	if c.session == nil || c.session.Status != models.SessionAuditing {
		c.mu.Unlock()
		return
	}
	kept := c.session.TargetDocIDs[:0]
	removed := false
	for _, id := range c.session.TargetDocIDs {
		if id == ch.Old.DocID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		c.mu.Unlock()
		return
	}
	c.session.TargetDocIDs = kept
	if len(kept) > 0 {
		c.mu.Unlock()
		return
	}
	c.session.Status = models.SessionError
	c.session.Error = &models.AuditError{Message: "all audit targets were removed"}
	c.session.EndedAt = c.now()
	snapshot := *c.session
	c.mu.Unlock()

	c.emit(snapshot)
}

// handlePushEvent consumes events the manager has already validated and
// applied. The first terminal signal wins; conflicting later ones are
// dropped and logged.
func (c *Controller) handlePushEvent(ev push.Event) {
	switch {
	case ev.Kind() == push.EventCancelAck:
		c.onCancelAck(ev)
	case ev.Kind() == push.EventState && ev.NewState == models.StateCompleted:
		c.onResult(ev)
	case ev.Kind() == push.EventState && ev.NewState == models.StateFailed:
		c.onError(ev)
	}
}

// targetOfSession reports whether docID belongs to the current session;
// callers hold c.mu.
func (c *Controller) targetOfSession(docID string) bool {
	if c.session == nil {
		return false
	}
	for _, id := range c.session.TargetDocIDs {
		if id == docID {
			return true
		}
	}
	return false
}

// cancelOn finishes a cancellation-requested session when a terminal signal
// for ev.DocID lands before the acknowledgment. The carrying document already
// holds the event's state; the remaining reviewing targets move to rest.
// Callers hold c.mu; it is released here.
func (c *Controller) cancelOn(ev push.Event, rest models.LifecycleState, kind string) {
	c.session.Status = models.SessionCancelled
	c.session.EndedAt = c.now()
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	targets := append([]string(nil), c.session.TargetDocIDs...)
	snapshot := *c.session
	c.mu.Unlock()

	for _, id := range targets {
		if id == ev.DocID {
			continue
		}
		if rec := c.st.Get(id); rec != nil && rec.State == models.StateReviewing {
			state := rest
			c.st.Patch(id, store.Patch{State: &state})
		}
	}

	slog.Warn("terminal audit signal after cancellation request, session cancelled",
		"kind", kind, "session_id", snapshot.ID)
	c.emit(snapshot)
}

func (c *Controller) dropConflicting(kind string) {
	slog.Warn("conflicting terminal audit signal dropped",
		"kind", kind, "status", c.session.Status, "session_id", c.session.ID)
}

func (c *Controller) onResult(ev push.Event) {
	c.mu.Lock()
	if !c.targetOfSession(ev.DocID) {
		c.mu.Unlock()
		return
	}
	if c.session.Status != models.SessionAuditing {
		c.dropConflicting("result")
		c.mu.Unlock()
		return
	}
	if c.session.CancellationRequested {
		// The run finished before the backend saw the cancel. Only the
		// cancelled transition is permitted now; the finished targets keep
		// their completed state.
		c.cancelOn(ev, models.StateCompleted, "result")
		return
	}

	raw := report.RawResult{}
	if ev.Payload != nil {
		raw.Findings = ev.Payload.Findings
		raw.ReportedTotal = ev.Payload.ReportedTotal
	}
	rep := report.Aggregate(raw)

	c.session.Status = models.SessionSuccess
	c.session.Result = &rep
	c.session.EndedAt = c.now()
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	targets := append([]string(nil), c.session.TargetDocIDs...)
	snapshot := *c.session
	c.mu.Unlock()

	completed := models.StateCompleted
	for _, id := range targets {
		if id == ev.DocID {
			continue // the manager already applied this one
		}
		if rec := c.st.Get(id); rec != nil && rec.State == models.StateReviewing {
			c.st.Patch(id, store.Patch{State: &completed})
		}
	}

	slog.Info("audit finished", "session_id", snapshot.ID, "findings", rep.TotalFindings)
	c.emit(snapshot)
}

func (c *Controller) onError(ev push.Event) {
	c.mu.Lock()
	if !c.targetOfSession(ev.DocID) {
		c.mu.Unlock()
		return
	}
	if c.session.Status != models.SessionAuditing {
		c.dropConflicting("error")
		c.mu.Unlock()
		return
	}
	if c.session.CancellationRequested {
		// The run died before acknowledging the cancel; remaining targets
		// revert to ready so the user may retry.
		c.cancelOn(ev, models.StateReady, "error")
		return
	}

	msg := "audit failed"
	if ev.Payload != nil && ev.Payload.Error != "" {
		msg = ev.Payload.Error
	}

	c.session.Status = models.SessionError
	c.session.Error = &models.AuditError{Message: msg}
	c.session.EndedAt = c.now()
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	targets := append([]string(nil), c.session.TargetDocIDs...)
	snapshot := *c.session
	c.mu.Unlock()

	failed := models.StateFailed
	for _, id := range targets {
		if id == ev.DocID {
			continue
		}
		if rec := c.st.Get(id); rec != nil && rec.State == models.StateReviewing {
			c.st.Patch(id, store.Patch{State: &failed, ErrorMessage: &msg})
		}
	}
	c.emit(snapshot)
}

func (c *Controller) onCancelAck(ev push.Event) {
	c.mu.Lock()
	if !c.targetOfSession(ev.DocID) {
		c.mu.Unlock()
		return
	}
	if c.session.Status != models.SessionAuditing {
		c.dropConflicting("cancelled-ack")
		c.mu.Unlock()
		return
	}

	var completedIDs []string
	if ev.Payload != nil {
		completedIDs = ev.Payload.CompletedDocIDs
	}

	c.session.Status = models.SessionCancelled
	c.session.EndedAt = c.now()
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	targets := append([]string(nil), c.session.TargetDocIDs...)
	snapshot := *c.session
	c.mu.Unlock()

	completedSet := make(map[string]bool, len(completedIDs))
	for _, id := range completedIDs {
		completedSet[id] = true
	}

	// Partially completed targets keep their result; the rest revert to
	// ready so the user may retry.
	completed := models.StateCompleted
	ready := models.StateReady
	for _, id := range targets {
		rec := c.st.Get(id)
		if rec == nil || rec.State != models.StateReviewing {
			continue
		}
		if completedSet[id] {
			c.st.Patch(id, store.Patch{State: &completed})
		} else {
			c.st.Patch(id, store.Patch{State: &ready})
		}
	}

	slog.Info("audit cancelled by backend acknowledgment", "session_id", snapshot.ID)
	c.emit(snapshot)
}

func (c *Controller) emit(s models.AuditSession) {
	select {
	case c.notifications <- s:
	default:
		slog.Warn("audit notification dropped, consumer lagging", "session_id", s.ID)
	}
}
