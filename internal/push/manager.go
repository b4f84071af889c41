package push

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/store"
)

// Config bounds the manager's reconnection behavior.
type Config struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	MaxReconnects    int
}

// DefaultConfig returns the reconnect bounds used when none are supplied.
func DefaultConfig() Config {
	return Config{
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		MaxReconnects:    8,
	}
}

type subscription struct {
	jobID  string
	docID  string
	cancel context.CancelFunc
}

// Manager maintains at most one open push subscription per (jobID, docID)
// pair and translates inbound events into store patches. Closing a
// subscription never cancels backend work; it only stops local updates.
type Manager struct {
	store     *store.Store
	transport Transport
	cfg       Config

	mu   sync.Mutex
	subs map[string]*subscription // keyed by docID

	consumerMu sync.Mutex
	consumers  []func(Event)

	after          func(time.Duration) <-chan time.Time
	cancelObserver func()
}

// NewManager wires a manager to the store and transport. The store observer
// implements the activation rule: entering reviewing opens a subscription,
// entering a terminal state or removal closes it.
func NewManager(st *store.Store, transport Transport, cfg Config) *Manager {
	if cfg.ReconnectInitial <= 0 {
		cfg = DefaultConfig()
	}
	m := &Manager{
		store:     st,
		transport: transport,
		cfg:       cfg,
		subs:      make(map[string]*subscription),
		after:     time.After,
	}
	m.cancelObserver = st.Subscribe(m.observe)
	return m
}

// Notify registers fn to receive every event the manager accepts, after it
// has been applied to the store. The audit controller observes terminal
// audit events this way instead of keeping a second write path.
func (m *Manager) Notify(fn func(Event)) {
	m.consumerMu.Lock()
	m.consumers = append(m.consumers, fn)
	m.consumerMu.Unlock()
}

func (m *Manager) observe(ch store.Change) {
	switch ch.Type {
	case store.ChangeUpdated:
		if ch.New.State == models.StateReviewing && ch.Old.State != models.StateReviewing {
			m.Open(ch.New.JobID, ch.New.DocID)
		}
		if ch.New.State.Terminal() {
			m.Close(ch.New.DocID)
		}
	case store.ChangeRemoved:
		m.Close(ch.Old.DocID)
	}
}

// Open starts a subscription for the pair. Calling twice with the same pair
// is a no-op; a different jobID for the same docID closes the prior
// subscription first. A missing jobID is a logged no-op.
func (m *Manager) Open(jobID, docID string) {
	if jobID == "" {
		slog.Info("push open skipped, no job id yet", "doc_id", docID)
		return
	}

	m.mu.Lock()
	if existing, ok := m.subs[docID]; ok {
		if existing.jobID == jobID {
			m.mu.Unlock()
			return
		}
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{jobID: jobID, docID: docID, cancel: cancel}
	m.subs[docID] = sub
	m.mu.Unlock()

	go m.run(ctx, sub)
}

// Close tears down the subscription for docID; safe when none is open.
func (m *Manager) Close(docID string) {
	m.mu.Lock()
	sub, ok := m.subs[docID]
	if ok {
		delete(m.subs, docID)
	}
	m.mu.Unlock()

	if ok {
		sub.cancel()
	}
}

// Shutdown closes every subscription and detaches from the store.
func (m *Manager) Shutdown() {
	m.cancelObserver()

	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, s := range subs {
		s.cancel()
	}
}

func (m *Manager) run(ctx context.Context, sub *subscription) {
	attempts := 0
	backoff := m.cfg.ReconnectInitial

	for {
		events, err := m.transport.Subscribe(ctx, sub.jobID, sub.docID)
		if err == nil {
			attempts = 0
			backoff = m.cfg.ReconnectInitial
			for ev := range events {
				m.apply(sub, ev)
			}
		}

		if ctx.Err() != nil {
			return
		}

		// The channel dropped (or never opened). Reconnecting is our job;
		// surfacing the delay to the user is the stall detector's.
		rec := m.store.Get(sub.docID)
		if rec == nil || rec.State.Terminal() {
			m.Close(sub.docID)
			return
		}

		attempts++
		if attempts > m.cfg.MaxReconnects {
			slog.Error("push reconnect budget exhausted",
				"doc_id", sub.docID, "job_id", sub.jobID, "attempts", attempts-1)
			m.failDisconnected(sub.docID)
			m.Close(sub.docID)
			return
		}

		slog.Warn("push channel dropped, reconnecting",
			"doc_id", sub.docID, "attempt", attempts, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-m.after(backoff):
		}

		backoff *= 2
		if backoff > m.cfg.ReconnectMax {
			backoff = m.cfg.ReconnectMax
		}
	}
}

func (m *Manager) failDisconnected(docID string) {
	failed := models.StateFailed
	msg := "lost connection to the processing service"
	m.store.Patch(docID, store.Patch{State: &failed, ErrorMessage: &msg})
}

func (m *Manager) apply(sub *subscription, ev Event) {
	if ev.DocID == "" {
		ev.DocID = sub.docID
	}
	if ev.DocID != sub.docID {
		slog.Warn("push event for wrong document dropped",
			"subscribed", sub.docID, "got", ev.DocID)
		return
	}

	switch ev.Kind() {
	case EventCancelAck:
		// No store mutation here; the audit controller decides which
		// targets complete and which revert.
		m.fanOut(ev)
		return
	case EventState:
	default:
		slog.Warn("unknown push event type dropped", "type", ev.Type, "doc_id", ev.DocID)
		return
	}

	rec := m.store.Get(ev.DocID)
	if rec == nil {
		slog.Info("push event for removed document dropped", "doc_id", ev.DocID)
		return
	}
	if ev.NewState != rec.State && !rec.State.CanTransition(ev.NewState) {
		slog.Warn("out-of-order push transition dropped",
			"doc_id", ev.DocID, "from", rec.State, "to", ev.NewState)
		return
	}

	p := store.Patch{}
	if ev.NewState != rec.State {
		state := ev.NewState
		p.State = &state
	}
	if pl := ev.Payload; pl != nil {
		p.Progress = pl.Progress
		p.SegmentsCount = pl.SegmentsCount
		p.PageCount = pl.PageCount
		if pl.Error != "" && ev.NewState == models.StateFailed {
			msg := pl.Error
			p.ErrorMessage = &msg
		}
	}

	if m.store.Patch(ev.DocID, p) {
		m.fanOut(ev)
	}
}

func (m *Manager) fanOut(ev Event) {
	m.consumerMu.Lock()
	consumers := append([]func(Event){}, m.consumers...)
	m.consumerMu.Unlock()

	for _, fn := range consumers {
		fn(ev)
	}
}
