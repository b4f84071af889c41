package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coralchat/docsync/internal/auditor"
	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/stall"
	"github.com/coralchat/docsync/internal/store"
	"github.com/coralchat/docsync/internal/view"
)

// stallEvent is the wire form of a stall advisory.
type stallEvent struct {
	DocID        string `json:"doc_id"`
	State        string `json:"state"`
	AfterSeconds int    `json:"after_seconds"`
}

// uiEvent is one server-sent event pushed to the browser.
type uiEvent struct {
	Kind     string      `json:"kind"` // document, stall, session
	Document interface{} `json:"document,omitempty"`
	Removed  string      `json:"removed,omitempty"`
	Stall    interface{} `json:"stall,omitempty"`
	Session  interface{} `json:"session,omitempty"`
}

// EventHub fans store changes, stall advisories and audit session updates
// out to any number of SSE clients. Slow clients lose events rather than
// blocking the sources.
type EventHub struct {
	mu      sync.Mutex
	clients map[int]chan uiEvent
	nextID  int

	cancelStore func()
	done        chan struct{}
	onSession   func(models.AuditSession)
}

// NewEventHub starts pumping events from the three sources. onSession, when
// non-nil, also receives every session snapshot (the journal hangs off it).
func NewEventHub(st *store.Store, det *stall.Detector, ctrl *auditor.Controller, onSession func(models.AuditSession)) *EventHub {
	h := &EventHub{
		clients:   make(map[int]chan uiEvent),
		done:      make(chan struct{}),
		onSession: onSession,
	}

	h.cancelStore = st.Subscribe(func(ch store.Change) {
		ev := uiEvent{Kind: "document"}
		switch {
		case ch.Type == store.ChangeRemoved && ch.Old != nil:
			ev.Removed = ch.Old.DocID
		case ch.New != nil:
			ev.Document = view.DocumentViewFor(*ch.New)
		default:
			return
		}
		h.broadcast(ev)
	})

	go h.pump(det, ctrl)
	return h
}

func (h *EventHub) pump(det *stall.Detector, ctrl *auditor.Controller) {
	for {
		select {
		case <-h.done:
			return
		case adv := <-det.Advisories():
			h.broadcast(uiEvent{Kind: "stall", Stall: stallEvent{
				DocID:        adv.DocID,
				State:        string(adv.State),
				AfterSeconds: int(adv.After.Seconds()),
			}})
		case session := <-ctrl.Notifications():
			if h.onSession != nil {
				h.onSession(session)
			}
			h.broadcast(uiEvent{Kind: "session", Session: session})
		}
	}
}

func (h *EventHub) broadcast(ev uiEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *EventHub) subscribe() (int, chan uiEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan uiEvent, 64)
	h.clients[id] = ch
	return id, ch
}

func (h *EventHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Close detaches the hub from its sources.
func (h *EventHub) Close() {
	h.cancelStore()
	close(h.done)
}

// Stream is the SSE endpoint the document list subscribes to.
func (h *EventHub) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	id, ch := h.subscribe()
	defer h.unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
