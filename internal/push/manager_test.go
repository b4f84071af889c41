package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/store"
)

// fakeTransport hands the test a controllable event channel per document.
type fakeTransport struct {
	mu         sync.Mutex
	chans      map[string]chan Event
	subscribes map[string]int
	failing    bool
	subscribed chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		chans:      make(map[string]chan Event),
		subscribes: make(map[string]int),
		subscribed: make(chan string, 16),
	}
}

func (f *fakeTransport) Subscribe(ctx context.Context, jobID, docID string) (<-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes[docID]++
	if f.failing {
		return nil, errors.New("connection refused")
	}
	ch := make(chan Event, 16)
	f.chans[docID] = ch
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				out <- ev
			}
		}
	}()
	select {
	case f.subscribed <- docID:
	default:
	}
	return out, nil
}

func (f *fakeTransport) send(docID string, ev Event) {
	f.mu.Lock()
	ch := f.chans[docID]
	f.mu.Unlock()
	ch <- ev
}

func (f *fakeTransport) subscribeCount(docID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[docID]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stateP(s models.LifecycleState) *models.LifecycleState { return &s }

// readyDoc creates a record and walks it to ready with a job id.
func readyDoc(st *store.Store, docID, jobID string) {
	st.Create(store.CreateRequest{DocID: docID, Name: docID + ".pdf"})
	st.Patch(docID, store.Patch{State: stateP(models.StateProcessing), JobID: &jobID})
	st.Patch(docID, store.Patch{State: stateP(models.StateReady)})
}

func TestReviewingEntryOpensSubscription(t *testing.T) {
	st := store.New()
	tr := newFakeTransport()
	m := NewManager(st, tr, DefaultConfig())
	defer m.Shutdown()

	readyDoc(st, "d1", "j1")
	st.Patch("d1", store.Patch{State: stateP(models.StateReviewing)})

	waitFor(t, "subscription", func() bool { return tr.subscribeCount("d1") == 1 })

	// applying a state event moves the record and closes on terminal
	tr.send("d1", Event{DocID: "d1", NewState: models.StateCompleted})
	waitFor(t, "completed state", func() bool {
		return st.Get("d1").State == models.StateCompleted
	})
}

func TestOpenIdempotentPerPair(t *testing.T) {
	st := store.New()
	tr := newFakeTransport()
	m := NewManager(st, tr, DefaultConfig())
	defer m.Shutdown()

	readyDoc(st, "d1", "j1")
	m.Open("j1", "d1")
	waitFor(t, "first subscribe", func() bool { return tr.subscribeCount("d1") == 1 })
	m.Open("j1", "d1")

	time.Sleep(20 * time.Millisecond)
	if got := tr.subscribeCount("d1"); got != 1 {
		t.Errorf("subscribe count = %d, want 1", got)
	}
}

func TestOpenWithoutJobIDIsNoOp(t *testing.T) {
	st := store.New()
	tr := newFakeTransport()
	m := NewManager(st, tr, DefaultConfig())
	defer m.Shutdown()

	m.Open("", "d1")
	time.Sleep(20 * time.Millisecond)
	if got := tr.subscribeCount("d1"); got != 0 {
		t.Errorf("subscribe count = %d, want 0", got)
	}
}

func TestIllegalTransitionEventDropped(t *testing.T) {
	st := store.New()
	tr := newFakeTransport()
	m := NewManager(st, tr, DefaultConfig())
	defer m.Shutdown()

	readyDoc(st, "d1", "j1")
	m.Open("j1", "d1")
	waitFor(t, "subscribe", func() bool { return tr.subscribeCount("d1") == 1 })

	tr.send("d1", Event{DocID: "d1", NewState: models.StateUploading})
	time.Sleep(20 * time.Millisecond)
	if st.Get("d1").State != models.StateReady {
		t.Errorf("state = %s, want ready after dropped event", st.Get("d1").State)
	}

	// the channel survives a dropped event
	tr.send("d1", Event{DocID: "d1", NewState: models.StateReviewing})
	waitFor(t, "reviewing", func() bool { return st.Get("d1").State == models.StateReviewing })
}

func TestReconnectExhaustionFailsRecord(t *testing.T) {
	st := store.New()
	tr := newFakeTransport()
	tr.failing = true

	m := NewManager(st, tr, Config{
		ReconnectInitial: time.Millisecond,
		ReconnectMax:     time.Millisecond,
		MaxReconnects:    3,
	})
	defer m.Shutdown()
	m.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	readyDoc(st, "d1", "j1")
	m.Open("j1", "d1")

	waitFor(t, "record failed", func() bool {
		return st.Get("d1").State == models.StateFailed
	})
	if msg := st.Get("d1").ErrorMessage; msg == "" {
		t.Error("failed record should carry a connectivity error message")
	}
}

func TestCancelAckFansOutWithoutStoreMutation(t *testing.T) {
	st := store.New()
	tr := newFakeTransport()
	m := NewManager(st, tr, DefaultConfig())
	defer m.Shutdown()

	readyDoc(st, "d1", "j1")
	st.Patch("d1", store.Patch{State: stateP(models.StateReviewing)})
	waitFor(t, "subscribe", func() bool { return tr.subscribeCount("d1") == 1 })

	got := make(chan Event, 1)
	m.Notify(func(ev Event) {
		if ev.Kind() == EventCancelAck {
			got <- ev
		}
	})

	tr.send("d1", Event{Type: EventCancelAck, DocID: "d1", Payload: &Payload{CompletedDocIDs: []string{"d1"}}})

	select {
	case ev := <-got:
		if len(ev.Payload.CompletedDocIDs) != 1 {
			t.Errorf("CompletedDocIDs = %v, want [d1]", ev.Payload.CompletedDocIDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel ack never fanned out")
	}

	if st.Get("d1").State != models.StateReviewing {
		t.Errorf("cancel ack mutated store state to %s", st.Get("d1").State)
	}
}

func TestEventsRouteToTheirOwnDocument(t *testing.T) {
	st := store.New()
	tr := newFakeTransport()
	m := NewManager(st, tr, DefaultConfig())
	defer m.Shutdown()

	readyDoc(st, "d1", "j1")
	readyDoc(st, "d2", "j2")
	m.Open("j1", "d1")
	m.Open("j2", "d2")
	waitFor(t, "both subscribed", func() bool {
		return tr.subscribeCount("d1") == 1 && tr.subscribeCount("d2") == 1
	})

	tr.send("d1", Event{DocID: "d1", NewState: models.StateReviewing})
	tr.send("d2", Event{DocID: "d2", NewState: models.StateFailed, Payload: &Payload{Error: "broke"}})

	waitFor(t, "interleaved application", func() bool {
		return st.Get("d1").State == models.StateReviewing && st.Get("d2").State == models.StateFailed
	})
	if st.Get("d2").ErrorMessage != "broke" {
		t.Errorf("d2 error = %q, want broke", st.Get("d2").ErrorMessage)
	}
	if st.Get("d1").ErrorMessage != "" {
		t.Error("d1 picked up d2's error")
	}
}

func TestManagerOverMemoryTransport(t *testing.T) {
	st := store.New()
	tr := NewMemoryTransport()
	m := NewManager(st, tr, DefaultConfig())
	defer m.Shutdown()

	readyDoc(st, "d1", "j1")
	m.Open("j1", "d1")

	// publishing before the subscription settles would race; wait for the
	// ready event to be observable through the store instead
	waitFor(t, "published event applied", func() bool {
		tr.Publish(context.Background(), "j1", "d1", Event{DocID: "d1", NewState: models.StateReviewing})
		return st.Get("d1").State == models.StateReviewing
	})
}

func TestWrongDocumentEventDropped(t *testing.T) {
	st := store.New()
	tr := newFakeTransport()
	m := NewManager(st, tr, DefaultConfig())
	defer m.Shutdown()

	readyDoc(st, "d1", "j1")
	m.Open("j1", "d1")
	waitFor(t, "subscribe", func() bool { return tr.subscribeCount("d1") == 1 })

	tr.send("d1", Event{DocID: "other", NewState: models.StateFailed})
	time.Sleep(20 * time.Millisecond)
	if st.Get("d1").State != models.StateReady {
		t.Errorf("state = %s, want ready after cross-doc event dropped", st.Get("d1").State)
	}
}
