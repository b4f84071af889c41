// Package stall raises advisory signals when a document sits in a transient
// state longer than expected. Advisories never mutate lifecycle state and
// carry no cancellation authority.
package stall

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/store"
)

// Config holds the per-state thresholds. The upload threshold is shorter:
// a silent upload goes wrong faster than a silent processing job.
type Config struct {
	UploadThreshold     time.Duration
	ProcessingThreshold time.Duration
}

// DefaultConfig mirrors the thresholds observed in the reference client.
func DefaultConfig() Config {
	return Config{
		UploadThreshold:     20 * time.Second,
		ProcessingThreshold: 90 * time.Second,
	}
}

// Advisory is a dismissible, non-blocking hint that a document has been in
// State for at least After without a transition.
type Advisory struct {
	DocID string
	State models.LifecycleState
	After time.Duration
}

type timer interface {
	Stop() bool
}

// armedTimer pairs a timer with the generation it was armed under. A real
// timer's callback can already be in flight when Stop returns false; the
// generation lets fire tell its own arming apart from a later one.
type armedTimer struct {
	t   timer
	gen uint64
}

// Detector watches the store and arms one timer per record in a watched
// state. A timer fires at most once per continuous period; re-entering the
// state re-arms it.
type Detector struct {
	st  *store.Store
	cfg Config

	mu     sync.Mutex
	timers map[string]armedTimer
	gen    uint64

	advisories chan Advisory

	// afterFunc is swapped in tests to drive expiry by hand.
	afterFunc      func(d time.Duration, fn func()) timer
	cancelObserver func()
}

// New attaches a detector to the store.
func New(st *store.Store, cfg Config) *Detector {
	if cfg.ProcessingThreshold <= 0 {
		cfg = DefaultConfig()
	}
	d := &Detector{
		st:         st,
		cfg:        cfg,
		timers:     make(map[string]armedTimer),
		advisories: make(chan Advisory, 32),
		afterFunc: func(dur time.Duration, fn func()) timer {
			return time.AfterFunc(dur, fn)
		},
	}
	d.cancelObserver = st.Subscribe(d.observe)
	return d
}

// Watch arms a timer for docID based on its current state. The store
// observer does this automatically for new records; Watch covers records
// that existed before the detector attached.
func (d *Detector) Watch(docID string) {
	rec := d.st.Get(docID)
	if rec == nil {
		return
	}
	d.arm(rec.DocID, rec.State)
}

// Advisories returns the stream consumed by the presentation layer.
func (d *Detector) Advisories() <-chan Advisory {
	return d.advisories
}

// Stop cancels all timers and detaches from the store.
func (d *Detector) Stop() {
	d.cancelObserver()

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, at := range d.timers {
		at.t.Stop()
		delete(d.timers, id)
	}
}

func (d *Detector) observe(ch store.Change) {
	switch ch.Type {
	case store.ChangeCreated:
		d.arm(ch.New.DocID, ch.New.State)
	case store.ChangeUpdated:
		if ch.Old.State == ch.New.State {
			return
		}
		d.disarm(ch.New.DocID)
		d.arm(ch.New.DocID, ch.New.State)
	case store.ChangeRemoved:
		d.disarm(ch.Old.DocID)
	}
}

func (d *Detector) threshold(state models.LifecycleState) (time.Duration, bool) {
	switch state {
	case models.StateUploading:
		return d.cfg.UploadThreshold, true
	case models.StateProcessing:
		return d.cfg.ProcessingThreshold, true
	}
	return 0, false
}

func (d *Detector) arm(docID string, state models.LifecycleState) {
	after, ok := d.threshold(state)
	if !ok {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.timers[docID]; exists {
		return
	}
	d.gen++
	gen := d.gen
	d.timers[docID] = armedTimer{
		t:   d.afterFunc(after, func() { d.fire(docID, state, after, gen) }),
		gen: gen,
	}
}

func (d *Detector) disarm(docID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.timers[docID]; ok {
		at.t.Stop()
		delete(d.timers, docID)
	}
}

func (d *Detector) fire(docID string, state models.LifecycleState, after time.Duration, gen uint64) {
	d.mu.Lock()
	at, ok := d.timers[docID]
	if !ok || at.gen != gen {
		// disarmed, or the state was re-entered and a new timer owns the slot
		d.mu.Unlock()
		return
	}
	delete(d.timers, docID)
	d.mu.Unlock()

	adv := Advisory{DocID: docID, State: state, After: after}
	select {
	case d.advisories <- adv:
	default:
		slog.Warn("stall advisory dropped, consumer lagging", "doc_id", docID, "state", state)
	}
}
