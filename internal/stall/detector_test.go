package stall

import (
	"sync"
	"testing"
	"time"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/store"
)

// manualTimer lets the test drive expiry by hand.
type manualTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.stopped
	m.stopped = true
	return !was
}

func (m *manualTimer) expire() {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if !stopped {
		m.fn()
	}
}

// fire runs the callback even after Stop, modeling a real timer whose
// expiry was already in flight when Stop returned false.
func (m *manualTimer) fire() {
	m.fn()
}

type timerFactory struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (f *timerFactory) afterFunc(d time.Duration, fn func()) timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &manualTimer{fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *timerFactory) last() *manualTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return nil
	}
	return f.timers[len(f.timers)-1]
}

func (f *timerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func newTestDetector(st *store.Store) (*Detector, *timerFactory) {
	d := New(st, DefaultConfig())
	f := &timerFactory{}
	d.afterFunc = f.afterFunc
	return d, f
}

func stateP(s models.LifecycleState) *models.LifecycleState { return &s }

func TestAdvisoryFiresForStalledUpload(t *testing.T) {
	st := store.New()
	d, f := newTestDetector(st)
	defer d.Stop()

	st.Create(store.CreateRequest{DocID: "d1", Name: "a.pdf"})
	if f.count() != 1 {
		t.Fatalf("timer count = %d, want 1 armed on create", f.count())
	}

	f.last().expire()

	select {
	case adv := <-d.Advisories():
		if adv.DocID != "d1" || adv.State != models.StateUploading {
			t.Errorf("advisory = %+v, want d1/uploading", adv)
		}
		if adv.After != DefaultConfig().UploadThreshold {
			t.Errorf("advisory.After = %v, want upload threshold", adv.After)
		}
	default:
		t.Fatal("no advisory after expiry")
	}
}

func TestTransitionDisarmsAndRearms(t *testing.T) {
	st := store.New()
	d, f := newTestDetector(st)
	defer d.Stop()

	st.Create(store.CreateRequest{DocID: "d1", Name: "a.pdf"})
	uploadTimer := f.last()

	st.Patch("d1", store.Patch{State: stateP(models.StateProcessing)})
	if !uploadTimer.stopped {
		t.Error("upload timer still armed after transition")
	}
	if f.count() != 2 {
		t.Fatalf("timer count = %d, want re-arm for processing", f.count())
	}

	// firing the stale timer after disarm must not emit
	uploadTimer.expire()
	select {
	case adv := <-d.Advisories():
		t.Errorf("stale timer emitted advisory %+v", adv)
	default:
	}

	f.last().expire()
	select {
	case adv := <-d.Advisories():
		if adv.State != models.StateProcessing {
			t.Errorf("advisory state = %s, want processing", adv.State)
		}
	default:
		t.Fatal("no advisory for stalled processing")
	}
}

func TestInFlightExpiryAfterRearmDoesNotEmit(t *testing.T) {
	st := store.New()
	d, f := newTestDetector(st)
	defer d.Stop()

	st.Create(store.CreateRequest{DocID: "d1", Name: "a.pdf"})
	uploadTimer := f.last()

	// the transition re-arms while the upload timer's expiry is in flight
	st.Patch("d1", store.Patch{State: stateP(models.StateProcessing)})
	uploadTimer.fire()

	select {
	case adv := <-d.Advisories():
		t.Errorf("in-flight stale expiry emitted advisory %+v", adv)
	default:
	}

	// the replacement timer must survive the stale expiry
	f.last().expire()
	select {
	case adv := <-d.Advisories():
		if adv.State != models.StateProcessing {
			t.Errorf("advisory state = %s, want processing", adv.State)
		}
	default:
		t.Fatal("processing advisory was swallowed")
	}
}

func TestReadyStateIsNotWatched(t *testing.T) {
	st := store.New()
	d, f := newTestDetector(st)
	defer d.Stop()

	st.Create(store.CreateRequest{DocID: "d1", Name: "a.pdf"})
	st.Patch("d1", store.Patch{State: stateP(models.StateProcessing)})
	st.Patch("d1", store.Patch{State: stateP(models.StateReady)})

	if f.count() != 2 {
		t.Errorf("timer count = %d, want 2 (no timer for ready)", f.count())
	}
}

func TestRemovalDisarms(t *testing.T) {
	st := store.New()
	d, f := newTestDetector(st)
	defer d.Stop()

	st.Create(store.CreateRequest{DocID: "d1", Name: "a.pdf"})
	st.Remove("d1", false)

	f.last().expire()
	select {
	case adv := <-d.Advisories():
		t.Errorf("removed document emitted advisory %+v", adv)
	default:
	}
}

func TestAdvisoryFiresOncePerPeriod(t *testing.T) {
	st := store.New()
	d, f := newTestDetector(st)
	defer d.Stop()

	st.Create(store.CreateRequest{DocID: "d1", Name: "a.pdf"})
	f.last().expire()
	f.last().expire() // double delivery of the same expiry

	count := 0
	for {
		select {
		case <-d.Advisories():
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Errorf("got %d advisories, want 1", count)
	}
}

func TestWatchArmsExistingRecord(t *testing.T) {
	st := store.New()
	st.Create(store.CreateRequest{DocID: "d1", Name: "a.pdf"})

	// detector attaches after the record exists
	d, f := newTestDetector(st)
	defer d.Stop()

	if f.count() != 0 {
		t.Fatalf("timer count = %d before Watch, want 0", f.count())
	}
	d.Watch("d1")
	if f.count() != 1 {
		t.Errorf("timer count = %d after Watch, want 1", f.count())
	}
}
