package store

import (
	"testing"
	"time"

	"github.com/coralchat/docsync/internal/models"
)

func stateP(s models.LifecycleState) *models.LifecycleState { return &s }
func intP(n int) *int                                       { return &n }
func strP(s string) *string                                 { return &s }

func TestCreateDefaults(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{Name: "report.pdf", MimeType: "application/pdf", SizeBytes: 1024})
	if id == "" {
		t.Fatal("Create returned empty docID")
	}

	rec := st.Get(id)
	if rec == nil {
		t.Fatal("record not found after Create")
	}
	if rec.State != models.StateUploading {
		t.Errorf("new record state = %s, want uploading", rec.State)
	}
	if rec.Progress != 0 {
		t.Errorf("new record progress = %d, want 0", rec.Progress)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreateKeepsCallerID(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{DocID: "doc-1", Name: "a.txt"})
	if id != "doc-1" {
		t.Errorf("Create returned %q, want doc-1", id)
	}
}

func TestPatchLifecycle(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{Name: "a.pdf"})

	if !st.Patch(id, Patch{State: stateP(models.StateProcessing)}) {
		t.Fatal("uploading -> processing should apply")
	}
	if !st.Patch(id, Patch{State: stateP(models.StateReady), SegmentsCount: intP(12), PageCount: intP(3)}) {
		t.Fatal("processing -> ready should apply")
	}

	rec := st.Get(id)
	if rec.State != models.StateReady || rec.SegmentsCount != 12 || rec.PageCount == nil || *rec.PageCount != 3 {
		t.Errorf("unexpected record after ready patch: %+v", rec)
	}
}

func TestPatchIllegalTransitionDropped(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{Name: "a.pdf"})

	if st.Patch(id, Patch{State: stateP(models.StateCompleted)}) {
		t.Error("uploading -> completed should be dropped")
	}
	if rec := st.Get(id); rec.State != models.StateUploading {
		t.Errorf("state changed by dropped patch: %s", rec.State)
	}
}

func TestPatchUnknownDocIsNoOp(t *testing.T) {
	st := New()
	if st.Patch("missing", Patch{Progress: intP(50)}) {
		t.Error("patch of unknown doc should report false")
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{Name: "a.pdf"})
	st.Patch(id, Patch{State: stateP(models.StateFailed), ErrorMessage: strP("boom")})

	if st.Patch(id, Patch{State: stateP(models.StateProcessing)}) {
		t.Error("failed record should accept no transition")
	}
	rec := st.Get(id)
	if rec.State != models.StateFailed || rec.ErrorMessage != "boom" {
		t.Errorf("terminal record mutated: %+v", rec)
	}
}

func TestProgressMonotonicWithinPhase(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{Name: "a.pdf"})

	st.Patch(id, Patch{Progress: intP(40)})
	st.Patch(id, Patch{Progress: intP(20)}) // regression dropped
	if rec := st.Get(id); rec.Progress != 40 {
		t.Errorf("progress = %d, want 40 after regression dropped", rec.Progress)
	}

	st.Patch(id, Patch{Progress: intP(250)})
	if rec := st.Get(id); rec.Progress != 100 {
		t.Errorf("progress = %d, want clamp to 100", rec.Progress)
	}

	// entering processing restarts the scale
	st.Patch(id, Patch{State: stateP(models.StateProcessing)})
	if rec := st.Get(id); rec.Progress != 0 {
		t.Errorf("progress = %d, want reset to 0 on processing entry", rec.Progress)
	}
	st.Patch(id, Patch{Progress: intP(10)})
	if rec := st.Get(id); rec.Progress != 10 {
		t.Errorf("progress = %d, want 10 in new phase", rec.Progress)
	}
}

func TestErrorMessageOnlyWhenFailed(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{Name: "a.pdf"})

	st.Patch(id, Patch{ErrorMessage: strP("ignored")})
	if rec := st.Get(id); rec.ErrorMessage != "" {
		t.Errorf("error message set on non-failed record: %q", rec.ErrorMessage)
	}
}

func TestRemoveRefusesInFlight(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{Name: "a.pdf"})
	st.Patch(id, Patch{State: stateP(models.StateProcessing)})

	if st.Remove(id, false) {
		t.Error("processing record removed without force")
	}
	if !st.Remove(id, true) {
		t.Error("force removal should succeed")
	}
	if st.Get(id) != nil {
		t.Error("record still present after removal")
	}
}

func TestListStableOrder(t *testing.T) {
	st := New()
	now := time.Now()
	st.now = func() time.Time { now = now.Add(time.Millisecond); return now }

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		ids = append(ids, st.Create(CreateRequest{Name: name}))
	}
	st.Remove(ids[1], false)

	list := st.List()
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].DocID != ids[0] || list[1].DocID != ids[2] {
		t.Errorf("List order = [%s %s], want [%s %s]", list[0].DocID, list[1].DocID, ids[0], ids[2])
	}
}

func TestSubscribeDeliversChanges(t *testing.T) {
	st := New()
	var changes []Change
	cancel := st.Subscribe(func(ch Change) { changes = append(changes, ch) })

	id := st.Create(CreateRequest{Name: "a.pdf"})
	st.Patch(id, Patch{State: stateP(models.StateProcessing)})
	st.Remove(id, true)

	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(changes))
	}
	if changes[0].Type != ChangeCreated || changes[0].New == nil {
		t.Errorf("first change = %+v, want created with New", changes[0])
	}
	if changes[1].Type != ChangeUpdated || changes[1].Old.State != models.StateUploading || changes[1].New.State != models.StateProcessing {
		t.Errorf("second change = %+v, want uploading -> processing", changes[1])
	}
	if changes[2].Type != ChangeRemoved || changes[2].Old == nil {
		t.Errorf("third change = %+v, want removed with Old", changes[2])
	}

	cancel()
	st.Create(CreateRequest{Name: "b.pdf"})
	if len(changes) != 3 {
		t.Error("cancelled subscriber still notified")
	}
}

func TestDroppedPatchNotifiesNobody(t *testing.T) {
	st := New()
	id := st.Create(CreateRequest{Name: "a.pdf"})

	count := 0
	st.Subscribe(func(Change) { count++ })

	st.Patch(id, Patch{State: stateP(models.StateCompleted)}) // illegal
	if count != 0 {
		t.Errorf("dropped patch produced %d notifications", count)
	}
}
