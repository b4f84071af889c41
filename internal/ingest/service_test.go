package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/push"
	"github.com/coralchat/docsync/internal/queue"
	"github.com/coralchat/docsync/internal/storage"
	"github.com/coralchat/docsync/internal/store"
)

type fakeEnqueuer struct {
	payloads []queue.DocumentProcessPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueDocumentProcess(p queue.DocumentProcessPayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func newTestService(t *testing.T, enq *fakeEnqueuer) (*Service, *store.Store, string) {
	t.Helper()
	st := store.New()
	mgr := push.NewManager(st, push.NewMemoryTransport(), push.DefaultConfig())
	t.Cleanup(mgr.Shutdown)
	dir := t.TempDir()
	staging := storage.NewLocalStorage(dir)
	return NewService(st, staging, "documents", enq, mgr), st, dir
}

func TestUploadHandsOffToProcessing(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc, st, _ := newTestService(t, enq)

	body := strings.NewReader("plain text document body")
	rec, err := svc.Upload(context.Background(), "notes.txt", "text/plain", int64(body.Len()), body)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if rec.State != models.StateProcessing {
		t.Errorf("state = %s, want processing after handoff", rec.State)
	}
	if rec.JobID == "" {
		t.Error("job id not assigned")
	}
	if len(enq.payloads) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(enq.payloads))
	}
	p := enq.payloads[0]
	if p.DocID != rec.DocID || p.JobID != rec.JobID || p.MimeType != "text/plain" {
		t.Errorf("payload = %+v, record = %+v", p, rec)
	}
	if st.Get(rec.DocID).StorageKey == "" {
		t.Error("storage key not recorded")
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	svc, st, _ := newTestService(t, &fakeEnqueuer{})

	_, err := svc.Upload(context.Background(), "img.png", "image/png", 10, strings.NewReader("0123456789"))
	if err == nil {
		t.Fatal("expected error for unsupported mime type")
	}
	if len(st.List()) != 0 {
		t.Error("rejected upload left a record behind")
	}
}

func TestUploadRejectsBadSize(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeEnqueuer{})
	if _, err := svc.Upload(context.Background(), "a.txt", "text/plain", 0, strings.NewReader("")); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, err := svc.Upload(context.Background(), "a.txt", "text/plain", MaxUploadBytes+1, strings.NewReader("")); err == nil {
		t.Fatal("expected error for oversize upload")
	}
}

func TestDiscardRemovesStagedObject(t *testing.T) {
	svc, st, dir := newTestService(t, &fakeEnqueuer{})

	body := strings.NewReader("plain text document body")
	rec, err := svc.Upload(context.Background(), "notes.txt", "text/plain", int64(body.Len()), body)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	staged := filepath.Join(dir, "documents", rec.StorageKey)
	if _, err := os.Stat(staged); err != nil {
		t.Fatalf("staged object missing before discard: %v", err)
	}

	// the record is processing, so the guard applies
	if err := svc.Discard(context.Background(), rec.DocID, false); !errors.Is(err, ErrInFlight) {
		t.Fatalf("Discard without force = %v, want ErrInFlight", err)
	}
	if _, err := os.Stat(staged); err != nil {
		t.Fatal("refused discard still deleted the staged object")
	}

	if err := svc.Discard(context.Background(), rec.DocID, true); err != nil {
		t.Fatalf("Discard with force: %v", err)
	}
	if st.Get(rec.DocID) != nil {
		t.Error("record survived discard")
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Errorf("staged object still present after discard: %v", err)
	}

	if err := svc.Discard(context.Background(), rec.DocID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Discard = %v, want ErrNotFound", err)
	}
}

func TestUploadEnqueueFailureMarksRecordFailed(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("queue down")}
	svc, st, _ := newTestService(t, enq)

	body := strings.NewReader("content")
	_, err := svc.Upload(context.Background(), "a.txt", "text/plain", int64(body.Len()), body)
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}

	list := st.List()
	if len(list) != 1 {
		t.Fatalf("got %d records, want the failed record kept", len(list))
	}
	if list[0].State != models.StateFailed || list[0].ErrorMessage == "" {
		t.Errorf("record = %+v, want failed with message", list[0])
	}
}
