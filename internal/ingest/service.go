// Package ingest is the upload intake path: it records the document, stages
// its bytes, hands it to the processing queue and opens the push channel
// once the job id is known.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/google/uuid"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/push"
	"github.com/coralchat/docsync/internal/queue"
	"github.com/coralchat/docsync/internal/storage"
	"github.com/coralchat/docsync/internal/store"
	"github.com/coralchat/docsync/pkg/textextract"
)

// MaxUploadBytes bounds a single upload.
const MaxUploadBytes = 50 << 20

// Discard outcomes.
var (
	ErrNotFound = errors.New("document not found")
	ErrInFlight = errors.New("document is in flight")
)

// Enqueuer is the slice of the queue client the intake path needs.
type Enqueuer interface {
	EnqueueDocumentProcess(queue.DocumentProcessPayload) error
}

type Service struct {
	store   *store.Store
	staging storage.Storage
	bucket  string
	qc      Enqueuer
	manager *push.Manager
}

func NewService(st *store.Store, staging storage.Storage, bucket string, qc Enqueuer, manager *push.Manager) *Service {
	return &Service{
		store:   st,
		staging: staging,
		bucket:  bucket,
		qc:      qc,
		manager: manager,
	}
}

// Upload records a new document and starts its processing job. The record
// exists from the first moment of the upload; any later failure marks it
// failed rather than deleting it.
func (s *Service) Upload(ctx context.Context, name, mimeType string, size int64, body io.Reader) (*models.DocumentRecord, error) {
	if size <= 0 || size > MaxUploadBytes {
		return nil, fmt.Errorf("upload size %d out of range", size)
	}
	if !textextract.Supported(mimeType) {
		return nil, fmt.Errorf("unsupported document type %q", mimeType)
	}

	docID := s.store.Create(store.CreateRequest{
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: size,
	})

	storageKey := path.Join("uploads", docID, name)
	if err := s.staging.Upload(ctx, s.bucket, storageKey, body, mimeType); err != nil {
		s.failUpload(docID, "upload to staging failed")
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	jobID := uuid.NewString()
	processing := models.StateProcessing
	s.store.Patch(docID, store.Patch{
		JobID:      &jobID,
		State:      &processing,
		StorageKey: &storageKey,
	})

	// Subscribe before the job can emit anything.
	s.manager.Open(jobID, docID)

	if err := s.qc.EnqueueDocumentProcess(queue.DocumentProcessPayload{
		DocID:      docID,
		JobID:      jobID,
		StorageKey: storageKey,
		MimeType:   mimeType,
	}); err != nil {
		s.failUpload(docID, "processing could not be scheduled")
		return nil, fmt.Errorf("enqueue processing: %w", err)
	}

	slog.Info("upload accepted", "doc_id", docID, "job_id", jobID, "name", name, "size", size)
	return s.store.Get(docID), nil
}

// Discard removes a document and its staged object. Removal of in-flight
// documents requires force, mirroring the store's guard. The staged object is
// cleaned up best-effort; an orphan is preferable to resurrecting the record.
func (s *Service) Discard(ctx context.Context, docID string, force bool) error {
	rec := s.store.Get(docID)
	if rec == nil {
		return ErrNotFound
	}
	if !s.store.Remove(docID, force) {
		return ErrInFlight
	}

	if rec.StorageKey != "" {
		if err := s.staging.Delete(ctx, s.bucket, rec.StorageKey); err != nil {
			slog.Warn("staged object cleanup failed",
				"doc_id", docID, "key", rec.StorageKey, "error", err)
		}
	}
	slog.Info("document discarded", "doc_id", docID, "force", force)
	return nil
}

func (s *Service) failUpload(docID, msg string) {
	failed := models.StateFailed
	s.store.Patch(docID, store.Patch{State: &failed, ErrorMessage: &msg})
}
