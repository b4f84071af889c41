// Package workers holds the asynq task handlers that drive the processing
// pipeline. Workers never touch the client store directly; all state flows
// back through push events on the document's channel.
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/push"
	"github.com/coralchat/docsync/internal/queue"
	"github.com/coralchat/docsync/internal/storage"
	"github.com/coralchat/docsync/pkg/segment"
	"github.com/coralchat/docsync/pkg/textextract"
)

// DocumentWorker extracts text from a staged upload, counts its review
// segments and publishes the ready (or failed) event for the document.
type DocumentWorker struct {
	storage   storage.Storage
	bucket    string
	publisher push.Publisher
}

func NewDocumentWorker(store storage.Storage, bucket string, publisher push.Publisher) *DocumentWorker {
	return &DocumentWorker{
		storage:   store,
		bucket:    bucket,
		publisher: publisher,
	}
}

func (w *DocumentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	slog.Info("processing document", "doc_id", payload.DocID, "job_id", payload.JobID)

	reader, err := w.storage.Download(ctx, w.bucket, payload.StorageKey)
	if err != nil {
		// staged object may not be visible yet; let asynq retry
		return fmt.Errorf("download staged upload: %w", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return fmt.Errorf("read staged upload: %w", err)
	}

	w.progress(ctx, payload, 40)

	extracted, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), payload.MimeType)
	if err != nil {
		// malformed or unsupported content will not improve on retry
		w.fail(ctx, payload, fmt.Sprintf("could not read document: %v", err))
		return fmt.Errorf("extract text: %v: %w", err, asynq.SkipRetry)
	}

	w.progress(ctx, payload, 80)

	segments := segment.Count(extracted.Text, segment.Defaults())
	pages := extracted.Pages
	full := 100

	ev := push.Event{
		DocID:    payload.DocID,
		NewState: models.StateReady,
		Payload: &push.Payload{
			Progress:      &full,
			SegmentsCount: &segments,
			PageCount:     &pages,
		},
	}
	if err := w.publisher.Publish(ctx, payload.JobID, payload.DocID, ev); err != nil {
		return fmt.Errorf("publish ready event: %w", err)
	}

	slog.Info("document processed",
		"doc_id", payload.DocID, "segments", segments, "pages", pages)
	return nil
}

func (w *DocumentWorker) progress(ctx context.Context, payload queue.DocumentProcessPayload, pct int) {
	ev := push.Event{
		DocID:    payload.DocID,
		NewState: models.StateProcessing,
		Payload:  &push.Payload{Progress: &pct},
	}
	if err := w.publisher.Publish(ctx, payload.JobID, payload.DocID, ev); err != nil {
		slog.Warn("progress event dropped", "doc_id", payload.DocID, "error", err)
	}
}

func (w *DocumentWorker) fail(ctx context.Context, payload queue.DocumentProcessPayload, msg string) {
	ev := push.Event{
		DocID:    payload.DocID,
		NewState: models.StateFailed,
		Payload:  &push.Payload{Error: msg},
	}
	if err := w.publisher.Publish(ctx, payload.JobID, payload.DocID, ev); err != nil {
		slog.Error("failure event dropped", "doc_id", payload.DocID, "error", err)
	}
}
