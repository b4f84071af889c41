package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/coralchat/docsync/internal/auditor"
	"github.com/coralchat/docsync/internal/llm"
	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/push"
	"github.com/coralchat/docsync/internal/queue"
	"github.com/coralchat/docsync/internal/storage"
	"github.com/coralchat/docsync/pkg/textextract"
)

// maxAuditRunes caps how much of a document is sent to the model.
const maxAuditRunes = 24000

// AuditWorker runs an audit session document by document. The cancellation
// flag is checked between documents only; a document already in flight is
// allowed to finish and counts as completed in the acknowledgment.
type AuditWorker struct {
	storage storage.Storage
	bucket  string
	gateway llm.Gateway
	rdb     *redis.Client

	publisher    push.Publisher
	defaultModel string
}

func NewAuditWorker(store storage.Storage, bucket string, gateway llm.Gateway, rdb *redis.Client, publisher push.Publisher, defaultModel string) *AuditWorker {
	return &AuditWorker{
		storage:      store,
		bucket:       bucket,
		gateway:      gateway,
		rdb:          rdb,
		publisher:    publisher,
		defaultModel: defaultModel,
	}
}

func (w *AuditWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.AuditRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if len(payload.Targets) == 0 {
		return fmt.Errorf("audit %s has no targets: %w", payload.SessionID, asynq.SkipRetry)
	}

	// All session-level events travel on the first target's channel.
	anchor := payload.Targets[0]

	slog.Info("audit started",
		"session_id", payload.SessionID, "targets", len(payload.Targets))

	var findings []models.Finding
	var completed []string

	for _, target := range payload.Targets {
		if queue.CancelRequested(ctx, w.rdb, payload.SessionID) {
			slog.Info("audit cancelled",
				"session_id", payload.SessionID, "completed", len(completed))
			w.publishCancelAck(ctx, payload.SessionID, anchor, completed)
			return nil
		}

		docFindings, err := w.auditDocument(ctx, target, payload.Options)
		if err != nil {
			return w.fail(ctx, payload.SessionID, anchor,
				fmt.Errorf("audit %s: %w", target.Name, err))
		}
		findings = append(findings, docFindings...)
		completed = append(completed, target.DocID)
	}

	total := len(findings)
	ev := push.Event{
		DocID:    anchor.DocID,
		NewState: models.StateCompleted,
		Payload: &push.Payload{
			SessionID:     payload.SessionID,
			Findings:      findings,
			ReportedTotal: &total,
		},
	}
	if err := w.publisher.Publish(ctx, anchor.JobID, anchor.DocID, ev); err != nil {
		return fmt.Errorf("publish audit result: %w", err)
	}

	slog.Info("audit finished", "session_id", payload.SessionID, "findings", total)
	return nil
}

func (w *AuditWorker) auditDocument(ctx context.Context, target auditor.Target, opts auditor.Options) ([]models.Finding, error) {
	reader, err := w.storage.Download(ctx, w.bucket, target.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	extracted, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), target.MimeType)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	text := extracted.Text
	if runes := []rune(text); len(runes) > maxAuditRunes {
		text = string(runes[:maxAuditRunes])
	}

	model := opts.Model
	if model == "" {
		model = w.defaultModel
	}

	resp, err := w.gateway.Chat(ctx, llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: auditSystemPrompt(opts.Rules)},
			{Role: "user", Content: fmt.Sprintf("Document: %s\n\n%s", target.Name, text)},
		},
		Temperature: 0,
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	findings, err := parseFindings(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	return findings, nil
}

func (w *AuditWorker) fail(ctx context.Context, sessionID string, anchor auditor.Target, cause error) error {
	ev := push.Event{
		DocID:    anchor.DocID,
		NewState: models.StateFailed,
		Payload: &push.Payload{
			SessionID: sessionID,
			Error:     cause.Error(),
		},
	}
	if err := w.publisher.Publish(ctx, anchor.JobID, anchor.DocID, ev); err != nil {
		slog.Error("audit failure event dropped", "session_id", sessionID, "error", err)
	}
	return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
}

func (w *AuditWorker) publishCancelAck(ctx context.Context, sessionID string, anchor auditor.Target, completed []string) {
	ev := push.Event{
		Type:  push.EventCancelAck,
		DocID: anchor.DocID,
		Payload: &push.Payload{
			SessionID:       sessionID,
			CompletedDocIDs: completed,
		},
	}
	if err := w.publisher.Publish(ctx, anchor.JobID, anchor.DocID, ev); err != nil {
		slog.Error("cancel ack dropped", "session_id", sessionID, "error", err)
	}
}

func auditSystemPrompt(rules []string) string {
	var sb strings.Builder
	sb.WriteString("You are a document compliance auditor. Review the document and report every issue you find.\n")
	if len(rules) > 0 {
		sb.WriteString("Apply only these rules:\n")
		for _, r := range rules {
			sb.WriteString("- ")
			sb.WriteString(r)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString(`Respond with a JSON array only, no prose. Each element:
{"severity":"critical|high|medium|low","issue":"...","suggestion":"...","page":1,"rule":"..."}
Omit "page" when the location is unknown. Return [] when the document is clean.`)
	return sb.String()
}

type wireFinding struct {
	Severity   string `json:"severity"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
	Page       *int   `json:"page"`
	Rule       string `json:"rule"`
}

// parseFindings decodes the model's JSON array. Fenced code blocks are
// tolerated; anything else malformed is an error, never a silent empty
// result.
func parseFindings(content string) ([]models.Finding, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var wire []wireFinding
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return nil, fmt.Errorf("expected JSON array of findings: %w", err)
	}

	findings := make([]models.Finding, 0, len(wire))
	for _, f := range wire {
		findings = append(findings, models.Finding{
			Severity:   models.Severity(strings.ToLower(f.Severity)),
			Issue:      f.Issue,
			Suggestion: f.Suggestion,
			Location:   models.Location{Page: f.Page},
			Rule:       f.Rule,
		})
	}
	return findings, nil
}
