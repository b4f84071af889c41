package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coralchat/docsync/internal/auditor"
)

// cancelFlagTTL bounds how long a cancellation flag outlives its session.
const cancelFlagTTL = 30 * time.Minute

func cancelFlagKey(sessionID string) string {
	return fmt.Sprintf("docsync:audit:cancel:%s", sessionID)
}

// Backend runs audits through the task queue. StartAudit enqueues an
// audit:run task; CancelAudit sets a redis flag the worker polls
// between documents.
type Backend struct {
	client *Client
	rdb    *redis.Client
}

func NewBackend(client *Client, rdb *redis.Client) *Backend {
	return &Backend{client: client, rdb: rdb}
}

func (b *Backend) StartAudit(ctx context.Context, req auditor.StartRequest) error {
	return b.client.EnqueueAuditRun(AuditRunPayload{
		SessionID: req.SessionID,
		Targets:   req.Targets,
		Options:   req.Options,
	})
}

func (b *Backend) CancelAudit(ctx context.Context, sessionID string) error {
	if err := b.rdb.Set(ctx, cancelFlagKey(sessionID), "1", cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	return nil
}

// CancelRequested reports whether a cancellation flag is set for the
// session. Worker-side check; errors are treated as "not cancelled" so
// a redis hiccup never aborts a running audit.
func CancelRequested(ctx context.Context, rdb *redis.Client, sessionID string) bool {
	n, err := rdb.Exists(ctx, cancelFlagKey(sessionID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}
