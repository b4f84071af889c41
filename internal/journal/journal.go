// Package journal keeps an append-only trail of lifecycle transitions and
// audit outcomes in Postgres. It is optional: a nil Journal records nothing,
// and recording failures never disturb the in-memory state they describe.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/store"
)

type Journal struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Journal {
	return &Journal{db: db}
}

// EnsureSchema creates the journal tables when missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if j == nil {
		return nil
	}
	_, err := j.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS document_transitions (
			id BIGSERIAL PRIMARY KEY,
			doc_id TEXT NOT NULL,
			from_state TEXT,
			to_state TEXT NOT NULL,
			error_message TEXT,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS audit_outcomes (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_findings INT NOT NULL DEFAULT 0,
			error_message TEXT,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create journal tables: %w", err)
	}
	return nil
}

// Attach subscribes the journal to the store so every applied state change
// is recorded. Returns the subscription cancel function.
func (j *Journal) Attach(st *store.Store) func() {
	if j == nil {
		return func() {}
	}
	return st.Subscribe(func(ch store.Change) {
		if ch.Type != store.ChangeUpdated || ch.Old.State == ch.New.State {
			return
		}
		j.recordTransition(ch.Old.DocID, ch.Old.State, ch.New.State, ch.New.ErrorMessage)
	})
}

func (j *Journal) recordTransition(docID string, from, to models.LifecycleState, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := j.db.Exec(ctx,
		`INSERT INTO document_transitions (doc_id, from_state, to_state, error_message)
		 VALUES ($1, $2, $3, NULLIF($4, ''))`,
		docID, from, to, errMsg,
	)
	if err != nil {
		slog.Error("failed to record transition", "doc_id", docID, "error", err)
	}
}

// RecordAuditOutcome stores the terminal status of a session.
func (j *Journal) RecordAuditOutcome(ctx context.Context, s models.AuditSession) {
	if j == nil {
		return
	}

	total := 0
	if s.Result != nil {
		total = s.Result.TotalFindings
	}
	errMsg := ""
	if s.Error != nil {
		errMsg = s.Error.Message
	}

	_, err := j.db.Exec(ctx,
		`INSERT INTO audit_outcomes (session_id, status, total_findings, error_message)
		 VALUES ($1, $2, $3, NULLIF($4, ''))`,
		s.ID, s.Status, total, errMsg,
	)
	if err != nil {
		slog.Error("failed to record audit outcome", "session_id", s.ID, "error", err)
	}
}
