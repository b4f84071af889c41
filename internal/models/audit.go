package models

import "time"

// SessionStatus is the state of one audit run.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionAuditing  SessionStatus = "auditing"
	SessionSuccess   SessionStatus = "success"
	SessionError     SessionStatus = "error"
	SessionCancelled SessionStatus = "cancelled"
)

// TerminalStatus reports whether no further session transition is accepted.
func (s SessionStatus) TerminalStatus() bool {
	return s == SessionSuccess || s == SessionError || s == SessionCancelled
}

// Severity classifies a single audit finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists all severities from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Rank returns the display rank of a severity; lower sorts first.
// Unknown severities sort last.
func (s Severity) Rank() int {
	for i, known := range Severities {
		if s == known {
			return i
		}
	}
	return len(Severities)
}

// Known reports whether s is one of the defined severities.
func (s Severity) Known() bool {
	return s.Rank() < len(Severities)
}

// Location pins a finding to a place in the source document.
type Location struct {
	Page *int `json:"page,omitempty"`
}

// Finding is a single issue reported by the audit backend.
type Finding struct {
	Severity   Severity `json:"severity"`
	Issue      string   `json:"issue"`
	Suggestion string   `json:"suggestion,omitempty"`
	Location   Location `json:"location"`
	Rule       string   `json:"rule,omitempty"`
}

// AuditReport is the aggregated result of one audit run. Findings keep the
// backend's order; counts are derived client-side, never trusted from the
// wire.
type AuditReport struct {
	TotalFindings      int              `json:"total_findings"`
	FindingsBySeverity map[Severity]int `json:"findings_by_severity"`
	FindingsByRule     map[string]int   `json:"findings_by_rule"`
	PageCoverage       float64          `json:"page_coverage"`
	Findings           []Finding        `json:"findings"`
}

// AuditError describes why a session ended in error.
type AuditError struct {
	Message string `json:"message"`
}

// AuditSession is one audit run across one or more ready documents.
type AuditSession struct {
	ID                    string        `json:"id"`
	Status                SessionStatus `json:"status"`
	TargetDocIDs          []string      `json:"target_doc_ids"`
	CancellationRequested bool          `json:"cancellation_requested"`
	Error                 *AuditError   `json:"error,omitempty"`
	Result                *AuditReport  `json:"result,omitempty"`
	StartedAt             time.Time     `json:"started_at,omitempty"`
	EndedAt               time.Time     `json:"ended_at,omitempty"`
}
