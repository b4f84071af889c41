// Package report turns a raw audit result into the aggregate structure the
// presentation layer consumes. Aggregation is pure: no side effects beyond
// an anomaly log, idempotent on identical input.
package report

import (
	"log/slog"

	"github.com/coralchat/docsync/internal/models"
)

// RawResult is the backend-supplied result before aggregation. The findings
// order is backend-determined (page order) and treated as significant.
// ReportedTotal, when present, is a server-side count that may be stale.
type RawResult struct {
	Findings      []models.Finding
	ReportedTotal *int
}

// Aggregate groups findings by severity and by rule, preserving the input
// order. The total is always the sum of the severity buckets; a mismatching
// server-reported total is logged and ignored.
func Aggregate(raw RawResult) models.AuditReport {
	bySeverity := make(map[models.Severity]int, len(models.Severities))
	for _, sev := range models.Severities {
		bySeverity[sev] = 0
	}
	byRule := make(map[string]int)

	located := 0
	findings := make([]models.Finding, len(raw.Findings))
	copy(findings, raw.Findings)

	for i, f := range findings {
		if !f.Severity.Known() {
			slog.Warn("unknown finding severity treated as low", "severity", f.Severity)
			findings[i].Severity = models.SeverityLow
			f.Severity = models.SeverityLow
		}
		bySeverity[f.Severity]++
		if f.Rule != "" {
			byRule[f.Rule]++
		}
		if f.Location.Page != nil {
			located++
		}
	}

	total := 0
	for _, n := range bySeverity {
		total += n
	}

	if raw.ReportedTotal != nil && *raw.ReportedTotal != total {
		slog.Warn("audit result total mismatch, using bucket sum",
			"reported", *raw.ReportedTotal, "counted", total)
	}

	coverage := 0.0
	if total > 0 {
		coverage = float64(located) / float64(total)
	}

	return models.AuditReport{
		TotalFindings:      total,
		FindingsBySeverity: bySeverity,
		FindingsByRule:     byRule,
		PageCoverage:       coverage,
		Findings:           findings,
	}
}
