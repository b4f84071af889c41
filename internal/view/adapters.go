// Package view maps internal lifecycle and audit state onto the small set of
// visual states the UI renders. Everything here is a pure, total function;
// an unmapped state is a defect the tests catch, not a runtime branch.
package view

import (
	"sort"

	"github.com/coralchat/docsync/internal/models"
)

// Visual is the rendering class of a document row.
type Visual string

const (
	VisualSpinner    Visual = "spinner"
	VisualActionable Visual = "actionable"
	VisualBusy       Visual = "busy"
	VisualSuccess    Visual = "success"
	VisualError      Visual = "error"
)

// VisualFor maps every lifecycle state to exactly one visual state.
func VisualFor(state models.LifecycleState) Visual {
	switch state {
	case models.StateUploading, models.StateProcessing:
		return VisualSpinner
	case models.StateReady:
		return VisualActionable
	case models.StateReviewing:
		return VisualBusy
	case models.StateCompleted:
		return VisualSuccess
	case models.StateFailed:
		return VisualError
	}
	// Unreachable for valid states; the totality test walks all of them.
	return VisualError
}

// DocumentView is one row of the document list as the UI renders it.
type DocumentView struct {
	DocID     string                `json:"doc_id"`
	Name      string                `json:"name"`
	State     models.LifecycleState `json:"state"`
	Visual    Visual                `json:"visual"`
	Progress  int                   `json:"progress,omitempty"`
	Message   string                `json:"message,omitempty"`
	Segments  int                   `json:"segments,omitempty"`
	PageCount *int                  `json:"page_count,omitempty"`
}

// DocumentViewFor maps a record onto its rendered row.
func DocumentViewFor(rec models.DocumentRecord) DocumentView {
	v := DocumentView{
		DocID:     rec.DocID,
		Name:      rec.Name,
		State:     rec.State,
		Visual:    VisualFor(rec.State),
		Segments:  rec.SegmentsCount,
		PageCount: rec.PageCount,
	}
	switch rec.State {
	case models.StateUploading, models.StateProcessing:
		v.Progress = rec.Progress
	case models.StateFailed:
		v.Message = rec.ErrorMessage
	}
	return v
}

// SeverityBadge is one severity bucket of the expandable summary.
type SeverityBadge struct {
	Severity models.Severity  `json:"severity"`
	Count    int              `json:"count"`
	Findings []models.Finding `json:"findings"`
}

// RuleGroup groups findings by the auditor rule that produced them.
type RuleGroup struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// ReportSummary is the severity-badged, expandable structure the UI shows
// for a finished audit.
type ReportSummary struct {
	TotalFindings int             `json:"total_findings"`
	Badges        []SeverityBadge `json:"badges"`
	Rules         []RuleGroup     `json:"rules"`
	PageCoverage  float64         `json:"page_coverage"`
}

// Summarize re-sorts a report for display: badges in severity rank order
// (critical first), findings inside a badge keeping the backend's order,
// rule groups by descending count. The aggregator itself never re-sorts;
// display order is decided here.
func Summarize(rep models.AuditReport) ReportSummary {
	badges := make([]SeverityBadge, 0, len(models.Severities))
	for _, sev := range models.Severities {
		badge := SeverityBadge{Severity: sev, Count: rep.FindingsBySeverity[sev]}
		for _, f := range rep.Findings {
			if f.Severity == sev {
				badge.Findings = append(badge.Findings, f)
			}
		}
		badges = append(badges, badge)
	}

	rules := make([]RuleGroup, 0, len(rep.FindingsByRule))
	for rule, count := range rep.FindingsByRule {
		rules = append(rules, RuleGroup{Rule: rule, Count: count})
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Count != rules[j].Count {
			return rules[i].Count > rules[j].Count
		}
		return rules[i].Rule < rules[j].Rule
	})

	return ReportSummary{
		TotalFindings: rep.TotalFindings,
		Badges:        badges,
		Rules:         rules,
		PageCoverage:  rep.PageCoverage,
	}
}
