package view

import (
	"testing"

	"github.com/coralchat/docsync/internal/models"
)

func TestVisualForTotal(t *testing.T) {
	want := map[models.LifecycleState]Visual{
		models.StateUploading:  VisualSpinner,
		models.StateProcessing: VisualSpinner,
		models.StateReady:      VisualActionable,
		models.StateReviewing:  VisualBusy,
		models.StateCompleted:  VisualSuccess,
		models.StateFailed:     VisualError,
	}
	for _, state := range models.AllLifecycleStates {
		if got := VisualFor(state); got != want[state] {
			t.Errorf("VisualFor(%s) = %s, want %s", state, got, want[state])
		}
	}
}

func TestDocumentViewFor(t *testing.T) {
	pages := 4
	tests := []struct {
		name         string
		rec          models.DocumentRecord
		wantProgress int
		wantMessage  string
	}{
		{
			name:         "progress shown while uploading",
			rec:          models.DocumentRecord{DocID: "d1", State: models.StateUploading, Progress: 30},
			wantProgress: 30,
		},
		{
			name:         "progress shown while processing",
			rec:          models.DocumentRecord{DocID: "d1", State: models.StateProcessing, Progress: 70},
			wantProgress: 70,
		},
		{
			name: "progress hidden once ready",
			rec:  models.DocumentRecord{DocID: "d1", State: models.StateReady, Progress: 100, PageCount: &pages},
		},
		{
			name:        "message only when failed",
			rec:         models.DocumentRecord{DocID: "d1", State: models.StateFailed, ErrorMessage: "boom"},
			wantMessage: "boom",
		},
		{
			name: "message hidden outside failed",
			rec:  models.DocumentRecord{DocID: "d1", State: models.StateReviewing, ErrorMessage: "stale"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := DocumentViewFor(tt.rec)
			if v.Progress != tt.wantProgress {
				t.Errorf("Progress = %d, want %d", v.Progress, tt.wantProgress)
			}
			if v.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", v.Message, tt.wantMessage)
			}
			if v.Visual != VisualFor(tt.rec.State) {
				t.Errorf("Visual = %s, want %s", v.Visual, VisualFor(tt.rec.State))
			}
		})
	}
}

func TestSummarizeBadgeOrder(t *testing.T) {
	rep := models.AuditReport{
		TotalFindings: 3,
		FindingsBySeverity: map[models.Severity]int{
			models.SeverityCritical: 0,
			models.SeverityHigh:     1,
			models.SeverityMedium:   0,
			models.SeverityLow:      2,
		},
		FindingsByRule: map[string]int{"dates": 1, "signatures": 1, "typos": 1},
		Findings: []models.Finding{
			{Severity: models.SeverityLow, Issue: "first low"},
			{Severity: models.SeverityHigh, Issue: "the high"},
			{Severity: models.SeverityLow, Issue: "second low"},
		},
	}

	sum := Summarize(rep)

	if len(sum.Badges) != len(models.Severities) {
		t.Fatalf("got %d badges, want %d", len(sum.Badges), len(models.Severities))
	}
	for i, sev := range models.Severities {
		if sum.Badges[i].Severity != sev {
			t.Errorf("badge %d = %s, want %s", i, sum.Badges[i].Severity, sev)
		}
	}

	low := sum.Badges[3]
	if low.Count != 2 || len(low.Findings) != 2 {
		t.Fatalf("low badge = %+v, want 2 findings", low)
	}
	if low.Findings[0].Issue != "first low" || low.Findings[1].Issue != "second low" {
		t.Error("findings inside a badge must keep backend order")
	}
}

func TestSummarizeRuleOrder(t *testing.T) {
	rep := models.AuditReport{
		FindingsByRule: map[string]int{"b-rule": 2, "a-rule": 2, "c-rule": 5},
	}
	sum := Summarize(rep)

	got := make([]string, 0, len(sum.Rules))
	for _, rg := range sum.Rules {
		got = append(got, rg.Rule)
	}
	want := []string{"c-rule", "a-rule", "b-rule"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rule order = %v, want %v", got, want)
		}
	}
}
