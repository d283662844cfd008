package types

import (
	"testing"
	"time"
)

func TestJobStatusTransitions(t *testing.T) {
	happy := []JobStatus{JobPending, JobSampling, JobProcessing, JobAnalyzing, JobCompleted}
	job := &ProcessingJob{JobID: "j1", Scale: ScaleBatch, Status: happy[0], StartTime: time.Now()}
	for _, next := range happy[1:] {
		if err := job.Transition(next); err != nil {
			t.Fatalf("Transition(%s) failed: %v", next, err)
		}
	}
	if job.EndTime == nil {
		t.Error("terminal transition should set EndTime")
	}
	if err := job.Transition(JobSampling); err == nil {
		t.Error("completed jobs must not transition")
	}
}

func TestJobStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobSampling, true},
		{JobPending, JobProcessing, false},
		{JobSampling, JobProcessing, true},
		{JobProcessing, JobPaused, true},
		{JobPaused, JobProcessing, true},
		{JobPaused, JobAnalyzing, false},
		{JobAnalyzing, JobSampling, true}, // next batch cycle
		{JobAnalyzing, JobCompleted, true},
		{JobProcessing, JobCancelled, true},
		{JobSampling, JobFailed, true},
		{JobCancelled, JobProcessing, false},
		{JobFailed, JobCancelled, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJobRates(t *testing.T) {
	job := &ProcessingJob{TotalCases: 200, ProcessedCases: 50, FailedCases: 5}
	if got := job.SuccessRate(); got != 0.9 {
		t.Errorf("SuccessRate = %v, want 0.9", got)
	}
	if got := job.ProgressPct(); got != 25 {
		t.Errorf("ProgressPct = %v, want 25", got)
	}

	empty := &ProcessingJob{}
	if empty.SuccessRate() != 0 || empty.ProgressPct() != 0 {
		t.Error("zero-case jobs report zero rates")
	}
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{ID: "r1", Type: RuleNoiseRemoval, Pattern: `\d+`, PerformanceScore: 0.9}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	bad := map[string]Rule{
		"missing id":         {Type: RuleNoiseRemoval, Pattern: `\d+`},
		"blank id":           {ID: "  ", Type: RuleNoiseRemoval, Pattern: `\d+`},
		"unknown type":       {ID: "r1", Type: "mystery", Pattern: `\d+`},
		"missing pattern":    {ID: "r1", Type: RuleNoiseRemoval},
		"score out of range": {ID: "r1", Type: RuleNoiseRemoval, Pattern: `\d+`, PerformanceScore: 1.2},
		"negative usage":     {ID: "r1", Type: RuleNoiseRemoval, Pattern: `\d+`, UsageCount: -1},
	}
	for name, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("%s accepted", name)
		}
	}
}

func TestEnabledRules(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{
		{ID: "a", Type: RuleNoiseRemoval, Enabled: true},
		{ID: "b", Type: RuleNoiseRemoval, Enabled: false},
		{ID: "c", Type: RulePostNormalize, Enabled: true},
	}}

	all := rs.EnabledRules(nil)
	if len(all) != 2 {
		t.Fatalf("EnabledRules(nil) = %d rules, want 2", len(all))
	}

	noise := rs.EnabledRules([]RuleType{RuleNoiseRemoval})
	if len(noise) != 1 || noise[0].ID != "a" {
		t.Errorf("type filter returned %v", noise)
	}

	none := rs.EnabledRules([]RuleType{})
	if len(none) != 0 {
		t.Errorf("empty filter should select nothing, got %d", len(none))
	}
}

func TestQualityMetricsMeets(t *testing.T) {
	min := QualityMetrics{NRR: 0.92, FPR: 0.985, SS: 0.90, TokenReduction: 20}

	if !min.Meets(min) {
		t.Error("minimums are inclusive")
	}
	if !(QualityMetrics{NRR: 0.95, FPR: 0.99, SS: 0.95, TokenReduction: 30}).Meets(min) {
		t.Error("above-minimum metrics must pass")
	}
	if (QualityMetrics{NRR: 0.91, FPR: 0.99, SS: 0.95, TokenReduction: 30}).Meets(min) {
		t.Error("one low metric must fail the whole check")
	}
}
