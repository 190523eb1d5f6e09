package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/seantiz/stepwise/internal/model"
)

// bottleneckFactor is how far above the plan's average a measured step must
// run to be flagged.
const bottleneckFactor = 1.5

// stampTiming records the timing side effects of moving s from one status to
// another. It returns the step's measured duration when the move completed a
// step that had been started.
func stampTiming(s *model.Step, from, to model.StepStatus, now time.Time) (time.Duration, bool) {
	if to == model.StatusInProgress && s.StartedAt == nil {
		t := now
		s.StartedAt = &t
	}

	switch {
	case to == model.StatusCompleted && (from != model.StatusCompleted || s.CompletedAt == nil):
		t := now
		s.CompletedAt = &t
		if s.StartedAt != nil {
			return s.CompletedAt.Sub(*s.StartedAt), true
		}
	case to != model.StatusCompleted && from == model.StatusCompleted:
		s.CompletedAt = nil
	}
	return 0, false
}

// measuredDuration returns completedAt - startedAt when both are recorded.
func measuredDuration(s *model.Step) (time.Duration, bool) {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0, false
	}
	d := s.CompletedAt.Sub(*s.StartedAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Progress summarizes how far a plan has advanced. Only Completed steps count
// towards Completed and Percentage.
type Progress struct {
	Completed            int   `json:"completed"`
	Total                int   `json:"total"`
	Percentage           int   `json:"percentage"`
	InProgress           int   `json:"inProgress"`
	Blocked              int   `json:"blocked"`
	CurrentStepIndex     *int  `json:"currentStepIndex"`
	IsCompleted          bool  `json:"isCompleted"`
	HasBlockedSteps      bool  `json:"hasBlockedSteps"`
	EstimatedRemainingMs int64 `json:"estimatedRemainingMs"`
}

// ComputeProgress derives the progress of p.
func ComputeProgress(p *model.Plan) Progress {
	pr := Progress{Total: len(p.Steps)}

	var measured time.Duration
	var measuredCount int
	for i := range p.Steps {
		s := &p.Steps[i]
		switch s.Status {
		case model.StatusCompleted:
			pr.Completed++
			if d, ok := measuredDuration(s); ok {
				measured += d
				measuredCount++
			}
		case model.StatusInProgress:
			pr.InProgress++
		case model.StatusBlocked:
			pr.Blocked++
		}
	}

	if pr.Total > 0 {
		pr.Percentage = int(math.Round(float64(pr.Completed) / float64(pr.Total) * 100))
	}
	if idx, ok := ResolveCurrentStep(p.Steps); ok {
		pr.CurrentStepIndex = &idx
	}
	pr.IsCompleted = pr.Total > 0 && pr.Completed == pr.Total
	pr.HasBlockedSteps = pr.Blocked > 0
	if measuredCount > 0 {
		avg := measured / time.Duration(measuredCount)
		pr.EstimatedRemainingMs = (avg * time.Duration(pr.Total-pr.Completed)).Milliseconds()
	}
	return pr
}

// StepMetric is the per-step line of a performance report. DurationMs is nil
// for steps that lack a start or completion time.
type StepMetric struct {
	Index        int              `json:"index"`
	Description  string           `json:"description"`
	Type         string           `json:"type,omitempty"`
	Status       model.StepStatus `json:"status"`
	DurationMs   *int64           `json:"durationMs"`
	IsBottleneck bool             `json:"isBottleneck"`
}

// PerformanceReport aggregates step timings for one plan. Partial reports are
// normal for plans still in progress.
type PerformanceReport struct {
	PlanID                string       `json:"planId"`
	Steps                 []StepMetric `json:"steps"`
	PerStepDurationsMs    []*int64     `json:"perStepDurationsMs"`
	TotalElapsedMs        int64        `json:"totalElapsedMs"`
	AverageStepDurationMs int64        `json:"averageStepDurationMs"`
	SuccessRate           float64      `json:"successRate"`
	Suggestions           []string     `json:"suggestions"`
}

// ComputePerformance builds the performance report of p.
func ComputePerformance(p *model.Plan) PerformanceReport {
	rep := PerformanceReport{
		PlanID:             p.ID,
		Steps:              make([]StepMetric, len(p.Steps)),
		PerStepDurationsMs: make([]*int64, len(p.Steps)),
		Suggestions:        []string{},
	}

	var (
		earliest, latest *time.Time
		total            time.Duration
		measuredCount    int
		completed        int
	)
	for i := range p.Steps {
		s := &p.Steps[i]
		rep.Steps[i] = StepMetric{
			Index:       s.Index,
			Description: s.Description,
			Type:        s.Type,
			Status:      s.Status,
		}
		if s.Status == model.StatusCompleted {
			completed++
		}
		if s.StartedAt != nil && (earliest == nil || s.StartedAt.Before(*earliest)) {
			earliest = s.StartedAt
		}
		if s.CompletedAt != nil && (latest == nil || s.CompletedAt.After(*latest)) {
			latest = s.CompletedAt
		}
		if d, ok := measuredDuration(s); ok {
			ms := d.Milliseconds()
			rep.Steps[i].DurationMs = &ms
			rep.PerStepDurationsMs[i] = &ms
			total += d
			measuredCount++
		}
	}

	if earliest != nil && latest != nil && latest.After(*earliest) {
		rep.TotalElapsedMs = latest.Sub(*earliest).Milliseconds()
	}
	if len(p.Steps) > 0 {
		rep.SuccessRate = float64(completed) / float64(len(p.Steps))
	}
	if measuredCount == 0 {
		return rep
	}

	avg := total / time.Duration(measuredCount)
	rep.AverageStepDurationMs = avg.Milliseconds()

	if measuredCount >= 2 && avg > 0 {
		limit := time.Duration(float64(avg) * bottleneckFactor)
		for i := range p.Steps {
			d, ok := measuredDuration(&p.Steps[i])
			if !ok || d <= limit {
				continue
			}
			rep.Steps[i].IsBottleneck = true
			rep.Suggestions = append(rep.Suggestions, fmt.Sprintf(
				"step %d (%q) took %.1fx the average step duration; consider splitting it",
				i, p.Steps[i].Description, float64(d)/float64(avg)))
		}
	}
	for i := range p.Steps {
		if p.Steps[i].Status == model.StatusBlocked {
			rep.Suggestions = append(rep.Suggestions, fmt.Sprintf(
				"step %d (%q) is blocked; resolve it to let the plan finish",
				i, p.Steps[i].Description))
		}
	}
	return rep
}

// Stats aggregates step counts and timings across every plan.
type Stats struct {
	Plans             int            `json:"plans"`
	Steps             int            `json:"steps"`
	ByStatus          map[string]int `json:"byStatus"`
	AvgStepDurationMs float64        `json:"avgStepDurationMs"`
}

// ComputeStats aggregates plans.
func ComputeStats(plans []*model.Plan) Stats {
	st := Stats{
		Plans:    len(plans),
		ByStatus: make(map[string]int, len(model.Statuses)),
	}
	for _, status := range model.Statuses {
		st.ByStatus[string(status)] = 0
	}

	var total time.Duration
	var measured int
	for _, p := range plans {
		for i := range p.Steps {
			st.Steps++
			st.ByStatus[string(p.Steps[i].Status)]++
			if d, ok := measuredDuration(&p.Steps[i]); ok {
				total += d
				measured++
			}
		}
	}
	if measured > 0 {
		st.AvgStepDurationMs = float64(total.Milliseconds()) / float64(measured)
	}
	return st
}
