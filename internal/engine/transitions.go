package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/stepwise/internal/model"
)

// errNothingToDo aborts an Update that turned out not to change the plan, so
// that its version and updatedAt stay put.
var errNothingToDo = errors.New("nothing to do")

// transition is the outcome of one status update.
type transition struct {
	index    int
	from, to model.StepStatus
	reopened bool
	took     time.Duration
	measured bool
}

func stepAt(p *model.Plan, idx int) (*model.Step, error) {
	if idx < 0 || idx >= len(p.Steps) {
		return nil, fmt.Errorf("%w: step %d of plan %s (has %d steps)", model.ErrOutOfRange, idx, p.ID, len(p.Steps))
	}
	return &p.Steps[idx], nil
}

// reopens reports whether moving from one status to another takes a step
// that had left the active set back into it.
func reopens(from, to model.StepStatus) bool {
	return (from == model.StatusCompleted || from == model.StatusBlocked) && to.Active()
}

// applyStatus moves step idx of p to status to, optionally recording result,
// and publishes the change. It must run under the plan's exclusive lock.
func (e *Engine) applyStatus(p *model.Plan, idx int, to model.StepStatus, result *string) (transition, error) {
	s, err := stepAt(p, idx)
	if err != nil {
		return transition{}, err
	}

	now := e.now()
	tr := transition{index: idx, from: s.Status, to: to, reopened: reopens(s.Status, to)}

	s.Status = to
	if result != nil {
		s.Result = *result
	}
	tr.took, tr.measured = stampTiming(s, tr.from, to, now)
	s.UpdatedAt = now
	p.UpdatedAt = now

	e.broker.Publish(Event{
		Type:      EventStepStatus,
		PlanID:    p.ID,
		StepIndex: &tr.index,
		From:      tr.from,
		To:        to,
		Reopened:  tr.reopened,
		At:        now,
	})
	return tr, nil
}

// observe counts and logs a transition once the plan lock has been released.
func (e *Engine) observe(planID string, tr transition) {
	stepTransitionsTotal.WithLabelValues(string(tr.from), string(tr.to)).Inc()
	if tr.measured {
		stepDuration.Observe(tr.took.Seconds())
	}

	attrs := []any{"plan_id", planID, "step", tr.index, "from", tr.from, "to", tr.to}
	if tr.reopened {
		attrs = append(attrs, "reopened", true)
	}
	e.logger.Info("step status updated", attrs...)
}

// SetStepStatus sets the status of step idx. Any status may follow any
// other; moving a Completed or Blocked step back to Pending or InProgress is
// logged as a reopen. Entering InProgress for the first time stamps
// startedAt, entering Completed stamps completedAt, and leaving Completed
// clears it. The updated plan is returned.
func (e *Engine) SetStepStatus(ctx context.Context, id string, idx int, status model.StepStatus) (*model.Plan, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown step status %q", model.ErrInvalidArgument, status)
	}
	return e.updateStatus(ctx, id, idx, status, nil)
}

// CompleteStep marks step idx Completed and records result, which may be
// empty.
func (e *Engine) CompleteStep(ctx context.Context, id string, idx int, result string) (*model.Plan, error) {
	return e.updateStatus(ctx, id, idx, model.StatusCompleted, &result)
}

func (e *Engine) updateStatus(ctx context.Context, id string, idx int, to model.StepStatus, result *string) (*model.Plan, error) {
	var tr transition
	updated, err := e.plans.Update(id, func(p *model.Plan) error {
		var err error
		tr, err = e.applyStatus(p, idx, to, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.observe(id, tr)
	e.persist(ctx, updated)
	return updated, nil
}

// ToggleBreakpoint sets or clears the breakpoint flag of step idx without
// touching its status.
func (e *Engine) ToggleBreakpoint(ctx context.Context, id string, idx int, on bool) (*model.Plan, error) {
	updated, err := e.plans.Update(id, func(p *model.Plan) error {
		s, err := stepAt(p, idx)
		if err != nil {
			return err
		}
		now := e.now()
		s.IsBreakpoint = on
		s.UpdatedAt = now
		p.UpdatedAt = now

		e.broker.Publish(Event{
			Type:         EventBreakpoint,
			PlanID:       p.ID,
			StepIndex:    &idx,
			IsBreakpoint: &on,
			At:           now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("breakpoint toggled", "plan_id", id, "step", idx, "is_breakpoint", on)
	e.persist(ctx, updated)
	return updated, nil
}

// UpdateVisualGraph replaces the plan's visual graph blob verbatim. The blob
// is never interpreted.
func (e *Engine) UpdateVisualGraph(ctx context.Context, id, blob string) (*model.Plan, error) {
	updated, err := e.plans.Update(id, func(p *model.Plan) error {
		p.VisualGraphBlob = blob
		p.UpdatedAt = e.now()
		e.broker.Publish(Event{Type: EventVisualGraph, PlanID: p.ID, At: p.UpdatedAt})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("visual graph updated", "plan_id", id, "bytes", len(blob))
	e.persist(ctx, updated)
	return updated, nil
}

// CurrentStep returns a copy of the step the caller should act on next, or
// nil when every step is Completed or Blocked. It has no side effects.
func (e *Engine) CurrentStep(_ context.Context, id string) (*model.Step, error) {
	var cur *model.Step
	err := e.plans.View(id, func(p *model.Plan) error {
		if idx, ok := ResolveCurrentStep(p.Steps); ok {
			cur = p.Steps[idx].Clone()
		}
		return nil
	})
	return cur, err
}

// StartNextStep resolves the current step and, if it is still Pending, moves
// it to InProgress in the same critical section. It returns the resulting
// step, or nil when the plan has no current step.
func (e *Engine) StartNextStep(ctx context.Context, id string) (*model.Step, error) {
	var (
		cur *model.Step
		tr  transition
	)
	updated, err := e.plans.Update(id, func(p *model.Plan) error {
		idx, ok := ResolveCurrentStep(p.Steps)
		if !ok {
			return errNothingToDo
		}
		if p.Steps[idx].Status != model.StatusPending {
			cur = p.Steps[idx].Clone()
			return errNothingToDo
		}

		var err error
		if tr, err = e.applyStatus(p, idx, model.StatusInProgress, nil); err != nil {
			return err
		}
		cur = p.Steps[idx].Clone()
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return cur, nil
	}
	if err != nil {
		return nil, err
	}

	e.observe(id, tr)
	e.persist(ctx, updated)
	return cur, nil
}

// Progress returns the plan's progress.
func (e *Engine) Progress(_ context.Context, id string) (Progress, error) {
	var pr Progress
	err := e.plans.View(id, func(p *model.Plan) error {
		pr = ComputeProgress(p)
		return nil
	})
	return pr, err
}

// PerformanceReport returns the plan's step timings. It does not fail when
// steps lack timestamps.
func (e *Engine) PerformanceReport(_ context.Context, id string) (PerformanceReport, error) {
	var rep PerformanceReport
	err := e.plans.View(id, func(p *model.Plan) error {
		rep = ComputePerformance(p)
		return nil
	})
	return rep, err
}
