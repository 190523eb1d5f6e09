package engine

import "github.com/seantiz/stepwise/internal/model"

// ResolveCurrentStep returns the index of the step a caller should act on
// next, and false when every step is Completed or Blocked.
//
// The candidate is the first InProgress step, or failing that the first
// Pending one. A breakpoint on an earlier step that is still Pending or
// InProgress holds the plan there: that step is returned instead.
func ResolveCurrentStep(steps []model.Step) (int, bool) {
	candidate := -1
	for i := range steps {
		if steps[i].Status == model.StatusInProgress {
			candidate = i
			break
		}
	}
	if candidate < 0 {
		for i := range steps {
			if steps[i].Status == model.StatusPending {
				candidate = i
				break
			}
		}
	}
	if candidate < 0 {
		return -1, false
	}

	for i := 0; i < candidate; i++ {
		if steps[i].IsBreakpoint && steps[i].Status.Active() {
			return i, true
		}
	}
	return candidate, true
}
