package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/stepwise/internal/codec"
	"github.com/seantiz/stepwise/internal/model"
)

// ExportWorkflow returns the plan as a JSON document that ImportWorkflow
// accepts.
func (e *Engine) ExportWorkflow(_ context.Context, id string) (string, error) {
	data, err := e.encode(id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *Engine) encode(id string) ([]byte, error) {
	var data []byte
	err := e.plans.View(id, func(p *model.Plan) error {
		var err error
		data, err = codec.Encode(p)
		return err
	})
	return data, err
}

// ImportWorkflow decodes a plan document and stores it as a new plan. The
// plan always receives a fresh identifier, so an import never overwrites an
// existing plan; createdAt is kept from the document and updatedAt is set to
// now. Malformed documents fail with model.ErrInvalidFormat.
func (e *Engine) ImportWorkflow(ctx context.Context, doc string) (*model.Plan, error) {
	p, err := codec.Decode([]byte(doc))
	if err != nil {
		return nil, err
	}

	sourceID := p.ID
	now := e.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Version = 1

	e.add(ctx, p)
	e.logger.Info("plan imported", "plan_id", p.ID, "source_id", sourceID, "steps", len(p.Steps))
	return p.Clone(), nil
}

// ImportTodoMarkdown builds a new plan from a Markdown checklist: the first
// level-one heading is the title and each task item a step, checked items
// being Completed.
func (e *Engine) ImportTodoMarkdown(ctx context.Context, markdown string) (*model.Plan, error) {
	todo, err := codec.ParseTodo([]byte(markdown))
	if err != nil {
		return nil, err
	}

	now := e.now()
	descriptions := make([]string, len(todo.Items))
	for i, item := range todo.Items {
		descriptions[i] = item.Description
	}
	steps := model.NewSteps(descriptions, now)
	for i, item := range todo.Items {
		if item.Done {
			t := now
			steps[i].Status = model.StatusCompleted
			steps[i].CompletedAt = &t
		}
	}

	p := &model.Plan{
		Title:     todo.Title,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	e.add(ctx, p)
	e.logger.Info("plan imported from todo", "plan_id", p.ID, "steps", len(p.Steps))
	return p.Clone(), nil
}

// SyncTodoMarkdown applies a Markdown checklist to an existing plan, matching
// task items to steps by position. A checked item completes its step and an
// unchecked item reopens a Completed step to Pending; unchecked InProgress
// and Blocked steps are left alone. The heading and item text are not
// compared. A checklist whose item count differs from the step count fails
// with model.ErrOutOfRange and changes nothing. When no step changes, the
// plan is returned as it was, without a new version.
func (e *Engine) SyncTodoMarkdown(ctx context.Context, id, markdown string) (*model.Plan, error) {
	todo, err := codec.ParseTodo([]byte(markdown))
	if err != nil {
		return nil, err
	}

	var (
		trs     []transition
		current *model.Plan
	)
	updated, err := e.plans.Update(id, func(p *model.Plan) error {
		if len(todo.Items) != len(p.Steps) {
			return fmt.Errorf("%w: todo list has %d items, plan %s has %d steps",
				model.ErrOutOfRange, len(todo.Items), p.ID, len(p.Steps))
		}
		for i, item := range todo.Items {
			from := p.Steps[i].Status
			var to model.StepStatus
			switch {
			case item.Done && from != model.StatusCompleted:
				to = model.StatusCompleted
			case !item.Done && from == model.StatusCompleted:
				to = model.StatusPending
			default:
				continue
			}
			tr, err := e.applyStatus(p, i, to, nil)
			if err != nil {
				return err
			}
			trs = append(trs, tr)
		}
		if len(trs) == 0 {
			current = p.Clone()
			return errNothingToDo
		}
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return current, nil
	}
	if err != nil {
		return nil, err
	}

	for _, tr := range trs {
		e.observe(id, tr)
	}
	e.logger.Info("todo synced", "plan_id", id, "changed", len(trs))
	e.persist(ctx, updated)
	return updated, nil
}

// RenderTodoMarkdown renders the plan as a Markdown checklist.
func (e *Engine) RenderTodoMarkdown(_ context.Context, id string) (string, error) {
	var md string
	err := e.plans.View(id, func(p *model.Plan) error {
		md = codec.RenderTodo(p)
		return nil
	})
	return md, err
}

// SaveToFile writes the plan document to path. The document is captured
// under the plan's read lock and written after it is released, bounded by
// the engine's file timeout.
func (e *Engine) SaveToFile(ctx context.Context, id, path string) error {
	data, err := e.encode(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.fileTimeout)
	defer cancel()
	if err := codec.WriteFile(ctx, path, data); err != nil {
		return fmt.Errorf("save plan %s: %w", id, err)
	}
	e.logger.Info("plan saved", "plan_id", id, "path", path, "bytes", len(data))
	return nil
}

// LoadFromFile reads a plan document from path and imports it as a new plan.
func (e *Engine) LoadFromFile(ctx context.Context, path string) (*model.Plan, error) {
	readCtx, cancel := context.WithTimeout(ctx, e.fileTimeout)
	defer cancel()

	data, err := codec.ReadFile(readCtx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	p, err := e.ImportWorkflow(ctx, string(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return p, nil
}
