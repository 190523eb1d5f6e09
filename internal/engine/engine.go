package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/seantiz/stepwise/internal/model"
	"github.com/seantiz/stepwise/internal/store"
)

const (
	// DefaultFileTimeout bounds a single save or load when the caller's
	// context carries no earlier deadline.
	DefaultFileTimeout = 10 * time.Second

	persistTimeout = 5 * time.Second
)

// Engine is the plan execution orchestrator. It records status, timing and
// ordering for work performed elsewhere; it never runs steps itself.
type Engine struct {
	plans       *Registry
	store       store.Store
	broker      *EventBroker
	logger      *slog.Logger
	now         func() time.Time
	fileTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithFileTimeout sets the deadline applied to each file save or load.
func WithFileTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fileTimeout = d
		}
	}
}

// NewEngine creates an engine. s may be nil, in which case plans live in
// memory only.
func NewEngine(s store.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		plans:       NewRegistry(),
		store:       s,
		broker:      NewEventBroker(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		fileTimeout: DefaultFileTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Restore loads every live plan from the store into memory. It must run
// before the engine serves requests and returns the number of plans loaded.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}

	plans, err := e.store.LoadPlans(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore plans: %w", err)
	}
	for _, p := range plans {
		if err := e.plans.Insert(p); err != nil {
			return 0, fmt.Errorf("restore plan %s: %w", p.ID, err)
		}
	}
	plansActive.Set(float64(e.plans.Len()))
	e.logger.Info("plans restored", "count", len(plans))
	return len(plans), nil
}

// CreatePlanRequest holds the input of CreatePlan.
type CreatePlanRequest struct {
	Title        string
	Description  string
	Steps        []string
	VisualGraph  string
	ExecutorKeys []string
	Metadata     map[string]any
}

// CreatePlan builds a plan with every step Pending and no breakpoints. An
// empty title or step list fails with model.ErrInvalidArgument.
func (e *Engine) CreatePlan(ctx context.Context, req CreatePlanRequest) (*model.Plan, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidArgument)
	}
	if len(req.Steps) == 0 {
		return nil, fmt.Errorf("%w: at least one step is required", model.ErrInvalidArgument)
	}
	for i, d := range req.Steps {
		if strings.TrimSpace(d) == "" {
			return nil, fmt.Errorf("%w: step %d has an empty description", model.ErrInvalidArgument, i)
		}
	}

	now := e.now()
	p := &model.Plan{
		Title:           req.Title,
		Description:     req.Description,
		Steps:           model.NewSteps(req.Steps, now),
		VisualGraphBlob: req.VisualGraph,
		ExecutorKeys:    slices.Clone(req.ExecutorKeys),
		Metadata:        model.CloneMetadata(req.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	e.add(ctx, p)
	e.logger.Info("plan created", "plan_id", p.ID, "title", p.Title, "steps", len(p.Steps))
	return p.Clone(), nil
}

// add registers a freshly built plan under a new ID and writes it behind.
func (e *Engine) add(ctx context.Context, p *model.Plan) {
	e.plans.Add(p)
	plansActive.Inc()
	e.broker.Publish(Event{Type: EventPlanCreated, PlanID: p.ID, At: p.UpdatedAt})
	e.persist(ctx, p)
}

// GetPlan returns a copy of the plan.
func (e *Engine) GetPlan(_ context.Context, id string) (*model.Plan, error) {
	return e.plans.Get(id)
}

// ListPlans returns copies of all plans in the order they were registered.
func (e *Engine) ListPlans(_ context.Context) []*model.Plan {
	return e.plans.List()
}

// PlanCount returns the number of plans currently held.
func (e *Engine) PlanCount() int {
	return e.plans.Len()
}

// DeletePlan removes a plan and reports whether it existed. Event streams of
// the plan are closed.
func (e *Engine) DeletePlan(ctx context.Context, id string) bool {
	if !e.plans.Remove(id) {
		return false
	}
	plansActive.Dec()

	e.broker.Publish(Event{Type: EventPlanDeleted, PlanID: id, At: e.now()})
	e.broker.Close(id)
	e.logger.Info("plan deleted", "plan_id", id)

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := e.store.DeletePlan(ctx, id); err != nil {
			persistFailuresTotal.Inc()
			e.logger.Error("failed to tombstone plan", "plan_id", id, "error", err)
		}
	}
	return true
}

// Stats aggregates step counts and durations across all plans.
func (e *Engine) Stats(ctx context.Context) Stats {
	return ComputeStats(e.ListPlans(ctx))
}

// persist writes a snapshot to the store. It runs after the plan lock has
// been released; the snapshot version lets the store discard stale writes
// that arrive out of order. Failures are logged and counted; they never fail
// the calling operation.
func (e *Engine) persist(ctx context.Context, p *model.Plan) {
	if e.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.store.SavePlan(ctx, p); err != nil {
		persistFailuresTotal.Inc()
		e.logger.Error("failed to persist plan", "plan_id", p.ID, "version", p.Version, "error", err)
	}
}
