package engine

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/seantiz/stepwise/internal/model"
)

// Registry is the concurrency-safe plan store. The map lock only guards the
// index of plans; each plan carries its own RWMutex, so mutations of one plan
// never wait on another.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
}

type entry struct {
	mu      sync.RWMutex
	seq     uint64
	plan    *model.Plan
	removed bool
}

// NewRegistry creates an empty plan registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Insert stores a copy of p. It fails with model.ErrInvalidArgument if a plan
// with the same ID is already registered.
func (r *Registry) Insert(p *model.Plan) error {
	mustBeIndexed(p)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[p.ID]; ok {
		return fmt.Errorf("%w: plan %s already exists", model.ErrInvalidArgument, p.ID)
	}
	r.insertLocked(p)
	return nil
}

// Add assigns p a fresh identifier and stores a copy of it. Identifiers are
// minted under the map lock, so they sort in insertion order and the store
// can replay that order after a restart.
func (r *Registry) Add(p *model.Plan) {
	mustBeIndexed(p)

	r.mu.Lock()
	defer r.mu.Unlock()

	p.ID = model.NewID()
	r.insertLocked(p)
}

func (r *Registry) insertLocked(p *model.Plan) {
	r.entries[p.ID] = &entry{seq: r.nextSeq, plan: p.Clone()}
	r.nextSeq++
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: plan %s", model.ErrNotFound, id)
	}
	return e, nil
}

// View calls fn with the stored plan under the plan's shared lock. fn must
// neither retain nor modify p.
func (r *Registry) View(id string, fn func(p *model.Plan) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.removed {
		return fmt.Errorf("%w: plan %s", model.ErrNotFound, id)
	}
	return fn(e.plan)
}

// Get returns a copy of the plan.
func (r *Registry) Get(id string) (*model.Plan, error) {
	var c *model.Plan
	err := r.View(id, func(p *model.Plan) error {
		c = p.Clone()
		return nil
	})
	return c, err
}

// Update runs mutate under the plan's exclusive lock. mutate must validate
// before it modifies anything: when it returns an error the plan is left
// untouched and the error is returned as is. On success the plan's version
// is incremented and a copy of the result is returned.
func (r *Registry) Update(id string, mutate func(p *model.Plan) error) (*model.Plan, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, fmt.Errorf("%w: plan %s", model.ErrNotFound, id)
	}

	if err := mutate(e.plan); err != nil {
		return nil, err
	}
	mustBeIndexed(e.plan)
	e.plan.Version++
	return e.plan.Clone(), nil
}

// List returns copies of all plans in insertion order.
func (r *Registry) List() []*model.Plan {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *entry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	plans := make([]*model.Plan, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if !e.removed {
			plans = append(plans, e.plan.Clone())
		}
		e.mu.RUnlock()
	}
	return plans
}

// Remove deletes the plan and reports whether it existed. An Update already
// holding the plan's lock finishes first; later ones see ErrNotFound.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return true
}

// Len returns the number of registered plans.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// mustBeIndexed panics when a step's index differs from its position. Every
// path into the registry validates this, so a violation is a programming error.
func mustBeIndexed(p *model.Plan) {
	for i := range p.Steps {
		if p.Steps[i].Index != i {
			panic(fmt.Sprintf("engine: plan %s step at position %d has index %d", p.ID, i, p.Steps[i].Index))
		}
	}
}
