package engine

import (
	"sync"
	"time"

	"github.com/seantiz/stepwise/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// EventType names a kind of plan change.
type EventType string

// Event type constants.
const (
	EventPlanCreated EventType = "plan_created"
	EventStepStatus  EventType = "step_status"
	EventBreakpoint  EventType = "breakpoint"
	EventVisualGraph EventType = "visual_graph"
	EventPlanDeleted EventType = "plan_deleted"
)

// Event describes one mutation of a plan.
type Event struct {
	Type         EventType        `json:"type"`
	PlanID       string           `json:"planId"`
	StepIndex    *int             `json:"stepIndex,omitempty"`
	From         model.StepStatus `json:"from,omitempty"`
	To           model.StepStatus `json:"to,omitempty"`
	Reopened     bool             `json:"reopened,omitempty"`
	IsBreakpoint *bool            `json:"isBreakpoint,omitempty"`
	At           time.Time        `json:"at"`
}

// EventBroker fans plan events out to subscribers, one topic per plan.
// A topic exists only while it has subscribers. It is safe for concurrent use.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given plan and an
// unsubscribe function. The broker does not know which plans exist: a caller
// streaming a plan must subscribe first and then check that the plan is
// still there, so that a concurrent delete either fails the check or closes
// the channel.
func (b *EventBroker) Subscribe(planID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[planID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[planID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if len(t.subs) == 0 && b.topics[planID] == t {
			delete(b.topics, planID)
		}
	}
}

// Publish sends an event to all subscribers of its plan without blocking.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.PlanID]
	if !ok {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the plan's topic: every subscriber channel is closed and the
// topic is forgotten.
func (b *EventBroker) Close(planID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[planID]
	if !ok {
		return
	}
	delete(b.topics, planID)
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// topicCount returns the number of live topics.
func (b *EventBroker) topicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
