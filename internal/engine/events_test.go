package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/stepwise/internal/engine"
	"github.com/seantiz/stepwise/internal/model"
)

func statusEvent(planID string, to model.StepStatus) engine.Event {
	return engine.Event{Type: engine.EventStepStatus, PlanID: planID, To: to}
}

func drain(ch <-chan engine.Event) []engine.Event {
	var got []engine.Event
	for ev := range ch {
		got = append(got, ev)
	}
	return got
}

func TestEventBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("p1")
	defer unsub()

	sent := []model.StepStatus{model.StatusInProgress, model.StatusCompleted, model.StatusPending}
	for _, st := range sent {
		b.Publish(statusEvent("p1", st))
	}
	b.Close("p1")

	got := drain(ch)
	require.Len(t, got, len(sent))
	for i, ev := range got {
		assert.Equal(t, sent[i], ev.To, "event %d", i)
	}
}

func TestEventBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewEventBroker()
	ch1, unsub1 := b.Subscribe("p1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("p1")
	defer unsub2()

	b.Publish(statusEvent("p1", model.StatusBlocked))
	b.Close("p1")

	for _, ch := range []<-chan engine.Event{ch1, ch2} {
		got := drain(ch)
		require.Len(t, got, 1)
		assert.Equal(t, model.StatusBlocked, got[0].To)
	}
}

func TestEventBrokerTopicsAreIsolated(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("p1")
	defer unsub()

	b.Publish(statusEvent("p2", model.StatusCompleted))
	b.Close("p1")

	assert.Empty(t, drain(ch))
}

// A topic closed before anyone subscribed leaves nothing behind, and a later
// subscriber gets a fresh open topic.
func TestEventBrokerCloseWithoutSubscribers(t *testing.T) {
	b := engine.NewEventBroker()
	b.Publish(statusEvent("p1", model.StatusCompleted))
	b.Close("p1")

	ch, unsub := b.Subscribe("p1")
	b.Publish(statusEvent("p1", model.StatusBlocked))
	unsub()

	select {
	case ev := <-ch:
		assert.Equal(t, model.StatusBlocked, ev.To)
	default:
		require.Fail(t, "subscriber after Close received nothing")
	}
}

func TestEventBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("p1")
	unsub()

	b.Publish(statusEvent("p1", model.StatusCompleted))
	b.Close("p1")

	select {
	case ev, ok := <-ch:
		assert.False(t, ok, "got unexpected event %v after unsubscribe", ev)
	default:
	}
}

func TestEventBrokerDropsForSlowSubscriber(t *testing.T) {
	b := engine.NewEventBroker()
	ch, unsub := b.Subscribe("p1")
	defer unsub()

	// Publishing far past the buffer must never block.
	for range 1000 {
		b.Publish(statusEvent("p1", model.StatusInProgress))
	}
	b.Close("p1")

	n := len(drain(ch))
	assert.Positive(t, n)
	assert.Less(t, n, 1000)
}
