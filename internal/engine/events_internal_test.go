package engine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBrokerForgetsTopics(t *testing.T) {
	b := NewEventBroker()

	b.Close("never-subscribed")
	assert.Zero(t, b.topicCount(), "Close of an unknown plan")

	_, unsub := b.Subscribe("p1")
	_, unsub2 := b.Subscribe("p1")
	assert.Equal(t, 1, b.topicCount())
	unsub()
	assert.Equal(t, 1, b.topicCount(), "one subscriber left")
	unsub2()
	assert.Zero(t, b.topicCount(), "last unsubscribe")

	_, unsub = b.Subscribe("p2")
	b.Close("p2")
	assert.Zero(t, b.topicCount(), "Close")

	// A new subscriber after Close owns a new topic that the stale
	// unsubscribe must not remove.
	_, unsub3 := b.Subscribe("p2")
	unsub()
	assert.Equal(t, 1, b.topicCount())
	unsub3()
	assert.Zero(t, b.topicCount())
}

func TestDeletedPlansLeaveNoTopics(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, slog.New(slog.DiscardHandler))
	for range 10 {
		p, err := e.CreatePlan(ctx, CreatePlanRequest{Title: "t", Steps: []string{"a"}})
		if !assert.NoError(t, err) {
			return
		}
		assert.True(t, e.DeletePlan(ctx, p.ID))
	}
	assert.Zero(t, e.Broker().topicCount())
}
