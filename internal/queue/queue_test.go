package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/kottokmotors/clockin.click/internal/queue"
)

func TestInMemoryPublishConsume(t *testing.T) {
	c := qt.New(t)
	q := queue.NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg, err := queue.NewRepairMessage(queue.RepairJob{
		ID:        "job-1",
		LearnerID: "l-1",
		Requested: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(q.Publish(ctx, msg), qt.IsNil)

	out, err := q.Consume(ctx)
	c.Assert(err, qt.IsNil)

	select {
	case got := <-out:
		c.Assert(got.Type, qt.Equals, queue.TypeRepairSweep)
		var job queue.RepairJob
		c.Assert(json.Unmarshal(got.Body, &job), qt.IsNil)
		c.Assert(job.LearnerID, qt.Equals, "l-1")
	case <-time.After(time.Second):
		c.Fatal("no message consumed")
	}
}

func TestInMemoryPublishCancelled(t *testing.T) {
	c := qt.New(t)
	q := queue.NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	c.Assert(q.Publish(ctx, queue.Message{Type: "x"}), qt.IsNil)

	// Queue full and context gone: publish fails instead of hanging.
	cancel()
	err := q.Publish(ctx, queue.Message{Type: "y"})
	c.Assert(err, qt.ErrorIs, context.Canceled)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	c := qt.New(t)
	q := queue.NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	out, err := q.Consume(ctx)
	c.Assert(err, qt.IsNil)
	cancel()

	select {
	case _, open := <-out:
		c.Assert(open, qt.IsFalse)
	case <-time.After(time.Second):
		c.Fatal("consume channel not closed after cancel")
	}
}
