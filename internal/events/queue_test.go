package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func TestQueueNotifierForwardsSelectedTopics(t *testing.T) {
	enq := &recordingEnqueuer{}
	bus := NewBus(QueueNotifier{Client: enq, Queue: "orders", Topics: []string{TopicOrderCreated}})
	ctx := context.Background()

	_, err := bus.Emit(ctx, TopicCartUpdated, "sess-1", map[string]int{"count": 2})
	require.NoError(t, err)
	require.Empty(t, enq.tasks)

	ev, err := bus.Emit(ctx, TopicOrderCreated, "sess-1", map[string]string{"orderId": "101"})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, "medihub:order.created", enq.tasks[0].Type())

	var forwarded Event
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &forwarded))
	require.Equal(t, ev.ID, forwarded.ID)
	require.JSONEq(t, `{"orderId":"101"}`, string(forwarded.Payload))
}

func TestQueueNotifierConflictIsNotAnError(t *testing.T) {
	n := QueueNotifier{Client: &recordingEnqueuer{err: asynq.ErrTaskIDConflict}, Topics: []string{TopicOrderCreated}}
	require.NoError(t, n.Notify(context.Background(), Event{ID: "e1", Topic: TopicOrderCreated}))

	n.Client = &recordingEnqueuer{err: errors.New("redis: connection refused")}
	require.ErrorContains(t, n.Notify(context.Background(), Event{ID: "e1", Topic: TopicOrderCreated}), "enqueue order.created")
}
