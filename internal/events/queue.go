package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskPrefix namespaces asynq task types produced from events.
const TaskPrefix = "medihub:"

// Enqueuer is the subset of *asynq.Client used by QueueNotifier.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands selected events to asynq so fulfilment workers outside
// this service can act on them. The event id doubles as the task id, so an
// event forwarded twice is enqueued once.
type QueueNotifier struct {
	Client   Enqueuer
	Queue    string
	Topics   []string
	MaxRetry int
}

// TaskType returns the asynq task type carrying topic.
func TaskType(topic string) string { return TaskPrefix + topic }

// Notify enqueues ev when its topic is selected.
func (n QueueNotifier) Notify(ctx context.Context, ev Event) error {
	if n.Client == nil || !n.wants(ev.Topic) {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID)}
	if n.Queue != "" {
		opts = append(opts, asynq.Queue(n.Queue))
	}
	if n.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(n.MaxRetry))
	}
	_, err = n.Client.EnqueueContext(ctx, asynq.NewTask(TaskType(ev.Topic), data), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("events: enqueue %s: %w", ev.Topic, err)
	}
	return nil
}

func (n QueueNotifier) wants(topic string) bool {
	for _, t := range n.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
