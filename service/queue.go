package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"StoryToVideo-studio/config"

	"github.com/hibiken/asynq"
)

const (
	TypePollJob = "job:poll"
)

type PollPayload struct {
	Key string `json:"key"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// QueueDispatcher runs generation poll loops on asynq workers, so the number
// of loops polling the backend at once is bounded by the worker concurrency.
// Loops are in-process closures; the queued task only carries the job key, so
// tasks go to a queue only this process consumes.
type QueueDispatcher struct {
	Client  *asynq.Client
	Ceiling time.Duration
	Queue   string

	loops sync.Map // key -> func(context.Context)
}

func NewQueueDispatcher(client *asynq.Client, ceiling time.Duration, queue string) *QueueDispatcher {
	return &QueueDispatcher{Client: client, Ceiling: ceiling, Queue: queue}
}

func (d *QueueDispatcher) queue() string {
	if d.Queue == "" {
		return "default"
	}
	return d.Queue
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, key string, loop func(ctx context.Context)) error {
	payload, err := json.Marshal(PollPayload{Key: key})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}
	d.loops.Store(key, loop)

	task := asynq.NewTask(TypePollJob, payload,
		asynq.Queue(d.queue()),
		asynq.MaxRetry(0),
		asynq.Timeout(d.Ceiling+30*time.Second),
		asynq.Retention(24*time.Hour),
	)
	info, err := d.Client.EnqueueContext(ctx, task)
	if err != nil {
		d.loops.Delete(key)
		return fmt.Errorf("enqueue failed: %w", err)
	}
	log.Printf("[Queue] Poll Enqueued: Key=%s, Queue=%s, TaskID=%s", key, info.Queue, info.ID)
	return nil
}

// HandlePollTask runs the loop registered for the task's key.
func (d *QueueDispatcher) HandlePollTask(ctx context.Context, t *asynq.Task) error {
	var payload PollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	v, ok := d.loops.LoadAndDelete(payload.Key)
	if !ok {
		log.Printf("[Queue] no poll loop for %s, abandoning", payload.Key)
		return fmt.Errorf("no poll loop for %s: %w", payload.Key, asynq.SkipRetry)
	}
	v.(func(context.Context))(ctx)
	return nil
}
