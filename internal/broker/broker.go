// Package broker is the Celery-analogue described in spec.md's Glossary:
// a named task queue per pool plus a result backend keyed by task id,
// standing in for the original service's RabbitMQ broker + Redis result
// backend pair. No AMQP client exists anywhere in the retrieved example
// corpus, so both roles are implemented here over a single
// github.com/redis/go-redis/v9 client — the same dependency the teacher
// already uses for its SSE pub/sub bus (internal/realtime/bus/redis_bus.go).
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
)

// TaskState mirrors the Celery states the original scheduler switches on:
// STARTED, SUCCESS, FAILURE.
type TaskState string

const (
	TaskStarted TaskState = "STARTED"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
)

// Task is one dispatched unit of work: a job id, the "pool.stage_name"
// step identifier being run, and the opaque submission payload (Design
// Note "Opaque payload values").
type Task struct {
	ID      string         `json:"id"`
	JobID   string         `json:"job_id"`
	Step    string         `json:"step"`
	Payload map[string]any `json:"payload"`
}

type Result struct {
	State     TaskState `json:"state"`
	Log       string    `json:"log,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Broker is the interface stages/scheduler depend on, so tests can swap
// in an in-memory fake (Design Note "Implicit global clients").
type Broker interface {
	// Enqueue pushes task onto the named pool's queue (e.g. "cpu", "gpu")
	// and seeds its result as STARTED, matching Celery's task_track_started.
	Enqueue(ctx context.Context, pool string, task Task) error

	// Dequeue blocks (up to timeout) for the next task on pool's queue.
	// A zero Task with ok=false means the timeout elapsed with no work.
	Dequeue(ctx context.Context, pool string, timeout time.Duration) (task Task, ok bool, err error)

	SetResult(ctx context.Context, taskID string, result Result) error
	GetResult(ctx context.Context, taskID string) (*Result, error)

	// Forget deletes a task's result, mirroring AsyncResult.forget() once
	// the scheduler has consumed a SUCCESS result.
	Forget(ctx context.Context, taskID string) error
}

type redisBroker struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisBroker(log *logger.Logger, redisURL string) (Broker, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBroker{
		log: log.With("service", "broker"),
		rdb: rdb,
		ttl: 24 * time.Hour,
	}, nil
}

func queueKey(pool string) string  { return "pipeline:queue:" + pool }
func resultKey(taskID string) string { return "pipeline:result:" + taskID }

func (b *redisBroker) Enqueue(ctx context.Context, pool string, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, queueKey(pool), raw)
	b.writeResult(ctx, pipe, task.ID, Result{State: TaskStarted, UpdatedAt: nowUTC()})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

func (b *redisBroker) Dequeue(ctx context.Context, pool string, timeout time.Duration) (Task, bool, error) {
	res, err := b.rdb.BRPop(ctx, timeout, queueKey(pool)).Result()
	if err == goredis.Nil {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("dequeue from %s: %w", pool, err)
	}
	// BRPop returns [key, value]; value is index 1.
	if len(res) < 2 {
		return Task{}, false, fmt.Errorf("unexpected brpop reply: %v", res)
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return Task{}, false, fmt.Errorf("unmarshal task: %w", err)
	}
	return task, true, nil
}

func (b *redisBroker) SetResult(ctx context.Context, taskID string, result Result) error {
	pipe := b.rdb.TxPipeline()
	b.writeResult(ctx, pipe, taskID, result)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *redisBroker) writeResult(ctx context.Context, pipe goredis.Pipeliner, taskID string, result Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	pipe.Set(ctx, resultKey(taskID), raw, b.ttl)
}

func (b *redisBroker) GetResult(ctx context.Context, taskID string) (*Result, error) {
	raw, err := b.rdb.Get(ctx, resultKey(taskID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", taskID, err)
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", taskID, err)
	}
	return &result, nil
}

func (b *redisBroker) Forget(ctx context.Context, taskID string) error {
	return b.rdb.Del(ctx, resultKey(taskID)).Err()
}

// nowUTC exists so every result timestamp in this package funnels through
// one place — tests replace it via the package-level var below.
var nowUTC = func() time.Time { return time.Now().UTC() }
