package broker

import (
	"context"
	"sync"
	"time"
)

// FakeBroker is an in-memory Broker for tests, grounded on the teacher's
// pattern of substituting real infra-backed services with lightweight
// fakes at test boundaries rather than spinning up Redis in unit tests.
type FakeBroker struct {
	mu      sync.Mutex
	queues  map[string][]Task
	results map[string]Result
}

func NewFakeBroker() *FakeBroker {
	return &FakeBroker{
		queues:  make(map[string][]Task),
		results: make(map[string]Result),
	}
}

func (f *FakeBroker) Enqueue(ctx context.Context, pool string, task Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[pool] = append(f.queues[pool], task)
	f.results[task.ID] = Result{State: TaskStarted, UpdatedAt: time.Now().UTC()}
	return nil
}

func (f *FakeBroker) Dequeue(ctx context.Context, pool string, timeout time.Duration) (Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[pool]
	if len(q) == 0 {
		return Task{}, false, nil
	}
	task := q[0]
	f.queues[pool] = q[1:]
	return task, true, nil
}

func (f *FakeBroker) SetResult(ctx context.Context, taskID string, result Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[taskID] = result
	return nil
}

func (f *FakeBroker) GetResult(ctx context.Context, taskID string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[taskID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *FakeBroker) Forget(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.results, taskID)
	return nil
}

// QueueLen reports how many tasks are currently pending on pool, for
// test assertions.
func (f *FakeBroker) QueueLen(pool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[pool])
}
