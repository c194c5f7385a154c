// cmd/worker is the broker-dequeue execution engine from spec.md §4.3:
// it owns no scheduling decisions, only "pull a task for my pool, run
// the registered stage.Handler, report the result" — grounded on
// original_source's separate cpu-queue/gpu-queue Celery worker
// processes, reimplemented here as one binary parameterized by the
// POOL env var so the same image serves either pool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/yungbote/pipeline-orchestrator/internal/broker"
	"github.com/yungbote/pipeline-orchestrator/internal/config"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
	"github.com/yungbote/pipeline-orchestrator/internal/runner"
	"github.com/yungbote/pipeline-orchestrator/internal/stage"
	"github.com/yungbote/pipeline-orchestrator/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := logger.New(os.Getenv("ENV"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg := config.Load(log)

	store, err := blobstore.New(log)
	if err != nil {
		return fmt.Errorf("init blobstore: %w", err)
	}
	rn, err := runner.New(log)
	if err != nil {
		return fmt.Errorf("init container runner: %w", err)
	}
	b, err := broker.NewRedisBroker(log, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	reg := stage.NewRegistry()
	if err := stage.RegisterAll(reg, cfg); err != nil {
		return fmt.Errorf("register stages: %w", err)
	}

	pools := poolNames(os.Getenv("POOL"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, name := range pools {
		p := worker.NewPool(name, cfg.WorkerConcurrency, b, store, rn, reg, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Start(ctx)
		}()
	}

	log.Info("worker starting", "pools", pools, "concurrency", cfg.WorkerConcurrency)
	wg.Wait()
	return nil
}

// poolNames maps the POOL env var ("cpu", "gpu", "cpu,gpu", or unset)
// onto the queue names a worker.Pool binds to. Unset means serve both,
// matching a single-process dev setup; production deployments pin one
// pool per container the way original_source runs separate cpu/gpu
// Celery worker deployments.
func poolNames(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"cpu", "gpu"}
	}
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	if len(names) == 0 {
		return []string{"cpu", "gpu"}
	}
	return names
}
