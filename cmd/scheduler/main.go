// cmd/scheduler runs the three control loops from spec.md §4.7 —
// promoter, poller, reaper — as their own long-lived process, the way
// original_source/service/src/cmd/scheduler.py is a standalone
// APScheduler process separate from the Celery workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/pipeline-orchestrator/internal/broker"
	"github.com/yungbote/pipeline-orchestrator/internal/config"
	"github.com/yungbote/pipeline-orchestrator/internal/data/db"
	"github.com/yungbote/pipeline-orchestrator/internal/data/repos/jobs"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
	"github.com/yungbote/pipeline-orchestrator/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := logger.New(os.Getenv("ENV"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg := config.Load(log)

	pg, err := db.NewPostgresService(cfg, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	repo := jobs.NewJobRepo(pg.DB(), log)

	b, err := broker.NewRedisBroker(log, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(repo, b, log, cfg)
	log.Info("scheduler starting",
		"promoter_interval", cfg.PromoterInterval,
		"poller_interval", cfg.PollerInterval,
		"reaper_interval", cfg.ReaperInterval,
	)
	sched.Run(ctx)
	return nil
}
