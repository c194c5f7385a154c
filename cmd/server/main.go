// cmd/server is the HTTP-facing process from spec.md §6: it accepts
// job submissions, answers status/download/cancel queries, and owns no
// scheduling or execution state of its own — that belongs to
// cmd/scheduler and cmd/worker respectively (Design Note "Three
// processes, one binary each"), matching the teacher's per-concern
// cmd/ layout rather than its single monolithic cmd/main.go.
package main

import (
	"fmt"
	"os"

	"github.com/yungbote/pipeline-orchestrator/internal/config"
	"github.com/yungbote/pipeline-orchestrator/internal/data/db"
	"github.com/yungbote/pipeline-orchestrator/internal/data/repos/jobs"
	httpapi "github.com/yungbote/pipeline-orchestrator/internal/http"
	"github.com/yungbote/pipeline-orchestrator/internal/http/handlers"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
	"github.com/yungbote/pipeline-orchestrator/internal/runner"
	"github.com/yungbote/pipeline-orchestrator/internal/submission"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
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

	store, err := blobstore.New(log)
	if err != nil {
		return fmt.Errorf("init blobstore: %w", err)
	}

	rn, err := runner.New(log)
	if err != nil {
		return fmt.Errorf("init container runner: %w", err)
	}

	repo := jobs.NewJobRepo(pg.DB(), log)
	submit := submission.New(repo, store, log)

	jobHandler := handlers.NewJobHandler(submit, repo, store, rn, cfg.Env, log)
	healthHandler := handlers.NewHealthHandler()

	srv := httpapi.NewServer(httpapi.RouterConfig{
		JobHandler:    jobHandler,
		HealthHandler: healthHandler,
	})

	log.Info("server listening", "port", cfg.Port)
	return srv.Run(":" + cfg.Port)
}
