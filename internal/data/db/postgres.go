// Package db wires the GORM/Postgres connection, grounded on the
// teacher's internal/data/db.PostgresService.
package db

import (
	"fmt"
	golog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/pipeline-orchestrator/internal/config"
	"github.com/yungbote/pipeline-orchestrator/internal/domain"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(cfg config.Settings, log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	gormLog := gormLogger.New(
		golog.New(os.Stdout, "\r\n", golog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if err := conn.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	if err := conn.AutoMigrate(&domain.Job{}); err != nil {
		return nil, fmt.Errorf("failed to automigrate job table: %w", err)
	}

	serviceLog.Info("postgres connected", "env", cfg.Env)
	return &PostgresService{db: conn, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }
