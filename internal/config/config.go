// Package config loads process settings from the environment, grounded
// on the teacher's internal/utils.GetEnv helpers (typed lookup with a
// default and debug-level logging of the source) but reshaped into a
// single Settings value instead of scattered call sites, matching
// original_source/service/src/settings.py's BaseSettings class.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
)

type Environment string

const (
	EnvMain Environment = "main"
	EnvDev  Environment = "dev"
)

type Settings struct {
	Env Environment

	Port string

	// TmpDir is the shared-scratch root every stage reads/writes under.
	TmpDir string

	// DataBucket is SD_DATA_STORAGE_BUCKET_NAME in the original service.
	DataBucket string

	DatabaseURL string

	// RedisURL backs both the broker task queues and the result hash —
	// see DESIGN.md for why this collapses the original's separate
	// RABBITMQ_URL (broker) and REDIS_URL (result backend) into one.
	RedisURL string

	// QueueImageTag selects the container image tag the runner launches,
	// original_source's settings.QUEUE_IMAGE_TAG.
	QueueImageTag string

	// BlenderImageRepo/ComfyImageRepo are the two container image
	// repositories the stages launch against — the cpu-pool Blender
	// tooling image and the gpu-pool generation image, matching
	// original_source/service/src/queues/gpu.py's hardcoded repo with
	// QUEUE_IMAGE_TAG appended.
	BlenderImageRepo string
	ComfyImageRepo   string

	WorkerConcurrency int

	PromoterInterval time.Duration
	PollerInterval   time.Duration
	ReaperInterval   time.Duration
	ReaperMaxAge     time.Duration
}

func Load(log *logger.Logger) Settings {
	env := Environment(strings.ToLower(getEnv("ENV", "dev", log)))
	if env != EnvMain {
		env = EnvDev
	}

	return Settings{
		Env:               env,
		Port:              getEnv("PORT", "8080", log),
		TmpDir:            getEnv("TMP_DIR", "/tmp", log),
		DataBucket:        getEnv("SD_DATA_STORAGE_BUCKET_NAME", "sd-experiments", log),
		DatabaseURL:       resolveDatabaseURL(env, log),
		RedisURL:          firstNonEmpty(getEnv("REDIS_URL", "", log), getEnv("RABBITMQ_URL", "", log), "redis://localhost:6379/0"),
		QueueImageTag:     getEnv("QUEUE_IMAGE_TAG", "latest", log),
		BlenderImageRepo:  getEnv("BLENDER_IMAGE_REPO", "europe-central2-docker.pkg.dev/unitydiffusion/sd-experiments/sd_blender", log),
		ComfyImageRepo:    getEnv("COMFY_IMAGE_REPO", "europe-central2-docker.pkg.dev/unitydiffusion/sd-experiments/sd_comfywr", log),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4, log),
		PromoterInterval:  getEnvAsDuration("PROMOTER_INTERVAL", 2*time.Second, log),
		PollerInterval:    getEnvAsDuration("POLLER_INTERVAL", 2*time.Second, log),
		ReaperInterval:    getEnvAsDuration("REAPER_INTERVAL", 2*time.Hour, log),
		ReaperMaxAge:      getEnvAsDuration("REAPER_MAX_AGE", 72*time.Hour, log),
	}
}

func resolveDatabaseURL(env Environment, log *logger.Logger) string {
	if explicit := getEnv("DATABASE_URL", "", log); explicit != "" {
		return explicit
	}
	host := getEnv("POSTGRES_HOST", "localhost", log)
	port := getEnv("POSTGRES_PORT", "5432", log)
	user := getEnv("POSTGRES_USER", "postgres", log)
	password := getEnv("POSTGRES_PASSWORD", "", log)
	name := getEnv("POSTGRES_NAME", "pipeline_orchestrator", log)
	return "postgres://" + user + ":" + password + "@" + host + ":" + port + "/" + name + "?sslmode=disable"
}

func getEnv(key, defaultVal string, log *logger.Logger) string {
	if log != nil {
		log = log.With("env_var", key)
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	return val
}

func getEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		if log != nil {
			log.With("env_var", key).Debug("could not parse as int, using default", "value", valStr, "default", defaultVal)
		}
		return defaultVal
	}
	return i
}

func getEnvAsDuration(key string, defaultVal time.Duration, log *logger.Logger) time.Duration {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		if log != nil {
			log.With("env_var", key).Debug("could not parse as duration, using default", "value", valStr, "default", defaultVal)
		}
		return defaultVal
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
