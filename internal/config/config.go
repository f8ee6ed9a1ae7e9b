package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	defaultLogLevel         = "info"
	defaultHTTPAddr         = ":8080"
	defaultCandidateTimeout = 2 * time.Second
	defaultRepairSchedule   = "0 3 * * *"
)

type Config struct {
	DBPath           string
	LogLevel         string
	HTTPAddr         string
	USDAAPIKey       string
	CandidateTimeout time.Duration
	RepairSchedule   string
	CORSOrigins      []string
}

// LoadDotEnv reads .env into the process environment when the file exists.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// FromEnv builds the runtime config from KAI_* variables. Invalid optional values fall back to defaults with a warning.
func FromEnv(log *zap.Logger) Config {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := Config{
		DBPath:           strings.TrimSpace(os.Getenv("KAI_DB_PATH")),
		LogLevel:         getEnv("KAI_LOG_LEVEL", defaultLogLevel),
		HTTPAddr:         getEnv("KAI_HTTP_ADDR", defaultHTTPAddr),
		USDAAPIKey:       strings.TrimSpace(os.Getenv("KAI_USDA_API_KEY")),
		CandidateTimeout: defaultCandidateTimeout,
		RepairSchedule:   getEnv("KAI_REPAIR_SCHEDULE", defaultRepairSchedule),
		CORSOrigins:      splitList(os.Getenv("KAI_CORS_ORIGINS")),
	}
	if raw := strings.TrimSpace(os.Getenv("KAI_CANDIDATE_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			log.Warn("invalid KAI_CANDIDATE_TIMEOUT, using default",
				zap.String("value", raw),
				zap.Duration("default", defaultCandidateTimeout))
		} else {
			cfg.CandidateTimeout = d
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
