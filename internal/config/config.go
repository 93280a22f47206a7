package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Job      JobConfig
	Webhook  WebhookConfig
	Watch    WatchConfig
}

type ServerConfig struct {
	Port       string `validate:"required"`
	Host       string
	TriggerRPS int `validate:"min=1"`
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"required"`
}

// JobConfig describes the single job this service schedules.
type JobConfig struct {
	Name        string `validate:"required"`
	Description string
	Cron        string `validate:"required"`
	Misfire     string `validate:"required,oneof=fire_and_proceed do_nothing"`
	Type        string `validate:"required,oneof=command webhook"`
	Command     string
	TargetURL   string `validate:"omitempty,url"`
	Timeout     int    `validate:"min=1"`
	RecordRuns  bool
}

// WebhookConfig configures outbound notifications about schedule changes.
// An empty URL disables them.
type WebhookConfig struct {
	URL     string `validate:"omitempty,url"`
	Timeout int    `validate:"min=1"`
}

// WatchConfig configures the optional schedule file watcher.
// An empty path disables it.
type WatchConfig struct {
	ScheduleFile string
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:       getEnv("PORT", "8080"),
			Host:       getEnv("HOST", "localhost"),
			TriggerRPS: getEnvAsInt("TRIGGER_RPS", 1),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "schedlens"),
			Password: getEnv("DB_PASSWORD", "schedlens123"),
			DBName:   getEnv("DB_NAME", "schedlens"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Job: JobConfig{
			Name:        getEnv("JOB_NAME", "heartbeat"),
			Description: getEnv("JOB_DESCRIPTION", ""),
			Cron:        getEnv("JOB_CRON", "0 */5 * * * ?"),
			Misfire:     getEnv("JOB_MISFIRE", "fire_and_proceed"),
			Type:        getEnv("JOB_TYPE", "command"),
			Command:     getEnv("JOB_COMMAND", "date"),
			TargetURL:   getEnv("JOB_TARGET_URL", ""),
			Timeout:     getEnvAsInt("JOB_TIMEOUT", 1800),
			RecordRuns:  getEnvAsBool("JOB_RECORD_RUNS", true),
		},
		Webhook: WebhookConfig{
			URL:     getEnv("WEBHOOK_URL", ""),
			Timeout: getEnvAsInt("WEBHOOK_TIMEOUT", 10),
		},
		Watch: WatchConfig{
			ScheduleFile: getEnv("SCHEDULE_FILE", ""),
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	if cfg.Job.Type == "command" && cfg.Job.Command == "" {
		return nil, errors.New("JOB_COMMAND required when JOB_TYPE is command")
	}
	if cfg.Job.Type == "webhook" && cfg.Job.TargetURL == "" {
		return nil, errors.New("JOB_TARGET_URL required when JOB_TYPE is webhook")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// MisfireFireAndProceed reports whether missed fires should be made up
// rather than skipped.
func (c *Config) MisfireFireAndProceed() bool {
	return c.Job.Misfire == "fire_and_proceed"
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	// Otherwise, construct from individual components
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
