// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetMigrationsEnabled() bool
}

// SchedulerConfig provides settings for the asynq-backed background jobs.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetSweepCron() string
	IsSchedulerEnabled() bool
}

// PipelineConfig provides tuning for the pipeline engine.
type PipelineConfig interface {
	GetSweepInterval() time.Duration
	GetNotificationInterval() time.Duration
	GetSweepParallelism() int
	GetPersistTimeout() time.Duration
	GetFollowUpRulesFile() string
}

// SMTPConfig provides settings for the best-effort messaging side channel.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFromName() string
	GetSMTPFromAddress() string
	GetMessagingRatePerMinute() int
	IsSMTPEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	DatabaseURL            string
	MigrationsEnabled      bool
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	SweepCron              string
	SweepInterval          time.Duration
	NotificationInterval   time.Duration
	SweepParallelism       int
	PersistTimeout         time.Duration
	FollowUpRulesFile      string
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	SMTPFromName           string
	SMTPFromAddress        string
	MessagingRatePerMinute int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetMigrationsEnabled() bool { return c.MigrationsEnabled }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) GetSweepCron() string      { return c.SweepCron }
func (c *Config) IsSchedulerEnabled() bool  { return c.RedisURL != "" }

// PipelineConfig implementation
func (c *Config) GetSweepInterval() time.Duration        { return c.SweepInterval }
func (c *Config) GetNotificationInterval() time.Duration { return c.NotificationInterval }
func (c *Config) GetSweepParallelism() int               { return c.SweepParallelism }
func (c *Config) GetPersistTimeout() time.Duration       { return c.PersistTimeout }
func (c *Config) GetFollowUpRulesFile() string           { return c.FollowUpRulesFile }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string            { return c.SMTPHost }
func (c *Config) GetSMTPPort() int               { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string        { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string        { return c.SMTPPassword }
func (c *Config) GetSMTPFromName() string        { return c.SMTPFromName }
func (c *Config) GetSMTPFromAddress() string     { return c.SMTPFromAddress }
func (c *Config) GetMessagingRatePerMinute() int { return c.MessagingRatePerMinute }
func (c *Config) IsSMTPEnabled() bool            { return c.SMTPHost != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		MigrationsEnabled:      strings.EqualFold(getEnv("DB_MIGRATIONS_ENABLED", "true"), "true"),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "pipeline"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		SweepCron:              getEnv("PIPELINE_SWEEP_CRON", "@every 1h"),
		SweepInterval:          mustDuration(getEnv("PIPELINE_SWEEP_INTERVAL", "1h")),
		NotificationInterval:   mustDuration(getEnv("PIPELINE_NOTIFY_INTERVAL", "15m")),
		SweepParallelism:       mustInt(getEnv("PIPELINE_SWEEP_PARALLELISM", "8")),
		PersistTimeout:         mustDuration(getEnv("PIPELINE_PERSIST_TIMEOUT", "10s")),
		FollowUpRulesFile:      getEnv("PIPELINE_FOLLOWUP_RULES_FILE", ""),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		SMTPFromName:           getEnv("SMTP_FROM_NAME", "Sales Pipeline"),
		SMTPFromAddress:        getEnv("SMTP_FROM_ADDRESS", ""),
		MessagingRatePerMinute: mustInt(getEnv("MESSAGING_RATE_PER_MINUTE", "30")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("PIPELINE_SWEEP_INTERVAL must be a positive duration")
	}
	if cfg.NotificationInterval <= 0 {
		return nil, fmt.Errorf("PIPELINE_NOTIFY_INTERVAL must be a positive duration")
	}
	if cfg.SMTPHost != "" && cfg.SMTPFromAddress == "" {
		return nil, fmt.Errorf("SMTP_FROM_ADDRESS is required when SMTP_HOST is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}
