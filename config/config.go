package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AWS        AWSConfig
	Analyzer   AnalyzerConfig
	Script     ScriptConfig
	ClipGen    ClipGenConfig
	RenderFarm RenderFarmConfig
	Pipeline   PipelineConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // externally reachable base URL, used to build webhook callback addresses
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/promoreel?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and S3 bucket names.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	OutputsBucket        string
	ScreenshotsBucket    string
	PresignExpireMinutes int
}

// AnalyzerConfig holds the page-analysis collaborator endpoint.
type AnalyzerConfig struct {
	BaseURL    string
	TimeoutSec int
}

// ScriptConfig holds the AI script-generation collaborator settings.
// When BaseURL or APIKey is empty the deterministic fallback composer is used.
type ScriptConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	TimeoutSec int
}

// ClipGenConfig holds the asynchronous clip-generation service settings.
type ClipGenConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
}

// RenderFarmConfig holds the rendering farm settings.
type RenderFarmConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
}

// PipelineConfig holds orchestration tunables.
type PipelineConfig struct {
	SweepIntervalSec    int // background sweep cadence
	RetryMaxAttempts    int
	RetryBaseMs         int
	RetryMaxDelayMs     int
	BreakerThreshold    int // failures within the window before opening
	BreakerWindowSec    int
	BreakerCooldownSec  int
	OperationTimeoutSec int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "promoreel"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			OutputsBucket:        getEnv("AWS_S3_OUTPUTS_BUCKET", "promoreel-outputs"),
			ScreenshotsBucket:    getEnv("AWS_S3_SCREENSHOTS_BUCKET", "promoreel-screenshots"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
		Analyzer: AnalyzerConfig{
			BaseURL:    getEnv("ANALYZER_URL", "http://localhost:8090"),
			TimeoutSec: getEnvInt("ANALYZER_TIMEOUT_SEC", 45),
		},
		Script: ScriptConfig{
			BaseURL:    getEnv("SCRIPT_API_URL", ""),
			APIKey:     getEnv("SCRIPT_API_KEY", ""),
			Model:      getEnv("SCRIPT_MODEL", "gpt-4o-mini"),
			TimeoutSec: getEnvInt("SCRIPT_TIMEOUT_SEC", 60),
		},
		ClipGen: ClipGenConfig{
			BaseURL:    getEnv("CLIPGEN_URL", ""),
			APIKey:     getEnv("CLIPGEN_API_KEY", ""),
			TimeoutSec: getEnvInt("CLIPGEN_TIMEOUT_SEC", 30),
		},
		RenderFarm: RenderFarmConfig{
			BaseURL:    getEnv("RENDERFARM_URL", ""),
			APIKey:     getEnv("RENDERFARM_API_KEY", ""),
			TimeoutSec: getEnvInt("RENDERFARM_TIMEOUT_SEC", 30),
		},
		Pipeline: PipelineConfig{
			SweepIntervalSec:    getEnvInt("SWEEP_INTERVAL_SEC", 15),
			RetryMaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBaseMs:         getEnvInt("RETRY_BASE_MS", 200),
			RetryMaxDelayMs:     getEnvInt("RETRY_MAX_DELAY_MS", 5000),
			BreakerThreshold:    getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerWindowSec:    getEnvInt("BREAKER_WINDOW_SEC", 60),
			BreakerCooldownSec:  getEnvInt("BREAKER_COOLDOWN_SEC", 30),
			OperationTimeoutSec: getEnvInt("OPERATION_TIMEOUT_SEC", 30),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
