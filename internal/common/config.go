package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Queue     QueueConfig
	OCR       OCRConfig
	Workspace WorkspaceConfig
	LogLevel  slog.Level
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// QueueConfig sizes the in-process worker pool.
type QueueConfig struct {
	Workers     int
	Size        int
	TaskTimeout time.Duration
	OrphanAfter time.Duration
}

// OCR engine names accepted in OCR_ENGINE.
const (
	OCREngineCLI       = "cli"       // shells out to the tesseract binary
	OCREngineGosseract = "gosseract" // links libtesseract through cgo
)

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Engine      string
	Languages   []string
	TessdataDir string
	BatchSize   int
}

// WorkspaceConfig locates workspaces on disk.
type WorkspaceConfig struct {
	Root string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", "file:ocrjobs.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: normalizeAddr(getEnv("GRPC_ADDR", ":8080")),
		},
		Queue: QueueConfig{
			Workers:     getEnvAsInt("QUEUE_WORKERS", 4),
			Size:        getEnvAsInt("QUEUE_SIZE", 256),
			TaskTimeout: getEnvAsDuration("QUEUE_TASK_TIMEOUT", 10*time.Minute),
			OrphanAfter: getEnvAsDuration("ORPHAN_AFTER", 30*time.Minute),
		},
		OCR: OCRConfig{
			Engine:      getEnv("OCR_ENGINE", OCREngineCLI),
			Languages:   getEnvAsList("OCR_LANG", []string{"eng"}),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			BatchSize:   getEnvAsInt("OCR_BATCH_SIZE", 16),
		},
		Workspace: WorkspaceConfig{
			Root: getEnv("WORKSPACES_ROOT", "./workspaces"),
		},
		LogLevel: getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits on '+' or ',' so "eng+deu" works like tesseract's -l flag.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == '+' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(value)); err == nil {
			return lvl
		}
	}
	return defaultValue
}

func normalizeAddr(addr string) string {
	if addr != "" && !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Workspace.Root == "" {
		return NewAppError("CONFIG_ERROR", "WORKSPACES_ROOT is required", ErrInvalidInput)
	}
	if c.Queue.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Queue.Size <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_SIZE must be positive", ErrInvalidInput)
	}
	if c.OCR.Engine != OCREngineCLI && c.OCR.Engine != OCREngineGosseract {
		return NewAppError("CONFIG_ERROR", "OCR_ENGINE must be cli or gosseract", ErrInvalidInput)
	}
	if c.OCR.BatchSize <= 0 {
		return NewAppError("CONFIG_ERROR", "OCR_BATCH_SIZE must be positive", ErrInvalidInput)
	}
	return nil
}
