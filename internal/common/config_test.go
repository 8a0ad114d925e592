package common

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"DB_URL", "GRPC_ADDR", "QUEUE_WORKERS", "OCR_ENGINE", "OCR_LANG", "OCR_BATCH_SIZE", "LOG_LEVEL", "WORKSPACES_ROOT"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "file:ocrjobs.db", cfg.Database.DSN)
	assert.Equal(t, ":8080", cfg.Server.GRPCAddr)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 256, cfg.Queue.Size)
	assert.Equal(t, 10*time.Minute, cfg.Queue.TaskTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Queue.OrphanAfter)
	assert.Equal(t, OCREngineCLI, cfg.OCR.Engine)
	assert.Equal(t, []string{"eng"}, cfg.OCR.Languages)
	assert.Equal(t, 16, cfg.OCR.BatchSize)
	assert.Equal(t, "./workspaces", cfg.Workspace.Root)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_URL", "postgres://u:p@db:5432/ocr")
	t.Setenv("GRPC_ADDR", "9090")
	t.Setenv("QUEUE_WORKERS", "8")
	t.Setenv("QUEUE_TASK_TIMEOUT", "90s")
	t.Setenv("OCR_ENGINE", "gosseract")
	t.Setenv("OCR_LANG", "eng+deu, fra")
	t.Setenv("OCR_BATCH_SIZE", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "postgres://u:p@db:5432/ocr", cfg.Database.DSN)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 90*time.Second, cfg.Queue.TaskTimeout)
	assert.Equal(t, OCREngineGosseract, cfg.OCR.Engine)
	assert.Equal(t, []string{"eng", "deu", "fra"}, cfg.OCR.Languages)
	assert.Equal(t, 16, cfg.OCR.BatchSize)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"engine", func(c *Config) { c.OCR.Engine = "paddle" }, "OCR_ENGINE"},
		{"workers", func(c *Config) { c.Queue.Workers = 0 }, "QUEUE_WORKERS"},
		{"batch", func(c *Config) { c.OCR.BatchSize = -1 }, "OCR_BATCH_SIZE"},
		{"root", func(c *Config) { c.Workspace.Root = "" }, "WORKSPACES_ROOT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OCR_ENGINE", "")
			t.Setenv("WORKSPACES_ROOT", "")
			cfg := LoadConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
