package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/ocrjobs/internal/common"
	repo "github.com/joseph-ayodele/ocrjobs/internal/repository"
)

// ConnectDB opens the job store named by the configured DSN and checks it
// answers before returning.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (repo.JobRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jobs, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout(cfg))
	defer cancel()
	if err := jobs.Ping(pingCtx); err != nil {
		_ = jobs.Close()
		logger.Error("database health check failed", "error", err)
		return nil, err
	}
	return jobs, nil
}

func dialTimeout(cfg common.DatabaseConfig) time.Duration {
	if cfg.DialTimeout > 0 {
		return cfg.DialTimeout
	}
	return 3 * time.Second
}
