package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Backend names the storage engine a DSN selects.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMongo    Backend = "mongo"
)

// BackendFor picks the job store implementation from the DSN scheme.
// Anything that is not postgres or mongodb is treated as a sqlite path.
func BackendFor(dsn string) Backend {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return BackendPostgres
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		return BackendMongo
	default:
		return BackendSQLite
	}
}

// Open connects to the configured store, creates the job table or collection
// if missing, and returns the job repository.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (JobRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := BackendFor(cfg.DSN)
	logger.Info("connecting to database", "backend", backend, "dsn", redact(cfg.DSN))

	switch backend {
	case BackendMongo:
		return OpenMongo(ctx, cfg, logger)
	case BackendPostgres:
		db, pool, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		drv := entsql.OpenDB(dialect.Postgres, db)
		repo := newSQLJobRepository(drv, logger, func() { pool.Close() })
		if err := repo.migrate(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		logger.Info("successfully connected to database")
		return repo, nil
	default:
		db, err := openSQLite(ctx, cfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		drv := entsql.OpenDB(dialect.SQLite, db)
		repo := newSQLJobRepository(drv, logger, nil)
		if err := repo.migrate(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		// One connection serializes writers so read-modify-write
		// transactions cannot interleave.
		db.SetMaxOpenConns(1)
		logger.Info("successfully connected to database")
		return repo, nil
	}
}

// openPostgres creates a pgx pool and wraps it as *sql.DB.
func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*sql.DB, *pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "ocrjobs"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		logger.Error("failed to ping database", "error", err)
		return nil, nil, err
	}
	return stdlib.OpenDBFromPool(pool), pool, nil
}

// openSQLite opens a file database through modernc's pure-Go driver with
// foreign keys on, which ent's migrator requires.
func openSQLite(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn := strings.TrimPrefix(cfg.DSN, "sqlite://")
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// redact hides the password part of a URL-style DSN.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}
