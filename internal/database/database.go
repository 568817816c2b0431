package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
)

const (
	pingTimeout = 5 * time.Second
	// sqliteBusyTimeout keeps the worker and the API from failing on each
	// other's write locks when both share one sqlite file.
	sqliteBusyTimeout = "_busy_timeout=5000"
)

// Connections bundles writer and reader bun instances holding the ERP
// orders, shadow records and sync logs.
type Connections struct {
	Writer *bun.DB
	Reader *bun.DB
}

// Ping checks both pools.
func (c *Connections) Ping(ctx context.Context) error {
	if err := ping(ctx, c.Writer); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if c.Reader != c.Writer {
		if err := ping(ctx, c.Reader); err != nil {
			return fmt.Errorf("ping reader: %w", err)
		}
	}
	return nil
}

// Close closes the reader pool, when separate, and the writer pool.
func (c *Connections) Close() error {
	var err error
	if c.Reader != c.Writer {
		err = errors.Join(err, wrap("close reader", c.Reader.Close()))
	}
	return errors.Join(err, wrap("close writer", c.Writer.Close()))
}

// Module registers the database connections with Fx.
var Module = fx.Provide(New)

// New opens the writer and reader pools. The reader shares the writer pool
// when both DSNs are equal.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Connections, error) {
	conns, err := Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conns.Ping(ctx); err != nil {
				return err
			}
			logger.Info("database connected",
				zap.String("driver", cfg.Database.Driver),
				zap.Bool("split_reader", conns.Reader != conns.Writer))
			return nil
		},
		OnStop: func(context.Context) error {
			return conns.Close()
		},
	})

	return conns, nil
}

// Open builds the pools without any lifecycle binding.
func Open(cfg config.Database, logger *zap.Logger) (*Connections, error) {
	dial, err := selectDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	writer, err := openBun(cfg, cfg.WriterDSN, dial, logger)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	if cfg.ReaderDSN == "" || cfg.ReaderDSN == cfg.WriterDSN {
		return &Connections{Writer: writer, Reader: writer}, nil
	}

	reader, err := openBun(cfg, cfg.ReaderDSN, dial, logger)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	return &Connections{Writer: writer, Reader: reader}, nil
}

func openBun(cfg config.Database, dsn string, dial schema.Dialect, logger *zap.Logger) (*bun.DB, error) {
	sqldb, err := openSQLDB(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	applyPoolSettings(sqldb, cfg)

	db := bun.NewDB(sqldb, dial)
	if logger != nil {
		db.AddQueryHook(&QueryLogger{logger: logger, slow: cfg.SlowQuery})
	}
	return db, nil
}

func selectDialect(driver string) (schema.Dialect, error) {
	switch driver {
	case "postgres":
		return pgdialect.New(), nil
	case "mysql":
		return mysqldialect.New(), nil
	case "sqlite", "sqlite3":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func openSQLDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	switch driver {
	case "postgres":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
	case "mysql":
		return sql.Open("mysql", dsn)
	case "sqlite", "sqlite3":
		return sql.Open("sqlite3", sqliteDSN(dsn))
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqliteBusyTimeout
	}
	return dsn + "?" + sqliteBusyTimeout
}

func applyPoolSettings(db *sql.DB, cfg config.Database) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
}

func ping(ctx context.Context, db *bun.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// QueryLogger is a bun query hook that logs failed queries and queries
// slower than the configured threshold.
type QueryLogger struct {
	logger *zap.Logger
	slow   time.Duration
}

func (h *QueryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		h.logger.Warn("query failed",
			zap.String("operation", event.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.Error(event.Err))
	case h.slow > 0 && elapsed >= h.slow:
		h.logger.Warn("slow query",
			zap.String("operation", event.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.String("query", event.Query))
	}
}
