package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/pressly/goose/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/db/migrations"
	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/database"
)

// Module provides the migrator to Fx.
var Module = fx.Provide(New)

// Migrator applies the embedded schema for sales orders, shadow records and
// sync logs.
type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// Status describes the schema state against the embedded migrations.
type Status struct {
	Current int64
	Latest  int64
	Pending []int64
}

// UpToDate reports whether every embedded migration is applied.
func (s Status) UpToDate() bool {
	return len(s.Pending) == 0
}

// New constructs a goose-backed migrator reading the migrations embedded in
// the binary.
func New(cfg config.Config, conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	if err := configure(cfg.Database.Driver); err != nil {
		return nil, err
	}
	return &Migrator{db: conns.Writer.DB, logger: logger}, nil
}

// configure points goose at the embedded migrations for driver. goose keeps
// this as package state.
func configure(driver string) error {
	dialect, err := gooseDialect(driver)
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrations.FS)
	return goose.SetDialect(dialect)
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := goose.UpContext(ctx, m.db, migrations.Dir); err != nil && !isNoMigrationErr(err) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, m.db)
	if err != nil {
		return err
	}
	m.logger.Info("schema up to date", zap.Int64("version", version))
	return nil
}

// Down rolls back steps migrations, at least one. all rolls back everything.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	if all {
		if err := goose.DownToContext(ctx, m.db, migrations.Dir, 0); err != nil && !isNoMigrationErr(err) {
			return fmt.Errorf("migrate down: %w", err)
		}
		m.logger.Info("migrations rolled back", zap.String("mode", "all"))
		return nil
	}

	steps = max(steps, 1)
	for i := 0; i < steps; i++ {
		err := goose.DownContext(ctx, m.db, migrations.Dir)
		if isNoMigrationErr(err) {
			m.logger.Info("no migrations left to roll back", zap.Int("rolled_back", i))
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate down step %d: %w", i+1, err)
		}
	}

	m.logger.Info("migrations rolled back", zap.Int("steps", steps))
	return nil
}

// Version reports the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, m.db)
}

// Status compares the applied version with the embedded migrations.
func (m *Migrator) Status(ctx context.Context) (Status, error) {
	current, err := m.Version(ctx)
	if err != nil {
		return Status{}, err
	}
	return pending(current)
}

func pending(current int64) (Status, error) {
	all, err := goose.CollectMigrations(migrations.Dir, 0, math.MaxInt64)
	if err != nil {
		return Status{}, err
	}

	st := Status{Current: current}
	for _, mig := range all {
		st.Latest = max(st.Latest, mig.Version)
		if mig.Version > current {
			st.Pending = append(st.Pending, mig.Version)
		}
	}
	return st, nil
}

func gooseDialect(driver string) (string, error) {
	switch driver {
	case "postgres", "pg":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported goose dialect for driver %s", driver)
	}
}

func isNoMigrationErr(err error) bool {
	return errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoMigrationFiles)
}
