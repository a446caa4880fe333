package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/database"
)

//go:embed sql
var migrations embed.FS

// Module provides the Migrator to Fx.
var Module = fx.Provide(New)

// Migrator wraps goose operations over the embedded ledger schema.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger *zap.Logger
}

// New constructs a goose-backed migrator for the configured driver. With
// the in-memory ledger every operation is a no-op.
func New(conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	if !conns.Enabled() {
		return &Migrator{logger: logger}, nil
	}

	dialect, err := gooseDialect(conns.Driver)
	if err != nil {
		return nil, err
	}
	return NewForDB(conns.Writer.DB, dialect, logger)
}

// NewForDB builds a migrator over a raw handle using a goose dialect name.
func NewForDB(db *sql.DB, dialect string, logger *zap.Logger) (*Migrator, error) {
	if err := goose.SetDialect(dialect); err != nil {
		return nil, err
	}
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: logger})

	return &Migrator{
		db:     db,
		dir:    path.Join("sql", dialect),
		logger: logger,
	}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if m.db == nil {
		m.logger.Info("in-memory ledger; nothing to migrate")
		return nil
	}

	if err := goose.UpContext(ctx, m.db, m.dir); err != nil {
		if isNoMigrationErr(err) {
			m.logger.Info("no migrations to apply")

			return nil
		}
		return err
	}

	m.logger.Info("migrations applied", zap.String("dir", m.dir))

	return nil
}

// Down rolls back migrations. Steps <=0 defaults to 1; all=true rolls everything back.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	if m.db == nil {
		m.logger.Info("in-memory ledger; nothing to roll back")
		return nil
	}

	if all {
		if err := goose.DownToContext(ctx, m.db, m.dir, 0); err != nil {
			if isNoMigrationErr(err) {
				m.logger.Info("no migrations to rollback")

				return nil
			}
			return err
		}
		m.logger.Info("migrations rolled back", zap.String("mode", "all"))

		return nil
	}

	if steps <= 0 {
		steps = 1
	}

	for i := 0; i < steps; i++ {
		if err := goose.DownContext(ctx, m.db, m.dir); err != nil {
			if isNoMigrationErr(err) {
				m.logger.Info("no migrations to rollback")

				return nil
			}
			return err
		}
	}

	m.logger.Info("migrations rolled back", zap.Int("steps", steps))

	return nil
}

// Version reports the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if m.db == nil {
		return 0, nil
	}
	return goose.GetDBVersionContext(ctx, m.db)
}

func gooseDialect(driver string) (string, error) {
	switch driver {
	case "postgres", "pgx":
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
	if err == nil {
		return false
	}

	if errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoMigrationFiles) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "no migrations")
}

type gooseLogger struct {
	logger *zap.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Sugar().Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Sugar().Fatalf(strings.TrimSuffix(format, "\n"), v...)
}
