// Package database opens the libsql store and applies the schema.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tursodatabase/go-libsql"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/database/migrations"
)

// Options selects how the store is opened.
type Options struct {
	// DSN is a local file ("file:soundlab.db"), a libsql server URL, or the
	// replica path when TursoURL is set.
	DSN string
	// With TursoURL and TursoAuthToken the DSN file becomes an embedded
	// replica synced with Turso.
	TursoURL       string
	TursoAuthToken string
}

// BusyTimeout is how long a local connection waits on a locked database
// before failing with SQLITE_BUSY.
const BusyTimeout = 5 * time.Second

// New opens the store, enables foreign keys and checks the connection. Local
// files run in WAL mode and every connection waits up to BusyTimeout for
// locks, so concurrent writers queue instead of failing.
func New(ctx context.Context, opts Options) (*sql.DB, error) {
	db, err := open(opts)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if isLocal(opts) {
		// journal_mode is stored in the file, so setting it once is enough.
		var mode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// isLocal reports whether connections open a file in this process.
func isLocal(opts Options) bool {
	return (opts.TursoURL != "" && opts.TursoAuthToken != "") || !strings.Contains(opts.DSN, "://")
}

func open(opts Options) (*sql.DB, error) {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}

	if opts.TursoURL == "" || opts.TursoAuthToken == "" {
		db, err := sql.Open("libsql", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if !isLocal(opts) {
			return db, nil
		}
		dc, ok := db.Driver().(driver.DriverContext)
		if !ok {
			return db, nil
		}
		_ = db.Close()
		connector, err := dc.OpenConnector(opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return sql.OpenDB(&pragmaConnector{Connector: connector, pragmas: pragmas}), nil
	}

	path := strings.TrimPrefix(opts.DSN, "file:")
	path, _, _ = strings.Cut(path, "?")
	connector, err := libsql.NewEmbeddedReplicaConnector(path, opts.TursoURL,
		libsql.WithAuthToken(opts.TursoAuthToken),
		libsql.WithReadYourWrites(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Turso connector: %w", err)
	}
	return sql.OpenDB(&pragmaConnector{Connector: connector, pragmas: pragmas}), nil
}

// pragmaConnector runs per-connection pragmas on every new connection.
type pragmaConnector struct {
	driver.Connector
	pragmas []string
}

func (c *pragmaConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range c.pragmas {
		if err := runPragma(ctx, conn, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return conn, nil
}

// runPragma queries rather than executes, since some pragmas return a row.
func runPragma(ctx context.Context, conn driver.Conn, stmt string) error {
	if q, ok := conn.(driver.QueryerContext); ok {
		rows, err := q.QueryContext(ctx, stmt, nil)
		if err != nil {
			return err
		}
		return rows.Close()
	}
	if e, ok := conn.(driver.ExecerContext); ok {
		_, err := e.ExecContext(ctx, stmt, nil)
		return err
	}
	return nil
}

// Migrate applies pending migrations and logs the resulting schema version.
// user_id columns hold the JWT subject claim; identity lives with the issuer.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := migrations.Run(ctx, db, logger); err != nil {
		return err
	}
	report, err := migrations.Status(ctx, db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
		return nil
	}
	logger.Info("database schema ready", "schema_version", report.Latest, "migrations_applied", report.Applied)
	return nil
}
