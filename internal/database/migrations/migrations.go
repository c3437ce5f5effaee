// Package migrations holds the versioned schema for generations, licenses
// and the payment mirror. Each migration is keyed by a YYYYMMDD-HHmmss
// timestamp and recorded in schema_migrations so it is applied once.
//
// Files are named YYYYMMDD-HHmmss-description.go, for example
// 20261017-091500-payments.go.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Migration is one schema step.
type Migration struct {
	Timestamp   string // YYYYMMDD-HHmmss, also the recorded version
	Description string
	Up          []string
}

var registry []Migration

// Register adds a migration. Called from init() in each migration file.
// Registering the same timestamp twice panics.
func Register(m Migration) {
	for _, existing := range registry {
		if existing.Timestamp == m.Timestamp {
			panic(fmt.Sprintf("migrations: duplicate timestamp %s", m.Timestamp))
		}
	}
	registry = append(registry, m)
	sort.Slice(registry, func(i, j int) bool {
		return registry[i].Timestamp < registry[j].Timestamp
	})
}

const trackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`

// Report describes the schema state of a database.
type Report struct {
	Latest  string   // newest applied version, empty when none
	Applied int      // number of applied migrations
	Pending []string // registered versions not yet applied, oldest first
}

// Run applies every pending migration in timestamp order and returns how
// many were applied.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, trackingTable); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to read applied migrations: %w", err)
	}

	count := 0
	for _, m := range registry {
		if applied[m.Timestamp] {
			continue
		}
		start := time.Now()
		if err := apply(ctx, db, m); err != nil {
			return count, fmt.Errorf("migration %s (%s) failed: %w", m.Timestamp, m.Description, err)
		}
		count++
		logger.Info("migration applied",
			"version", m.Timestamp,
			"description", m.Description,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return count, nil
}

// Status reports the latest applied version and what is still pending.
// A database that has never been migrated reports every migration pending.
func Status(ctx context.Context, db *sql.DB) (Report, error) {
	var r Report
	if _, err := db.ExecContext(ctx, trackingTable); err != nil {
		return r, fmt.Errorf("failed to create migrations table: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return r, err
	}
	r.Applied = len(applied)
	for v := range applied {
		if v > r.Latest {
			r.Latest = v
		}
	}
	for _, m := range registry {
		if !applied[m.Timestamp] {
			r.Pending = append(r.Pending, m.Timestamp)
		}
	}
	return r, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply runs one migration and records it in the same transaction.
func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Up {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if alreadyApplied(err, stmt) {
				continue
			}
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Timestamp, m.Description, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// alreadyApplied reports errors from statements whose effect is already
// present: a re-added column or a re-created index.
func alreadyApplied(err error, stmt string) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "duplicate column") {
		return true
	}
	upper := strings.ToUpper(strings.TrimSpace(stmt))
	isIndex := strings.HasPrefix(upper, "CREATE INDEX") || strings.HasPrefix(upper, "CREATE UNIQUE INDEX")
	return isIndex && strings.Contains(msg, "already exists")
}
