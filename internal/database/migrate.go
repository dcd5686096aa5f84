package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

const adminTimeout = 15 * time.Second

// ErrDirtyMigration means a previous run failed half-way; the schema needs a manual force.
var ErrDirtyMigration = errors.New("migrations are dirty")

// ensureDatabase creates the target database through the "postgres" maintenance database
// when it is missing. Fresh dev and CI containers start without it.
func ensureDatabase(ctx context.Context, databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return errors.New("database url has no database name")
	}
	admin := *u
	admin.Path = "/postgres"

	db, err := sql.Open("postgres", admin.String())
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer db.Close()

	var exists bool
	err = db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("look up database %q: %w", name, err)
	}
	if exists {
		return nil
	}
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	log.Printf("database: created %q", name)
	return nil
}

// MigrateUp brings the schema (platform tables plus live_session_*) to the latest version,
// creating the database first if needed.
func MigrateUp(databaseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	err := ensureDatabase(ctx, databaseURL)
	cancel()
	if err != nil {
		return err
	}
	return withMigrate(databaseURL, func(m *migrate.Migrate) error {
		if err := refuseDirty(m); err != nil {
			return err
		}
		switch err := m.Up(); {
		case errors.Is(err, migrate.ErrNoChange):
			log.Println("migrate: schema is up to date")
		case err != nil:
			return fmt.Errorf("migrate up: %w", err)
		default:
			v, _, _ := m.Version()
			log.Printf("migrate: up to version %d", v)
		}
		return nil
	})
}

// MigrateDown rolls back steps migrations, or all of them when steps <= 0.
func MigrateDown(databaseURL string, steps int) error {
	return withMigrate(databaseURL, func(m *migrate.Migrate) error {
		if err := refuseDirty(m); err != nil {
			return err
		}
		var err error
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		log.Printf("migrate: rolled back (steps=%d)", steps)
		return nil
	})
}

// MigrationVersion reports the applied schema version. ok is false on an empty database.
func MigrationVersion(databaseURL string) (version uint, dirty, ok bool, err error) {
	err = withMigrate(databaseURL, func(m *migrate.Migrate) error {
		v, d, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		if verr != nil {
			return verr
		}
		version, dirty, ok = v, d, true
		return nil
	})
	return version, dirty, ok, err
}

func refuseDirty(m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w at version %d", ErrDirtyMigration, v)
	}
	return nil
}

func withMigrate(databaseURL string, fn func(*migrate.Migrate) error) error {
	dir := findDir("migrations")
	if dir == "" {
		return errors.New("database/migrations not found next to the working directory or binary")
	}
	m, err := migrate.New("file://"+filepath.ToSlash(dir), databaseURL)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	return fn(m)
}

// findDir resolves database/<name> from the working directory, its parent (bin/), or the
// executable's directory.
func findDir(name string) string {
	var roots []string
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd, filepath.Dir(cwd))
	}
	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exe))
	}
	for _, root := range roots {
		d := filepath.Join(root, "database", name)
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			return d
		}
	}
	return ""
}

// CreateMigration writes an empty <unix>_<name>.up.sql / .down.sql pair.
func CreateMigration(name string) error {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	if name == "" {
		return errors.New("migration name required")
	}
	dir := findDir("migrations")
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = filepath.Join(cwd, "database", "migrations")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := fmt.Sprintf("%d_%s", time.Now().Unix(), name)
	for _, kind := range []string{"up", "down"} {
		path := filepath.Join(dir, base+"."+kind+".sql")
		if err := os.WriteFile(path, []byte("-- "+name+" ("+kind+")\n"), 0o644); err != nil {
			return err
		}
		log.Printf("migrate: created %s", path)
	}
	return nil
}
