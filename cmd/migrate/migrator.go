package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Pattern: 001_name.sql, rollbacks are 001_name.down.sql
var migrationFile = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

// Migration is one versioned schema change
type Migration struct {
	Version   int
	Name      string
	UpPath    string
	DownPath  string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies and rolls back migrations tracked in schema_migrations
type Migrator struct {
	db  *sql.DB
	dir string
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied() (map[int]Migration, error) {
	rows, err := m.db.Query(`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var mig Migration
		if err := rows.Scan(&mig.Version, &mig.Name, &mig.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		mig.Applied = true
		applied[mig.Version] = mig
	}
	return applied, rows.Err()
}

// loadMigrations pairs every up file with its down file, ordered by version
func loadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationFile.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}
		path := filepath.Join(dir, entry.Name())
		if name, isDown := strings.CutSuffix(matches[2], ".down"); isDown {
			mig.DownPath = path
			if mig.Name == "" {
				mig.Name = name
			}
			continue
		}
		mig.Name = matches[2]
		mig.UpPath = path
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.UpPath == "" {
			return nil, fmt.Errorf("migration %03d has a down file but no up file", mig.Version)
		}
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Up applies every pending migration, each in its own transaction
func (m *Migrator) Up() error {
	applied, err := m.applied()
	if err != nil {
		return err
	}
	migrations, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}

	count := 0
	for _, mig := range migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		printInfo(fmt.Sprintf("Applying migration %03d_%s...", mig.Version, mig.Name))
		err := m.exec(mig.UpPath, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
		if err != nil {
			return fmt.Errorf("failed to apply migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		count++
	}

	if count == 0 {
		printSuccess("All migrations are up to date")
		return nil
	}
	printSuccess(fmt.Sprintf("Applied %d migration(s)", count))
	return nil
}

// Down rolls back the newest applied migration
func (m *Migrator) Down() error {
	applied, err := m.applied()
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		printWarning("No migrations to roll back")
		return nil
	}

	last := 0
	for version := range applied {
		last = max(last, version)
	}
	return m.rollback(last)
}

func (m *Migrator) rollback(version int) error {
	migrations, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}
	for _, mig := range migrations {
		if mig.Version != version {
			continue
		}
		if mig.DownPath == "" {
			return fmt.Errorf("no down file for migration %03d_%s", mig.Version, mig.Name)
		}
		printInfo(fmt.Sprintf("Rolling back migration %03d_%s...", mig.Version, mig.Name))
		if err := m.exec(mig.DownPath, "DELETE FROM schema_migrations WHERE version = $1", mig.Version); err != nil {
			return fmt.Errorf("failed to roll back migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		printSuccess(fmt.Sprintf("Rolled back migration %03d", mig.Version))
		return nil
	}
	return fmt.Errorf("migration %03d is applied but its files are missing", version)
}

// Reset rolls back every applied migration, newest first, then reapplies all
func (m *Migrator) Reset() error {
	applied, err := m.applied()
	if err != nil {
		return err
	}
	versions := make([]int, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for _, version := range versions {
		if err := m.rollback(version); err != nil {
			return err
		}
	}
	return m.Up()
}

// Status prints every known migration and whether it is applied
func (m *Migrator) Status() error {
	applied, err := m.applied()
	if err != nil {
		return err
	}
	migrations, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		printWarning("No migration files found in " + m.dir)
		return nil
	}

	fmt.Printf("%s%-10s %-30s %-12s %-20s%s\n", colorBold, "VERSION", "NAME", "STATUS", "APPLIED AT", colorReset)
	fmt.Println(strings.Repeat("-", 75))
	count := 0
	for _, mig := range migrations {
		status, color, at := "pending", colorYellow, "-"
		if a, ok := applied[mig.Version]; ok {
			status, color = "applied", colorGreen
			if a.AppliedAt != nil {
				at = a.AppliedAt.Format("2006-01-02 15:04:05")
			}
			count++
		}
		fmt.Printf("%-10s %-30s %s%-12s%s %-20s\n", fmt.Sprintf("%03d", mig.Version), mig.Name, color, status, colorReset, at)
	}
	fmt.Println(strings.Repeat("-", 75))
	printInfo(fmt.Sprintf("%d/%d migrations applied", count, len(migrations)))
	return nil
}

// exec runs a SQL file and the bookkeeping statement in one transaction
func (m *Migrator) exec(path, bookkeeping string, args ...any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec(bookkeeping, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
