package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Journal is the SQLite-backed run journal.
type Journal struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the journal database at path, applies
// pending migrations, and returns the ready journal.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging journal database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	j := &Journal{db: db, path: path, now: time.Now}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// CreateRun inserts a new running run and returns its generated ID.
func (j *Journal) CreateRun(ctx context.Context, recipePath, nickname, commitSHA string) (string, error) {
	id := uuid.New().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, recipe_path, nickname, commit_sha, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, recipePath, nickname, commitSHA, RunStatusRunning, j.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return id, nil
}

// CompleteRun marks a run finished. errMsg is stored for failed runs.
func (j *Journal) CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, errMsg, j.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves one run by ID.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := j.db.QueryRowContext(ctx, `
		SELECT id, recipe_path, nickname, commit_sha, status, error, started_at, completed_at
		FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.RecipePath, &run.Nickname, &run.CommitSHA,
		&run.Status, &run.Error, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, recipe_path, nickname, commit_sha, status, error, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.RecipePath, &run.Nickname, &run.CommitSHA,
			&run.Status, &run.Error, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordAttempt appends one plan attempt to a run's history.
func (j *Journal) RecordAttempt(ctx context.Context, a Attempt) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO plan_attempts (run_id, position, label, var_file, success, log_path)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Position, a.Label, a.VarFile, a.Success, a.LogPath,
	)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// Attempts returns a run's attempts in execution order.
func (j *Journal) Attempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, position, label, var_file, success, log_path
		FROM plan_attempts WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.RunID, &a.Position, &a.Label, &a.VarFile, &a.Success, &a.LogPath); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// RecordArtifact appends one published artifact to a run's history.
func (j *Journal) RecordArtifact(ctx context.Context, a Artifact) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO artifacts (run_id, name, url, size_bytes)
		VALUES (?, ?, ?, ?)`,
		a.RunID, a.Name, a.URL, a.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("recording artifact: %w", err)
	}
	return nil
}

// Artifacts returns a run's published artifacts.
func (j *Journal) Artifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, name, url, size_bytes
		FROM artifacts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.RunID, &a.Name, &a.URL, &a.SizeBytes); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
