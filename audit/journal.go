// Package audit keeps a journal of agent runs in SQLite and aggregates it.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/agent"
)

//go:embed schema.sql
var schemaFS embed.FS

// CurrentSchemaVersion is the version of the journal schema.
const CurrentSchemaVersion = 1

// Journal is an append-only log of agent runs.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, adadisk.NewIOError("mkdir", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	version, err := j.schemaVersion()
	if err != nil {
		return err
	}
	if version >= CurrentSchemaVersion {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, ?)",
		CurrentSchemaVersion, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return tx.Commit()
}

func (j *Journal) schemaVersion() (int, error) {
	var exists int
	if err := j.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err := j.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// Run is one journal row.
type Run struct {
	RunID     string
	Role      string
	Dataset   string
	Engine    string
	Status    agent.Status
	Generated bool
	Built     bool
	Restored  bool
	Published bool
	// Top1ID is -1 when the run did not search.
	Top1ID       int64
	Top1Distance float64
	StartedAt    time.Time
	Duration     time.Duration
	Error        string
}

// Record appends a report to the journal.
func (j *Journal) Record(ctx context.Context, r *agent.Report) error {
	var (
		top1ID   sql.NullInt64
		top1Dist sql.NullFloat64
		errText  string
	)
	if r.Top1 != nil {
		top1ID = sql.NullInt64{Int64: int64(r.Top1.ID), Valid: true}
		top1Dist = sql.NullFloat64{Float64: float64(r.Top1.Distance), Valid: true}
	}
	if r.Err != nil {
		errText = r.Err.Error()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, role, dataset, engine, status, generated, built, restored, published,
		                  top1_id, top1_distance, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, string(r.Role), r.Dataset, r.Engine, string(r.Status),
		r.Generated, r.Built, r.Restored, r.Published,
		top1ID, top1Dist,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(), errText,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, role, dataset, engine, status, generated, built, restored, published,
		       top1_id, top1_distance, started_at, duration_ms, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run      Run
			status   string
			top1ID   sql.NullInt64
			top1Dist sql.NullFloat64
			started  string
			ms       int64
		)
		if err := rows.Scan(&run.RunID, &run.Role, &run.Dataset, &run.Engine, &status,
			&run.Generated, &run.Built, &run.Restored, &run.Published,
			&top1ID, &top1Dist, &started, &ms, &run.Error); err != nil {
			return nil, err
		}
		run.Status = agent.Status(status)
		run.Top1ID = -1
		if top1ID.Valid {
			run.Top1ID = top1ID.Int64
			run.Top1Distance = top1Dist.Float64
		}
		run.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("run %s: bad started_at %q: %w", run.RunID, started, err)
		}
		run.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}

// RoleSummary aggregates the runs of one (role, dataset).
type RoleSummary struct {
	Role        string
	Dataset     string
	Runs        int
	Accepted    int
	Errors      int
	Generated   int
	Built       int
	Restored    int
	AvgDuration time.Duration
	LastStatus  agent.Status
	LastError   string
}

// Summary aggregates the journal per (role, dataset).
func (j *Journal) Summary(ctx context.Context) ([]RoleSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.role, r.dataset, COUNT(*),
		       SUM(r.status = 'ACCEPTED'), SUM(r.status = 'ERROR'),
		       SUM(r.generated), SUM(r.built), SUM(r.restored),
		       CAST(AVG(r.duration_ms) AS INTEGER),
		       (SELECT status FROM runs l WHERE l.role = r.role AND l.dataset = r.dataset
		        ORDER BY started_at DESC LIMIT 1),
		       (SELECT error FROM runs l WHERE l.role = r.role AND l.dataset = r.dataset
		        ORDER BY started_at DESC LIMIT 1)
		FROM runs r
		GROUP BY r.role, r.dataset
		ORDER BY r.role, r.dataset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleSummary
	for rows.Next() {
		var (
			s      RoleSummary
			avgMS  int64
			status string
		)
		if err := rows.Scan(&s.Role, &s.Dataset, &s.Runs, &s.Accepted, &s.Errors,
			&s.Generated, &s.Built, &s.Restored, &avgMS, &status, &s.LastError); err != nil {
			return nil, err
		}
		s.AvgDuration = time.Duration(avgMS) * time.Millisecond
		s.LastStatus = agent.Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Summarize condenses the reports of one multi-agent run into one sentence.
func Summarize(reports []*agent.Report) string {
	if len(reports) == 0 {
		return "No agents ran."
	}

	var parts []string
	failed := 0
	for _, r := range reports {
		if r.Status != agent.StatusAccepted {
			failed++
			parts = append(parts, fmt.Sprintf("%s failed (%v)", r.Role, r.Err))
			continue
		}
		actions := r.Actions()
		desc := "reused existing artifacts"
		if len(actions) > 0 {
			desc = strings.Join(actions, ", ")
		}
		if r.Top1 != nil {
			desc += fmt.Sprintf(" with top-1 neighbor %d", r.Top1.ID)
		}
		parts = append(parts, fmt.Sprintf("%s %s", r.Role, desc))
	}

	verdict := "Pipeline succeeded"
	if failed > 0 {
		verdict = fmt.Sprintf("Pipeline finished with %d of %d agents failing", failed, len(reports))
	}
	return verdict + ": " + strings.Join(parts, "; ") + "."
}
