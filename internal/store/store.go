// Package store persists deployments in SQLite so a restarted supervisor
// can replay non-terminal deployments and teardown always has a complete
// resource list.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements deploy.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs all pending
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateDeployment(ctx context.Context, rec *deploy.Record) error {
	reqJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	snapJSON, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, user_id, name, state, request, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Name, rec.State, string(reqJSON), string(snapJSON),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, id, state string, snap deploy.Snapshot) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET state = ?, snapshot = ? WHERE id = ?`,
		state, string(snapJSON), id,
	)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return deploy.ErrDeploymentNotFound
	}
	return nil
}

// AppendResource records a created resource. Replayed deployments re-append
// the same handles; the unique constraint keeps the list free of duplicates
// without failing the caller.
func (s *Store) AppendResource(ctx context.Context, id string, h provision.Handle) error {
	handleJSON, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal handle: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (deployment_id, position, provider_id, handle)
		VALUES (?, (SELECT COUNT(*) FROM resources WHERE deployment_id = ?), ?, ?)
		ON CONFLICT (deployment_id, provider_id) DO NOTHING`,
		id, id, h.ProviderID, string(handleJSON),
	)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (*deploy.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, state, request, snapshot, created_at, deleted_at
		FROM deployments WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, deploy.ErrDeploymentNotFound
		}
		return nil, err
	}

	resources, err := s.resources(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Resources = resources
	return rec, nil
}

func (s *Store) ListDeployments(ctx context.Context) ([]*deploy.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, state, request, snapshot, created_at, deleted_at
		FROM deployments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *Store) ListByStates(ctx context.Context, states ...string) ([]*deploy.Record, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(states))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(states))
	for i, st := range states {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, state, request, snapshot, created_at, deleted_at
		FROM deployments WHERE state IN (`+placeholders+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments by state: %w", err)
	}
	defer rows.Close()

	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		resources, err := s.resources(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Resources = resources
	}
	return recs, nil
}

func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET state = ?, deleted_at = ? WHERE id = ?`,
		deploy.StateDestroyed, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return deploy.ErrDeploymentNotFound
	}
	return nil
}

func (s *Store) resources(ctx context.Context, id string) ([]provision.Handle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle FROM resources WHERE deployment_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var handles []provision.Handle
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var h provision.Handle
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, fmt.Errorf("unmarshal handle: %w", err)
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*deploy.Record, error) {
	var rec deploy.Record
	var reqJSON, snapJSON, createdAt string
	var deletedAt sql.NullString

	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.State,
		&reqJSON, &snapJSON, &createdAt, &deletedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(reqJSON), &rec.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if err := json.Unmarshal([]byte(snapJSON), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = ts

	if deletedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse deleted_at: %w", err)
		}
		rec.DeletedAt = &ts
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*deploy.Record, error) {
	var recs []*deploy.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
