package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seantiz/stepwise/internal/codec"
	"github.com/seantiz/stepwise/internal/model"

	_ "modernc.org/sqlite"
)

const createPlansTable = `
CREATE TABLE IF NOT EXISTS plans (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    version    INTEGER NOT NULL,
    document   TEXT NOT NULL,
    deleted    INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. Each row holds the JSON plan
// document produced by codec.Encode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createPlansTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create plans table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SavePlan upserts the plan snapshot, keeping whichever version is newest.
func (s *SQLiteStore) SavePlan(ctx context.Context, p *model.Plan) error {
	doc, err := codec.Encode(p)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (id, title, version, document, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			version = excluded.version,
			document = excluded.document,
			updated_at = excluded.updated_at
		WHERE plans.deleted = 0 AND excluded.version > plans.version`,
		p.ID, p.Title, p.Version, string(doc), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// DeletePlan marks the plan as deleted, inserting a tombstone if no
// snapshot has been written yet.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (id, title, version, document, deleted, created_at, updated_at)
		VALUES (?, '', 0, '', 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET deleted = 1, document = '', updated_at = excluded.updated_at`,
		id, now, now,
	)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}

// LoadPlans decodes every live snapshot in identifier order, which for ULIDs
// is the order the plans were registered. createdAt is not used: imported
// plans keep the createdAt of their source document. A row that no longer
// decodes fails the whole load rather than silently dropping a plan.
func (s *SQLiteStore) LoadPlans(ctx context.Context) ([]*model.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, document FROM plans
		WHERE deleted = 0 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*model.Plan
	for rows.Next() {
		var (
			id      string
			version int64
			doc     string
		)
		if err := rows.Scan(&id, &version, &doc); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		p, err := codec.Decode([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("decode plan %s: %w", id, err)
		}
		p.Version = version
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}

	return plans, nil
}
