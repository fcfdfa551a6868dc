package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

const schemaLockKey = int64(2026101401)

// SnapshotRepository stores one JSONB project document per row.
type SnapshotRepository struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ ports.SnapshotStore = (*SnapshotRepository)(nil)
	_ ports.ProjectLocker = (*SnapshotRepository)(nil)
)

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db, now: time.Now}
}

func (r *SnapshotRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS project_snapshots (
	project_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	document JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_project_snapshots_status ON project_snapshots(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Load(ctx context.Context, projectID string) ([]byte, error) {
	const query = `SELECT document FROM project_snapshots WHERE project_id = $1`
	var doc []byte
	err := r.db.QueryRowContext(ctx, query, projectID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return doc, nil
}

// Save upserts the document in one transaction. The status column mirrors the document for queries.
func (r *SnapshotRepository) Save(ctx context.Context, projectID string, data []byte) error {
	var head struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "save snapshot", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
INSERT INTO project_snapshots (project_id, status, document, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (project_id) DO UPDATE SET
	status = EXCLUDED.status,
	document = EXCLUDED.document,
	updated_at = EXCLUDED.updated_at`
	if _, err := tx.ExecContext(ctx, query, projectID, head.Status, string(data), r.now().UTC()); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// Lock takes a session advisory lock on a dedicated connection. The connection is returned to the
// pool when the lock is released.
func (r *SnapshotRepository) Lock(ctx context.Context, projectID string) (func() error, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	key := advisoryKey(projectID)
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("lock project %s: %w", projectID, err)
	}
	return func() error {
		defer conn.Close()
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key); err != nil {
			return fmt.Errorf("unlock project %s: %w", projectID, err)
		}
		return nil
	}, nil
}

func advisoryKey(projectID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("project:" + projectID))
	return int64(h.Sum64())
}
