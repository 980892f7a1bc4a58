package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/praxis-labs/vigil/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists checkpoints. Rows are inserted pending and
// updated exactly once at resolution; the single-update discipline is
// enforced with a status guard in the UPDATE itself.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a store over db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		checkpoint_id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME,
		resolved_by TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts a pending checkpoint row.
func (s *SQLiteStore) Append(ctx context.Context, c contracts.Checkpoint) error {
	query := `INSERT INTO checkpoints (
		checkpoint_id, category, description, status, created_at
	) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, string(c.Category), c.Description, string(c.Status),
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert checkpoint: %w", err)
	}
	return nil
}

// MarkResolved records the one and only resolution of a checkpoint.
func (s *SQLiteStore) MarkResolved(ctx context.Context, c contracts.Checkpoint) error {
	if c.ResolvedAt == nil {
		return fmt.Errorf("sqlite: resolution without timestamp")
	}
	query := `UPDATE checkpoints
		SET status = ?, resolved_at = ?, resolved_by = ?, reason = ?
		WHERE checkpoint_id = ? AND status = 'pending'`
	res, err := s.db.ExecContext(ctx, query,
		string(c.Status), c.ResolvedAt.UTC().Format(time.RFC3339Nano),
		c.ResolvedBy, c.Reason, c.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: resolve checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite: resolve checkpoint %q: %w", c.ID, ErrAlreadyResolved)
	}
	return nil
}

// LoadAll returns every persisted checkpoint in creation order.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]contracts.Checkpoint, error) {
	query := `
		SELECT checkpoint_id, category, description, status, created_at,
			resolved_at, resolved_by, reason
		FROM checkpoints
		ORDER BY created_at ASC, checkpoint_id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Checkpoint
	for rows.Next() {
		var c contracts.Checkpoint
		var category, status, createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&c.ID, &category, &c.Description, &status, &createdAt,
			&resolvedAt, &c.ResolvedBy, &c.Reason); err != nil {
			return nil, err
		}
		c.Category = contracts.CheckpointCategory(category)
		c.Status = contracts.CheckpointStatus(status)
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: checkpoint %s: bad timestamp: %w", c.ID, err)
		}
		if resolvedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: checkpoint %s: bad resolution timestamp: %w", c.ID, err)
			}
			c.ResolvedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
