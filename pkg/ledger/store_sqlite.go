package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/praxis-labs/vigil/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists artifacts to SQLite. It is a write-through backend
// for the in-memory ledger; rows are inserted once and only the child
// list column is ever touched afterwards, which mirrors the ledger's own
// append-then-link discipline.
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
	CREATE TABLE IF NOT EXISTS artifacts (
		artifact_id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		identity_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		input_hash TEXT NOT NULL,
		output_hash TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		child_ids JSON NOT NULL DEFAULT '[]',
		synapse_chain JSON NOT NULL DEFAULT '[]',
		metadata JSON NOT NULL DEFAULT '{}',
		prev_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_actor ON artifacts(actor_id);
	CREATE INDEX IF NOT EXISTS idx_artifacts_identity ON artifacts(identity_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts a new artifact row.
func (s *SQLiteStore) Append(ctx context.Context, a contracts.Artifact) error {
	query := `INSERT INTO artifacts (
		artifact_id, sequence, kind, name, actor_id, identity_id, created_at,
		input_hash, output_hash, parent_id, child_ids, synapse_chain, metadata,
		prev_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	children, _ := json.Marshal(emptySlice(a.ChildIDs))
	synapse, _ := json.Marshal(emptySlice(a.SynapseChain))
	meta, _ := json.Marshal(emptyMap(a.Metadata))

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Sequence, string(a.Kind), a.Name, a.ActorID, a.IdentityID,
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		a.InputHash, a.OutputHash, a.ParentID,
		string(children), string(synapse), string(meta),
		a.PrevHash, a.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert artifact: %w", err)
	}
	return nil
}

// LinkChild appends childID to the parent row's child list.
func (s *SQLiteStore) LinkChild(ctx context.Context, parentID, childID string) error {
	query := `UPDATE artifacts
		SET child_ids = json_insert(child_ids, '$[#]', ?)
		WHERE artifact_id = ?`
	res, err := s.db.ExecContext(ctx, query, childID, parentID)
	if err != nil {
		return fmt.Errorf("sqlite: link child: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite: link child: parent %q: %w", parentID, ErrNotFound)
	}
	return nil
}

// LoadAll returns every persisted artifact in sequence order, for
// rebuilding the in-memory ledger on startup.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]contracts.Artifact, error) {
	query := `
		SELECT artifact_id, sequence, kind, name, actor_id, identity_id, created_at,
			input_hash, output_hash, parent_id, child_ids, synapse_chain, metadata,
			prev_hash, entry_hash
		FROM artifacts
		ORDER BY sequence ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Artifact
	for rows.Next() {
		var a contracts.Artifact
		var kind, createdAt, children, synapse, meta string
		if err := rows.Scan(
			&a.ID, &a.Sequence, &kind, &a.Name, &a.ActorID, &a.IdentityID, &createdAt,
			&a.InputHash, &a.OutputHash, &a.ParentID, &children, &synapse, &meta,
			&a.PrevHash, &a.EntryHash,
		); err != nil {
			return nil, err
		}
		a.Kind = contracts.ArtifactKind(kind)
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: artifact %s: bad timestamp: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(children), &a.ChildIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(synapse), &a.SynapseChain); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, err
		}
		if len(a.ChildIDs) == 0 {
			a.ChildIDs = nil
		}
		if len(a.SynapseChain) == 0 {
			a.SynapseChain = nil
		}
		if len(a.Metadata) == 0 {
			a.Metadata = nil
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
