// Package machine persists the user's configured printer groups and the
// per-machine metadata that ties them to discovered hosts and cloud
// clusters.
package machine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/printnest/printnest/pkg/models"
)

// Metadata keys. Discovery and the device layer read and write these;
// anything else stored under other keys passes through untouched.
const (
	KeyNetworkKey      = "um_network_key"
	KeyCloudClusterID  = "um_cloud_cluster_id"
	KeyHostGUID        = "host_guid"
	KeyAuthID          = "network_authentication_id"
	KeyAuthKey         = "network_authentication_key"
	KeyGroupName       = "group_name"
	KeyGroupSize       = "group_size"
	KeyIsOnline        = "is_online"
	KeyConnectionType  = "connection_type"
	KeyRemovalWarning  = "removal_warning"
	KeyLinkedToAccount = "um_linked_to_account"
)

// ErrNotFound is returned when no machine has the requested id.
var ErrNotFound = errors.New("machine not found")

// Machine is one configured printer group.
type Machine struct {
	ID       string
	Name     string
	Type     string // machine type id, e.g. "corvus_s5"
	Metadata map[string]string
}

// Meta returns a metadata value, empty when absent.
func (m *Machine) Meta(key string) string { return m.Metadata[key] }

// Store is the SQLite-backed machine database. Safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serialize migrations
}

// Open opens (or creates) the machine database at path and applies the
// schema. SQLite performs best with a single write connection; WAL keeps
// readers concurrent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite wants pragmas as statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS machines (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS machine_metadata (
			machine_id TEXT NOT NULL REFERENCES machines(id) ON DELETE CASCADE,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			PRIMARY KEY (machine_id, key)
		);
		CREATE INDEX IF NOT EXISTS idx_metadata_key_value
			ON machine_metadata (key, value);
	`)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// tx executes fn within a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// Save upserts a machine and replaces its metadata wholesale.
func (s *Store) Save(ctx context.Context, m Machine) error {
	if m.ID == "" {
		return errors.New("machine id is empty")
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO machines (id, name, type, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name,
				type = excluded.type, updated_at = excluded.updated_at
		`, m.ID, m.Name, m.Type, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("upsert machine %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM machine_metadata WHERE machine_id = ?", m.ID); err != nil {
			return fmt.Errorf("clear metadata %s: %w", m.ID, err)
		}
		for k, v := range m.Metadata {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO machine_metadata (machine_id, key, value) VALUES (?, ?, ?)",
				m.ID, k, v); err != nil {
				return fmt.Errorf("write metadata %s/%s: %w", m.ID, k, err)
			}
		}
		return nil
	})
}

// Get loads one machine with its metadata.
func (s *Store) Get(ctx context.Context, id string) (*Machine, error) {
	m := &Machine{ID: id, Metadata: map[string]string{}}
	err := s.db.QueryRowContext(ctx,
		"SELECT name, type FROM machines WHERE id = ?", id,
	).Scan(&m.Name, &m.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load machine %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM machine_metadata WHERE machine_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		m.Metadata[k] = v
	}
	return m, rows.Err()
}

// All returns every configured machine.
func (s *Store) All(ctx context.Context) ([]*Machine, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM machines ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	machines := make([]*Machine, 0, len(ids))
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, nil
}

// FindByMetadata returns the machines whose metadata carries key = value.
func (s *Store) FindByMetadata(ctx context.Context, key, value string) ([]*Machine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT machine_id FROM machine_metadata WHERE key = ? AND value = ?",
		key, value)
	if err != nil {
		return nil, fmt.Errorf("find by %s: %w", key, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	machines := make([]*Machine, 0, len(ids))
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, nil
}

// SetMetadata writes one metadata value. An empty value deletes the key.
func (s *Store) SetMetadata(ctx context.Context, id, key, value string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return setMeta(ctx, tx, id, key, value)
	})
}

// SetCredential stores the printer-issued auth pair. Both halves are
// rewritten in one transaction so a crash never leaves a mixed pair.
func (s *Store) SetCredential(ctx context.Context, id string, cred models.Credential) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := setMeta(ctx, tx, id, KeyAuthID, cred.ID); err != nil {
			return err
		}
		return setMeta(ctx, tx, id, KeyAuthKey, cred.Key)
	})
}

// Credential loads the stored auth pair; zero value when absent.
func (s *Store) Credential(ctx context.Context, id string) (models.Credential, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return models.Credential{}, err
	}
	return models.Credential{ID: m.Meta(KeyAuthID), Key: m.Meta(KeyAuthKey)}, nil
}

// Delete removes a machine and, via the cascade, its metadata.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM machines WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete machine %s: %w", id, err)
	}
	return nil
}

func setMeta(ctx context.Context, tx *sql.Tx, id, key, value string) error {
	if value == "" {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM machine_metadata WHERE machine_id = ? AND key = ?", id, key)
		if err != nil {
			return fmt.Errorf("delete metadata %s/%s: %w", id, key, err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO machine_metadata (machine_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (machine_id, key) DO UPDATE SET value = excluded.value
	`, id, key, value)
	if err != nil {
		return fmt.Errorf("write metadata %s/%s: %w", id, key, err)
	}
	return nil
}
