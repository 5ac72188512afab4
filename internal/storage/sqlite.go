package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding conversations and user profiles.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "edgecoach.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Conversations ---

// PutConversation inserts or replaces a conversation document.
func (s *Store) PutConversation(rec ConversationRecord) error {
	now := time.Now().UTC()
	created, updated := rec.CreatedAt, rec.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		rec.ID, rec.UserID, string(rec.Data),
		created.UTC().Format(time.RFC3339Nano), updated.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetConversation returns the conversation with the given id or ErrNotFound.
func (s *Store) GetConversation(id string) (ConversationRecord, error) {
	var rec ConversationRecord
	var data, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, data, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &data, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ConversationRecord{}, ErrNotFound
	}
	if err != nil {
		return ConversationRecord{}, err
	}
	rec.Data = []byte(data)
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return ConversationRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return ConversationRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

// DeleteConversation removes a conversation. Deleting a missing id is not an
// error.
func (s *Store) DeleteConversation(id string) error {
	_, err := s.db.Exec("DELETE FROM conversations WHERE id = ?", id)
	return err
}

// ConversationIDs returns the retained conversation list, most recent first.
func (s *Store) ConversationIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT conversation_id FROM conversation_list ORDER BY position ASC")
	if err != nil {
		return nil, err
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
	return ids, rows.Err()
}

// SetConversationIDs replaces the retained conversation list.
func (s *Store) SetConversationIDs(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM conversation_list"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing conversation list: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.Exec("INSERT INTO conversation_list (position, conversation_id) VALUES (?, ?)", i, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting conversation %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// --- User Profile ---

func (s *Store) SetProfileKey(userID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO user_profile (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProfileKey(userID, key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM user_profile WHERE user_id = ? AND key = ?", userID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) GetAllProfileKeys(userID string) (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM user_profile WHERE user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

func (s *Store) DeleteProfileKey(userID, key string) error {
	_, err := s.db.Exec("DELETE FROM user_profile WHERE user_id = ? AND key = ?", userID, key)
	return err
}
