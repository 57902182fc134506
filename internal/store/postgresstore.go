package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/launcher-accounts/accountd/internal/account"
	log "github.com/sirupsen/logrus"
)

const (
	defaultUserTable     = "account_users"
	defaultSettingsTable = "account_settings"
)

// PostgresStoreConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStoreConfig struct {
	DSN           string
	Schema        string
	UserTable     string
	SettingsTable string
	SpoolDir      string
}

// PostgresStore persists the account directory in PostgreSQL and mirrors it to a
// local spool so the file watcher and offline reads keep working.
type PostgresStore struct {
	db    *sql.DB
	cfg   PostgresStoreConfig
	spool *FileStore
	mu    sync.Mutex
}

// NewPostgresStore establishes a connection to PostgreSQL and prepares the local spool.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	trimmedDSN := strings.TrimSpace(cfg.DSN)
	if trimmedDSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	cfg.DSN = trimmedDSN
	if cfg.UserTable == "" {
		cfg.UserTable = defaultUserTable
	}
	if cfg.SettingsTable == "" {
		cfg.SettingsTable = defaultSettingsTable
	}
	spoolRoot, err := resolveSpool(cfg.SpoolDir, "pgstore")
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}
	return newPostgresStore(db, cfg, spoolRoot), nil
}

func newPostgresStore(db *sql.DB, cfg PostgresStoreConfig, spoolRoot string) *PostgresStore {
	return &PostgresStore{db: db, cfg: cfg, spool: NewFileStore(spoolRoot)}
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SpoolDir returns the local mirror directory.
func (s *PostgresStore) SpoolDir() string { return s.spool.Dir() }

// EnsureSchema creates the required tables (and schema when provided).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store: not initialized")
	}
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.fullTableName(s.cfg.UserTable))); err != nil {
		return fmt.Errorf("postgres store: create user table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.fullTableName(s.cfg.SettingsTable))); err != nil {
		return fmt.Errorf("postgres store: create settings table: %w", err)
	}
	return nil
}

// Load reads the directory from PostgreSQL and rebuilds the spool from it.
func (s *PostgresStore) Load(ctx context.Context) (account.Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureSchema(ctx); err != nil {
		return account.Directory{}, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id, content FROM %s ORDER BY id", s.fullTableName(s.cfg.UserTable)))
	if err != nil {
		return account.Directory{}, fmt.Errorf("postgres store: list users: %w", err)
	}
	defer rows.Close()

	var dir account.Directory
	for rows.Next() {
		var (
			id      string
			payload string
		)
		if err = rows.Scan(&id, &payload); err != nil {
			return account.Directory{}, fmt.Errorf("postgres store: scan user row: %w", err)
		}
		var cred account.Credential
		if err = json.Unmarshal([]byte(payload), &cred); err != nil {
			log.WithError(err).Warnf("postgres store: skipping user %s with invalid json", id)
			continue
		}
		dir.Users = append(dir.Users, cred)
	}
	if err = rows.Err(); err != nil {
		return account.Directory{}, fmt.Errorf("postgres store: iterate user rows: %w", err)
	}

	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.fullTableName(s.cfg.SettingsTable))
	err = s.db.QueryRowContext(ctx, query, defaultUserKey).Scan(&dir.Default)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return account.Directory{}, fmt.Errorf("postgres store: load default user: %w", err)
	}

	if errMirror := s.spool.Mirror(ctx, dir); errMirror != nil {
		log.WithError(errMirror).Warn("postgres store: refresh spool")
	}
	return dir, nil
}

// Save upserts cred in PostgreSQL and the spool.
func (s *PostgresStore) Save(ctx context.Context, cred account.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("postgres store: marshal credential: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.fullTableName(s.cfg.UserTable))
	if _, err = s.db.ExecContext(ctx, query, cred.ID, json.RawMessage(raw)); err != nil {
		return fmt.Errorf("postgres store: upsert user: %w", err)
	}
	return s.spool.Save(ctx, cred)
}

// Delete removes the user row and its spool record.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.fullTableName(s.cfg.UserTable))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("postgres store: delete user: %w", err)
	}
	return s.spool.Delete(ctx, id)
}

// SetDefault stores the default pointer; an empty id deletes the setting.
func (s *PostgresStore) SetDefault(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.fullTableName(s.cfg.SettingsTable)
	if id == "" {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = $1", table), defaultUserKey); err != nil {
			return fmt.Errorf("postgres store: clear default user: %w", err)
		}
	} else {
		query := fmt.Sprintf(`
			INSERT INTO %s (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key)
			DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, table)
		if _, err := s.db.ExecContext(ctx, query, defaultUserKey, id); err != nil {
			return fmt.Errorf("postgres store: upsert default user: %w", err)
		}
	}
	return s.spool.SetDefault(ctx, id)
}

func (s *PostgresStore) fullTableName(name string) string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(name)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(name)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}

// resolveSpool returns an absolute spool directory, defaulting to fallback under the working directory.
func resolveSpool(dir, fallback string) (string, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		if cwd, err := os.Getwd(); err == nil {
			root = filepath.Join(cwd, fallback)
		} else {
			root = filepath.Join(os.TempDir(), fallback)
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve spool directory: %w", err)
	}
	if err = os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("create spool directory: %w", err)
	}
	return abs, nil
}
