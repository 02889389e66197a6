package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/llmrelay/fallback"
)

// SqliteStore implements ProfileStore using SQLite.
// Profiles and their additional credentials live in two tables; the
// credential order is kept by a position column.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every pooled connection to ":memory:" would get its own empty database.
	db.SetMaxOpenConns(1)

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			provider TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS profile_credentials (
			profile_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			provider TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (profile_id) REFERENCES profiles(id) ON DELETE CASCADE,
			PRIMARY KEY (profile_id, position)
		);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveProfile creates or replaces the named profile.
func (s *SqliteStore) SaveProfile(ctx context.Context, name string, settings fallback.Settings) (Profile, error) {
	name, err := normaliseName(name)
	if err != nil {
		return Profile{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	profile := Profile{Name: name, Settings: cloneSettings(settings), UpdatedAt: now}

	err = tx.QueryRowContext(ctx,
		"SELECT id, created_at FROM profiles WHERE name = ?", name,
	).Scan(&profile.ID, &profile.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		profile.ID = uuid.New().String()
		profile.CreatedAt = now
	case err != nil:
		return Profile{}, fmt.Errorf("failed to look up profile: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (id, name, provider, api_key, model, base_url, timeout_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			api_key = excluded.api_key,
			model = excluded.model,
			base_url = excluded.base_url,
			timeout_ms = excluded.timeout_ms,
			updated_at = excluded.updated_at`,
		profile.ID,
		profile.Name,
		settings.Primary,
		settings.PrimaryAPIKey,
		settings.Model,
		settings.BaseURL,
		settings.Timeout.Milliseconds(),
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to store profile: %w", err)
	}

	// Replace the credential list wholesale
	_, err = tx.ExecContext(ctx, "DELETE FROM profile_credentials WHERE profile_id = ?", profile.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to clear old credentials: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO profile_credentials (profile_id, position, provider, api_key) VALUES (?, ?, ?, ?)")
	if err != nil {
		return Profile{}, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, cred := range settings.Additional {
		if _, err := stmt.ExecContext(ctx, profile.ID, i, cred.Provider, cred.APIKey); err != nil {
			return Profile{}, fmt.Errorf("failed to insert credential: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Profile{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return profile, nil
}

// LoadProfile returns the named profile or ErrProfileNotFound.
func (s *SqliteStore) LoadProfile(ctx context.Context, name string) (Profile, error) {
	name = strings.TrimSpace(name)
	rows, err := s.db.QueryContext(ctx, profileQuery+" WHERE name = ?", name)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to query profile: %w", err)
	}
	profiles, err := s.scanProfiles(ctx, rows)
	if err != nil {
		return Profile{}, err
	}
	if len(profiles) == 0 {
		return Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return profiles[0], nil
}

// ListProfiles returns every profile ordered by name.
func (s *SqliteStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, profileQuery+" ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	return s.scanProfiles(ctx, rows)
}

// DeleteProfile removes the named profile and its credentials.
func (s *SqliteStore) DeleteProfile(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	res, err := s.db.ExecContext(ctx, "DELETE FROM profiles WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return nil
}

const profileQuery = `
	SELECT id, name, provider, api_key, model, base_url, timeout_ms, created_at, updated_at
	FROM profiles`

// scanProfiles reads profile rows, closes them, then attaches each
// profile's credentials. Credentials are loaded after the rows are closed
// since the in-memory store holds a single connection.
func (s *SqliteStore) scanProfiles(ctx context.Context, rows *sql.Rows) ([]Profile, error) {
	profiles, err := scanProfileRows(rows)
	if err != nil {
		return nil, err
	}

	for i := range profiles {
		creds, err := s.loadCredentials(ctx, profiles[i].ID)
		if err != nil {
			return nil, err
		}
		profiles[i].Settings.Additional = creds
	}
	return profiles, nil
}

func scanProfileRows(rows *sql.Rows) ([]Profile, error) {
	defer rows.Close()

	profiles := []Profile{} // Start with empty slice, not nil
	for rows.Next() {
		var p Profile
		var timeoutMS int64
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Settings.Primary,
			&p.Settings.PrimaryAPIKey,
			&p.Settings.Model,
			&p.Settings.BaseURL,
			&timeoutMS,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.Settings.Timeout = time.Duration(timeoutMS) * time.Millisecond
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

func (s *SqliteStore) loadCredentials(ctx context.Context, profileID string) ([]fallback.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT provider, api_key FROM profile_credentials WHERE profile_id = ? ORDER BY position ASC",
		profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []fallback.Credential
	for rows.Next() {
		var c fallback.Credential
		if err := rows.Scan(&c.Provider, &c.APIKey); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}
	return creds, nil
}

var _ ProfileStore = (*SqliteStore)(nil)
