// Package sqlitestore persists OAuth credentials in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rashee1997/orchestrator-sub006/credential"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_credentials (
	provider_id   TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    INTEGER,
	scopes        TEXT NOT NULL DEFAULT '[]',
	updated_at    INTEGER NOT NULL
)`

// Store is a credential.Persistence backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) a SQLite database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return OpenDSN(dsn)
}

// OpenDSN opens a SQLite database from a raw modernc.org/sqlite DSN.
func OpenDSN(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load implements credential.Persistence.
func (s *Store) Load(ctx context.Context, providerID string) (credential.Credential, error) {
	if err := ctx.Err(); err != nil {
		return credential.Credential{}, err
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, access_token, refresh_token, expires_at, scopes
FROM oauth_credentials
WHERE provider_id = ?
`, providerID)

	var (
		c         = credential.Credential{ProviderID: providerID, Method: credential.MethodOAuth}
		expiresAt sql.NullInt64
		scopesRaw string
	)
	if err := row.Scan(&c.ID, &c.Secret, &c.RefreshToken, &expiresAt, &scopesRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return credential.Credential{}, fmt.Errorf("%w: %s", credential.ErrNotFound, providerID)
		}
		return credential.Credential{}, fmt.Errorf("load credential: %w", err)
	}
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		c.Expiry = &t
	}
	scopes, err := decodeScopes(scopesRaw)
	if err != nil {
		return credential.Credential{}, err
	}
	c.Scopes = scopes
	return c, nil
}

// Save implements credential.Persistence. The upsert runs in a
// transaction.
func (s *Store) Save(ctx context.Context, providerID string, cred credential.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(providerID) == "" {
		return fmt.Errorf("provider id is required")
	}
	scopes, err := encodeScopes(cred.Scopes)
	if err != nil {
		return err
	}
	var expiresAt sql.NullInt64
	if cred.Expiry != nil {
		expiresAt = sql.NullInt64{Int64: cred.Expiry.UTC().UnixMilli(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO oauth_credentials (
	provider_id, id, access_token, refresh_token, expires_at, scopes, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider_id) DO UPDATE SET
	id = excluded.id,
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	expires_at = excluded.expires_at,
	scopes = excluded.scopes,
	updated_at = excluded.updated_at
`,
		providerID,
		cred.ID,
		cred.Secret,
		cred.RefreshToken,
		expiresAt,
		scopes,
		s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func encodeScopes(scopes []string) (string, error) {
	if len(scopes) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(scopes)
	if err != nil {
		return "", fmt.Errorf("marshal scopes: %w", err)
	}
	return string(encoded), nil
}

func decodeScopes(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "[]" {
		return nil, nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(value), &scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return scopes, nil
}
