package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/nimbleai/internal/models"
)

// SQLiteStore handles SQLite database operations for local development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/nimbleai.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/nimbleai.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS integrations (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token TEXT NOT NULL,
		token_type TEXT DEFAULT '',
		expires_at DATETIME,
		waba_id TEXT DEFAULT '',
		phone_number_id TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, provider)
	);

	CREATE INDEX IF NOT EXISTS idx_integrations_provider ON integrations(provider);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertIntegration inserts or replaces the integration for (user, provider).
func (s *SQLiteStore) UpsertIntegration(ctx context.Context, in *models.Integration) error {
	now := time.Now().UTC()

	var expiresAt sql.NullTime
	if in.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: in.ExpiresAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (user_id, provider, access_token, token_type, expires_at, waba_id, phone_number_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			waba_id = excluded.waba_id,
			phone_number_id = excluded.phone_number_id,
			updated_at = excluded.updated_at
	`, in.UserID, in.Provider, in.AccessToken, in.TokenType, expiresAt, in.WABAID, in.PhoneNumberID, now, now)
	if err != nil {
		return err
	}

	stored, err := s.GetIntegration(ctx, in.UserID, in.Provider)
	if err != nil {
		return err
	}
	if stored != nil {
		in.CreatedAt = stored.CreatedAt
		in.UpdatedAt = stored.UpdatedAt
	}
	return nil
}

// GetIntegration retrieves one integration. Returns nil, nil if absent.
func (s *SQLiteStore) GetIntegration(ctx context.Context, userID, provider string) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, access_token, token_type, expires_at, waba_id, phone_number_id, created_at, updated_at
		FROM integrations WHERE user_id = ? AND provider = ?
	`, userID, provider)

	in, err := scanSQLiteIntegration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return in, nil
}

// ListIntegrations retrieves every integration of a user.
func (s *SQLiteStore) ListIntegrations(ctx context.Context, userID string) ([]models.Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, provider, access_token, token_type, expires_at, waba_id, phone_number_id, created_at, updated_at
		FROM integrations
		WHERE user_id = ?
		ORDER BY provider
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		in, err := scanSQLiteIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}

	return out, rows.Err()
}

// DeleteIntegration removes an integration. Returns ErrNotFound if absent.
func (s *SQLiteStore) DeleteIntegration(ctx context.Context, userID, provider string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM integrations WHERE user_id = ? AND provider = ?
	`, userID, provider)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteIntegration(row rowScanner) (*models.Integration, error) {
	in := &models.Integration{}
	var expiresAt sql.NullTime
	err := row.Scan(
		&in.UserID,
		&in.Provider,
		&in.AccessToken,
		&in.TokenType,
		&expiresAt,
		&in.WABAID,
		&in.PhoneNumberID,
		&in.CreatedAt,
		&in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		in.ExpiresAt = &t
	}
	return in, nil
}
