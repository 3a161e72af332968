package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/nimbleai/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertIntegration inserts or replaces the integration for (user, provider).
func (s *PostgresStore) UpsertIntegration(ctx context.Context, in *models.Integration) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO integrations (user_id, provider, access_token, token_type, expires_at, waba_id, phone_number_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			waba_id = EXCLUDED.waba_id,
			phone_number_id = EXCLUDED.phone_number_id,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, in.UserID, in.Provider, in.AccessToken, in.TokenType, in.ExpiresAt, in.WABAID, in.PhoneNumberID).Scan(
		&in.CreatedAt,
		&in.UpdatedAt,
	)
}

// GetIntegration retrieves one integration. Returns nil, nil if absent.
func (s *PostgresStore) GetIntegration(ctx context.Context, userID, provider string) (*models.Integration, error) {
	in := &models.Integration{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, provider, access_token, token_type, expires_at, waba_id, phone_number_id, created_at, updated_at
		FROM integrations WHERE user_id = $1 AND provider = $2
	`, userID, provider).Scan(
		&in.UserID,
		&in.Provider,
		&in.AccessToken,
		&in.TokenType,
		&in.ExpiresAt,
		&in.WABAID,
		&in.PhoneNumberID,
		&in.CreatedAt,
		&in.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return in, nil
}

// ListIntegrations retrieves every integration of a user.
func (s *PostgresStore) ListIntegrations(ctx context.Context, userID string) ([]models.Integration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, provider, access_token, token_type, expires_at, waba_id, phone_number_id, created_at, updated_at
		FROM integrations
		WHERE user_id = $1
		ORDER BY provider
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		var in models.Integration
		err := rows.Scan(
			&in.UserID,
			&in.Provider,
			&in.AccessToken,
			&in.TokenType,
			&in.ExpiresAt,
			&in.WABAID,
			&in.PhoneNumberID,
			&in.CreatedAt,
			&in.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}

	return out, rows.Err()
}

// DeleteIntegration removes an integration. Returns ErrNotFound if absent.
func (s *PostgresStore) DeleteIntegration(ctx context.Context, userID, provider string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM integrations WHERE user_id = $1 AND provider = $2
	`, userID, provider)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
