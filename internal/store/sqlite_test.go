package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/nimbleai/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteStore_IntegrationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	got, err := s.GetIntegration(ctx, "user-1", models.ProviderWhatsApp)
	require.NoError(t, err)
	assert.Nil(t, got)

	expires := time.Now().Add(60 * 24 * time.Hour).UTC().Truncate(time.Second)
	in := &models.Integration{
		UserID:        "user-1",
		Provider:      models.ProviderWhatsApp,
		AccessToken:   "sealed-1",
		TokenType:     "bearer",
		ExpiresAt:     &expires,
		WABAID:        "waba-1",
		PhoneNumberID: "phone-1",
	}
	require.NoError(t, s.UpsertIntegration(ctx, in))
	assert.False(t, in.CreatedAt.IsZero())

	got, err = s.GetIntegration(ctx, "user-1", models.ProviderWhatsApp)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sealed-1", got.AccessToken)
	assert.Equal(t, "waba-1", got.WABAID)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))

	// Re-exchange replaces the row
	in.AccessToken = "sealed-2"
	in.ExpiresAt = nil
	require.NoError(t, s.UpsertIntegration(ctx, in))

	list, err := s.ListIntegrations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sealed-2", list[0].AccessToken)
	assert.Nil(t, list[0].ExpiresAt)

	require.NoError(t, s.DeleteIntegration(ctx, "user-1", models.ProviderWhatsApp))
	assert.ErrorIs(t, s.DeleteIntegration(ctx, "user-1", models.ProviderWhatsApp), ErrNotFound)
}

func TestSQLiteStore_ListIsPerUser(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.UpsertIntegration(ctx, &models.Integration{UserID: "a", Provider: models.ProviderWhatsApp, AccessToken: "x"}))
	require.NoError(t, s.UpsertIntegration(ctx, &models.Integration{UserID: "b", Provider: models.ProviderWhatsApp, AccessToken: "y"}))

	list, err := s.ListIntegrations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "x", list[0].AccessToken)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/nimble", migrateURL("postgres://u:p@db:5432/nimble"))
	assert.Equal(t, "pgx5://db/nimble", migrateURL("postgresql://db/nimble"))
	assert.Equal(t, "pgx5://db/nimble", migrateURL("pgx5://db/nimble"))
}
