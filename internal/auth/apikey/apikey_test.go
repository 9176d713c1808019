package apikey

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damnfork/cases/pkg/config"
	apperrors "github.com/damnfork/cases/pkg/errors"
	"github.com/damnfork/cases/pkg/postgres"
)

func TestResolve(t *testing.T) {
	d := NewDirectory(100)
	d.Add("secret-a", "partner-a", 600)

	id, err := d.Resolve("", false)
	require.NoError(t, err)
	assert.Equal(t, Identity{Key: "default", Name: "default", Quota: 100}, id)

	id, err = d.Resolve("secret-a", true)
	require.NoError(t, err)
	assert.Equal(t, "partner-a", id.Name)
	assert.Equal(t, 600, id.Quota)
	assert.Equal(t, HashKey("secret-a"), id.Key)
	assert.NotEqual(t, "secret-a", id.Key, "raw token never used as bucket key")

	_, err = d.Resolve("stale", true)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = d.Resolve("", true)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized, "empty presented token is still a token")
}

func TestResolve_EmptyDirectoryFallsBackToDefault(t *testing.T) {
	d := NewDirectory(7)

	id, err := d.Resolve("anything", true)
	require.NoError(t, err)
	assert.Equal(t, "default", id.Key)
	assert.Equal(t, 7, id.Quota)
}

func TestFromConfig(t *testing.T) {
	d := FromConfig(config.RateLimitConfig{
		DefaultQuota: 50,
		Tokens: map[string]config.TokenConfig{
			"t1": {Name: "one", RateLimit: 1},
			"t2": {Name: "two", RateLimit: 2},
		},
	})
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, 50, d.Default().Quota)

	id, err := d.Resolve("t2", true)
	require.NoError(t, err)
	assert.Equal(t, "two", id.Name)
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", HashKey("hello"))
}

func TestGenerateRawKey(t *testing.T) {
	a, err := generateRawKey()
	require.NoError(t, err)
	b, err := generateRawKey()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

// TestRepository needs a PostgreSQL at CASES_TEST_POSTGRES_HOST.
func TestRepository(t *testing.T) {
	host := os.Getenv("CASES_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("CASES_TEST_POSTGRES_HOST not set")
	}
	cfg := config.Default().Postgres
	cfg.Host = host
	if pw := os.Getenv("CASES_TEST_POSTGRES_PASSWORD"); pw != "" {
		cfg.Password = pw
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		rate_limit INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ
	)`)
	require.NoError(t, err)

	repo := NewRepository(db)
	raw, err := repo.Create(ctx, "repo-test", 9, nil)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	expired, err := repo.Create(ctx, "repo-test-expired", 9, &past)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE key_hash IN ($1, $2)`, HashKey(raw), HashKey(expired))
	})

	d := NewDirectory(100)
	_, err = repo.LoadInto(ctx, d)
	require.NoError(t, err)

	id, err := d.Resolve(raw, true)
	require.NoError(t, err)
	assert.Equal(t, 9, id.Quota)

	_, err = d.Resolve(expired, true)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, repo.Revoke(ctx, raw))
	assert.ErrorIs(t, repo.Revoke(ctx, raw), ErrInvalidToken)
}
