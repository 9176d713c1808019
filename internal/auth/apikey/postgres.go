package apikey

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/damnfork/cases/pkg/postgres"
)

// KeyInfo describes one row of the api_keys table.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	RateLimit int        `json:"rate_limit"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Repository manages tokens in the api_keys table:
//
//	CREATE TABLE api_keys (
//	    id         BIGSERIAL PRIMARY KEY,
//	    key_hash   TEXT NOT NULL UNIQUE,
//	    name       TEXT NOT NULL,
//	    rate_limit INTEGER NOT NULL,
//	    is_active  BOOLEAN NOT NULL DEFAULT true,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    expires_at TIMESTAMPTZ
//	);
type Repository struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewRepository(db *postgres.Client) *Repository {
	return &Repository{
		db:     db,
		logger: slog.Default().With("component", "apikey-repository"),
	}
}

// LoadInto copies every active, unexpired token into d and returns how many
// were added.
func (r *Repository) LoadInto(ctx context.Context, d *Directory) (int, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT key_hash, name, rate_limit
		 FROM api_keys
		 WHERE is_active = true AND (expires_at IS NULL OR expires_at > now())`,
	)
	if err != nil {
		return 0, fmt.Errorf("loading api keys: %w", err)
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var hash, name string
		var quota int
		if err := rows.Scan(&hash, &name, &quota); err != nil {
			return n, fmt.Errorf("scanning api key row: %w", err)
		}
		if quota <= 0 {
			r.logger.Warn("skipping token without a positive rate limit", "name", name)
			continue
		}
		d.AddHashed(hash, name, quota)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterating api keys: %w", err)
	}
	r.logger.Info("api keys loaded", "count", n)
	return n, nil
}

// Create generates a token, stores its digest and returns the raw token. The
// raw value cannot be recovered later.
func (r *Repository) Create(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error) {
	raw, err := generateRawKey()
	if err != nil {
		return "", err
	}
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	_, err = r.db.DB.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, name, rate_limit, expires_at) VALUES ($1, $2, $3, $4)`,
		HashKey(raw), name, rateLimit, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}
	r.logger.Info("api key created", "name", name, "rate_limit", rateLimit)
	return raw, nil
}

// Revoke deactivates a token. Running services keep honouring it until they
// restart, since directories are loaded once.
func (r *Repository) Revoke(ctx context.Context, rawToken string) error {
	result, err := r.db.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawToken),
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows == 0 {
		return ErrInvalidToken
	}
	r.logger.Info("api key revoked")
	return nil
}

// List returns active tokens, newest first, without their digests.
func (r *Repository) List(ctx context.Context) ([]KeyInfo, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT id, name, rate_limit, created_at, expires_at
		 FROM api_keys WHERE is_active = true ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var k KeyInfo
		var expiresAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.RateLimit, &k.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
