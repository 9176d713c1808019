// Package apikey resolves presented API tokens to rate-limit identities.
// Tokens are held only as SHA-256 digests. The directory is filled from
// configuration and, optionally, the api_keys table in PostgreSQL, once at
// startup.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/damnfork/cases/pkg/config"
	apperrors "github.com/damnfork/cases/pkg/errors"
)

// ErrInvalidToken is returned for a presented token that matches no entry.
var ErrInvalidToken = fmt.Errorf("%w: invalid API token", apperrors.ErrUnauthorized)

// Identity is the resolved caller. Key names the caller's rate-limit bucket.
type Identity struct {
	Key   string
	Name  string
	Quota int
}

type Directory struct {
	mu           sync.RWMutex
	byHash       map[string]Identity
	defaultQuota int
	logger       *slog.Logger
}

func NewDirectory(defaultQuota int) *Directory {
	return &Directory{
		byHash:       make(map[string]Identity),
		defaultQuota: defaultQuota,
		logger:       slog.Default().With("component", "token-directory"),
	}
}

// FromConfig builds a directory holding the tokens listed in cfg.
func FromConfig(cfg config.RateLimitConfig) *Directory {
	d := NewDirectory(cfg.DefaultQuota)
	for token, tc := range cfg.Tokens {
		d.Add(token, tc.Name, tc.RateLimit)
	}
	return d
}

// Add registers a raw token.
func (d *Directory) Add(rawToken, name string, quota int) {
	d.AddHashed(HashKey(rawToken), name, quota)
}

// AddHashed registers a token by its digest. A later entry for the same
// digest replaces the earlier one.
func (d *Directory) AddHashed(hash, name string, quota int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.byHash[hash]; dup {
		d.logger.Warn("token registered twice, keeping the later entry", "name", name)
	}
	d.byHash[hash] = Identity{Key: hash, Name: name, Quota: quota}
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byHash)
}

// Default is the identity shared by callers without a token.
func (d *Directory) Default() Identity {
	return Identity{Key: config.DefaultIdentity, Name: config.DefaultIdentity, Quota: d.defaultQuota}
}

// Resolve maps a request's token to an identity. Without a token the caller
// gets the default identity. A presented token must match an entry, unless
// the directory holds no tokens at all, in which case it is treated like no
// token.
func (d *Directory) Resolve(token string, presented bool) (Identity, error) {
	if !presented {
		return d.Default(), nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.byHash) == 0 {
		return d.Default(), nil
	}
	id, ok := d.byHash[HashKey(token)]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// HashKey returns the SHA-256 hex digest of a raw token.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generateRawKey returns 32 random bytes, hex encoded.
func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type identityKey struct{}

// WithIdentity stores the resolved caller on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
