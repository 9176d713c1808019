// Package store reads case payloads from a bbolt database. Keys are the
// big-endian record identifiers produced by cases.Key; values are cases.Marshal
// payloads.
package store

import (
	"context"
	"fmt"
	"log/slog"

	bolt "go.etcd.io/bbolt"

	"github.com/damnfork/cases/internal/cases"
	"github.com/damnfork/cases/pkg/config"
	apperrors "github.com/damnfork/cases/pkg/errors"
)

// Store is safe for concurrent use. Reads run in bbolt read transactions and
// never block each other.
type Store struct {
	db     *bolt.DB
	bucket []byte
	logger *slog.Logger
}

// Open opens the database at cfg.Path. A read-only store shares the file with
// other readers; a writable one creates the bucket if needed.
func Open(cfg config.StoreConfig, readOnly bool) (*Store, error) {
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout:  cfg.OpenTimeout,
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", cfg.Path, err)
	}
	s := &Store{
		db:     db,
		bucket: []byte(cfg.Bucket),
		logger: slog.Default().With("component", "store", "path", cfg.Path),
	}
	if !readOnly {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(s.bucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}
	return s, nil
}

// Get returns the case stored under id. A missing key yields an error
// matching apperrors.ErrNotFound; an undecodable payload yields a
// *apperrors.CorruptionError.
func (s *Store) Get(ctx context.Context, id uint32) (*cases.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(err)
	}

	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(cases.Key(id)); v != nil {
			// v is only valid inside the transaction.
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading case %d: %w", id, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("case %d: %w", id, apperrors.ErrNotFound)
	}

	c, err := cases.Unmarshal(id, payload)
	if err != nil {
		s.logger.Error("stored payload failed to decode", "id", id, "size", len(payload), "error", err)
		return nil, &apperrors.CorruptionError{ID: id, Err: err}
	}
	return c, nil
}

// Count returns the number of stored cases.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.FromContext(err)
	}
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(s.bucket); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting cases: %w", err)
	}
	return n, nil
}

// Put writes c under c.ID. It exists for fixture loading; the search service
// itself never writes.
func (s *Store) Put(c *cases.Case) error {
	return s.PutRaw(c.ID, cases.Marshal(c))
}

// PutRaw stores payload verbatim under id.
func (s *Store) PutRaw(id uint32, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put(cases.Key(id), payload)
	})
}

func (s *Store) Delete(id uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(cases.Key(id))
	})
}

// Ping verifies the bucket is readable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.Count(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
