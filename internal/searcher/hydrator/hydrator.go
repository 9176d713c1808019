// Package hydrator resolves ranked record identifiers to stored cases.
package hydrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/damnfork/cases/internal/cases"
	apperrors "github.com/damnfork/cases/pkg/errors"
)

// Getter looks up one case. A missing case must be reported with an error
// matching apperrors.ErrNotFound.
type Getter interface {
	Get(ctx context.Context, id uint32) (*cases.Case, error)
}

type Result struct {
	Cases []*cases.Case
	// Missing lists identifiers the index returned but the store no longer
	// holds.
	Missing []uint32
}

type Hydrator struct {
	store  Getter
	logger *slog.Logger
}

func New(store Getter) *Hydrator {
	return &Hydrator{
		store:  store,
		logger: slog.Default().With("component", "hydrator"),
	}
}

// Hydrate loads ids in order. Missing records are skipped; any other failure,
// corruption and cancellation included, aborts the whole call so no partial
// page is returned.
func (h *Hydrator) Hydrate(ctx context.Context, ids []uint32) (*Result, error) {
	res := &Result{Cases: make([]*cases.Case, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.FromContext(err)
		}
		c, err := h.store.Get(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			res.Missing = append(res.Missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		res.Cases = append(res.Cases, c)
	}
	if len(res.Missing) > 0 {
		h.logger.Debug("ranked ids absent from store", "missing", res.Missing)
	}
	return res, nil
}
