package main

import (
	"errors"
	"fmt"

	"github.com/damnfork/cases/internal/searcher/executor"
	"github.com/damnfork/cases/internal/searcher/index"
	"github.com/damnfork/cases/internal/searcher/parser"
	"github.com/damnfork/cases/internal/searcher/service"
	"github.com/damnfork/cases/internal/store"
	"github.com/damnfork/cases/pkg/config"
)

// backend is the read-only search stack shared by serve and the one-shot
// commands.
type backend struct {
	store *store.Store
	index *index.Index
	exec  *executor.Executor
}

func openBackend(cfg *config.Config) (*backend, error) {
	st, err := store.Open(cfg.Store, true)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	idx, err := index.Open(cfg.Index)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening index: %w", err)
	}
	p, err := parser.New(cfg.Search.ParseCacheSize, index.Fields(cfg.Index.IDField))
	if err != nil {
		idx.Close()
		st.Close()
		return nil, fmt.Errorf("creating parser: %w", err)
	}
	return &backend{
		store: st,
		index: idx,
		exec:  executor.New(idx, p, cfg.Search.MaxLimit),
	}, nil
}

func (b *backend) service(cfg *config.Config, opts ...service.Option) *service.Service {
	return service.New(cfg.Search, b.exec, b.store, opts...)
}

func (b *backend) Close() error {
	return errors.Join(b.index.Close(), b.store.Close())
}
