// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"

	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/log"
)

// Store multiplexes read-only queries across the central catalog database
// and the per-drive shard databases. Shard connections are opened lazily and
// cached for the lifetime of the store.
type Store struct {
	cfg     config.APIConfig
	paths   config.Paths
	catalog *sql.DB

	mu     sync.Mutex
	shards map[string]*sql.DB
}

// NewStore opens the catalog database read-only.
func NewStore(paths config.Paths, cfg config.APIConfig) (*Store, error) {
	conn, err := db.OpenRO(paths.CatalogDBPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, db.WrapDBError("catalog database not found", err)
		}
		return nil, err
	}
	return &Store{
		cfg:     cfg,
		paths:   paths,
		catalog: conn,
		shards:  make(map[string]*sql.DB),
	}, nil
}

// NewStoreWithConn is used by tests and the in-process smoke harness.
func NewStoreWithConn(paths config.Paths, cfg config.APIConfig, conn *sql.DB) *Store {
	return &Store{cfg: cfg, paths: paths, catalog: conn, shards: make(map[string]*sql.DB)}
}

// Close releases the catalog and every cached shard connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if err := s.catalog.Close(); err != nil {
		firstErr = err
	}
	for label, conn := range s.shards {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.shards, label)
	}
	return firstErr
}

// Catalog exposes the read-only catalog connection to sibling components
// (event poller, vector builder).
func (s *Store) Catalog() *sql.DB { return s.catalog }

// clampPage applies the configured pagination defaults.
func (s *Store) clampPage(req PageRequest) PageRequest {
	def := s.cfg.DefaultLimit
	if def <= 0 {
		def = 100
	}
	max := s.cfg.MaxPageSize
	if max <= 0 {
		max = 500
	}
	return req.Clamp(def, max)
}

// shard resolves the read-only connection for a drive label. An unknown
// label yields NotFound("unknown drive"); a known label whose shard file is
// gone yields NotFound("shard database missing") so callers can distinguish
// the two.
func (s *Store) shard(ctx context.Context, label string) (*sql.DB, error) {
	s.mu.Lock()
	if conn, ok := s.shards[label]; ok {
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	drive, err := s.Drive(ctx, label)
	if err != nil {
		return nil, err
	}

	shardPath := drive.ShardPath
	if shardPath == "" {
		shardPath = s.paths.ShardPath(label)
	}
	conn, err := db.OpenRO(shardPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, db.ErrShardMissing(label)
		}
		return nil, db.WrapDBError("open shard", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.shards[label]; ok {
		// Lost the race; keep the first connection.
		if err := conn.Close(); err != nil {
			logger := log.WithComponent("catalog")
			logger.Warn().Err(err).Msg("failed to close duplicate shard connection")
		}
		return existing, nil
	}
	s.shards[label] = conn
	return conn, nil
}
