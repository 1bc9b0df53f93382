// SPDX-License-Identifier: MIT

package vectors

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/catalog"
	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/log"
	"github.com/videocatalog/videocatalog/internal/scheduler"
)

// JobKind is the scheduler job kind for index rebuilds.
const JobKind = "vectors_refresh"

const (
	defaultDrainInterval = 5 * time.Second
	drainBatchLimit      = 256
	embedBatchSize       = 64
)

// Service drains vectors_pending and maintains the semantic index. It
// implements catalog.Searcher for the query side.
type Service struct {
	paths     config.Paths
	collector *Collector
	embedder  *FallbackEmbedder
	store     *scheduler.Store
	enqueue   bool
	interval  time.Duration
	logger    zerolog.Logger

	conn *sql.DB // catalog RW, drain only

	mu       sync.RWMutex
	index    *Index
	queryEmb Embedder

	now func() time.Time
}

// NewService wires the drain worker. store may be nil; rebuilds then always
// run in-process. An existing index on disk is loaded immediately so search
// works before the first rebuild.
func NewService(cfg config.Config, store *scheduler.Store) (*Service, error) {
	conn, err := db.OpenRW(cfg.Paths.CatalogDBPath())
	if err != nil {
		return nil, err
	}

	hash := NewHashEmbedder()
	var primary Embedder = hash
	if model := cfg.Assistant.RAG.EmbedModel; model != "" {
		if ollama, err := NewOllamaEmbedder(cfg.OllamaHost, model); err == nil {
			primary = ollama
		}
	}

	s := &Service{
		paths:     cfg.Paths,
		collector: NewCollector(cfg.Paths),
		embedder:  NewFallbackEmbedder(primary, hash),
		store:     store,
		enqueue:   cfg.Orchestrator.Enable && store != nil,
		interval:  defaultDrainInterval,
		logger:    log.WithComponent("vectors"),
		conn:      conn,
		now:       func() time.Time { return time.Now().UTC() },
	}

	if ix, err := LoadIndex(cfg.Paths.VectorsDir()); err != nil {
		s.logger.Warn().Err(err).Msg("stored index unreadable, will rebuild")
	} else if ix != nil {
		s.install(ix)
		s.logger.Info().Int("docs", ix.Len()).Str("embedder", ix.Embedder).Msg("semantic index loaded")
	}
	return s, nil
}

func (s *Service) Close() error { return s.conn.Close() }

// Handler returns the scheduler handler executing rebuilds, saving a
// checkpoint after each embedded batch.
func (s *Service) Handler() scheduler.Handler {
	return func(ctx context.Context, job *scheduler.Job, store *scheduler.Store) error {
		return s.rebuild(ctx, func(done, total int) {
			_ = store.SaveCheckpoint(ctx, job.ID, map[string]any{"embedded": done, "total": total})
		})
	}
}

// Ready implements catalog.Searcher.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index != nil && s.index.Len() > 0
}

// IndexStatus describes the active semantic index.
type IndexStatus struct {
	Ready    bool   `json:"ready"`
	Docs     int    `json:"docs"`
	Dim      int    `json:"dim"`
	Embedder string `json:"embedder,omitempty"`
	BuiltUTC string `json:"built_utc,omitempty"`
	Degraded bool   `json:"degraded"`
}

// Status reports the active index for the HTTP layer.
func (s *Service) Status() IndexStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := IndexStatus{Degraded: s.embedder.Degraded()}
	if s.index == nil {
		return st
	}
	st.Ready = s.index.Len() > 0
	st.Docs = s.index.Len()
	st.Dim = s.index.Dim
	st.Embedder = s.index.Embedder
	st.BuiltUTC = s.index.BuiltUTC
	return st
}

// Search implements catalog.Searcher: embed the query with the same embedder
// that built the index, then brute-force cosine over the matrix.
func (s *Service) Search(ctx context.Context, query string, k int) ([]catalog.SearchHit, error) {
	s.mu.RLock()
	ix, emb := s.index, s.queryEmb
	s.mu.RUnlock()
	if ix == nil || ix.Len() == 0 {
		return nil, fault.New(fault.Gated, "semantic index not ready")
	}

	vecs, err := emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	metricSearches.Inc()

	hits := ix.Search(vecs[0], k)
	out := make([]catalog.SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, catalog.SearchHit{
			DocID: h.Doc.ID,
			Title: h.Doc.Title,
			Text:  h.Doc.Text,
			Score: h.Score,
			Mode:  "ann",
		})
	}
	return out, nil
}

// Run is the drain loop: poll vectors_pending, and on change either hand the
// rebuild to the orchestrator or run it here.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		drained, err := s.drain(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("pending drain failed")
			}
			continue
		}
		if drained == 0 {
			continue
		}
		if s.enqueue {
			if _, err := s.store.Enqueue(ctx, scheduler.EnqueueRequest{
				Kind:     JobKind,
				Resource: scheduler.ResourceHeavyAIGPU,
				Dedup:    true,
			}); err != nil {
				s.logger.Warn().Err(err).Msg("enqueue rebuild failed")
			}
			continue
		}
		if err := s.Rebuild(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("inline rebuild failed")
		}
	}
}

// drain consumes up to drainBatchLimit pending rows, delete-on-fetch, and
// reports how many were taken.
func (s *Service) drain(ctx context.Context) (int, error) {
	rows, err := s.conn.QueryContext(ctx, `
		DELETE FROM vectors_pending
		WHERE doc_id IN (SELECT doc_id FROM vectors_pending ORDER BY ts_utc, doc_id LIMIT ?)
		RETURNING doc_id`, drainBatchLimit)
	if err != nil {
		return 0, db.WrapDBError("drain vectors_pending", err)
	}
	defer func() { _ = rows.Close() }()

	n := 0
	for rows.Next() {
		var docID string
		if err := rows.Scan(&docID); err != nil {
			return n, db.WrapDBError("scan pending row", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, db.WrapDBError("drain vectors_pending", err)
	}
	if n > 0 {
		metricPendingDrained.Add(float64(n))
		s.logger.Debug().Int("drained", n).Msg("vector refresh pending")
	}
	return n, nil
}

// Rebuild collects, embeds and persists a fresh index, then swaps it in.
func (s *Service) Rebuild(ctx context.Context) error {
	return s.rebuild(ctx, nil)
}

func (s *Service) rebuild(ctx context.Context, progress func(done, total int)) error {
	started := s.now()
	docs, sources, err := s.collector.Collect(ctx)
	if err != nil {
		return err
	}

	emb := s.embedder.Resolve(ctx)
	vecs := make([][]float32, 0, len(docs))
	for off := 0; off < len(docs); off += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + embedBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		texts := make([]string, 0, end-off)
		for _, d := range docs[off:end] {
			texts = append(texts, strings.TrimSpace(d.Title+" "+d.Text))
		}
		batch, err := emb.Embed(ctx, texts)
		if err != nil {
			return err
		}
		vecs = append(vecs, batch...)
		if progress != nil {
			progress(len(vecs), len(docs))
		}
	}

	ix, err := NewIndex(emb.Name(), db.FormatUTC(started), docs, vecs)
	if err != nil {
		return err
	}
	if err := ix.Save(s.paths.VectorsDir(), sources); err != nil {
		return err
	}
	s.install(ix)

	metricRebuilds.Inc()
	s.logger.Info().Int("docs", ix.Len()).Str("embedder", ix.Embedder).
		Dur("took", time.Since(started)).Msg("semantic index rebuilt")
	return nil
}

// install swaps the active index and picks the matching query embedder.
func (s *Service) install(ix *Index) {
	emb := s.embedderFor(ix.Embedder)
	s.mu.Lock()
	s.index = ix
	s.queryEmb = emb
	s.mu.Unlock()
	metricDocsIndexed.Set(float64(ix.Len()))
}

// embedderFor maps a persisted embedder name back to an implementation, so
// queries against a loaded index use the space it was built in.
func (s *Service) embedderFor(name string) Embedder {
	hash := NewHashEmbedder()
	if name == "" || name == hash.Name() {
		return hash
	}
	return s.embedder
}
