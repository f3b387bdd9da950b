package rag

import (
	"context"
	"fmt"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const DefaultSnapshotTTL = 5 * time.Minute

// Retriever loads the knowledge snapshot and picks grounding entries.
// Concurrent cache misses share one repository load.
type Retriever struct {
	repo   out.KnowledgeRepository
	cache  out.KnowledgeCache
	ttl    time.Duration
	ranker *Ranker
	group  singleflight.Group
	log    zerolog.Logger
}

func NewRetriever(repo out.KnowledgeRepository, cache out.KnowledgeCache, ttl time.Duration, log zerolog.Logger) *Retriever {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Retriever{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		ranker: NewRanker(),
		log:    log,
	}
}

// Snapshot returns the full corpus, from cache when possible.
func (r *Retriever) Snapshot(ctx context.Context) ([]*domain.KnowledgeEntry, error) {
	if r.cache != nil {
		if entries, ok := r.cache.Get(ctx); ok {
			return entries, nil
		}
	}

	v, err, shared := r.group.Do("knowledge", func() (interface{}, error) {
		entries, err := r.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if err := r.cache.Set(ctx, entries, r.ttl); err != nil {
				r.log.Warn().Err(err).Msg("failed to cache knowledge snapshot")
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	if shared {
		r.log.Debug().Msg("knowledge load shared with concurrent caller")
	}
	return v.([]*domain.KnowledgeEntry), nil
}

// Retrieve returns the top n entries for a record.
func (r *Retriever) Retrieve(ctx context.Context, rec *domain.Record, n int) ([]*RankedEntry, error) {
	entries, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var category domain.Category
	if rec.Classification != nil {
		category = rec.Classification.Category
	}
	return r.ranker.Rank(entries, category, rec.Text(), n), nil
}

// Invalidate drops the cached snapshot after the corpus changes.
func (r *Retriever) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx)
}
