// Package cached decorates an upstream service with LRU+TTL caches for
// the read endpoints.
package cached

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"budgetviz/internal/cache"
	"budgetviz/internal/core"
	applog "budgetviz/internal/log"
	"budgetviz/internal/upstream"
)

type Service struct {
	next         upstream.Service
	expenses     *cache.LRUCache[[]core.Observation]
	details      *cache.LRUCache[[]core.DetailRow]
	generation   atomic.Uint64
	hits, misses atomic.Int64
	logger       *slog.Logger
}

var _ upstream.Service = (*Service)(nil)

// New wraps next. Both caches are registered with m for expiry sweeps when
// m is not nil.
func New(next upstream.Service, size int, ttl time.Duration, m *cache.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		next:     next,
		expenses: cache.NewLRUCache[[]core.Observation](size, ttl),
		details:  cache.NewLRUCache[[]core.DetailRow](size, ttl),
		logger:   logger.With(applog.FieldComponent, applog.ComponentCache),
	}
	if m != nil {
		m.Register(s.expenses)
		m.Register(s.details)
	}
	return s
}

// Upload always goes upstream. A successful upload replaces the dataset,
// so every cached answer is dropped.
func (s *Service) Upload(ctx context.Context, req upstream.UploadRequest) (upstream.UploadResult, error) {
	res, err := s.next.Upload(ctx, req)
	if err != nil {
		return res, err
	}
	s.Purge()
	return res, nil
}

func (s *Service) QueryExpenses(ctx context.Context, q core.Query) ([]core.Observation, error) {
	key := q.Key()
	if v, ok := s.expenses.Get(key); ok {
		s.hits.Add(1)
		return append([]core.Observation{}, v...), nil
	}
	s.misses.Add(1)

	gen := s.generation.Load()
	v, err := s.next.QueryExpenses(ctx, q)
	if err != nil {
		return nil, err
	}
	// an upload landed meanwhile; the answer belongs to the old dataset
	if s.generation.Load() == gen {
		s.expenses.Set(key, append([]core.Observation{}, v...))
	}
	return v, nil
}

func (s *Service) QueryDetails(ctx context.Context, q core.DetailQuery) ([]core.DetailRow, error) {
	key := q.Key()
	if v, ok := s.details.Get(key); ok {
		s.hits.Add(1)
		return append([]core.DetailRow{}, v...), nil
	}
	s.misses.Add(1)

	gen := s.generation.Load()
	v, err := s.next.QueryDetails(ctx, q)
	if err != nil {
		return nil, err
	}
	if s.generation.Load() == gen {
		s.details.Set(key, append([]core.DetailRow{}, v...))
	}
	return v, nil
}

func (s *Service) Purge() {
	s.generation.Add(1)
	s.expenses.Purge()
	s.details.Purge()
	s.logger.Debug("Response caches purged")
}

// Stats reports cache hits, misses and current entry count.
func (s *Service) Stats() (hits, misses int64, size int) {
	return s.hits.Load(), s.misses.Load(), s.expenses.Size() + s.details.Size()
}
