// Package filters holds the current filter criteria of a dashboard.
package filters

import (
	"log/slog"
	"sync"

	"budgetviz/internal/core"
	applog "budgetviz/internal/log"
)

// Invalidator drops whatever drill-down selection is showing. The filter
// store calls it after every successful update.
type Invalidator interface {
	Clear()
}

// Store owns one FilterCriteria. Readers get copies; every write goes
// through Update and replaces the whole value.
type Store struct {
	mu       sync.RWMutex
	criteria core.FilterCriteria
	inv      Invalidator
	onChange []func(core.FilterCriteria)
	logger   *slog.Logger
}

// New validates initial and falls back to core.DefaultCriteria when it is
// not usable.
func New(initial core.FilterCriteria, inv Invalidator, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initial.Validate(); err != nil {
		logger.Warn("Invalid initial filter criteria, using defaults", applog.FieldError, err)
		initial = core.DefaultCriteria()
	}
	initial.Categories = core.NormalizeCategories(initial.Categories)
	initial.Years = core.NormalizeYears(initial.Years)
	initial.UseHigherCategory = true

	return &Store{
		criteria: initial,
		inv:      inv,
		logger:   logger.With(applog.FieldComponent, applog.ComponentFilters),
	}
}

func (s *Store) Snapshot() core.FilterCriteria {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.criteria.Clone()
}

// OnChange registers fn to receive the criteria after each successful update.
func (s *Store) OnChange(fn func(core.FilterCriteria)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// SetInvalidator wires the drill-down after construction, for callers that
// build the two in the other order.
func (s *Store) SetInvalidator(inv Invalidator) {
	s.mu.Lock()
	s.inv = inv
	s.mu.Unlock()
}

// Update merges patch into the current criteria. On an invalid enum the
// state is left as it was and the selection stays.
func (s *Store) Update(patch core.FilterPatch) (core.FilterCriteria, error) {
	s.mu.Lock()
	next, err := patch.Apply(s.criteria)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("Rejected filter update", applog.FieldOperation, applog.OpUpdate, applog.FieldError, err)
		return s.Snapshot(), err
	}
	s.criteria = next
	inv := s.inv
	listeners := append([]func(core.FilterCriteria){}, s.onChange...)
	s.mu.Unlock()

	s.logger.Debug("Filters updated",
		applog.FieldTimePeriod, next.TimePeriod,
		applog.FieldCurrency, next.Currency,
		applog.FieldCategories, next.Categories,
		applog.FieldYears, next.Years)

	if inv != nil {
		inv.Clear()
	}
	for _, fn := range listeners {
		fn(next.Clone())
	}
	return next.Clone(), nil
}
