// Package dashboard ties the filter store and both coordinators into one
// session and emits a snapshot after every state change.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetviz/internal/core"
	"budgetviz/internal/drilldown"
	"budgetviz/internal/fetch"
	"budgetviz/internal/filters"
	applog "budgetviz/internal/log"
	"budgetviz/internal/upstream"
)

// notifyBacklog is how many snapshots may wait for slow notifiers before the
// oldest queued one is dropped.
const notifyBacklog = 32

// Notifier receives snapshots in order. Delivery runs on its own goroutine,
// so a slow notifier delays later snapshots but never the session. When it
// falls behind, intermediate snapshots are skipped; the latest always arrives.
type Notifier interface {
	Notify(ctx context.Context, s Snapshot) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, s Snapshot) error

func (f NotifierFunc) Notify(ctx context.Context, s Snapshot) error { return f(ctx, s) }

type Options struct {
	Initial              core.FilterCriteria
	Defaults             core.UploadDefaults
	DrilldownConcurrency int
	RefetchTimeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		Initial:              core.DefaultCriteria(),
		Defaults:             core.DefaultUploadDefaults(),
		DrilldownConcurrency: drilldown.DefaultConcurrency,
		RefetchTimeout:       30 * time.Second,
	}
}

type Session struct {
	filters *filters.Store
	fetch   *fetch.Coordinator
	drill   *drilldown.Coordinator
	opts    Options
	logger  *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	// lifeMu orders scheduleRefetch against Close.
	lifeMu sync.Mutex
	closed bool
	group  errgroup.Group

	// notifyMu serializes versioning and queueing of snapshots.
	notifyMu   sync.Mutex
	events     chan Snapshot
	eventsDone bool
	dispatched chan struct{}
	version    atomic.Uint64

	subsMu    sync.RWMutex
	notifiers []Notifier
}

func New(svc upstream.Service, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RefetchTimeout <= 0 {
		opts.RefetchTimeout = DefaultOptions().RefetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:       opts,
		logger:     logger.With(applog.FieldComponent, applog.ComponentDashboard),
		baseCtx:    ctx,
		cancel:     cancel,
		events:     make(chan Snapshot, notifyBacklog),
		dispatched: make(chan struct{}),
	}
	go s.dispatch()

	s.drill = drilldown.New(svc, s.scope, opts.DrilldownConcurrency, logger)
	s.filters = filters.New(opts.Initial, s.drill, logger)
	s.fetch = fetch.New(svc, s.filters, opts.Defaults, logger)

	s.fetch.OnChange(s.publish)
	s.drill.OnChange(s.publish)
	s.filters.OnChange(func(core.FilterCriteria) { s.publish() })
	return s
}

// scope resolves a drill-down against what is on screen now.
func (s *Session) scope() drilldown.Scope {
	f := s.filters.Snapshot()
	years := f.Years
	if len(years) == 0 {
		years = s.fetch.Metadata().Years
	}
	return drilldown.Scope{
		Currency:          f.Currency,
		UseHigherCategory: f.UseHigherCategory,
		Periods:           s.fetch.ActivePeriods(),
		Years:             years,
	}
}

// Subscribe registers n for every future snapshot.
func (s *Session) Subscribe(n Notifier) {
	s.subsMu.Lock()
	s.notifiers = append(s.notifiers, n)
	s.subsMu.Unlock()
}

// UpdateFilters applies patch. When the criteria actually changed and a
// dataset is loaded, a refetch runs in the background.
func (s *Session) UpdateFilters(ctx context.Context, patch core.FilterPatch) (core.FilterCriteria, error) {
	before := s.filters.Snapshot()
	next, err := s.filters.Update(patch)
	if err != nil {
		return next, err
	}
	if !before.Equal(next) && s.fetch.Metadata().IsLoaded() {
		s.scheduleRefetch()
	}
	return next, nil
}

// Upload sends a new dataset and refetches with the resulting defaults.
func (s *Session) Upload(ctx context.Context, req upstream.UploadRequest) (core.DatasetMetadata, error) {
	meta, err := s.fetch.Upload(ctx, req)
	if err != nil {
		return meta, err
	}
	s.scheduleRefetch()
	return meta, nil
}

func (s *Session) Select(ctx context.Context, category, timePeriod string) (drilldown.Snapshot, error) {
	_, err := s.drill.Select(ctx, category, timePeriod)
	return s.drill.Snapshot(), err
}

func (s *Session) ClearSelection() drilldown.Snapshot {
	s.drill.Clear()
	return s.drill.Snapshot()
}

// Refresh schedules a refetch with the current filters.
func (s *Session) Refresh() error {
	if !s.fetch.Metadata().IsLoaded() {
		return core.ErrNoDataset
	}
	s.scheduleRefetch()
	return nil
}

// Restore reinstates a persisted session: metadata first, then criteria.
func (s *Session) Restore(criteria core.FilterCriteria, meta core.DatasetMetadata) error {
	if err := criteria.Validate(); err != nil {
		return err
	}
	s.fetch.Restore(meta)
	cats := append([]string{}, criteria.Categories...)
	years := append([]int{}, criteria.Years...)
	tp, cur := criteria.TimePeriod, criteria.Currency
	if _, err := s.filters.Update(core.FilterPatch{TimePeriod: &tp, Currency: &cur, Categories: &cats, Years: &years}); err != nil {
		return err
	}
	if meta.IsLoaded() {
		s.scheduleRefetch()
	}
	return nil
}

// Wait blocks until every background refetch has finished.
func (s *Session) Wait() error {
	return s.group.Wait()
}

// Close stops accepting background work, waits for what is running, then
// delivers the snapshots still queued. Later state changes are not published.
func (s *Session) Close() error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	s.lifeMu.Unlock()

	s.cancel()
	err := s.group.Wait()

	s.notifyMu.Lock()
	s.eventsDone = true
	close(s.events)
	s.notifyMu.Unlock()
	<-s.dispatched
	return err
}

func (s *Session) scheduleRefetch() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return
	}
	s.group.Go(func() error {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.RefetchTimeout)
		defer cancel()
		if _, err := s.fetch.Refetch(ctx); err != nil && !errors.Is(err, core.ErrStaleResponse) {
			s.logger.Warn("Background refetch failed", applog.FieldOperation, applog.OpRefetch, applog.FieldError, err)
		}
		return nil
	})
}

func (s *Session) Snapshot() Snapshot {
	f := s.filters.Snapshot()
	a := s.fetch.Snapshot()
	d := s.drill.Snapshot()
	return Snapshot{
		Version:   s.version.Load(),
		Filters:   f,
		Available: a.Metadata,
		Aggregate: Aggregate{
			State:   a.State,
			Series:  a.Series,
			Summary: a.Summary,
			Error:   a.Error,
		},
		Upload: a.Upload,
		Detail: d,
		Display: Display{
			Total:       core.FormatAmount(f.Currency, a.Summary.TotalAmount),
			Average:     core.FormatAmount(f.Currency, a.Summary.AveragePerPeriod),
			DetailTotal: core.FormatAmount(f.Currency, d.Total),
		},
		UpdatedAt: time.Now().UTC(),
	}
}

// publish versions the current state and queues it for the notifiers. It
// never waits for them.
func (s *Session) publish() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.eventsDone {
		return
	}

	s.version.Add(1)
	snap := s.Snapshot()
	select {
	case s.events <- snap:
		return
	default:
	}
	// only publish sends, so after taking one out there is room
	select {
	case old := <-s.events:
		s.logger.Debug("Notifiers behind, skipping snapshot", "version", old.Version)
	default:
	}
	s.events <- snap
}

func (s *Session) dispatch() {
	defer close(s.dispatched)
	// queued snapshots are still delivered while Close drains
	ctx := context.WithoutCancel(s.baseCtx)
	for snap := range s.events {
		s.subsMu.RLock()
		subs := slices.Clone(s.notifiers)
		s.subsMu.RUnlock()
		for _, n := range subs {
			if err := n.Notify(ctx, snap); err != nil {
				s.logger.Warn("Snapshot notifier failed", applog.FieldError, err)
			}
		}
	}
}
