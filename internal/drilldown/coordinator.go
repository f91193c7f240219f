// Package drilldown fetches the transactions behind a selected chart
// segment or legend entry.
package drilldown

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"budgetviz/internal/core"
	applog "budgetviz/internal/log"
	"budgetviz/internal/upstream"
)

type State string

const (
	Empty     State = "empty"
	Loading   State = "loading"
	Populated State = "populated"
	Failed    State = "failed"
)

// Snapshot is a copy of the current selection and its rows.
type Snapshot struct {
	State      State            `json:"state"`
	Category   string           `json:"category,omitempty"`
	TimePeriod string           `json:"timePeriod,omitempty"`
	Rows       []core.DetailRow `json:"rows"`
	Total      decimal.Decimal  `json:"total"`
	Error      string           `json:"error,omitempty"`
}

// Scope is what a selection is resolved against: the current filters and
// the periods present in the aggregate on screen.
type Scope struct {
	Currency          core.Currency
	UseHigherCategory bool
	Periods           []string
	Years             []int
}

type ScopeFunc func() Scope

const DefaultConcurrency = 4

type Coordinator struct {
	svc         upstream.DetailQuerier
	scope       ScopeFunc
	concurrency int
	logger      *slog.Logger

	mu       sync.Mutex
	snap     Snapshot
	seq      uint64
	onChange func()
}

func New(svc upstream.DetailQuerier, scope ScopeFunc, concurrency int, logger *slog.Logger) *Coordinator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		svc:         svc,
		scope:       scope,
		concurrency: concurrency,
		logger:      logger.With(applog.FieldComponent, applog.ComponentDrilldown),
		snap:        emptySnapshot(),
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{State: Empty, Rows: []core.DetailRow{}, Total: decimal.Zero}
}

// OnChange sets a callback invoked, outside the lock, after every state change.
func (c *Coordinator) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.snap
	out.Rows = append([]core.DetailRow{}, c.snap.Rows...)
	return out
}

// Clear drops the selection. Requests still in flight will be discarded.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.seq++
	wasEmpty := c.snap.State == Empty
	c.snap = emptySnapshot()
	fn := c.onChange
	c.mu.Unlock()

	if !wasEmpty {
		c.logger.Debug("Selection cleared", applog.FieldOperation, applog.OpClear)
	}
	if fn != nil {
		fn()
	}
}

// Select loads the rows for (category, timePeriod). An empty category
// clears the selection without a request. An empty timePeriod selects the
// category across every active period.
func (c *Coordinator) Select(ctx context.Context, category, timePeriod string) ([]core.DetailRow, error) {
	if category == "" {
		c.Clear()
		return []core.DetailRow{}, nil
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.snap = Snapshot{State: Loading, Category: category, TimePeriod: timePeriod, Rows: []core.DetailRow{}, Total: decimal.Zero}
	fn := c.onChange
	c.mu.Unlock()
	notify(fn)

	scope := Scope{}
	if c.scope != nil {
		scope = c.scope()
	}
	c.logger.DebugContext(ctx, "Fetching details",
		applog.FieldOperation, applog.OpSelect,
		applog.FieldSeq, seq,
		applog.FieldCategory, category,
		applog.FieldTimePeriod, timePeriod)

	var (
		rows []core.DetailRow
		err  error
	)
	if timePeriod == "" {
		rows, err = c.fanOut(ctx, category, scope)
	} else {
		rows, err = c.svc.QueryDetails(ctx, core.DetailQuery{
			Category:          category,
			TimePeriod:        timePeriod,
			Currency:          scope.Currency,
			UseHigherCategory: scope.UseHigherCategory,
		})
	}

	c.mu.Lock()
	if seq != c.seq {
		latest := c.seq
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "Discarding superseded detail response",
			applog.NewFields().WithOperation(applog.OpSelect).WithSeq(seq, latest).ToSlice()...)
		return nil, core.ErrStaleResponse
	}
	if err != nil {
		c.snap = Snapshot{
			State:      Failed,
			Category:   category,
			TimePeriod: timePeriod,
			Rows:       []core.DetailRow{},
			Total:      decimal.Zero,
			Error:      "Error fetching expense details: " + err.Error(),
		}
		fn = c.onChange
		c.mu.Unlock()
		c.logger.ErrorContext(ctx, "Detail fetch failed",
			applog.FieldCategory, category,
			applog.FieldTimePeriod, timePeriod,
			applog.FieldError, err)
		notify(fn)
		return []core.DetailRow{}, fmt.Errorf("%w: %w", core.ErrDetailFetchFailed, err)
	}

	rows = append([]core.DetailRow{}, rows...)
	c.snap = Snapshot{
		State:      Populated,
		Category:   category,
		TimePeriod: timePeriod,
		Rows:       rows,
		Total:      core.SumAmounts(rows),
	}
	fn = c.onChange
	c.mu.Unlock()
	notify(fn)
	return append([]core.DetailRow{}, rows...), nil
}

// fanOut asks upstream for every active period of category, a few at a
// time, and merges the answers largest amount first. Without periods on
// screen it falls back to one request per active year.
func (c *Coordinator) fanOut(ctx context.Context, category string, scope Scope) ([]core.DetailRow, error) {
	periods := append([]string{}, scope.Periods...)
	if len(periods) == 0 {
		for _, y := range scope.Years {
			periods = append(periods, strconv.Itoa(y))
		}
	}
	if len(periods) == 0 {
		return []core.DetailRow{}, nil
	}

	results := make([][]core.DetailRow, len(periods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, p := range periods {
		g.Go(func() error {
			rows, err := c.svc.QueryDetails(gctx, core.DetailQuery{
				Category:          category,
				TimePeriod:        p,
				Currency:          scope.Currency,
				UseHigherCategory: scope.UseHigherCategory,
			})
			if err != nil {
				return fmt.Errorf("period %s: %w", p, err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]core.DetailRow, 0)
	for _, r := range results {
		merged = append(merged, r...)
	}
	slices.SortStableFunc(merged, func(a, b core.DetailRow) int {
		return b.Amount.Cmp(a.Amount)
	})
	return merged, nil
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}
