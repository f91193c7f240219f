// Package fetch keeps the aggregate chart data in sync with the filters:
// it uploads datasets, refetches observations and pivots them.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"budgetviz/internal/core"
	applog "budgetviz/internal/log"
	"budgetviz/internal/pivot"
	"budgetviz/internal/upstream"
)

type State string

const (
	Idle    State = "idle"
	Loading State = "loading"
	Ready   State = "ready"
	Failed  State = "failed"
)

type UploadStatus string

const (
	UploadIdle      UploadStatus = "idle"
	UploadRunning   UploadStatus = "uploading"
	UploadSucceeded UploadStatus = "succeeded"
	UploadFailed    UploadStatus = "failed"
)

type UploadState struct {
	Status  UploadStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Snapshot is a copy of everything the coordinator owns.
type Snapshot struct {
	State        State                `json:"state"`
	Observations []core.Observation   `json:"observations"`
	Series       pivot.Series         `json:"series"`
	Summary      pivot.Summary        `json:"summary"`
	Metadata     core.DatasetMetadata `json:"metadata"`
	Error        string               `json:"error,omitempty"`
	Upload       UploadState          `json:"upload"`
}

// Filters is the part of the filter store the coordinator needs.
type Filters interface {
	Snapshot() core.FilterCriteria
	Update(core.FilterPatch) (core.FilterCriteria, error)
}

type Service interface {
	upstream.Uploader
	upstream.ExpenseQuerier
}

type Coordinator struct {
	svc      Service
	filters  Filters
	defaults core.UploadDefaults
	logger   *slog.Logger

	mu         sync.Mutex
	snap       Snapshot
	refetchSeq uint64
	uploadSeq  uint64
	onChange   func()
}

func New(svc Service, filters Filters, defaults core.UploadDefaults, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		svc:      svc,
		filters:  filters,
		defaults: defaults,
		logger:   logger.With(applog.FieldComponent, applog.ComponentFetch),
		snap:     emptySnapshot(),
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		State:        Idle,
		Observations: []core.Observation{},
		Series:       pivot.Pivot(nil),
		Summary:      pivot.Summarize(nil),
		Metadata:     core.DatasetMetadata{Categories: []string{}, Years: []int{}},
		Upload:       UploadState{Status: UploadIdle},
	}
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
	return c.snap.clone()
}

// Metadata returns the current dataset description.
func (c *Coordinator) Metadata() core.DatasetMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Metadata.Clone()
}

// Restore installs metadata from a previous session without calling upstream.
func (c *Coordinator) Restore(meta core.DatasetMetadata) {
	c.mu.Lock()
	c.snap.Metadata = core.DatasetMetadata{
		Categories: core.NormalizeCategories(meta.Categories),
		Years:      core.NormalizeYears(meta.Years),
	}
	c.refetchSeq++
	fn := c.onChange
	c.mu.Unlock()

	c.logger.Info("Dataset metadata restored",
		applog.FieldOperation, applog.OpRestore,
		applog.FieldCategories, len(meta.Categories),
		applog.FieldYears, meta.Years)
	notify(fn)
}

// Upload sends the file with the current time period. On success the
// dataset metadata is replaced and default filters are written to the
// filter store. On failure metadata and filters keep their values.
func (c *Coordinator) Upload(ctx context.Context, req upstream.UploadRequest) (core.DatasetMetadata, error) {
	req.TimePeriod = c.filters.Snapshot().TimePeriod
	req.UseHigherCategory = true

	c.mu.Lock()
	c.uploadSeq++
	seq := c.uploadSeq
	c.snap.Upload = UploadState{Status: UploadRunning}
	fn := c.onChange
	c.mu.Unlock()
	notify(fn)

	c.logger.InfoContext(ctx, "Uploading dataset",
		applog.FieldOperation, applog.OpUpload,
		applog.FieldFilename, req.Filename,
		applog.FieldTimePeriod, req.TimePeriod,
		applog.FieldSeq, seq)

	res, err := c.svc.Upload(ctx, req)

	c.mu.Lock()
	if seq != c.uploadSeq {
		latest := c.uploadSeq
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "Discarding superseded upload response",
			applog.NewFields().WithOperation(applog.OpUpload).WithSeq(seq, latest).ToSlice()...)
		return core.DatasetMetadata{}, core.ErrStaleResponse
	}
	if err != nil {
		c.snap.Upload = UploadState{Status: UploadFailed, Error: "Error uploading file: " + err.Error()}
		fn = c.onChange
		c.mu.Unlock()
		c.logger.ErrorContext(ctx, "Upload failed", applog.FieldOperation, applog.OpUpload, applog.FieldError, err)
		notify(fn)
		return core.DatasetMetadata{}, fmt.Errorf("%w: %w", core.ErrUploadFailed, err)
	}

	meta := res.Metadata()
	c.snap.Metadata = meta
	c.snap.Upload = UploadState{Status: UploadSucceeded, Message: res.Message}
	// queries against the previous dataset must not land
	c.refetchSeq++
	fn = c.onChange
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Dataset uploaded",
		applog.FieldOperation, applog.OpUpload,
		applog.FieldCategories, meta.Categories,
		applog.FieldYears, meta.Years)

	if _, err := c.filters.Update(c.defaults.Patch(meta)); err != nil {
		// the patch carries only sets, so this cannot fail on enums
		c.logger.WarnContext(ctx, "Applying default filters failed", applog.FieldError, err)
	}
	notify(fn)
	return meta.Clone(), nil
}

// Refetch queries the aggregate for the current filters. Before any dataset
// is loaded it does nothing and returns (nil, nil). Only the latest issued
// refetch may change state; older responses return core.ErrStaleResponse.
func (c *Coordinator) Refetch(ctx context.Context) ([]core.Observation, error) {
	c.mu.Lock()
	if !c.snap.Metadata.IsLoaded() {
		c.mu.Unlock()
		return nil, nil
	}
	c.refetchSeq++
	seq := c.refetchSeq
	meta := c.snap.Metadata.Clone()
	c.snap.State = Loading
	fn := c.onChange
	c.mu.Unlock()
	notify(fn)

	q := core.QueryFor(c.filters.Snapshot(), meta)
	c.logger.DebugContext(ctx, "Refetching expenses",
		applog.FieldOperation, applog.OpRefetch,
		applog.FieldSeq, seq,
		applog.FieldTimePeriod, q.TimePeriod,
		applog.FieldCurrency, q.Currency)

	obs, err := c.svc.QueryExpenses(ctx, q)

	c.mu.Lock()
	if seq != c.refetchSeq {
		latest := c.refetchSeq
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "Discarding superseded refetch response",
			applog.NewFields().WithOperation(applog.OpRefetch).WithSeq(seq, latest).ToSlice()...)
		return nil, core.ErrStaleResponse
	}
	if err != nil {
		next := emptySnapshot()
		next.State = Failed
		next.Metadata = c.snap.Metadata
		next.Upload = c.snap.Upload
		next.Error = "Error fetching expenses: " + err.Error()
		c.snap = next
		fn = c.onChange
		c.mu.Unlock()
		c.logger.ErrorContext(ctx, "Refetch failed", applog.FieldOperation, applog.OpRefetch, applog.FieldError, err)
		notify(fn)
		return nil, fmt.Errorf("%w: %w", core.ErrFetchFailed, err)
	}

	obs = append([]core.Observation{}, obs...)
	c.snap = Snapshot{
		State:        Ready,
		Observations: obs,
		Series:       pivot.Pivot(obs),
		Summary:      pivot.Summarize(obs),
		Metadata:     c.snap.Metadata,
		Upload:       c.snap.Upload,
	}
	fn = c.onChange
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "Refetch done", applog.FieldSeq, seq, applog.FieldRows, len(obs))
	notify(fn)
	return append([]core.Observation{}, obs...), nil
}

// ActivePeriods lists the period labels of the current aggregate, ascending.
func (c *Coordinator) ActivePeriods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Series.Periods()
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Observations = append([]core.Observation{}, s.Observations...)
	out.Metadata = s.Metadata.Clone()
	out.Series = pivot.Series{
		Rows:       make([]pivot.Row, len(s.Series.Rows)),
		Categories: append([]string{}, s.Series.Categories...),
	}
	for i, r := range s.Series.Rows {
		out.Series.Rows[i] = r.Clone()
	}
	return out
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}
