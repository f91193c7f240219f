// Package worker runs background jobs against a dashboard session.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"budgetviz/internal/dashboard"
	"budgetviz/internal/fetch"
	applog "budgetviz/internal/log"
	"budgetviz/internal/sheets"
)

// Source provides the snapshot to export.
type Source interface {
	Snapshot() dashboard.Snapshot
}

// ExportWorker writes the current aggregate to a sheets.Exporter, on demand
// or on a schedule.
type ExportWorker struct {
	src    Source
	exp    sheets.Exporter
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	lastVersion uint64
	lastRef     string
}

func NewExportWorker(src Source, exp sheets.Exporter, logger *slog.Logger) *ExportWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportWorker{
		src:    src,
		exp:    exp,
		logger: logger.With(applog.FieldComponent, applog.ComponentWorker),
		now:    time.Now,
	}
}

// Export writes the current aggregate and returns the written range.
func (w *ExportWorker) Export(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exportLocked(ctx, w.src.Snapshot())
}

func (w *ExportWorker) exportLocked(ctx context.Context, snap dashboard.Snapshot) (string, error) {
	if !snap.Available.IsLoaded() || snap.Aggregate.State != fetch.Ready {
		return "", sheets.ErrNothingToExport
	}
	ref, err := w.exp.Export(ctx, sheets.Report{
		Filters:     snap.Filters,
		Series:      snap.Aggregate.Series,
		Summary:     snap.Aggregate.Summary,
		GeneratedAt: w.now(),
	})
	if err != nil {
		return "", err
	}
	w.lastVersion = snap.Version
	w.lastRef = ref
	return ref, nil
}

// ExportIfChanged exports only when the session has moved on since the last
// successful export. The boolean reports whether an export happened.
func (w *ExportWorker) ExportIfChanged(ctx context.Context) (string, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := w.src.Snapshot()
	if w.lastRef != "" && snap.Version == w.lastVersion {
		return w.lastRef, false, nil
	}
	ref, err := w.exportLocked(ctx, snap)
	if err != nil {
		return "", false, err
	}
	return ref, true, nil
}

// Run exports on every tick of interval until ctx is done.
func (w *ExportWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ref, exported, err := w.ExportIfChanged(ctx)
			switch {
			case errors.Is(err, sheets.ErrNothingToExport):
				w.logger.DebugContext(ctx, "Scheduled export skipped, no data loaded")
			case err != nil:
				w.logger.ErrorContext(ctx, "Scheduled export failed", applog.FieldOperation, applog.OpExport, applog.FieldError, err)
			case exported:
				w.logger.InfoContext(ctx, "Scheduled export written", applog.FieldOperation, applog.OpExport, applog.FieldSheetsRef, ref)
			}
		}
	}
}
