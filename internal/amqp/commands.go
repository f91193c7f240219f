package amqp

import (
	"context"
	"errors"
	"fmt"

	"budgetviz/internal/core"
	"budgetviz/internal/drilldown"
)

// Dashboard is the part of a dashboard session commands act on.
type Dashboard interface {
	UpdateFilters(ctx context.Context, patch core.FilterPatch) (core.FilterCriteria, error)
	Select(ctx context.Context, category, timePeriod string) (drilldown.Snapshot, error)
	ClearSelection() drilldown.Snapshot
	Refresh() error
}

// NewCommandHandler routes commands to d.
func NewCommandHandler(d Dashboard) func(context.Context, *Command) error {
	return func(ctx context.Context, cmd *Command) error {
		switch cmd.Type {
		case CommandUpdateFilters:
			_, err := d.UpdateFilters(ctx, *cmd.Patch)
			return err
		case CommandSelect:
			_, err := d.Select(ctx, cmd.Category, cmd.TimePeriod)
			if errors.Is(err, core.ErrStaleResponse) {
				return nil
			}
			return err
		case CommandClear:
			d.ClearSelection()
			return nil
		case CommandRefresh:
			return d.Refresh()
		default:
			return fmt.Errorf("%w: unknown type %q", ErrMalformedCommand, cmd.Type)
		}
	}
}

// IsPermanent reports whether retrying the same command cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedCommand) ||
		errors.Is(err, core.ErrInvalidTimePeriod) ||
		errors.Is(err, core.ErrInvalidCurrency) ||
		errors.Is(err, core.ErrNoDataset)
}
