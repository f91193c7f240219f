package sheets

import (
	"context"
	"errors"
)

// ErrNothingToExport means no aggregate has been loaded yet.
var ErrNothingToExport = errors.New("nothing to export yet")

// Ports for outbound adapters.
type (
	// Exporter writes a dashboard report somewhere a human can open it and
	// returns a reference to what was written.
	Exporter interface {
		Export(ctx context.Context, r Report) (ref string, err error)
	}
)
