package dashboard

import (
	"time"

	"budgetviz/internal/core"
	"budgetviz/internal/drilldown"
	"budgetviz/internal/fetch"
	"budgetviz/internal/pivot"
)

// Snapshot is everything a rendering layer needs to draw the dashboard.
type Snapshot struct {
	Version   uint64               `json:"version"`
	Filters   core.FilterCriteria  `json:"filters"`
	Available core.DatasetMetadata `json:"available"`
	Aggregate Aggregate            `json:"aggregate"`
	Upload    fetch.UploadState    `json:"upload"`
	Detail    drilldown.Snapshot   `json:"detail"`
	Display   Display              `json:"display"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

type Aggregate struct {
	State   fetch.State   `json:"state"`
	Series  pivot.Series  `json:"series"`
	Summary pivot.Summary `json:"summary"`
	Error   string        `json:"error,omitempty"`
}

// Display carries amounts already formatted in the selected currency.
type Display struct {
	Total       string `json:"total"`
	Average     string `json:"average"`
	DetailTotal string `json:"detailTotal"`
}
