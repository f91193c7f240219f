// Package pivot reshapes flat aggregate observations into the table a
// stacked bar chart consumes, and derives the summary cards from them.
package pivot

import (
	"slices"

	"github.com/shopspring/decimal"

	"budgetviz/internal/core"
)

// Row is one time period with an amount per category present in it.
// Categories absent from the period are not materialized. Cells sit under
// their own key so any category name, "timePeriod" included, survives
// encoding.
type Row struct {
	TimePeriod string                     `json:"timePeriod"`
	Values     map[string]decimal.Decimal `json:"values"`
}

// Series is the pivoted table. Categories is the legend/stacking order:
// distinct categories in the order they were first seen.
type Series struct {
	Rows       []Row    `json:"rows"`
	Categories []string `json:"categories"`
}

// Summary holds the scalars shown on the summary cards.
type Summary struct {
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	AveragePerPeriod decimal.Decimal `json:"averagePerPeriod"`
	PeriodCount      int             `json:"periodCount"`
}

// Pivot groups observations by period. Rows come out sorted ascending by
// period label. A repeated (period, category) pair keeps the last amount.
func Pivot(obs []core.Observation) Series {
	s := Series{Rows: []Row{}, Categories: []string{}}
	if len(obs) == 0 {
		return s
	}

	byPeriod := make(map[string]map[string]decimal.Decimal)
	seenCat := make(map[string]struct{})
	for _, o := range obs {
		cells, ok := byPeriod[o.TimePeriod]
		if !ok {
			cells = make(map[string]decimal.Decimal)
			byPeriod[o.TimePeriod] = cells
		}
		cells[o.Category] = o.Amount

		if _, ok := seenCat[o.Category]; !ok {
			seenCat[o.Category] = struct{}{}
			s.Categories = append(s.Categories, o.Category)
		}
	}

	periods := make([]string, 0, len(byPeriod))
	for p := range byPeriod {
		periods = append(periods, p)
	}
	slices.Sort(periods)

	s.Rows = make([]Row, 0, len(periods))
	for _, p := range periods {
		s.Rows = append(s.Rows, Row{TimePeriod: p, Values: byPeriod[p]})
	}
	return s
}

// Summarize totals the observations. The average divides by the number of
// observations, not by the number of distinct periods; with several
// categories per period that is smaller than a true per-period average.
func Summarize(obs []core.Observation) Summary {
	total := decimal.Zero
	for _, o := range obs {
		total = total.Add(o.Amount)
	}
	avg := decimal.Zero
	if len(obs) > 0 {
		avg = total.Div(decimal.NewFromInt(int64(len(obs))))
	}
	return Summary{
		TotalAmount:      total,
		AveragePerPeriod: avg,
		PeriodCount:      len(obs),
	}
}

// Periods lists the row labels in order.
func (s Series) Periods() []string {
	out := make([]string, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.TimePeriod
	}
	return out
}

// Total sums every cell of the table.
func (s Series) Total() decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.Rows {
		total = total.Add(r.Total())
	}
	return total
}

// Total sums the categories of one period; missing categories count as zero.
func (r Row) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r.Values {
		total = total.Add(v)
	}
	return total
}

// Amount returns the cell for category, zero when absent.
func (r Row) Amount(category string) decimal.Decimal {
	if v, ok := r.Values[category]; ok {
		return v
	}
	return decimal.Zero
}

// Clone returns a row that shares no map with r.
func (r Row) Clone() Row {
	out := Row{TimePeriod: r.TimePeriod, Values: make(map[string]decimal.Decimal, len(r.Values))}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}
