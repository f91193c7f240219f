// Package sheets turns the dashboard aggregate into a spreadsheet-shaped
// report and defines the port its exporters implement.
package sheets

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetviz/internal/core"
	"budgetviz/internal/pivot"
)

type Report struct {
	Filters     core.FilterCriteria
	Series      pivot.Series
	Summary     pivot.Summary
	GeneratedAt time.Time
}

// Values lays the report out as rows: the pivot table with a header of
// Period, one column per legend category, Total; a blank row; then the
// summary and the filters it was built with.
func (r Report) Values() [][]any {
	header := []any{"Period"}
	for _, c := range r.Series.Categories {
		header = append(header, c)
	}
	header = append(header, "Total")

	rows := [][]any{header}
	for _, row := range r.Series.Rows {
		line := []any{row.TimePeriod}
		for _, c := range r.Series.Categories {
			if v, ok := row.Values[c]; ok {
				line = append(line, amount(v))
			} else {
				line = append(line, "")
			}
		}
		line = append(line, amount(row.Total()))
		rows = append(rows, line)
	}

	years := make([]string, len(r.Filters.Years))
	for i, y := range r.Filters.Years {
		years[i] = strconv.Itoa(y)
	}

	rows = append(rows,
		[]any{},
		[]any{"Total", amount(r.Summary.TotalAmount)},
		[]any{"Average per period", amount(r.Summary.AveragePerPeriod)},
		[]any{"Periods", r.Summary.PeriodCount},
		[]any{"Currency", string(r.Filters.Currency)},
		[]any{"Time period", string(r.Filters.TimePeriod)},
		[]any{"Years", strings.Join(years, ", ")},
		[]any{"Generated", r.GeneratedAt.UTC().Format(time.RFC3339)},
	)
	return rows
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// A1 returns the A1 notation for the top-left cell of sheet.
func A1(sheet string) string {
	return fmt.Sprintf("%s!A1", QuoteSheet(sheet))
}

// QuoteSheet quotes a sheet name for use in a range.
func QuoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}
