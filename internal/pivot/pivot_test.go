package pivot

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/shopspring/decimal"

	"budgetviz/internal/core"
)

func obs(period, category, amount string) core.Observation {
	return core.Observation{TimePeriod: period, Category: category, Amount: decimal.RequireFromString(amount)}
}

func TestPivotEmpty(t *testing.T) {
	s := Pivot(nil)
	if len(s.Rows) != 0 || len(s.Categories) != 0 {
		t.Fatalf("expected empty series, got %+v", s)
	}
	sum := Summarize(nil)
	if !sum.TotalAmount.IsZero() || !sum.AveragePerPeriod.IsZero() || sum.PeriodCount != 0 {
		t.Fatalf("expected zero summary, got %+v", sum)
	}
}

func TestPivotOrdersPeriodsAscending(t *testing.T) {
	cases := []struct {
		name string
		in   []core.Observation
	}{
		{"sorted", []core.Observation{obs("2024-01", "Food", "1"), obs("2024-02", "Food", "2"), obs("2024-03", "Food", "3")}},
		{"reversed", []core.Observation{obs("2024-03", "Food", "3"), obs("2024-02", "Food", "2"), obs("2024-01", "Food", "1")}},
		{"shuffled", []core.Observation{obs("2024-02", "Food", "2"), obs("2024-03", "Food", "3"), obs("2024-01", "Food", "1")}},
	}
	want := []string{"2024-01", "2024-02", "2024-03"}
	for _, tc := range cases {
		got := Pivot(tc.in).Periods()
		if !slices.Equal(got, want) {
			t.Fatalf("%s: periods = %v, want %v", tc.name, got, want)
		}
	}
}

func TestPivotWeekLabelsSortLexically(t *testing.T) {
	s := Pivot([]core.Observation{obs("2024-W10", "Food", "1"), obs("2024-W02", "Food", "1"), obs("2023-W52", "Food", "1")})
	want := []string{"2023-W52", "2024-W02", "2024-W10"}
	if got := s.Periods(); !slices.Equal(got, want) {
		t.Fatalf("periods = %v, want %v", got, want)
	}
}

func TestPivotLastWriteWins(t *testing.T) {
	s := Pivot([]core.Observation{obs("2024-01", "Food", "10"), obs("2024-01", "Food", "25.50")})
	if len(s.Rows) != 1 {
		t.Fatalf("expected one row, got %d", len(s.Rows))
	}
	if got := s.Rows[0].Amount("Food"); !got.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("Food = %s, want 25.50", got)
	}
}

func TestPivotLegendFirstSeenAndSparseRows(t *testing.T) {
	s := Pivot([]core.Observation{
		obs("2024-02", "Rent", "900"),
		obs("2024-01", "Food", "120"),
		obs("2024-02", "Food", "80"),
		obs("2024-01", "Travel", "300"),
	})
	if want := []string{"Rent", "Food", "Travel"}; !slices.Equal(s.Categories, want) {
		t.Fatalf("legend = %v, want %v", s.Categories, want)
	}
	jan := s.Rows[0]
	if _, ok := jan.Values["Rent"]; ok {
		t.Fatalf("absent category materialized in %v", jan.Values)
	}
	if !jan.Amount("Rent").IsZero() {
		t.Fatalf("missing cell should read as zero")
	}
}

func TestPivotTotalMatchesSummary(t *testing.T) {
	in := []core.Observation{
		obs("2024-01", "Food", "120.25"),
		obs("2024-01", "Rent", "900"),
		obs("2024-02", "Food", "80.75"),
		obs("2024-03", "Travel", "300"),
	}
	s := Pivot(in)
	sum := Summarize(in)
	if !s.Total().Equal(sum.TotalAmount) {
		t.Fatalf("pivot total %s != summary total %s", s.Total(), sum.TotalAmount)
	}
	if !sum.TotalAmount.Equal(decimal.RequireFromString("1401")) {
		t.Fatalf("total = %s", sum.TotalAmount)
	}
}

func TestSummarizeDividesByObservationCount(t *testing.T) {
	// two periods, three observations
	in := []core.Observation{
		obs("2024-01", "Food", "100"),
		obs("2024-01", "Rent", "200"),
		obs("2024-02", "Food", "300"),
	}
	sum := Summarize(in)
	if sum.PeriodCount != 3 {
		t.Fatalf("PeriodCount = %d, want 3", sum.PeriodCount)
	}
	if !sum.AveragePerPeriod.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("AveragePerPeriod = %s, want 200", sum.AveragePerPeriod)
	}
}

func TestRowJSONKeepsEveryCategory(t *testing.T) {
	r := Row{TimePeriod: "2024-01", Values: map[string]decimal.Decimal{
		"Food":       decimal.RequireFromString("12.5"),
		"timePeriod": decimal.NewFromInt(7),
	}}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `{"timePeriod":"2024-01","values":{"Food":"12.5","timePeriod":"7"}}`; got != want {
		t.Fatalf("json = %s, want %s", got, want)
	}

	var back Row
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.TimePeriod != "2024-01" || !back.Amount("timePeriod").Equal(decimal.NewFromInt(7)) {
		t.Fatalf("round trip lost data: %+v", back)
	}
}
