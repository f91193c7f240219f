package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Week  TimePeriod = "week"
	Month TimePeriod = "month"
	Year  TimePeriod = "year"
)

const (
	GBP Currency = "GBP"
	USD Currency = "USD"
	EUR Currency = "EUR"
	RMB Currency = "RMB"
)

type (
	// TimePeriod is the bucketing granularity of the aggregate query.
	TimePeriod string

	// Currency is the display currency requested from upstream.
	Currency string

	// FilterCriteria is the active query. Categories and Years are sets:
	// first-seen order, no duplicates. Empty means "no explicit filter".
	FilterCriteria struct {
		TimePeriod        TimePeriod `json:"timePeriod"`
		Currency          Currency   `json:"currency"`
		Categories        []string   `json:"categories"`
		Years             []int      `json:"years"`
		UseHigherCategory bool       `json:"useHigherCategory"`
	}

	// Observation is one (period, category, amount) point of the aggregate query.
	Observation struct {
		TimePeriod string          `json:"timePeriod"`
		Category   string          `json:"category"`
		Amount     decimal.Decimal `json:"amount"`
	}

	// DetailRow is a single transaction behind a chart segment.
	DetailRow struct {
		Date        string          `json:"date"`
		Description string          `json:"description"`
		Amount      decimal.Decimal `json:"amount"`
		Category    string          `json:"category"`
		Currency    string          `json:"currency,omitempty"`
	}

	// DatasetMetadata is what an upload discovered.
	DatasetMetadata struct {
		Categories []string `json:"categories"`
		Years      []int    `json:"years"`
	}

	// Query is the resolved aggregate request sent upstream.
	Query struct {
		TimePeriod        TimePeriod
		Currency          Currency
		Categories        []string
		Years             []int
		UseHigherCategory bool
	}

	// DetailQuery is the drill-down request for one (category, period).
	DetailQuery struct {
		Category          string
		TimePeriod        string
		Currency          Currency
		UseHigherCategory bool
	}
)

var (
	ErrInvalidTimePeriod = errors.New("invalid time period")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrNoDataset         = errors.New("no dataset uploaded")
	ErrStaleResponse     = errors.New("response superseded by a newer request")
	ErrNegativeAmount    = errors.New("negative amount")

	ErrUploadFailed      = errors.New("upload failed")
	ErrFetchFailed       = errors.New("expense fetch failed")
	ErrDetailFetchFailed = errors.New("expense detail fetch failed")
)

// Validate rejects amounts below zero. Aggregates are sums of expenses, so a
// negative one means upstream sent something else.
func (o Observation) Validate() error {
	if o.Amount.IsNegative() {
		return fmt.Errorf("%w: %s for %s in %s", ErrNegativeAmount, o.Amount, o.Category, o.TimePeriod)
	}
	return nil
}

// DefaultCriteria is the state before anything was uploaded.
func DefaultCriteria() FilterCriteria {
	return FilterCriteria{
		TimePeriod:        Month,
		Currency:          GBP,
		Categories:        []string{},
		Years:             []int{},
		UseHigherCategory: true,
	}
}

func (p TimePeriod) Validate() error {
	switch p {
	case Week, Month, Year:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTimePeriod, string(p))
	}
}

func (c Currency) Validate() error {
	switch c {
	case GBP, USD, EUR, RMB:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, string(c))
	}
}

// ParseTimePeriod accepts the lower-case wire names.
func ParseTimePeriod(s string) (TimePeriod, error) {
	p := TimePeriod(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Validate()
}

// ParseCurrency accepts ISO-ish codes in any case.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Validate()
}

func (c FilterCriteria) Validate() error {
	if err := c.TimePeriod.Validate(); err != nil {
		return err
	}
	return c.Currency.Validate()
}

// Clone returns a copy that shares no slices with c.
func (c FilterCriteria) Clone() FilterCriteria {
	c.Categories = cloneStrings(c.Categories)
	c.Years = cloneInts(c.Years)
	return c
}

// Equal compares criteria treating Categories and Years as sets.
func (c FilterCriteria) Equal(o FilterCriteria) bool {
	return c.TimePeriod == o.TimePeriod &&
		c.Currency == o.Currency &&
		c.UseHigherCategory == o.UseHigherCategory &&
		sameSet(c.Categories, o.Categories) &&
		sameSet(c.Years, o.Years)
}

// IsLoaded reports whether an upload produced something to query.
func (m DatasetMetadata) IsLoaded() bool {
	return len(m.Years) > 0
}

func (m DatasetMetadata) Clone() DatasetMetadata {
	return DatasetMetadata{
		Categories: cloneStrings(m.Categories),
		Years:      cloneInts(m.Years),
	}
}

// QueryFor resolves criteria against the dataset: an empty filter field
// falls back to every value the dataset offers.
func QueryFor(c FilterCriteria, m DatasetMetadata) Query {
	q := Query{
		TimePeriod:        c.TimePeriod,
		Currency:          c.Currency,
		Categories:        cloneStrings(c.Categories),
		Years:             cloneInts(c.Years),
		UseHigherCategory: c.UseHigherCategory,
	}
	if len(q.Categories) == 0 {
		q.Categories = cloneStrings(m.Categories)
	}
	if len(q.Years) == 0 {
		q.Years = cloneInts(m.Years)
	}
	return q
}

// Key is a canonical representation used for caching.
func (q Query) Key() string {
	cats := cloneStrings(q.Categories)
	slices.Sort(cats)
	years := cloneInts(q.Years)
	slices.Sort(years)
	return fmt.Sprintf("q|%s|%s|%t|%s|%v", q.TimePeriod, q.Currency, q.UseHigherCategory, strings.Join(cats, "\x1f"), years)
}

func (q DetailQuery) Key() string {
	return fmt.Sprintf("d|%s|%s|%s|%t", q.Category, q.TimePeriod, q.Currency, q.UseHigherCategory)
}

// NormalizeCategories trims, drops blanks and duplicates, keeps first-seen order.
func NormalizeCategories(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NormalizeYears drops duplicates, keeps first-seen order.
func NormalizeYears(in []int) []int {
	seen := map[int]struct{}{}
	out := make([]int, 0, len(in))
	for _, y := range in {
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	return out
}

func sameSet[T comparable](a, b []T) bool {
	am := make(map[T]struct{}, len(a))
	for _, v := range a {
		am[v] = struct{}{}
	}
	bm := make(map[T]struct{}, len(b))
	for _, v := range b {
		if _, ok := am[v]; !ok {
			return false
		}
		bm[v] = struct{}{}
	}
	return len(am) == len(bm)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return append([]string{}, in...)
}

func cloneInts(in []int) []int {
	if in == nil {
		return []int{}
	}
	return append([]int{}, in...)
}
