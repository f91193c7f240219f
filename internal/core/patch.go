package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FilterPatch is a partial FilterCriteria. A nil field is left unchanged.
type FilterPatch struct {
	TimePeriod        *TimePeriod `json:"timePeriod,omitempty"`
	Currency          *Currency   `json:"currency,omitempty"`
	Categories        *[]string   `json:"categories,omitempty"`
	Years             *[]int      `json:"years,omitempty"`
	UseHigherCategory *bool       `json:"useHigherCategory,omitempty"`
}

// Apply merges p into c. Categories and Years are replaced wholesale.
// UseHigherCategory is always true afterwards, whatever p says.
func (p FilterPatch) Apply(c FilterCriteria) (FilterCriteria, error) {
	next := c.Clone()
	if p.TimePeriod != nil {
		if err := p.TimePeriod.Validate(); err != nil {
			return c, err
		}
		next.TimePeriod = *p.TimePeriod
	}
	if p.Currency != nil {
		if err := p.Currency.Validate(); err != nil {
			return c, err
		}
		next.Currency = *p.Currency
	}
	if p.Categories != nil {
		next.Categories = NormalizeCategories(*p.Categories)
	}
	if p.Years != nil {
		next.Years = NormalizeYears(*p.Years)
	}
	next.UseHigherCategory = true
	return next, nil
}

// UnmarshalJSON decodes a patch from the rendering layer. A categories or
// years key carrying something other than an array becomes an empty set.
func (p *FilterPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = FilterPatch{}

	if v, ok := raw["timePeriod"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("timePeriod: %w", err)
		}
		tp := TimePeriod(strings.ToLower(strings.TrimSpace(s)))
		p.TimePeriod = &tp
	}
	if v, ok := raw["currency"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("currency: %w", err)
		}
		c := Currency(strings.ToUpper(strings.TrimSpace(s)))
		p.Currency = &c
	}
	if v, ok := raw["categories"]; ok {
		cats := []string{}
		if isArray(v) {
			if err := json.Unmarshal(v, &cats); err != nil {
				return fmt.Errorf("categories: %w", err)
			}
		}
		p.Categories = &cats
	}
	if v, ok := raw["years"]; ok {
		years := []int{}
		if isArray(v) {
			if err := json.Unmarshal(v, &years); err != nil {
				return fmt.Errorf("years: %w", err)
			}
		}
		p.Years = &years
	}
	if v, ok := raw["useHigherCategory"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			p.UseHigherCategory = &b
		}
	}
	return nil
}

func isArray(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '['
}

// Patch helpers used by callers building patches in code.

func SetTimePeriod(p TimePeriod) FilterPatch { return FilterPatch{TimePeriod: &p} }

func SetCurrency(c Currency) FilterPatch { return FilterPatch{Currency: &c} }

func SetCategories(c ...string) FilterPatch {
	if c == nil {
		c = []string{}
	}
	return FilterPatch{Categories: &c}
}

func SetYears(y ...int) FilterPatch {
	if y == nil {
		y = []int{}
	}
	return FilterPatch{Years: &y}
}
