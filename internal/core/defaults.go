package core

import "slices"

// UploadDefaults decides the filters applied right after an upload.
type UploadDefaults struct {
	RecentYears      []int
	ExcludedCategory string
}

func DefaultUploadDefaults() UploadDefaults {
	return UploadDefaults{
		RecentYears:      []int{2024, 2025},
		ExcludedCategory: "Investment",
	}
}

// Patch selects the recent years present in the dataset (or every year when
// none of them are) and every category except the excluded one.
func (d UploadDefaults) Patch(m DatasetMetadata) FilterPatch {
	years := make([]int, 0, len(m.Years))
	for _, y := range m.Years {
		if slices.Contains(d.RecentYears, y) {
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		years = cloneInts(m.Years)
	}

	cats := make([]string, 0, len(m.Categories))
	for _, c := range m.Categories {
		if c != d.ExcludedCategory {
			cats = append(cats, c)
		}
	}
	return FilterPatch{Categories: &cats, Years: &years}
}
