// Package upstream defines the ports to the data service that parses
// uploads and answers aggregate and detail queries.
package upstream

import (
	"context"

	"budgetviz/internal/core"
)

type (
	// UploadRequest is one transaction export sent for parsing.
	UploadRequest struct {
		Filename          string
		Content           []byte
		TimePeriod        core.TimePeriod
		UseHigherCategory bool
	}

	// UploadResult is what upstream discovered in the file.
	UploadResult struct {
		Message    string   `json:"message"`
		Categories []string `json:"categories"`
		Years      []int    `json:"years"`
	}
)

// Metadata converts the result to the dataset description kept by the
// fetch coordinator.
func (r UploadResult) Metadata() core.DatasetMetadata {
	return core.DatasetMetadata{
		Categories: core.NormalizeCategories(r.Categories),
		Years:      core.NormalizeYears(r.Years),
	}
}

// Ports for outbound adapters.
type (
	Uploader interface {
		Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
	}

	ExpenseQuerier interface {
		QueryExpenses(ctx context.Context, q core.Query) ([]core.Observation, error)
	}

	DetailQuerier interface {
		// QueryDetails returns the transactions behind one chart segment,
		// largest amount first.
		QueryDetails(ctx context.Context, q core.DetailQuery) ([]core.DetailRow, error)
	}

	Service interface {
		Uploader
		ExpenseQuerier
		DetailQuerier
	}
)
