package cached

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetviz/internal/core"
	"budgetviz/internal/upstream"
)

type fakeUpstream struct {
	expenseCalls, detailCalls int
	uploadErr                 error
}

func (f *fakeUpstream) Upload(ctx context.Context, req upstream.UploadRequest) (upstream.UploadResult, error) {
	if f.uploadErr != nil {
		return upstream.UploadResult{}, f.uploadErr
	}
	return upstream.UploadResult{Categories: []string{"Food"}, Years: []int{2024}}, nil
}

func (f *fakeUpstream) QueryExpenses(ctx context.Context, q core.Query) ([]core.Observation, error) {
	f.expenseCalls++
	return []core.Observation{{TimePeriod: "2024-01", Category: "Food", Amount: decimal.NewFromInt(10)}}, nil
}

func (f *fakeUpstream) QueryDetails(ctx context.Context, q core.DetailQuery) ([]core.DetailRow, error) {
	f.detailCalls++
	return []core.DetailRow{{Date: "2024-01-03", Description: "Shop", Amount: decimal.NewFromInt(10), Category: q.Category}}, nil
}

func TestQueryExpensesServedFromCache(t *testing.T) {
	f := &fakeUpstream{}
	s := New(f, 10, time.Minute, nil, nil)
	q := core.Query{TimePeriod: core.Month, Currency: core.GBP, Categories: []string{"Food", "Rent"}, Years: []int{2024}}
	if _, err := s.QueryExpenses(context.Background(), q); err != nil {
		t.Fatalf("first query: %v", err)
	}
	// same set, different order
	q.Categories = []string{"Rent", "Food"}
	if _, err := s.QueryExpenses(context.Background(), q); err != nil {
		t.Fatalf("second query: %v", err)
	}
	if f.expenseCalls != 1 {
		t.Fatalf("upstream calls = %d, want 1", f.expenseCalls)
	}
	if hits, misses, _ := s.Stats(); hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
}

func TestSuccessfulUploadPurges(t *testing.T) {
	f := &fakeUpstream{}
	s := New(f, 10, time.Minute, nil, nil)
	dq := core.DetailQuery{Category: "Food", TimePeriod: "2024-01", Currency: core.GBP}
	s.QueryDetails(context.Background(), dq)
	if _, err := s.Upload(context.Background(), upstream.UploadRequest{}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	s.QueryDetails(context.Background(), dq)
	if f.detailCalls != 2 {
		t.Fatalf("detail calls = %d, want 2 after purge", f.detailCalls)
	}
}

func TestFailedUploadKeepsCache(t *testing.T) {
	f := &fakeUpstream{uploadErr: errors.New("boom")}
	s := New(f, 10, time.Minute, nil, nil)
	dq := core.DetailQuery{Category: "Food", TimePeriod: "2024-01", Currency: core.GBP}
	s.QueryDetails(context.Background(), dq)
	if _, err := s.Upload(context.Background(), upstream.UploadRequest{}); err == nil {
		t.Fatalf("expected upload error")
	}
	s.QueryDetails(context.Background(), dq)
	if f.detailCalls != 1 {
		t.Fatalf("detail calls = %d, want 1", f.detailCalls)
	}
}
