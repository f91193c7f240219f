package dashboard

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetviz/internal/core"
	"budgetviz/internal/drilldown"
	"budgetviz/internal/fetch"
	"budgetviz/internal/upstream"
)

type fakeService struct {
	mu      sync.Mutex
	queries []core.Query
}

func (f *fakeService) Upload(ctx context.Context, req upstream.UploadRequest) (upstream.UploadResult, error) {
	return upstream.UploadResult{
		Message:    "File uploaded successfully",
		Categories: []string{"Food", "Investment", "Rent"},
		Years:      []int{2023, 2024, 2025},
	}, nil
}

func (f *fakeService) QueryExpenses(ctx context.Context, q core.Query) ([]core.Observation, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return []core.Observation{
		{TimePeriod: "2024-01", Category: "Food", Amount: decimal.NewFromInt(100)},
		{TimePeriod: "2024-02", Category: "Rent", Amount: decimal.NewFromInt(900)},
	}, nil
}

func (f *fakeService) QueryDetails(ctx context.Context, q core.DetailQuery) ([]core.DetailRow, error) {
	return []core.DetailRow{{Date: q.TimePeriod + "-03", Description: "Shop " + q.TimePeriod, Amount: decimal.NewFromInt(10), Category: q.Category}}, nil
}

func (f *fakeService) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) Notify(ctx context.Context, s Snapshot) error {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	return nil
}

func uploaded(t *testing.T) (*Session, *fakeService) {
	t.Helper()
	svc := &fakeService{}
	s := New(svc, DefaultOptions(), nil)
	t.Cleanup(func() { s.Close() })
	if _, err := s.Upload(context.Background(), upstream.UploadRequest{Filename: "tx.jsonl"}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	return s, svc
}

func TestUploadRefetchesWithDefaults(t *testing.T) {
	s, svc := uploaded(t)
	snap := s.Snapshot()
	if snap.Aggregate.State != fetch.Ready {
		t.Fatalf("aggregate state = %s", snap.Aggregate.State)
	}
	if !slices.Equal(snap.Filters.Categories, []string{"Food", "Rent"}) || !slices.Equal(snap.Filters.Years, []int{2024, 2025}) {
		t.Fatalf("filters = %+v", snap.Filters)
	}
	if svc.queryCount() != 1 {
		t.Fatalf("queries = %d, want 1", svc.queryCount())
	}
	if snap.Display.Total != "£1000.00" {
		t.Fatalf("display total = %q", snap.Display.Total)
	}
}

func TestUpdateFiltersRefetchesOnlyOnChange(t *testing.T) {
	s, svc := uploaded(t)
	ctx := context.Background()

	if _, err := s.UpdateFilters(ctx, core.SetCurrency(core.USD)); err != nil {
		t.Fatalf("update: %v", err)
	}
	s.Wait()
	if svc.queryCount() != 2 {
		t.Fatalf("queries = %d, want 2", svc.queryCount())
	}
	// same set in another order is not a change
	if _, err := s.UpdateFilters(ctx, core.SetCategories("Rent", "Food")); err != nil {
		t.Fatalf("update: %v", err)
	}
	s.Wait()
	if svc.queryCount() != 2 {
		t.Fatalf("queries = %d, want 2", svc.queryCount())
	}
}

func TestUpdateFiltersClearsSelection(t *testing.T) {
	s, _ := uploaded(t)
	ctx := context.Background()
	d, err := s.Select(ctx, "Food", "2024-01")
	if err != nil || d.State != drilldown.Populated {
		t.Fatalf("select: %+v %v", d, err)
	}
	if _, err := s.UpdateFilters(ctx, core.SetYears(2024)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := s.Snapshot().Detail.State; got != drilldown.Empty {
		t.Fatalf("detail state = %s, want empty", got)
	}
}

func TestInvalidFilterKeepsSelection(t *testing.T) {
	s, _ := uploaded(t)
	ctx := context.Background()
	if _, err := s.Select(ctx, "Food", "2024-01"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := s.UpdateFilters(ctx, core.SetCurrency("JPY")); !errors.Is(err, core.ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
	if got := s.Snapshot().Detail.State; got != drilldown.Populated {
		t.Fatalf("detail state = %s, want populated", got)
	}
}

func TestLegendSelectSpansPeriods(t *testing.T) {
	s, _ := uploaded(t)
	d, err := s.Select(context.Background(), "Food", "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	var periods []string
	for _, r := range d.Rows {
		periods = append(periods, r.Date[:7])
	}
	slices.Sort(periods)
	if !slices.Equal(periods, []string{"2024-01", "2024-02"}) {
		t.Fatalf("rows span %v", periods)
	}
}

func TestRefreshWithoutDataset(t *testing.T) {
	s := New(&fakeService{}, DefaultOptions(), nil)
	defer s.Close()
	if err := s.Refresh(); !errors.Is(err, core.ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
}

func TestRestoreRefetches(t *testing.T) {
	svc := &fakeService{}
	s := New(svc, DefaultOptions(), nil)
	defer s.Close()
	crit := core.DefaultCriteria()
	crit.Currency = core.EUR
	crit.Years = []int{2024}
	meta := core.DatasetMetadata{Categories: []string{"Food", "Rent"}, Years: []int{2024, 2025}}

	if err := s.Restore(crit, meta); err != nil {
		t.Fatalf("restore: %v", err)
	}
	s.Wait()
	if svc.queryCount() != 1 {
		t.Fatalf("queries = %d, want 1", svc.queryCount())
	}
	q := svc.queries[0]
	if q.Currency != core.EUR || !slices.Equal(q.Years, []int{2024}) || !slices.Equal(q.Categories, []string{"Food", "Rent"}) {
		t.Fatalf("query = %+v", q)
	}
}

func TestSubscribersSeeIncreasingVersions(t *testing.T) {
	svc := &fakeService{}
	s := New(svc, DefaultOptions(), nil)
	rec := &recorder{}
	s.Subscribe(rec)
	if _, err := s.Upload(context.Background(), upstream.UploadRequest{}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	// Close waits for the refetch and delivers everything queued
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.snaps) == 0 {
		t.Fatalf("no snapshots delivered")
	}
	for i := 1; i < len(rec.snaps); i++ {
		if rec.snaps[i].Version <= rec.snaps[i-1].Version {
			t.Fatalf("versions not increasing: %d then %d", rec.snaps[i-1].Version, rec.snaps[i].Version)
		}
	}
	if last := rec.snaps[len(rec.snaps)-1]; last.Aggregate.State != fetch.Ready {
		t.Fatalf("last snapshot state = %s", last.Aggregate.State)
	}
}

// blockingNotifier holds every delivery until release closes.
type blockingNotifier struct {
	recorder
	release chan struct{}
}

func (b *blockingNotifier) Notify(ctx context.Context, s Snapshot) error {
	<-b.release
	return b.recorder.Notify(ctx, s)
}

func TestSlowNotifierDoesNotBlockUpdates(t *testing.T) {
	s := New(&fakeService{}, DefaultOptions(), nil)
	slow := &blockingNotifier{release: make(chan struct{})}
	s.Subscribe(slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3*notifyBacklog; i++ {
			cur := core.USD
			if i%2 == 1 {
				cur = core.EUR
			}
			if _, err := s.UpdateFilters(context.Background(), core.SetCurrency(cur)); err != nil {
				t.Errorf("update %d: %v", i, err)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		close(slow.release)
		t.Fatalf("filter updates blocked behind a slow notifier")
	}

	latest := s.Snapshot().Version
	close(slow.release)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	slow.mu.Lock()
	defer slow.mu.Unlock()
	if len(slow.snaps) == 0 || len(slow.snaps) > notifyBacklog+1 {
		t.Fatalf("delivered %d snapshots, want between 1 and %d", len(slow.snaps), notifyBacklog+1)
	}
	for i := 1; i < len(slow.snaps); i++ {
		if slow.snaps[i].Version <= slow.snaps[i-1].Version {
			t.Fatalf("versions not increasing: %d then %d", slow.snaps[i-1].Version, slow.snaps[i].Version)
		}
	}
	if last := slow.snaps[len(slow.snaps)-1]; last.Version != latest {
		t.Fatalf("last delivered version = %d, want %d", last.Version, latest)
	}
}

func TestCloseRacesWithRefresh(t *testing.T) {
	s, svc := uploaded(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Refresh()
		}()
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	after := svc.queryCount()
	wg.Wait()

	// nothing scheduled after Close may still be running or start later
	if err := s.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := svc.queryCount(); got != after {
		t.Fatalf("refetch ran after Close: %d queries, then %d", after, got)
	}

	// state changes after Close are not published and do not panic
	if _, err := s.UpdateFilters(context.Background(), core.SetCurrency(core.EUR)); err != nil {
		t.Fatalf("update after close: %v", err)
	}
}
