package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"budgetviz/internal/core"
	"budgetviz/internal/dashboard"
	"budgetviz/internal/drilldown"
	"budgetviz/internal/fetch"
	"budgetviz/internal/sheets"
	"budgetviz/internal/upstream"
)

type fakeDashboard struct {
	mu        sync.Mutex
	snap      dashboard.Snapshot
	patches   []core.FilterPatch
	uploads   []upstream.UploadRequest
	selects   []selectRequest
	cleared   int
	uploadErr error
	selectErr error
	refreshes int
}

func newFakeDashboard() *fakeDashboard {
	return &fakeDashboard{snap: dashboard.Snapshot{Filters: core.DefaultCriteria()}}
}

func (f *fakeDashboard) Snapshot() dashboard.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeDashboard) UpdateFilters(ctx context.Context, p core.FilterPatch) (core.FilterCriteria, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := p.Apply(f.snap.Filters)
	if err != nil {
		return f.snap.Filters, err
	}
	f.patches = append(f.patches, p)
	f.snap.Filters = next
	return next, nil
}

func (f *fakeDashboard) Upload(ctx context.Context, req upstream.UploadRequest) (core.DatasetMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, req)
	if f.uploadErr != nil {
		f.snap.Upload = fetch.UploadState{Status: fetch.UploadFailed, Error: "Error uploading file: " + f.uploadErr.Error()}
		return core.DatasetMetadata{}, fmt.Errorf("%w: %w", core.ErrUploadFailed, f.uploadErr)
	}
	meta := core.DatasetMetadata{Categories: []string{"Food", "Rent"}, Years: []int{2024, 2025}}
	f.snap.Available = meta
	f.snap.Upload = fetch.UploadState{Status: fetch.UploadSucceeded, Message: "File processed"}
	return meta, nil
}

func (f *fakeDashboard) Select(ctx context.Context, category, tp string) (drilldown.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, selectRequest{Category: category, TimePeriod: tp})
	if f.selectErr != nil {
		f.snap.Detail = drilldown.Snapshot{State: drilldown.Failed, Category: category, TimePeriod: tp, Error: f.selectErr.Error()}
		return f.snap.Detail, f.selectErr
	}
	f.snap.Detail = drilldown.Snapshot{
		State:      drilldown.Populated,
		Category:   category,
		TimePeriod: tp,
		Rows:       []core.DetailRow{{Date: "2024-01-03", Description: "Shop", Amount: decimal.NewFromInt(12), Category: category}},
		Total:      decimal.NewFromInt(12),
	}
	return f.snap.Detail, nil
}

func (f *fakeDashboard) ClearSelection() drilldown.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.snap.Detail = drilldown.Snapshot{State: drilldown.Empty}
	return f.snap.Detail
}

func (f *fakeDashboard) Refresh() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.snap.Available.IsLoaded() {
		return core.ErrNoDataset
	}
	f.refreshes++
	return nil
}

type fakeExporter struct {
	calls int
	err   error
}

func (e *fakeExporter) Export(ctx context.Context) (string, error) {
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	return "'Budget Export'!A1:D9", nil
}

func newTestServer(t *testing.T, dash Dashboard, opts Options) *Server {
	t.Helper()
	srv := NewServer(dash, opts, nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReady(t *testing.T) {
	ready := errors.New("db down")
	srv := newTestServer(t, newFakeDashboard(), Options{Ready: func(context.Context) error { return ready }})

	if rr := do(t, srv, http.MethodGet, "/healthz", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/readyz", nil, ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
	ready = nil
	if rr := do(t, srv, http.MethodGet, "/readyz", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rr.Code)
	}
}

func TestStateReturnsSnapshot(t *testing.T) {
	srv := newTestServer(t, newFakeDashboard(), Options{})
	rr := do(t, srv, http.MethodGet, "/api/state", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var got struct {
		Filters core.FilterCriteria `json:"filters"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Filters.TimePeriod != core.Month || got.Filters.Currency != core.GBP {
		t.Fatalf("unexpected filters %+v", got.Filters)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestUpdateFilters(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "valid", body: `{"currency":"usd","categories":["Food"]}`, want: http.StatusOK},
		{name: "invalid currency", body: `{"currency":"JPY"}`, want: http.StatusUnprocessableEntity},
		{name: "invalid period", body: `{"timePeriod":"quarter"}`, want: http.StatusUnprocessableEntity},
		{name: "malformed", body: `{"currency":`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dash := newFakeDashboard()
			srv := newTestServer(t, dash, Options{})
			rr := do(t, srv, http.MethodPatch, "/api/filters", []byte(tc.body), "application/json")
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}

	dash := newFakeDashboard()
	srv := newTestServer(t, dash, Options{})
	do(t, srv, http.MethodPatch, "/api/filters", []byte(`{"currency":"usd","categories":["Food"]}`), "application/json")
	if f := dash.Snapshot().Filters; f.Currency != core.USD || len(f.Categories) != 1 || f.Categories[0] != "Food" {
		t.Fatalf("filters not applied: %+v", f)
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	dash := newFakeDashboard()
	srv := newTestServer(t, dash, Options{})

	body, ct := multipartBody(t, "file", "export.csv", []byte("date,amount\n"))
	rr := do(t, srv, http.MethodPost, "/api/upload", body, ct)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Message != "File processed" || len(got.Years) != 2 || len(got.Categories) != 2 {
		t.Fatalf("unexpected response %+v", got)
	}
	if len(dash.uploads) != 1 || dash.uploads[0].Filename != "export.csv" {
		t.Fatalf("upload not forwarded: %+v", dash.uploads)
	}
}

func TestUploadErrors(t *testing.T) {
	t.Run("missing field", func(t *testing.T) {
		srv := newTestServer(t, newFakeDashboard(), Options{})
		body, ct := multipartBody(t, "other", "x.csv", []byte("a"))
		if rr := do(t, srv, http.MethodPost, "/api/upload", body, ct); rr.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rr.Code)
		}
	})
	t.Run("too large", func(t *testing.T) {
		srv := newTestServer(t, newFakeDashboard(), Options{MaxUploadBytes: 512})
		body, ct := multipartBody(t, "file", "x.csv", bytes.Repeat([]byte("a"), 4096))
		if rr := do(t, srv, http.MethodPost, "/api/upload", body, ct); rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("status=%d", rr.Code)
		}
	})
	t.Run("upstream rejects", func(t *testing.T) {
		dash := newFakeDashboard()
		dash.uploadErr = errors.New("upload: HTTP 400: bad file")
		srv := newTestServer(t, dash, Options{})
		body, ct := multipartBody(t, "file", "x.csv", []byte("a"))
		rr := do(t, srv, http.MethodPost, "/api/upload", body, ct)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status=%d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Error uploading file: upload: HTTP 400: bad file") {
			t.Fatalf("body=%s", rr.Body.String())
		}
	})
}

func TestSelection(t *testing.T) {
	dash := newFakeDashboard()
	srv := newTestServer(t, dash, Options{})

	rr := do(t, srv, http.MethodPost, "/api/selection", []byte(`{"category":" Food ","timePeriod":"2024-01"}`), "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if len(dash.selects) != 1 || dash.selects[0].Category != "Food" {
		t.Fatalf("select not forwarded: %+v", dash.selects)
	}

	rr = do(t, srv, http.MethodDelete, "/api/selection", nil, "")
	if rr.Code != http.StatusOK || dash.cleared != 1 {
		t.Fatalf("clear status=%d cleared=%d", rr.Code, dash.cleared)
	}

	dash.selectErr = fmt.Errorf("%w: boom", core.ErrDetailFetchFailed)
	rr = do(t, srv, http.MethodPost, "/api/selection", []byte(`{"category":"Food"}`), "application/json")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", rr.Code)
	}

	dash.selectErr = core.ErrStaleResponse
	rr = do(t, srv, http.MethodPost, "/api/selection", []byte(`{"category":"Rent"}`), "application/json")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", rr.Code)
	}
}

func TestRefresh(t *testing.T) {
	dash := newFakeDashboard()
	srv := newTestServer(t, dash, Options{})

	if rr := do(t, srv, http.MethodPost, "/api/refresh", nil, ""); rr.Code != http.StatusConflict {
		t.Fatalf("status=%d before upload, want 409", rr.Code)
	}
	dash.snap.Available = core.DatasetMetadata{Years: []int{2024}}
	if rr := do(t, srv, http.MethodPost, "/api/refresh", nil, ""); rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d, want 202", rr.Code)
	}
	if dash.refreshes != 1 {
		t.Fatalf("refreshes=%d", dash.refreshes)
	}
}

func TestExport(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		srv := newTestServer(t, newFakeDashboard(), Options{})
		if rr := do(t, srv, http.MethodPost, "/api/export", nil, ""); rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("nothing loaded", func(t *testing.T) {
		srv := newTestServer(t, newFakeDashboard(), Options{Exporter: &fakeExporter{err: sheets.ErrNothingToExport}})
		if rr := do(t, srv, http.MethodPost, "/api/export", nil, ""); rr.Code != http.StatusConflict {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("returns written range", func(t *testing.T) {
		exp := &fakeExporter{}
		srv := newTestServer(t, newFakeDashboard(), Options{Exporter: exp})
		rr := do(t, srv, http.MethodPost, "/api/export", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), "Budget Export") || exp.calls != 1 {
			t.Fatalf("body=%s calls=%d", rr.Body.String(), exp.calls)
		}
	})

	t.Run("exporter error", func(t *testing.T) {
		srv := newTestServer(t, newFakeDashboard(), Options{Exporter: &fakeExporter{err: errors.New("quota")}})
		if rr := do(t, srv, http.MethodPost, "/api/export", nil, ""); rr.Code != http.StatusBadGateway {
			t.Fatalf("status=%d", rr.Code)
		}
	})
}

func TestRateLimitOnMutations(t *testing.T) {
	dash := newFakeDashboard()
	srv := newTestServer(t, dash, Options{RequestsPerMinute: 2})

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, srv, http.MethodDelete, "/api/selection", nil, "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes=%v", codes)
	}
	if rr := do(t, srv, http.MethodGet, "/api/state", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", rr.Code)
	}
}
