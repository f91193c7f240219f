// Package httpapi talks to the upstream expense service over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"budgetviz/internal/core"
	applog "budgetviz/internal/log"
	"budgetviz/internal/upstream"
)

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 4 << 10

// StatusError is a non-2xx answer from upstream.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Body)
}

type Options struct {
	Timeout time.Duration
	// RequestsPerSecond paces outgoing calls; zero or less disables pacing.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	schemas *schemas
	logger  *slog.Logger
}

// Ensure interface conformance
var _ upstream.Service = (*Client)(nil)

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", baseURL)
	}
	sc, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: u,
		http:    hc,
		limiter: limiter,
		schemas: sc,
		logger:  logger.With(applog.FieldComponent, applog.ComponentUpstream),
	}, nil
}

// Upload posts the file as multipart field "file".
func (c *Client) Upload(ctx context.Context, req upstream.UploadRequest) (upstream.UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	filename := req.Filename
	if filename == "" {
		filename = "upload.jsonl"
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return upstream.UploadResult{}, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := fw.Write(req.Content); err != nil {
		return upstream.UploadResult{}, fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return upstream.UploadResult{}, fmt.Errorf("build multipart: %w", err)
	}

	q := url.Values{}
	q.Set("use_higher_category", strconv.FormatBool(req.UseHigherCategory))
	q.Set("time_period", string(req.TimePeriod))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/expenses/upload", q), &body)
	if err != nil {
		return upstream.UploadResult{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.do(httpReq, "upload")
	if err != nil {
		return upstream.UploadResult{}, err
	}
	if err := validate(c.schemas.upload, raw); err != nil {
		return upstream.UploadResult{}, fmt.Errorf("upload: %w", err)
	}
	var out upstream.UploadResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return upstream.UploadResult{}, fmt.Errorf("upload: decode: %w", err)
	}
	return out, nil
}

// QueryExpenses sends categories and years as repeated query keys.
func (c *Client) QueryExpenses(ctx context.Context, query core.Query) ([]core.Observation, error) {
	q := url.Values{}
	q.Set("time_period", string(query.TimePeriod))
	q.Set("currency", string(query.Currency))
	q.Set("use_higher_category", strconv.FormatBool(query.UseHigherCategory))
	for _, cat := range query.Categories {
		q.Add("categories", cat)
	}
	for _, y := range query.Years {
		q.Add("years", strconv.Itoa(y))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/expenses", q), nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(httpReq, "expenses")
	if err != nil {
		return nil, err
	}
	if err := validate(c.schemas.expenses, raw); err != nil {
		return nil, fmt.Errorf("expenses: %w", err)
	}
	var out struct {
		BarChartData []core.Observation `json:"barChartData"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("expenses: decode: %w", err)
	}
	for _, o := range out.BarChartData {
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("expenses: %w", err)
		}
	}
	if out.BarChartData == nil {
		out.BarChartData = []core.Observation{}
	}
	return out.BarChartData, nil
}

func (c *Client) QueryDetails(ctx context.Context, query core.DetailQuery) ([]core.DetailRow, error) {
	q := url.Values{}
	q.Set("category", query.Category)
	q.Set("time_period", query.TimePeriod)
	q.Set("currency", string(query.Currency))
	q.Set("use_higher_category", strconv.FormatBool(query.UseHigherCategory))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/expenses/details", q), nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(httpReq, "details")
	if err != nil {
		return nil, err
	}
	if err := validate(c.schemas.details, raw); err != nil {
		return nil, fmt.Errorf("details: %w", err)
	}
	var out struct {
		Details []core.DetailRow `json:"details"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("details: decode: %w", err)
	}
	if out.Details == nil {
		out.Details = []core.DetailRow{}
	}
	return out.Details, nil
}

// Ping checks that upstream answers at all; any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String()
}

// do waits for the limiter, sends req and returns the body of a 2xx answer.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", op, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	c.logger.Debug("Upstream call finished",
		applog.FieldOperation, op,
		applog.FieldMethod, req.Method,
		applog.FieldStatusCode, resp.StatusCode,
		applog.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: msg}
	}
	return body, nil
}

// IsStatus reports whether err is an upstream answer with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
