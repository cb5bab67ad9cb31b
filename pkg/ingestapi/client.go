// Package ingestapi is a client for the ingest backend: file analysis,
// mapping preview, schema compatibility, column advice, uploads and the
// table catalog.
package ingestapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client defines the backend operations.
type Client interface {
	Analyze(ctx context.Context, f File, req AnalyzeRequest) (*AnalyzeResponse, error)
	PreviewMapping(ctx context.Context, f File, mappings map[string]*string, rows int) (*PreviewResponse, error)
	AnalyzeSchemaCompatibility(ctx context.Context, f File, table string, mappings map[string]*string) (*CompatibilityResponse, error)
	GetColumnMismatchRecommendations(ctx context.Context, req RecommendationRequest) (*RecommendationResponse, error)
	Upload(ctx context.Context, f File, mappings map[string]*string, mode string, opts UploadOptions) (*UploadResponse, error)
	ListTables(ctx context.Context) ([]TableInfo, error)
	DescribeTable(ctx context.Context, table string) (*TableSchema, error)
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Bearer() (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Bearer implements TokenSource.
func (t StaticToken) Bearer() (string, error) { return string(t), nil }

// Option configures the client.
type Option func(*settings)

type settings struct {
	baseURL string
	timeout time.Duration
	retries int
	limiter *rate.Limiter
	hc      *http.Client
}

// WithBaseURL sets the API root.
func WithBaseURL(u string) Option {
	return func(s *settings) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-request timeout for JSON calls. File transfers
// are bounded by their context instead.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithRetries sets how often idempotent JSON calls are retried on 429 and
// 5xx. Uploads are never retried here.
func WithRetries(n int) Option {
	return func(s *settings) { s.retries = n }
}

// WithRateLimit caps the request rate. Requests wait for a token.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *settings) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.hc = hc }
}

type restClient struct {
	json  *resty.Client
	files *resty.Client
}

// NewClient creates a backend client authenticating with tokens.
func NewClient(tokens TokenSource, opts ...Option) Client {
	s := settings{
		baseURL: "http://localhost:8000/api",
		timeout: 30 * time.Second,
		retries: 2,
	}
	for _, opt := range opts {
		opt(&s)
	}

	build := func() *resty.Client {
		var c *resty.Client
		if s.hc != nil {
			c = resty.NewWithClient(s.hc)
		} else {
			c = resty.New()
		}
		c.SetBaseURL(s.baseURL).
			SetLogger(zap.S().Named("ingestapi")).
			SetHeader("Accept", "application/json").
			OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
				if s.limiter != nil {
					if err := s.limiter.Wait(r.Context()); err != nil {
						return eris.Wrap(err, "ingestapi: rate limit wait")
					}
				}
				tok, err := tokens.Bearer()
				if err != nil {
					return err
				}
				r.SetAuthToken(tok)
				return nil
			})
		return c
	}

	jc := build().
		SetTimeout(s.timeout).
		SetRetryCount(s.retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return false
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || (code >= 500 && code <= 504)
		})

	return &restClient{json: jc, files: build()}
}

func (c *restClient) Analyze(ctx context.Context, f File, req AnalyzeRequest) (*AnalyzeResponse, error) {
	form := map[string]string{
		"use_ai_fallback":      strconv.FormatBool(req.UseAIFallback),
		"confidence_threshold": strconv.FormatFloat(req.ConfidenceThreshold, 'f', -1, 64),
	}
	if req.TargetTable != "" {
		form["target_table"] = req.TargetTable
	}
	var out AnalyzeResponse
	if err := c.multipart(ctx, "/uploads/analyze", f, form, &out); err != nil {
		return nil, eris.Wrap(err, "ingestapi: analyze")
	}
	return &out, nil
}

func (c *restClient) PreviewMapping(ctx context.Context, f File, mappings map[string]*string, rows int) (*PreviewResponse, error) {
	mj, err := json.Marshal(mappings)
	if err != nil {
		return nil, eris.Wrap(err, "ingestapi: marshal mappings")
	}
	form := map[string]string{"mappings": string(mj)}
	if rows > 0 {
		form["preview_rows"] = strconv.Itoa(rows)
	}
	var out PreviewResponse
	if err := c.multipart(ctx, "/uploads/preview-mapping", f, form, &out); err != nil {
		return nil, eris.Wrap(err, "ingestapi: preview mapping")
	}
	return &out, nil
}

func (c *restClient) AnalyzeSchemaCompatibility(ctx context.Context, f File, table string, mappings map[string]*string) (*CompatibilityResponse, error) {
	mj, err := json.Marshal(mappings)
	if err != nil {
		return nil, eris.Wrap(err, "ingestapi: marshal mappings")
	}
	form := map[string]string{"target_table": table, "proposed_mappings": string(mj)}
	var out CompatibilityResponse
	if err := c.multipart(ctx, "/uploads/schema-compatibility", f, form, &out); err != nil {
		return nil, eris.Wrap(err, "ingestapi: schema compatibility")
	}
	return &out, nil
}

func (c *restClient) GetColumnMismatchRecommendations(ctx context.Context, req RecommendationRequest) (*RecommendationResponse, error) {
	var out RecommendationResponse
	resp, err := c.json.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/uploads/column-recommendations")
	if err := decode(resp, err, &out); err != nil {
		return nil, eris.Wrap(err, "ingestapi: column recommendations")
	}
	return &out, nil
}

func (c *restClient) Upload(ctx context.Context, f File, mappings map[string]*string, mode string, opts UploadOptions) (*UploadResponse, error) {
	mj, err := json.Marshal(mappings)
	if err != nil {
		return nil, eris.Wrap(err, "ingestapi: marshal mappings")
	}
	form := map[string]string{
		"mappings":       string(mj),
		"upload_mode":    mode,
		"operation_mode": opts.OperationMode,
	}
	if opts.TargetTable != "" {
		form["target_table"] = opts.TargetTable
	}
	if len(opts.UpsertKeys) > 0 {
		form["upsert_keys"] = strings.Join(opts.UpsertKeys, ",")
	}
	var out UploadResponse
	if err := c.multipart(ctx, "/uploads/execute", f, form, &out); err != nil {
		return nil, eris.Wrap(err, "ingestapi: upload")
	}
	return &out, nil
}

func (c *restClient) ListTables(ctx context.Context) ([]TableInfo, error) {
	var out struct {
		Tables []TableInfo `json:"tables"`
	}
	resp, err := c.json.R().SetContext(ctx).Get("/tables")
	if err := decode(resp, err, &out); err != nil {
		return nil, eris.Wrap(err, "ingestapi: list tables")
	}
	return out.Tables, nil
}

func (c *restClient) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	var out TableSchema
	resp, err := c.json.R().SetContext(ctx).Get("/tables/" + url.PathEscape(table) + "/schema")
	if err := decode(resp, err, &out); err != nil {
		return nil, eris.Wrapf(err, "ingestapi: describe table %s", table)
	}
	return &out, nil
}

func (c *restClient) multipart(ctx context.Context, path string, f File, form map[string]string, out any) error {
	if f.Body == nil {
		return eris.New("ingestapi: file body is nil")
	}
	resp, err := c.files.R().SetContext(ctx).
		SetFileReader("file", f.Name, f.Body).
		SetFormData(form).
		Post(path)
	return decode(resp, err, out)
}

// decode turns a resty result into out or an error. Transport errors are
// returned as they are so callers can inspect them.
func decode(resp *resty.Response, err error, out any) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return newAPIError(resp.StatusCode(), resp.Body())
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
