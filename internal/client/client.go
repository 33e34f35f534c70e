// Package client talks to the analysis backend over HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/internal/query"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// RequestIDHeader correlates client requests with backend logs
const RequestIDHeader = "X-Request-ID"

// ResultsClient is the backend boundary
type ResultsClient interface {
	CreateJob(ctx context.Context, upload domain.Upload) (domain.Job, error)
	GetStatus(ctx context.Context, jobID string) (domain.JobState, error)
	GetResults(ctx context.Context, jobID string, params domain.QueryParams) (*domain.ResultSet, error)
	GetEnrichment(ctx context.Context, jobID string, kind domain.EnrichKind, params domain.QueryParams, q domain.EnrichQuery) (*domain.EnrichResult, error)
	DownloadURL(jobID string, params domain.QueryParams) string
	EnrichDownloadURL(jobID string, kind domain.EnrichKind, params domain.QueryParams, q domain.EnrichQuery, format domain.DownloadFormat) (string, error)
}

// Config holds backend connection settings
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RetryAttempts is the number of extra attempts for GET requests.
	// Zero disables retry.
	RetryAttempts   int
	RetryDelay      time.Duration
	RetryBackoffMul float64
}

// Client is the HTTP implementation of ResultsClient
type Client struct {
	httpclient *http.Client
	base       *url.URL
	config     *Config
	logger     *slog.Logger
}

var _ ResultsClient = (*Client)(nil)

// New creates a client for the backend at cfg.BaseURL
func New(cfg *Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpclient: &http.Client{Timeout: timeout},
		base:       base,
		config:     cfg,
		logger:     logger,
	}, nil
}

func (c *Client) apipath(values url.Values, elem ...string) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.Join(elem, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escapeAll(elem), "/")
	if len(values) > 0 {
		u.RawQuery = values.Encode()
	}
	return u.String()
}

func escapeAll(elem []string) []string {
	out := make([]string, len(elem))
	for i, e := range elem {
		out[i] = url.PathEscape(e)
	}
	return out
}

type createJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CreateJob uploads the counts and metadata files. The upload is validated
// first and nothing is sent when it is incomplete.
func (c *Client) CreateJob(ctx context.Context, upload domain.Upload) (domain.Job, error) {
	const op = "create job"

	if err := upload.Validate(); err != nil {
		return domain.Job{}, err
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := writeFile(mw, "counts", upload.Counts); err != nil {
		return domain.Job{}, &domain.TransportError{Op: op, Err: err}
	}
	if err := writeFile(mw, "metadata", upload.Metadata); err != nil {
		return domain.Job{}, &domain.TransportError{Op: op, Err: err}
	}
	if err := mw.WriteField("design_col", upload.DesignColumn); err != nil {
		return domain.Job{}, &domain.TransportError{Op: op, Err: err}
	}
	if err := mw.Close(); err != nil {
		return domain.Job{}, &domain.TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apipath(nil, "jobs"), body)
	if err != nil {
		return domain.Job{}, &domain.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp createJobResponse
	if err := c.do(req, op, &resp); err != nil {
		return domain.Job{}, err
	}

	state, ok := domain.ParseJobState(resp.Status)
	if !ok || resp.JobID == "" {
		return domain.Job{}, &domain.TransportError{
			Op:  op,
			Err: fmt.Errorf("unexpected create response: job_id=%q status=%q", resp.JobID, resp.Status),
		}
	}

	c.logger.Info("Job created",
		slog.String("job_id", resp.JobID),
		slog.String("status", string(state)),
	)
	return domain.Job{ID: resp.JobID, State: state}, nil
}

func writeFile(mw *multipart.Writer, field string, f *domain.File) error {
	name := f.Name
	if name == "" {
		name = field
	}
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f.Reader)
	return err
}

type statusResponse struct {
	Status string `json:"status"`
}

// GetStatus returns the backend state of a job. A status string the client
// does not know is returned as a TransportError wrapping domain.ErrUnknownStatus.
func (c *Client) GetStatus(ctx context.Context, jobID string) (domain.JobState, error) {
	const op = "get status"

	var resp statusResponse
	if err := c.get(ctx, op, c.apipath(nil, "jobs", jobID, "status"), &resp); err != nil {
		return "", err
	}

	state, ok := domain.ParseJobState(resp.Status)
	if !ok {
		return "", &domain.TransportError{Op: op, Body: resp.Status, Err: domain.ErrUnknownStatus}
	}
	return state, nil
}

// GetResults fetches one results snapshot. Filtering and truncation are
// performed by the backend; the parameters are passed through untouched.
func (c *Client) GetResults(ctx context.Context, jobID string, params domain.QueryParams) (*domain.ResultSet, error) {
	const op = "get results"

	rs := &domain.ResultSet{}
	if err := c.get(ctx, op, c.apipath(query.ResultsValues(params), "jobs", jobID, "results"), rs); err != nil {
		return nil, err
	}
	if rs.JobID == "" {
		rs.JobID = jobID
	}
	rs.Query = params
	return rs, nil
}

type enrichResponse struct {
	Items []domain.EnrichItem `json:"items"`
}

// GetEnrichment fetches GO or KEGG enrichment for the job
func (c *Client) GetEnrichment(ctx context.Context, jobID string, kind domain.EnrichKind, params domain.QueryParams, q domain.EnrichQuery) (*domain.EnrichResult, error) {
	op := "get " + string(kind) + " enrichment"

	values, err := query.EnrichValues(kind, params, q)
	if err != nil {
		return nil, err
	}

	var resp enrichResponse
	if err := c.get(ctx, op, c.apipath(values, "jobs", jobID, "enrich", string(kind)), &resp); err != nil {
		return nil, err
	}

	items := resp.Items
	if items == nil {
		items = []domain.EnrichItem{}
	}
	return &domain.EnrichResult{
		JobID:  jobID,
		Kind:   kind,
		Params: params,
		Query:  q,
		Items:  items,
	}, nil
}

// DownloadURL builds the results download link. The body is never fetched here.
func (c *Client) DownloadURL(jobID string, params domain.QueryParams) string {
	return c.apipath(query.DownloadValues(params), "jobs", jobID, "download")
}

// EnrichDownloadURL builds the enrichment table download link
func (c *Client) EnrichDownloadURL(jobID string, kind domain.EnrichKind, params domain.QueryParams, q domain.EnrichQuery, format domain.DownloadFormat) (string, error) {
	values, err := query.EnrichDownloadValues(kind, params, q, format)
	if err != nil {
		return "", err
	}
	return c.apipath(values, "jobs", jobID, "enrich", "download"), nil
}

// get issues a GET with capped exponential backoff on transport failures and 5xx responses
func (c *Client) get(ctx context.Context, op, target string, v any) error {
	maxRetries := c.config.RetryAttempts
	if maxRetries < 0 {
		maxRetries = 0
	}

	baseDelay := c.config.RetryDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}

	backoffMult := c.config.RetryBackoffMul
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return &domain.TransportError{Op: op, Err: err}
		}

		lastErr = c.do(req, op, v)
		if lastErr == nil || !retryable(lastErr) || attempt == maxRetries {
			break
		}

		c.logger.Warn("Backend request failed, retrying...",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", lastErr),
		)

		select {
		case <-ctx.Done():
			return &domain.TransportError{Op: op, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * backoffMult)
	}
	return lastErr
}

func retryable(err error) bool {
	var te *domain.TransportError
	if !errors.As(err, &te) {
		return false
	}
	if errors.Is(te.Err, context.Canceled) || errors.Is(te.Err, context.DeadlineExceeded) {
		return false
	}
	// zero status means the request never got an answer
	return te.StatusCode == 0 || te.StatusCode >= 500
}

var errMalformed = errors.New("malformed response body")

// do sends req and decodes a 2xx JSON body into v. Everything else becomes
// a TransportError carrying the raw body.
func (c *Client) do(req *http.Request, op string, v any) error {
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpclient.Do(req)
	if err != nil {
		c.logger.Error("Backend request failed",
			slog.String("op", op),
			slog.String("request_id", reqID),
			slog.Any("error", err),
		)
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("Backend request",
		slog.String("op", op),
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.String("request_id", reqID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &domain.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("%w: %w", errMalformed, err),
		}
	}
	return nil
}
