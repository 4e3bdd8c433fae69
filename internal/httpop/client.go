// Package httpop submits and polls asynchronous operations exposed over HTTP
// in the Azure Resource Manager style (Azure-AsyncOperation / Location headers).
package httpop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/metrics"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/sony/gobreaker"
)

const (
	headerAsyncOperation = "Azure-AsyncOperation"
	headerLocation       = "Location"
	headerRetryAfter     = "Retry-After"

	// maxBodySize bounds how much of a response body is read
	maxBodySize = 1 << 20
)

// DefaultStatusPaths are the JSON paths searched for the raw status, in order
var DefaultStatusPaths = []string{"status", "properties.provisioningState", "properties.status"}

// DefaultDetailPaths are the JSON paths searched for detail text, in order
var DefaultDetailPaths = []string{"error.message", "error.code", "properties.error.message", "properties.error"}

// Config holds HTTP client settings
type Config struct {
	// Timeout bounds a single request when the caller's context has no deadline
	Timeout time.Duration
	// BearerToken is sent as an Authorization header when set
	BearerToken string
	// UserAgent is sent with every request
	UserAgent string
	// StatusPaths override DefaultStatusPaths
	StatusPaths []string
	// DetailPaths override DefaultDetailPaths
	DetailPaths []string
	// Breaker configures the circuit breaker around status queries.
	// Each operation handle gets its own breaker.
	Breaker BreakerConfig
}

// BreakerConfig holds circuit breaker settings for status queries
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used when none are given
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "status",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// DefaultConfig returns a config with sane defaults
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		UserAgent:   "lrowait",
		StatusPaths: DefaultStatusPaths,
		DetailPaths: DefaultDetailPaths,
		Breaker:     DefaultBreakerConfig(),
	}
}

// HTTPError is a non-2xx response
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request may succeed
func (e *HTTPError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// ExistsResult is the answer to an existence check.
// A missing target is a normal result, not an error.
type ExistsResult struct {
	Found      bool
	StatusCode int
	// Status is the target's raw status when the body carries one
	Status string
}

// Client submits operations and reads their status over HTTP
type Client struct {
	http        *http.Client
	token       string
	userAgent   string
	statusPaths []string
	detailPaths []string
	log         logger.Logger
	metrics     *metrics.Collector

	breakerCfg BreakerConfig
	mu         sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client from cfg; zero fields take DefaultConfig values
func New(cfg Config, opts ...Option) *Client {
	d := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if len(cfg.StatusPaths) == 0 {
		cfg.StatusPaths = d.StatusPaths
	}
	if len(cfg.DetailPaths) == 0 {
		cfg.DetailPaths = d.DetailPaths
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = d.Breaker
	}

	c := &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		token:       cfg.BearerToken,
		userAgent:   cfg.UserAgent,
		statusPaths: cfg.StatusPaths,
		detailPaths: cfg.DetailPaths,
		log:         logger.Default(),
		metrics:     metrics.Default(),
		breakerCfg:  cfg.Breaker,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent(logger.ComponentSubmitter).WithSource(logger.LogSourceOperation)
	return c
}

// breakerFor returns the breaker guarding status queries for h
func (c *Client) breakerFor(h operation.Handle) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[h.ID]
	if !ok {
		cb = newBreaker(c.breakerCfg, c.breakerCfg.Name+":"+h.ID, c.log)
		c.breakers[h.ID] = cb
	}
	return cb
}

// Release drops the breaker kept for h
func (c *Client) Release(h operation.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.breakers, h.ID)
}

func newBreaker(cfg BreakerConfig, name string, log logger.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Permanent errors mean the backend answered; only transient ones count against it
		IsSuccessful: func(err error) bool {
			return err == nil || operation.IsPermanent(err)
		},
	})
}

// Submit sends the initiating request and returns the handle to poll
func (c *Client) Submit(ctx context.Context, req *operation.Request) (operation.Handle, error) {
	if req == nil || req.URL == "" {
		return operation.Handle{}, &operation.SubmissionError{Op: "submit", Detail: "request URL is required"}
	}
	method := req.Method
	if method == "" {
		method = http.MethodPut
	}

	httpReq, err := c.newRequest(ctx, method, req.URL, req.Body)
	if err != nil {
		c.metrics.RecordSubmission(true)
		return operation.Handle{}, &operation.SubmissionError{Op: req.Name, Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, body, err := c.do(httpReq)
	if err != nil {
		c.metrics.RecordSubmission(true)
		c.log.ErrorContext(ctx, "Submit request failed", "operation", req.Name, "url", req.URL, "error", err)
		return operation.Handle{}, &operation.SubmissionError{Op: req.Name, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RecordSubmission(true)
		subErr := &operation.SubmissionError{
			Op:         req.Name,
			StatusCode: resp.StatusCode,
			Detail:     strings.TrimSpace(string(body)),
			Conflict:   resp.StatusCode == http.StatusConflict,
		}
		c.log.ErrorContext(ctx, "Submit rejected", "operation", req.Name, "status_code", resp.StatusCode)
		return operation.Handle{}, subErr
	}

	pollURL, err := pollTarget(req.URL, resp.Header)
	if err != nil {
		c.metrics.RecordSubmission(true)
		return operation.Handle{}, &operation.SubmissionError{Op: req.Name, StatusCode: resp.StatusCode, Err: err}
	}

	c.metrics.RecordSubmission(false)
	c.log.InfoContext(ctx, "Operation submitted",
		"operation", req.Name,
		"status_code", resp.StatusCode,
		"poll_url", pollURL,
		"duration", time.Since(start).Round(time.Millisecond))

	return operation.NewHandle(pollURL, req.Name), nil
}

// Status reads the operation's current status through the handle's circuit
// breaker. A query refused by an open breaker is returned as operation.Deferred.
func (c *Client) Status(ctx context.Context, h operation.Handle) (*operation.Snapshot, error) {
	if h.IsZero() {
		return nil, operation.Permanent(errors.New("empty operation handle"))
	}

	res, err := c.breakerFor(h).Execute(func() (interface{}, error) {
		return c.status(ctx, h)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, operation.Deferred(fmt.Errorf("status query rejected by circuit breaker: %w", err))
		}
		return nil, err
	}
	return res.(*operation.Snapshot), nil
}

func (c *Client) status(ctx context.Context, h operation.Handle) (*operation.Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, h.ID, nil)
	if err != nil {
		return nil, operation.Permanent(err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{
			Method:     http.MethodGet,
			URL:        h.ID,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
		if httpErr.Transient() {
			return nil, httpErr
		}
		return nil, operation.Permanent(httpErr)
	}

	doc := decodeDocument(body)
	snap := &operation.Snapshot{
		Status:     lookupString(doc, c.statusPaths),
		Detail:     lookupString(doc, c.detailPaths),
		RetryAfter: parseRetryAfter(resp.Header.Get(headerRetryAfter), time.Now()),
		Timestamp:  time.Now(),
	}
	if len(body) > 0 && json.Valid(body) {
		snap.Payload = json.RawMessage(body)
	}

	if snap.Status == "" {
		// Location polling answers 202 while running and 200 once done
		if resp.StatusCode == http.StatusAccepted {
			snap.Status = "Accepted"
		} else {
			snap.Status = "Succeeded"
		}
	}
	return snap, nil
}

// Exists checks whether a target resource is already present
func (c *Client) Exists(ctx context.Context, target string) (ExistsResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ExistsResult{}, err
	}

	resp, body, err := c.do(req)
	if err != nil {
		return ExistsResult{}, fmt.Errorf("existence check %s: %w", target, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ExistsResult{Found: false, StatusCode: resp.StatusCode}, nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return ExistsResult{
			Found:      true,
			StatusCode: resp.StatusCode,
			Status:     lookupString(decodeDocument(body), c.statusPaths),
		}, nil
	default:
		return ExistsResult{StatusCode: resp.StatusCode}, &HTTPError{
			Method:     http.MethodGet,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and reads the (bounded) body
func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, body, nil
}

// pollTarget picks the URL to poll from the submit response headers
func pollTarget(requestURL string, header http.Header) (string, error) {
	raw := header.Get(headerAsyncOperation)
	if raw == "" {
		raw = header.Get(headerLocation)
	}
	if raw == "" {
		return requestURL, nil
	}

	base, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse poll url %q: %w", raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
