package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/clock/system"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/metrics"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/policy/ratelimit"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/retry"
)

const tracerName = "github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"

// StatusError is a non-2xx response that survived the retry loop.
type StatusError struct {
	Code       int
	Method     string
	URL        string
	RetryAfter time.Duration
	Header     http.Header
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Code)
	if body := strings.TrimSpace(e.Body); body != "" {
		if len(body) > 200 {
			body = body[:200]
		}
		msg += ": " + body
	}
	return msg
}

// HTTPStatus extracts the status code from err, or 0 when err is not a StatusError.
func HTTPStatus(err error) int {
	if se, ok := asStatusError(err); ok {
		return se.Code
	}
	return 0
}

// TokenRefresher supplies bearer tokens and can be told the current one was rejected.
type TokenRefresher interface {
	oauth2.TokenSource
	Refresh() error
}

// Sleeper pauses between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClientConfig tunes the API client.
type ClientConfig struct {
	BaseURL         string
	SubscriptionKey string
	Timeout         time.Duration
	Retry           retry.Policy
	RequestInterval time.Duration
}

// Client is a throttled, retrying ERCOT API client.
type Client struct {
	http     *resty.Client
	auth     TokenRefresher
	throttle *ratelimit.Throttle
	policy   retry.Policy
	sleeper  Sleeper
	baseURL  string
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewClient wires a Client. sleeper and logger may be nil.
func NewClient(cfg ClientConfig, auth TokenRefresher, sleeper Sleeper, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sleeper == nil {
		sleeper = system.New()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultRequestPolicy()
	}
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Ocp-Apim-Subscription-Key", cfg.SubscriptionKey)
	return &Client{
		http:     httpClient,
		auth:     auth,
		throttle: ratelimit.New(cfg.RequestInterval, metrics.ObserveThrottleWait),
		policy:   cfg.Retry,
		sleeper:  sleeper,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request describes one logical API call.
type Request struct {
	Method string
	URL    string
	Query  map[string]string
	JSON   any
	// Stream leaves the body unread; the caller must close Response.RawBody().
	Stream bool
}

// Do executes req with throttling, a single forced re-authentication on 401 and
// retries on transient statuses and transport errors.
func (c *Client) Do(ctx context.Context, req Request) (*resty.Response, error) {
	ctx, span := c.tracer.Start(ctx, "ercot.request", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	refreshed := false
	maxAttempts := c.policy.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.execute(ctx, req)
		if err != nil {
			metrics.ObserveAPIRequest(req.Method, 0, 0)
			if !c.policy.ShouldRetry(err, attempt) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "transport")
				return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
			}
			metrics.ObserveRetry("transport")
			c.logger.Debug("retrying after transport error",
				zap.String("url", req.URL), zap.Int("attempt", attempt), zap.Error(err))
			if err := c.sleeper.Sleep(ctx, c.policy.Linear(attempt, 0)); err != nil {
				return nil, err
			}
			continue
		}

		code := resp.StatusCode()
		metrics.ObserveAPIRequest(req.Method, code, resp.Time())
		span.SetAttributes(attribute.Int("http.status_code", code), attribute.Int("ercot.attempt", attempt))

		if code == http.StatusUnauthorized && attempt < maxAttempts && !refreshed {
			rerr := c.auth.Refresh()
			if rerr == nil {
				closeRaw(resp, req.Stream)
				metrics.ObserveReauth()
				refreshed = true
				continue
			}
			c.logger.Warn("re-authentication failed", zap.Error(rerr))
		}
		if retry.RetryableStatus(code) && attempt < maxAttempts {
			retryAfter := retry.ParseRetryAfter(resp.Header().Get("Retry-After"))
			closeRaw(resp, req.Stream)
			metrics.ObserveRetry("status")
			if err := c.sleeper.Sleep(ctx, c.policy.Linear(attempt, retryAfter)); err != nil {
				return nil, err
			}
			continue
		}
		if code >= 400 {
			statusErr := &StatusError{
				Code:       code,
				Method:     req.Method,
				URL:        req.URL,
				RetryAfter: retry.ParseRetryAfter(resp.Header().Get("Retry-After")),
				Header:     resp.Header(),
			}
			if !req.Stream {
				statusErr.Body = resp.String()
			}
			closeRaw(resp, req.Stream)
			span.SetStatus(codes.Error, http.StatusText(code))
			return nil, statusErr
		}
		return resp, nil
	}
	return nil, errors.New("retry loop exhausted unexpectedly")
}

func (c *Client) execute(ctx context.Context, req Request) (*resty.Response, error) {
	tok, err := c.auth.Token()
	if err != nil {
		return nil, err
	}
	r := c.http.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		SetDoNotParseResponse(req.Stream)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.JSON != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.JSON)
	}
	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJSON performs a GET and decodes the body with numbers preserved.
func (c *Client) GetJSON(ctx context.Context, url string, query map[string]string) (any, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: url, Query: query})
	if err != nil {
		return nil, err
	}
	return DecodeJSON(resp.Body())
}

func closeRaw(resp *resty.Response, stream bool) {
	if stream && resp != nil && resp.RawBody() != nil {
		_ = resp.RawBody().Close()
	}
}

func asStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
