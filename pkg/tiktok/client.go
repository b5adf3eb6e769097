package tiktok

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tiktokads/pkg/config"
	errs "tiktokads/pkg/errors"
	"tiktokads/pkg/logger"
	"tiktokads/pkg/ratelimit"
	"tiktokads/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "tiktokads/1.0 (+https://github.com/tiktokads)"

const maxErrorBody = 64 << 10

// Options configures a Client
type Options struct {
	BaseURL     string
	AccessToken string
	UserAgent   string
	PageSize    int
	Timeout     time.Duration
	Limiter     ratelimit.Limiter
	Retry       *retry.Policy
}

// Client fetches pages from the ad library. It is safe for concurrent use;
// every HTTP attempt, retries included, waits on the shared limiter.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	pageSize   int
	limiter    ratelimit.Limiter
	retry      *retry.Policy
	logger     logger.Logger
}

// NewClient creates a new ad library client
func NewClient(opts Options, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Retry.Logger == nil {
		opts.Retry = opts.Retry.WithLogger(log)
	}

	headers := map[string]string{
		"User-Agent":      opts.UserAgent,
		"Accept":          "application/json",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
	}
	if opts.AccessToken != "" {
		headers["Authorization"] = "Bearer " + opts.AccessToken
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		headers:    headers,
		baseURL:    opts.BaseURL,
		pageSize:   opts.PageSize,
		limiter:    opts.Limiter,
		retry:      opts.Retry,
		logger:     log,
	}
}

// NewClientFromConfig creates a client from the api and retry config sections
func NewClientFromConfig(cfg *config.Config, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return NewClient(Options{
		BaseURL:     cfg.API.BaseURL,
		AccessToken: cfg.API.AccessToken,
		UserAgent:   cfg.API.UserAgent,
		PageSize:    cfg.API.PageSize,
		Timeout:     cfg.API.Timeout,
		Limiter:     limiter,
		Retry:       retry.FromConfig(cfg.Retry, log),
	}, log)
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Fetch retrieves one page of ads. Transient failures are retried under the
// client's policy; the final failure is a *errors.FetchError carrying the
// number of attempts made. Context cancellation is returned as is.
//
// A stop context attached with retry.WithStop ends the limiter waits and the
// retry loop without aborting a request already on the wire, which keeps
// running under ctx.
func (c *Client) Fetch(ctx context.Context, req PageRequest) (*Page, error) {
	pageURL, err := SearchURL(c.baseURL, req, c.pageSize)
	if err != nil {
		return nil, &errs.FetchError{
			Type:    errs.ErrorTypeUnknown,
			Account: req.AdvertiserID,
			Cursor:  string(req.Cursor),
			Message: err.Error(),
			Err:     err,
		}
	}

	c.logger.DebugWithFields("fetching ad page", map[string]interface{}{
		"advertiser_id": req.AdvertiserID,
		"cursor":        string(req.Cursor),
	})

	attempts := 0
	page, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*Page, error) {
		attempts++
		return c.fetchOnce(ctx, pageURL, req)
	})
	if err != nil {
		var fe *errs.FetchError
		if ctx.Err() == nil && retry.Stopped(ctx) == nil && errors.As(err, &fe) {
			fe.Attempts = attempts
			c.logger.ErrorWithFields("failed to fetch ad page", map[string]interface{}{
				"advertiser_id": req.AdvertiserID,
				"cursor":        string(req.Cursor),
				"attempts":      attempts,
				"error":         fe.Error(),
			})
			return nil, fe
		}
		return nil, err
	}

	if page.Skipped > 0 {
		c.logger.DebugWithFields("skipped non-object ad entries", map[string]interface{}{
			"advertiser_id": req.AdvertiserID,
			"skipped":       page.Skipped,
		})
	}

	c.logger.DebugWithFields("successfully fetched ad page", map[string]interface{}{
		"advertiser_id": req.AdvertiserID,
		"ads":           len(page.Ads),
		"has_more":      page.HasMore(),
		"attempts":      attempts,
	})
	return page, nil
}

// fetchOnce performs a single rate limited HTTP attempt
func (c *Client) fetchOnce(ctx context.Context, pageURL string, req PageRequest) (*Page, error) {
	if err := retry.Stopped(ctx); err != nil {
		return nil, err
	}
	waitCtx, cancel := retry.StopContext(ctx)
	err := c.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		if stopErr := retry.Stopped(ctx); stopErr != nil {
			return nil, stopErr
		}
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &errs.FetchError{
			Type:    errs.ErrorTypeUnknown,
			Account: req.AdvertiserID,
			Cursor:  string(req.Cursor),
			Message: fmt.Sprintf("failed to create request: %v", err),
			Err:     err,
		}
	}
	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.LogRequest(c.logger, http.MethodGet, pageURL, 0, time.Since(start))
		return nil, &errs.FetchError{
			Type:    errs.ErrorTypeNetwork,
			Account: req.AdvertiserID,
			Cursor:  string(req.Cursor),
			Message: fmt.Sprintf("network error: %v", err),
			Err:     err,
		}
	}
	defer resp.Body.Close()
	logger.LogRequest(c.logger, http.MethodGet, pageURL, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, c.statusError(resp, req)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.FetchError{
			Type:    errs.ErrorTypeNetwork,
			Account: req.AdvertiserID,
			Cursor:  string(req.Cursor),
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Err:     err,
		}
	}

	page, err := ParsePage(body)
	if err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse ad page", map[string]interface{}{
			"advertiser_id": req.AdvertiserID,
			"status":        resp.StatusCode,
			"error":         err.Error(),
			"body_preview":  bodyPreview,
		})
		return nil, &errs.FetchError{
			Type:       errs.ErrorTypeParsing,
			Account:    req.AdvertiserID,
			Cursor:     string(req.Cursor),
			StatusCode: resp.StatusCode,
			Message:    err.Error(),
			Err:        err,
		}
	}
	return page, nil
}

func (c *Client) statusError(resp *http.Response, req PageRequest) *errs.FetchError {
	fe := errs.NewStatusError(req.AdvertiserID, resp.StatusCode)
	fe.Cursor = string(req.Cursor)
	fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())

	fields := map[string]interface{}{
		"advertiser_id": req.AdvertiserID,
		"status":        resp.StatusCode,
	}
	switch fe.Type {
	case errs.ErrorTypeRateLimit:
		logger.LogRateLimit(c.logger, req.AdvertiserID, fe.RetryAfter)
	case errs.ErrorTypeAuth:
		c.logger.WarnWithFields("authentication error", fields)
	case errs.ErrorTypeNotFound:
		c.logger.WarnWithFields("advertiser not found", fields)
	case errs.ErrorTypeServerError:
		c.logger.WarnWithFields("server error", fields)
	default:
		c.logger.ErrorWithFields("unexpected API error", fields)
	}
	return fe
}

// parseRetryAfter reads a Retry-After header given either in seconds or as
// an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
