package ali

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hapshi-bot/internal/metrics"
	"hapshi-bot/internal/probe"

	"github.com/cenkalti/backoff/v4"
)

const (
	MethodProductQuery = "aliexpress.affiliate.product.query"
	MethodLinkGenerate = "aliexpress.affiliate.link.generate"

	defaultBaseURL  = "https://gw.api.taobao.com/router/rest"
	timestampLayout = "2006-01-02 15:04:05"
	errorMarker     = `"error_response"`
	maxBodyBytes    = 4 << 20
)

// Cache stores normalized search results between calls.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Config holds affiliate client configuration.
type Config struct {
	BaseURL        string
	AppKey         string
	AppSecret      string
	TrackingID     string
	SignMethod     string
	Currency       string
	Language       string
	PageSize       int
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	CacheTTL       time.Duration

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	// Now overrides the clock used for signed timestamps.
	Now func() time.Time
}

// Client issues signed calls against the affiliate gateway.
type Client struct {
	logger  *slog.Logger
	cfg     Config
	http    *http.Client
	metrics *metrics.Metrics
	cache   Cache
	now     func() time.Time
	loc     *time.Location
}

// SearchOptions narrows a product query. Zero values fall back to defaults.
type SearchOptions struct {
	PageNo   int
	PageSize int
	Sort     string
}

// New creates a new affiliate client. cache may be nil.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics, cache Cache) *Client {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.SignMethod == "" {
		cfg.SignMethod = SignMD5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 65 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 900 * time.Millisecond
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 40
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		logger:  logger.With("component", "ali"),
		cfg:     cfg,
		http:    httpClient,
		metrics: metrics,
		cache:   cache,
		now:     now,
		loc:     chinaLocation(),
	}
}

// Search runs a keyword product query and returns normalized products.
// An empty slice is a valid "no results" outcome.
func (c *Client) Search(ctx context.Context, keyword string, opts SearchOptions) ([]Product, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	keyword = strings.TrimSpace(keyword)
	if opts.PageNo <= 0 {
		opts.PageNo = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = c.cfg.PageSize
	}

	cacheKey := c.searchCacheKey(keyword, opts)
	if c.cache != nil && c.cfg.CacheTTL > 0 {
		var cached []Product
		ok, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("read search cache failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	params := Params{
		"keywords":        keyword,
		"page_no":         opts.PageNo,
		"page_size":       opts.PageSize,
		"target_currency": c.cfg.Currency,
		"target_language": c.cfg.Language,
		"tracking_id":     c.cfg.TrackingID,
		"sort":            opts.Sort,
	}
	doc, err := c.call(ctx, MethodProductQuery, params)
	if err != nil {
		return nil, err
	}
	products := ExtractProducts(doc)

	if c.cache != nil && c.cfg.CacheTTL > 0 && len(products) > 0 {
		if err := c.cache.SetJSON(ctx, cacheKey, products, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("set search cache failed", "error", err)
		}
	}
	return products, nil
}

// ResolveLinks converts source product URLs into promotion links in one
// batched call. URLs the gateway did not return are absent from the map.
func (c *Client) ResolveLinks(ctx context.Context, urls []string) (map[string]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	sources := uniqueNonEmpty(urls)
	if len(sources) == 0 {
		return map[string]string{}, nil
	}

	doc, err := c.call(ctx, MethodLinkGenerate, Params{
		"tracking_id":         c.cfg.TrackingID,
		"promotion_link_type": 0,
		"source_values":       strings.Join(sources, ","),
	})
	if err != nil {
		return nil, err
	}
	return ExtractLinks(doc), nil
}

func (c *Client) ready() error {
	if c.cfg.AppKey == "" || c.cfg.AppSecret == "" || c.cfg.TrackingID == "" {
		return ErrNotConfigured
	}
	return nil
}

// call signs the request, retries network-class failures with linear
// backoff and returns the decoded document.
func (c *Client) call(ctx context.Context, method string, extra Params) (any, error) {
	params := Params{
		"method":      method,
		"app_key":     c.cfg.AppKey,
		"sign_method": c.cfg.SignMethod,
		"timestamp":   c.now().In(c.loc).Format(timestampLayout),
		"format":      "json",
		"v":           "2.0",
	}
	for key, val := range extra {
		params[key] = val
	}
	params["sign"] = Sign(params, c.cfg.AppSecret, c.cfg.SignMethod)

	query := url.Values{}
	for key, val := range params {
		if str := canonical(val); str != "" {
			query.Set(key, str)
		}
	}

	var (
		body     []byte
		attempts int
	)
	operation := func() error {
		attempts++
		res, err := c.do(ctx, method, query)
		if err == nil {
			body = res
			return nil
		}
		if ctx.Err() == nil && isNetworkError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("ali call failed, retrying",
			"method", method,
			"attempt", attempts,
			"max_attempts", c.cfg.MaxAttempts,
			"next_delay", next,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.AffiliateRetries.WithLabelValues(method).Inc()
		}
	}

	var b backoff.BackOff = &linearBackOff{base: c.cfg.RetryBaseDelay}
	b = backoff.WithContext(b, ctx)
	b = backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1))

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if isNetworkError(err) {
			c.logger.Error("ali call exhausted retries", "method", method, "attempts", attempts, "error", err)
			return nil, &NetworkError{Method: method, Attempts: attempts, Err: err}
		}
		return nil, fmt.Errorf("ali %s: %w", method, err)
	}

	if bytes.Contains(body, []byte(errorMarker)) {
		return nil, &UpstreamError{Method: method, Snippet: snippet(body)}
	}
	doc, err := probe.Decode(body)
	if err != nil {
		return nil, &UpstreamError{Method: method, Snippet: "malformed response: " + snippet(body)}
	}
	return doc, nil
}

func (c *Client) do(ctx context.Context, method string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "hapshi-bot/ali-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.AffiliateRequests.WithLabelValues(method, "error").Inc()
		}
		return nil, fmt.Errorf("ali request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.AffiliateRequests.WithLabelValues(method, statusLabel).Inc()
		c.metrics.AffiliateLatency.WithLabelValues(method, statusLabel).Observe(time.Since(start).Seconds())
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return nil, &UpstreamError{Method: method, Status: res.StatusCode, Snippet: snippet(body)}
	}
	return body, nil
}

func (c *Client) searchCacheKey(keyword string, opts SearchOptions) string {
	raw := strings.Join([]string{
		strings.ToLower(keyword),
		c.cfg.Currency,
		c.cfg.Language,
		strconv.Itoa(opts.PageNo),
		strconv.Itoa(opts.PageSize),
		opts.Sort,
	}, "|")
	sum := md5.Sum([]byte(raw))
	return "ali:search:" + hex.EncodeToString(sum[:])
}

func chinaLocation() *time.Location {
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*60*60)
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
