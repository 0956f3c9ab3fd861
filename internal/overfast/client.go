// Package overfast fetches player documents from the OverFast stats API.
package overfast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/models"
)

const (
	userAgent       = "owmeta-stats-api/1.0"
	maxResponseSize = 8 << 20
)

var (
	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "owstats_fetch_attempts_total",
		Help: "Upstream HTTP attempts by outcome",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "owstats_fetch_duration_seconds",
		Help:    "Duration of a full fetch including retries",
		Buckets: prometheus.DefBuckets,
	})
)

// Acquirer gates outbound requests.
type Acquirer interface {
	Acquire(ctx context.Context)
}

// ClientConfig configures the upstream client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	Gate       Acquirer
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client performs rate-limited GETs against the upstream API.
type Client struct {
	baseURL    string
	http       *http.Client
	gate       Acquirer
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.SugaredLogger
}

// NewClient creates a client. Every attempt, retries included, passes the gate.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		http:       cfg.HTTPClient,
		gate:       cfg.Gate,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		logger:     cfg.Logger.Sugar(),
	}
}

// FetchPlayer returns the raw player document. Rate-limited and transient
// failures are retried with exponential backoff (base, 2*base, 4*base, ...);
// not-found and malformed responses are returned immediately.
func (c *Client) FetchPlayer(ctx context.Context, battletag string) ([]byte, error) {
	endpoint := c.baseURL + "/players/" + url.PathEscape(models.URLBattletag(battletag))

	start := time.Now()
	defer func() { fetchDuration.Observe(time.Since(start).Seconds()) }()

	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.baseDelay))

	var body []byte
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		b, err := c.get(ctx, endpoint, battletag)
		if err != nil {
			if Retryable(err) {
				c.logger.Warnw("upstream fetch failed, will retry",
					"battletag", battletag, "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		// Context cancellation during a backoff wait surfaces unclassified.
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Kind: ErrTransient, Battletag: battletag, Err: err}
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, endpoint, battletag string) ([]byte, error) {
	if c.gate != nil {
		c.gate.Acquire(ctx)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		fetchAttempts.WithLabelValues("transport_error").Inc()
		return nil, &FetchError{Kind: ErrTransient, Battletag: battletag, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		fetchAttempts.WithLabelValues("not_found").Inc()
		return nil, &FetchError{Kind: ErrNotFound, Battletag: battletag, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		fetchAttempts.WithLabelValues("rate_limited").Inc()
		return nil, &FetchError{Kind: ErrRateLimited, Battletag: battletag, Status: resp.StatusCode}
	case resp.StatusCode >= 500:
		fetchAttempts.WithLabelValues("server_error").Inc()
		return nil, &FetchError{Kind: ErrTransient, Battletag: battletag, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		// Upstream rejects unknown or badly formatted battletags with 4xx.
		fetchAttempts.WithLabelValues("rejected").Inc()
		return nil, &FetchError{Kind: ErrNotFound, Battletag: battletag, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		fetchAttempts.WithLabelValues("transport_error").Inc()
		return nil, &FetchError{Kind: ErrTransient, Battletag: battletag, Status: resp.StatusCode, Err: err}
	}
	if !json.Valid(body) {
		fetchAttempts.WithLabelValues("malformed").Inc()
		return nil, &FetchError{Kind: ErrMalformed, Battletag: battletag, Status: resp.StatusCode,
			Err: fmt.Errorf("%d byte body is not JSON", len(body))}
	}

	fetchAttempts.WithLabelValues("ok").Inc()
	return body, nil
}

// SearchResult is one upstream player search hit.
type SearchResult struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

type searchResponse struct {
	Total   int            `json:"total"`
	Results []SearchResult `json:"results"`
}

// SearchPlayers queries upstream player search. It is not retried.
func (c *Client) SearchPlayers(ctx context.Context, name string, limit int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, c.baseURL+"/players?"+q.Encode(), name)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{Kind: ErrMalformed, Battletag: name, Err: err}
	}
	return resp.Results, nil
}
