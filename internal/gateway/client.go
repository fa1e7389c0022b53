package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/strrl/sensor-chat/internal/sensors"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRetries   = 3
	defaultRetryWait = 500 * time.Millisecond
	defaultPageSize  = 200
	defaultMaxPages  = 20
)

type Config struct {
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
	PageSize  int
	MaxPages  int
	// ServerSideFilter sends device_id to the gateway. Client-side filtering
	// is applied either way since the endpoint has ignored it in the past.
	ServerSideFilter bool
	UserAgent        string
}

type Client struct {
	http     *resty.Client
	resolver *Resolver
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewClient(resolver *Resolver, cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sensor-chat/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryWait).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		})

	return &Client{
		http:     httpClient,
		resolver: resolver,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Fetch retrieves readings for q. Standard queries issue one request;
// paginated queries advance an offset until the cap is reached or the
// gateway runs out of new records.
func (c *Client) Fetch(ctx context.Context, q Query) (*Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = c.config.PageSize
	}

	result := &Result{
		Method: "standard",
		Source: "gateway",
	}

	if !q.Paginated {
		page, err := c.fetchPage(ctx, q, min(limit, c.config.PageSize), 0, false)
		if err != nil {
			return nil, err
		}
		result.Pages = 1
		result.Skipped = page.Skipped
		result.Readings = page.Readings
	} else {
		result.Method = "paginated"
		if err := c.fetchPaginated(ctx, q, limit, result); err != nil {
			return nil, err
		}
	}

	result.Readings = sensors.FilterDevice(result.Readings, q.DeviceID)
	sensors.SortNewestFirst(result.Readings)
	if len(result.Readings) > limit {
		result.Readings = result.Readings[:limit]
	}
	result.FetchedAt = c.now()

	c.logger.Debug("Gateway fetch complete",
		zap.String("method", result.Method),
		zap.String("device_id", q.DeviceID),
		zap.Int("pages", result.Pages),
		zap.Int("readings", len(result.Readings)),
		zap.Int("skipped", result.Skipped))

	return result, nil
}

func (c *Client) fetchPaginated(ctx context.Context, q Query, maxRecords int, result *Result) error {
	seen := make(map[string]bool)
	offset := 0

	for len(result.Readings) < maxRecords && result.Pages < c.config.MaxPages {
		pageLimit := min(c.config.PageSize, maxRecords-len(result.Readings))

		page, err := c.fetchPage(ctx, q, pageLimit, offset, true)
		if err != nil {
			if result.Pages > 0 {
				// Keep what earlier pages delivered.
				c.logger.Warn("Pagination stopped early", zap.Int("offset", offset), zap.Error(err))
				return nil
			}
			return err
		}
		result.Pages++
		result.Skipped += page.Skipped

		if page.Raw == 0 {
			break
		}

		added := 0
		for _, r := range page.Readings {
			key := r.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			result.Readings = append(result.Readings, r)
			added++
		}

		if added == 0 {
			break
		}
		offset += page.Raw
		if page.Raw < pageLimit {
			break
		}
	}

	return nil
}

func (c *Client) fetchPage(ctx context.Context, q Query, limit, offset int, paginated bool) (*payload, error) {
	params := map[string]string{"limit": strconv.Itoa(limit)}
	if paginated {
		params["offset"] = strconv.Itoa(offset)
	}
	if q.Hours > 0 {
		params["hours"] = strconv.Itoa(q.Hours)
	}
	if q.DeviceID != "" && c.config.ServerSideFilter {
		params["device_id"] = q.DeviceID
	}

	body, err := c.get(ctx, "/data", params)
	if err != nil {
		return nil, err
	}

	p, err := decodePayload(body)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			remote.Op = "GET"
			remote.URL = c.resolver.Current() + "/data"
			return nil, remote
		}
		return nil, &RemoteError{Op: "GET", URL: c.resolver.Current() + "/data", Malformed: true, Err: err}
	}
	return p, nil
}

// get performs one GET against the current base URL. On a transport failure
// the cached URL is dropped and the request is retried once against a freshly
// resolved URL.
func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	body, err := c.getOnce(ctx, path, params)
	if err == nil {
		return body, nil
	}

	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Status != 0 {
		return nil, err
	}

	previous := c.resolver.Current()
	c.resolver.Invalidate()
	current, rerr := c.resolver.BaseURL(ctx)
	if rerr != nil || current == previous {
		return nil, err
	}

	c.logger.Info("Retrying against rotated gateway URL", zap.String("previous", previous), zap.String("url", current))
	return c.getOnce(ctx, path, params)
}

func (c *Client) getOnce(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	base, err := c.resolver.BaseURL(ctx)
	if err != nil {
		return nil, &RemoteError{Op: "resolve", Err: err}
	}
	url := base + path

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RemoteError{Op: "GET", URL: url, Err: err}
	}

	if !resp.IsSuccess() {
		return nil, &RemoteError{Op: "GET", URL: url, Status: resp.StatusCode(), Message: truncateBody(resp.String())}
	}

	return resp.Body(), nil
}

// Probe checks the gateway /health endpoint.
func (c *Client) Probe(ctx context.Context) (string, time.Duration, error) {
	start := c.now()
	_, err := c.get(ctx, "/health", nil)
	return c.resolver.Current(), c.now().Sub(start), err
}

func truncateBody(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

var _ Source = (*Client)(nil)

func (c *Client) String() string {
	return fmt.Sprintf("gateway(%s)", c.resolver.Current())
}
