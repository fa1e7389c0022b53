package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultResolveTTL = 5 * time.Minute

var errNoBaseURL = errors.New("gateway: no base URL configured")

// ResolveFunc produces the current gateway base URL. The URL rotates when the
// tunnel restarts, so it is looked up again after the TTL or a failure.
type ResolveFunc func(ctx context.Context) (string, error)

func StaticURL(url string) ResolveFunc {
	return func(context.Context) (string, error) {
		if url == "" {
			return "", errNoBaseURL
		}
		return url, nil
	}
}

// EnvURL re-reads the environment on every resolution.
func EnvURL(key, fallback string) ResolveFunc {
	return func(context.Context) (string, error) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, nil
		}
		if fallback == "" {
			return "", fmt.Errorf("%w: %s is empty", errNoBaseURL, key)
		}
		return fallback, nil
	}
}

// FileURL reads the URL written by the external discovery job. The file holds
// either a bare URL or a JSON object with a "url" or "base_url" field.
func FileURL(path string) ResolveFunc {
	return func(context.Context) (string, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read gateway URL file: %w", err)
		}
		content := strings.TrimSpace(string(raw))
		if strings.HasPrefix(content, "{") {
			var doc struct {
				URL     string `json:"url"`
				BaseURL string `json:"base_url"`
			}
			if err := json.Unmarshal([]byte(content), &doc); err != nil {
				return "", fmt.Errorf("failed to parse gateway URL file: %w", err)
			}
			content = doc.URL
			if content == "" {
				content = doc.BaseURL
			}
		}
		if content == "" {
			return "", fmt.Errorf("%w: %s is empty", errNoBaseURL, path)
		}
		return content, nil
	}
}

// FirstOf tries each resolver in order.
func FirstOf(fns ...ResolveFunc) ResolveFunc {
	return func(ctx context.Context) (string, error) {
		var errs []error
		for _, fn := range fns {
			url, err := fn(ctx)
			if err == nil {
				return url, nil
			}
			errs = append(errs, err)
		}
		return "", errors.Join(errs...)
	}
}

type Resolver struct {
	resolve ResolveFunc
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu        sync.Mutex
	url       string
	fetchedAt time.Time
	group     singleflight.Group
}

func NewResolver(fn ResolveFunc, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		resolve: fn,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

func (r *Resolver) BaseURL(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.url != "" && r.now().Sub(r.fetchedAt) < r.ttl {
		url := r.url
		r.mu.Unlock()
		return url, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("resolve", func() (interface{}, error) {
		url, err := r.resolve(ctx)
		if err != nil {
			return "", err
		}
		url = strings.TrimRight(strings.TrimSpace(url), "/")

		r.mu.Lock()
		previous := r.url
		r.url = url
		r.fetchedAt = r.now()
		r.mu.Unlock()

		if previous != url {
			r.logger.Info("Gateway base URL resolved", zap.String("url", url), zap.String("previous", previous))
		}
		return url, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve gateway URL: %w", err)
	}
	return v.(string), nil
}

// Invalidate forces the next BaseURL call to resolve again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchedAt = time.Time{}
}

// Current returns the cached URL without resolving.
func (r *Resolver) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}
