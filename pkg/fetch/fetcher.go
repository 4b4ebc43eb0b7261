package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/singleflight"

	"gallery2disk/pkg/utils"
)

// Fetcher retrieves the content of a URL.
// A failed or previously failed fetch returns an error wrapping utils.ErrFetchFailed.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values, mode Mode) ([]byte, error)
}

// CachedFetcher serves requests from a DiskCache and falls back to one rate-limited
// network request per key. Both successes and failures are cached permanently.
type CachedFetcher struct {
	client    *http.Client
	cache     *DiskCache
	limiter   *RateLimiter
	userAgent string
	group     singleflight.Group // collapses concurrent misses on the same key

	networkCalls atomic.Int64
	cacheHits    atomic.Int64

	log *logrus.Entry
}

// NewCachedFetcher creates a CachedFetcher
func NewCachedFetcher(client *http.Client, cache *DiskCache, limiter *RateLimiter, userAgent string, log *logrus.Entry) *CachedFetcher {
	return &CachedFetcher{
		client:    client,
		cache:     cache,
		limiter:   limiter,
		userAgent: userAgent,
		log:       log,
	}
}

// Fetch returns the content for rawURL with params appended to its query.
// A cache hit is returned without touching the network or the rate limiter.
func (f *CachedFetcher) Fetch(ctx context.Context, rawURL string, params url.Values, mode Mode) ([]byte, error) {
	key := CacheKey(rawURL, params, mode)
	reqLog := f.log.WithFields(logrus.Fields{"url": rawURL, "key": key, "mode": mode})

	if data, hit, err := f.lookup(key, reqLog); hit || err != nil {
		return data, err
	}

	v, err, shared := f.group.Do(key, func() (any, error) {
		// Another caller may have filled the entry while this one waited
		if data, hit, err := f.lookup(key, reqLog); hit || err != nil {
			return data, err
		}
		return f.fetchNetwork(ctx, key, rawURL, params, mode, reqLog)
	})
	if shared {
		reqLog.Debug("Joined in-flight fetch")
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// NetworkCalls returns how many requests reached the network
func (f *CachedFetcher) NetworkCalls() int64 {
	return f.networkCalls.Load()
}

// CacheHits returns how many requests were served from the cache
func (f *CachedFetcher) CacheHits() int64 {
	return f.cacheHits.Load()
}

func (f *CachedFetcher) lookup(key string, reqLog *logrus.Entry) ([]byte, bool, error) {
	data, hit, err := f.cache.Get(key)
	if err != nil || !hit {
		return nil, false, err
	}
	f.cacheHits.Add(1)
	if len(data) == 0 {
		reqLog.Debug("Cache hit (negative)")
		return nil, true, fmt.Errorf("%w: cached negative result", utils.ErrFetchFailed)
	}
	reqLog.Debug("Cache hit")
	return data, true, nil
}

func (f *CachedFetcher) fetchNetwork(ctx context.Context, key, rawURL string, params url.Values, mode Mode, reqLog *logrus.Entry) ([]byte, error) {
	reqURL := withParams(rawURL, params)

	var body []byte
	err := f.limiter.Do(ctx, func() error {
		f.networkCalls.Add(1)
		var reqErr error
		body, reqErr = f.request(ctx, reqURL, mode, reqLog)
		return reqErr
	})

	if err != nil {
		// Cancellation says nothing about the resource, so it is not remembered
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !errors.Is(err, utils.ErrFetchFailed) {
			return nil, err
		}
		reqLog.WithField("error_type", utils.CategorizeError(err)).Debugf("Fetch failed, caching negative entry: %v", err)
		if putErr := f.cache.Put(key, nil); putErr != nil {
			return nil, putErr
		}
		return nil, err
	}

	if err := f.cache.Put(key, body); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		// Reads back as a negative entry, so report it as one now too
		return nil, fmt.Errorf("%w: empty response body", utils.ErrFetchFailed)
	}
	return body, nil
}

func (f *CachedFetcher) request(ctx context.Context, reqURL string, mode Mode, reqLog *logrus.Entry) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	reqLog.Debug("Fetching from network")
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	switch {
	case statusCode >= 200 && statusCode < 300:
	case statusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %w: status %s", utils.ErrFetchFailed, utils.ErrServerHTTPError, resp.Status)
	case statusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %w: status %s", utils.ErrFetchFailed, utils.ErrClientHTTPError, resp.Status)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %w: status %s", utils.ErrFetchFailed, utils.ErrOtherHTTPError, resp.Status)
	}

	var reader io.Reader = resp.Body
	if mode == ModeText {
		decoded, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w: decoding charset: %w", utils.ErrFetchFailed, utils.ErrResponseBodyRead, err)
		}
		reader = decoded
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w: %w", utils.ErrFetchFailed, utils.ErrResponseBodyRead, err)
	}
	reqLog.WithFields(logrus.Fields{"status_code": statusCode, "bytes": len(body)}).Debug("Fetched")
	return body, nil
}

// withParams appends the encoded params to rawURL's query
func withParams(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + params.Encode()
}
