package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/masahif/lemmasearch/internal/config"
)

const maxRedirects = 10

// HTTPClient fetches pages with the configured identity and error tolerance
type HTTPClient struct {
	client           *http.Client
	userAgent        string
	referrer         string
	ignoreHTTPErrors bool
	maxBodySize      int64
}

// HTTPMetrics contains timing of one request
type HTTPMetrics struct {
	TTFB         time.Duration // Time to First Byte
	DownloadTime time.Duration // Total download time
}

// HTTPResponse contains the response and metrics
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Metrics    HTTPMetrics
	FinalURL   string // After following redirects
}

// HTTPStatusError is returned for 4xx and 5xx responses when HTTP errors
// are not ignored
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// NewHTTPClient creates an HTTP client from the crawl settings
func NewHTTPClient(settings config.CrawlSettings) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	followRedirects := settings.FollowRedirects
	client := &http.Client{
		Transport: transport,
		Timeout:   settings.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !followRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}

	return &HTTPClient{
		client:           client,
		userAgent:        settings.UserAgent,
		referrer:         settings.Referrer,
		ignoreHTTPErrors: settings.IgnoreHTTPErrors,
		maxBodySize:      settings.MaxBodySize,
	}
}

// Get performs an HTTP GET request. Transport failures are returned as
// errors; HTTP error statuses are returned as responses unless the client
// does not ignore HTTP errors, in which case an *HTTPStatusError is returned.
func (h *HTTPClient) Get(ctx context.Context, url string) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if h.referrer != "" {
		req.Header.Set("Referer", h.referrer)
	}

	var firstByte time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && !h.ignoreHTTPErrors {
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if h.maxBodySize > 0 {
		body = io.LimitReader(resp.Body, h.maxBodySize)
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var metrics HTTPMetrics
	if !firstByte.IsZero() {
		metrics.TTFB = firstByte.Sub(start)
	}
	metrics.DownloadTime = time.Since(start)

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       content,
		Metrics:    metrics,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// Close closes idle connections
func (h *HTTPClient) Close() {
	h.client.CloseIdleConnections()
}
