package crawler

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsRules checks URLs against the robots.txt of their host.
// Rules are fetched once per host and cached.
type RobotsRules struct {
	fetcher   Fetcher
	userAgent string
	mu        sync.RWMutex
	groups    map[string]*robotstxt.Group // nil group allows everything
}

// NewRobotsRules creates robots.txt rules for userAgent
func NewRobotsRules(fetcher Fetcher, userAgent string) *RobotsRules {
	return &RobotsRules{
		fetcher:   fetcher,
		userAgent: userAgent,
		groups:    make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether rawURL may be crawled. Hosts whose robots.txt
// cannot be fetched or parsed allow everything.
func (r *RobotsRules) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	group := r.group(ctx, u.Scheme, u.Host)
	if group == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (r *RobotsRules) group(ctx context.Context, scheme, host string) *robotstxt.Group {
	r.mu.RLock()
	group, ok := r.groups[host]
	r.mu.RUnlock()
	if ok {
		return group
	}

	group = r.fetch(ctx, scheme, host)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.groups[host]; ok {
		return existing
	}
	r.groups[host] = group
	return group
}

func (r *RobotsRules) fetch(ctx context.Context, scheme, host string) *robotstxt.Group {
	robotsURL := scheme + "://" + host + "/robots.txt"

	status, body := 0, []byte(nil)
	resp, err := r.fetcher.Get(ctx, robotsURL)
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		status, body = resp.StatusCode, resp.Body
	case errors.As(err, &statusErr):
		status = statusErr.StatusCode
	default:
		slog.Debug("Failed to fetch robots.txt", "url", robotsURL, "error", err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		slog.Debug("Failed to parse robots.txt", "url", robotsURL, "error", err)
		return nil
	}
	return data.FindGroup(r.userAgent)
}
