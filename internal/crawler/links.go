package crawler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`^(https?)://[-a-zA-Z0-9+&@#/%?=~_|!:,.;]*[-a-zA-Z0-9+&@#/%=~_|]`)

// ValidateURL checks that rawURL is a well-formed http(s) URL
func ValidateURL(rawURL string) error {
	if !urlPattern.MatchString(rawURL) {
		return fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidURL, rawURL, err)
	}
	return nil
}

// PagePath returns the escaped path and query of rawURL, "/" for the root
func PagePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidURL, rawURL, err)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}

// LinkFilter decides which links of a page belong to the crawl of a site
type LinkFilter struct {
	origin    string
	root      string
	forbidden []string
	robots    *RobotsRules
}

// NewLinkFilter creates a filter for the site at siteURL. Links containing
// any forbidden substring are rejected. robots may be nil.
func NewLinkFilter(siteURL string, forbidden []string, robots *RobotsRules) (*LinkFilter, error) {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, siteURL)
	}

	lowered := make([]string, 0, len(forbidden))
	for _, f := range forbidden {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			lowered = append(lowered, f)
		}
	}

	return &LinkFilter{
		origin:    u.Scheme + "://" + strings.ToLower(u.Host),
		root:      strings.TrimSuffix(siteURL, "/"),
		forbidden: lowered,
		robots:    robots,
	}, nil
}

// Allow reports whether link, found on the page at current, should be crawled
func (f *LinkFilter) Allow(ctx context.Context, current, link string) bool {
	u, err := url.Parse(link)
	if err != nil || !u.IsAbs() {
		return false
	}
	if u.Scheme+"://"+strings.ToLower(u.Host) != f.origin {
		return false
	}

	trimmed := strings.TrimSuffix(link, "/")
	if trimmed == f.root || trimmed == strings.TrimSuffix(current, "/") {
		return false
	}

	lower := strings.ToLower(link)
	for _, sub := range f.forbidden {
		if strings.Contains(lower, sub) {
			return false
		}
	}

	if f.robots != nil && !f.robots.Allowed(ctx, link) {
		return false
	}
	return true
}
