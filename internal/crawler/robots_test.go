package crawler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func init() {
	// Disable slog output during testing
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRobotsRules(t *testing.T) {
	robotsTxt := `
User-agent: *
Disallow: /admin/
Disallow: /private/
Allow: /private/public/
Disallow: /*?session=
`
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(robotsTxt))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	rules := NewRobotsRules(NewHTTPClient(testSettings()), "Test-Crawler/1.0")
	ctx := context.Background()

	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"root allowed", server.URL + "/", true},
		{"admin disallowed", server.URL + "/admin/page", false},
		{"private disallowed", server.URL + "/private/data", false},
		{"private public allowed", server.URL + "/private/public/page", true},
		{"query disallowed", server.URL + "/page?session=1", false},
		{"other path allowed", server.URL + "/blog/post", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, rules.Allowed(ctx, tt.url))
		})
	}
	assert.Equal(t, int32(1), fetches.Load(), "robots.txt is fetched once per host")
}

func TestRobotsRulesMissingFile(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	rules := NewRobotsRules(NewHTTPClient(testSettings()), "Test-Crawler/1.0")
	assert.True(t, rules.Allowed(context.Background(), server.URL+"/admin/page"))
}

func TestRobotsRulesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	settings := testSettings()
	settings.IgnoreHTTPErrors = false
	rules := NewRobotsRules(NewHTTPClient(settings), "Test-Crawler/1.0")
	assert.True(t, rules.Allowed(context.Background(), server.URL+"/page"))
}

func TestRobotsRulesUnreachableHost(t *testing.T) {
	rules := NewRobotsRules(NewHTTPClient(testSettings()), "Test-Crawler/1.0")
	assert.True(t, rules.Allowed(context.Background(), "http://127.0.0.1:1/page"))
	assert.False(t, rules.Allowed(context.Background(), "://bad"))
}
