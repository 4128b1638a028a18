// Package config provides configuration management for the search engine.
// It defines the site list, crawl, search and logging parameters and their defaults.
package config

import (
	"net/url"
	"strings"
	"time"
)

// Supported site languages
const (
	LanguageEnglish = "english"
	LanguageRussian = "russian"
)

// SiteConfig describes one site to crawl and index
type SiteConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`         // Stable site identifier
	URL      string `mapstructure:"url" yaml:"url"`           // Root URL of the site
	Language string `mapstructure:"language" yaml:"language"` // Language of the site content
}

// CrawlSettings holds fetch and worker pool parameters
type CrawlSettings struct {
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`                 // HTTP User-Agent header
	Referrer         string        `mapstructure:"referrer" yaml:"referrer"`                     // HTTP Referer header
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`       // HTTP request timeout
	FollowRedirects  bool          `mapstructure:"follow_redirects" yaml:"follow_redirects"`     // Follow HTTP redirects
	IgnoreHTTPErrors bool          `mapstructure:"ignore_http_errors" yaml:"ignore_http_errors"` // Record 4xx/5xx pages instead of failing the task
	MaxBodySize      int64         `mapstructure:"max_body_size" yaml:"max_body_size"`           // Maximum response body size in bytes
	StaggerDelay     time.Duration `mapstructure:"stagger_delay" yaml:"stagger_delay"`           // Delay between child task submissions
	SiteTimeout      time.Duration `mapstructure:"site_timeout" yaml:"site_timeout"`             // Ceiling for one site's crawl
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`         // Grace period for a cancelled pool
	Workers          int           `mapstructure:"workers" yaml:"workers"`                       // Pool size per site, 0 means number of CPUs
	RespectRobots    bool          `mapstructure:"respect_robots" yaml:"respect_robots"`         // Whether to respect robots.txt
}

// SearchSettings holds ranking and snippet parameters
type SearchSettings struct {
	K1               float64 `mapstructure:"k1" yaml:"k1"`                                 // BM25 term frequency saturation
	B                float64 `mapstructure:"b" yaml:"b"`                                   // BM25 length normalization
	MostCommonLemmas int     `mapstructure:"most_common_lemmas" yaml:"most_common_lemmas"` // Lemmas ignored in queries
	SnippetLength    int     `mapstructure:"snippet_length" yaml:"snippet_length"`         // Snippet character budget
	SentenceLength   int     `mapstructure:"sentence_length" yaml:"sentence_length"`       // Max characters per snippet sentence
	DefaultLimit     int     `mapstructure:"default_limit" yaml:"default_limit"`           // Results per page when no limit is given
}

// MorphologySettings holds additional closed-class words per language
type MorphologySettings struct {
	ClosedClass map[string][]string `mapstructure:"closed_class" yaml:"closed_class"`
}

// LogSettings holds logging configuration
type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json or text
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int64  `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Console    bool   `mapstructure:"console" yaml:"console"`
}

// ServerSettings holds HTTP API configuration
type ServerSettings struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config is the complete application configuration
type Config struct {
	Sites             []SiteConfig `mapstructure:"sites" yaml:"sites"`                             // Sites to crawl
	ForbiddenURLTypes []string     `mapstructure:"forbidden_url_types" yaml:"forbidden_url_types"` // Substrings that exclude a link
	BatchSize         int          `mapstructure:"batch_size" yaml:"batch_size"`                   // Page buffer, index row and delete batch size

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // Path to SQLite database file
	CachePath    string `mapstructure:"cache_path" yaml:"cache_path"`       // Badger directory, empty for in-memory

	Crawl      CrawlSettings      `mapstructure:"crawl" yaml:"crawl"`
	Search     SearchSettings     `mapstructure:"search" yaml:"search"`
	Morphology MorphologySettings `mapstructure:"morphology" yaml:"morphology"`
	Log        LogSettings        `mapstructure:"log" yaml:"log"`
	Server     ServerSettings     `mapstructure:"server" yaml:"server"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ForbiddenURLTypes: []string{
			".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".zip",
			".doc", ".docx", ".xls", ".xlsx", ".mp3", ".mp4",
			"mailto:", "tel:", "javascript:",
		},
		BatchSize:    100,
		DatabasePath: "./lemmasearch.db",
		CachePath:    "./lemmasearch-cache",
		Crawl: CrawlSettings{
			UserAgent:        "LemmaSearchBot/1.0",
			Referrer:         "https://www.google.com",
			RequestTimeout:   30 * time.Second,
			FollowRedirects:  true,
			IgnoreHTTPErrors: true,
			MaxBodySize:      10 * 1024 * 1024,
			StaggerDelay:     100 * time.Millisecond,
			SiteTimeout:      5 * time.Hour,
			ShutdownGrace:    time.Minute,
		},
		Search: SearchSettings{
			K1:               1.2,
			B:                0.75,
			MostCommonLemmas: 20,
			SnippetLength:    300,
			SentenceLength:   120,
			DefaultLimit:     20,
		},
		Log: LogSettings{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			Console:    true,
		},
		Server: ServerSettings{
			Addr: ":8080",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Sites) == 0 {
		return ErrNoSites
	}

	names := make(map[string]struct{}, len(c.Sites))
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" || site.URL == "" {
			return ErrIncompleteSite
		}
		u, err := url.Parse(site.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidSiteURL
		}
		site.URL = strings.TrimRight(site.URL, "/")
		if site.Language == "" {
			site.Language = LanguageEnglish
		}
		site.Language = strings.ToLower(site.Language)
		if site.Language != LanguageEnglish && site.Language != LanguageRussian {
			return ErrUnsupportedLanguage
		}
		if _, dup := names[site.Name]; dup {
			return ErrDuplicateSite
		}
		names[site.Name] = struct{}{}
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.Crawl.Workers < 0 {
		return ErrInvalidWorkers
	}

	if c.Crawl.RequestTimeout <= 0 || c.Crawl.SiteTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Crawl.StaggerDelay < 0 {
		c.Crawl.StaggerDelay = 0
	}

	if c.Search.K1 < 0 || c.Search.B < 0 || c.Search.B > 1 {
		return ErrInvalidBM25
	}

	if c.Search.MostCommonLemmas < 0 {
		return ErrInvalidMostCommon
	}

	if c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}

	return nil
}

// Site returns the configured site whose URL is a prefix of rawURL
func (c *Config) Site(rawURL string) (SiteConfig, bool) {
	for _, site := range c.Sites {
		root := strings.TrimRight(site.URL, "/")
		if rawURL == root || strings.HasPrefix(rawURL, root+"/") {
			return site, true
		}
	}
	return SiteConfig{}, false
}
