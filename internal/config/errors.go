package config

import "errors"

var (
	// ErrNoSites is returned when no sites are configured
	ErrNoSites = errors.New("no sites configured")
	// ErrIncompleteSite is returned when a site lacks a name or url
	ErrIncompleteSite = errors.New("site must have a name and url")
	// ErrInvalidSiteURL is returned when a site url is not an absolute http(s) url
	ErrInvalidSiteURL = errors.New("site url must be an absolute http or https url")
	// ErrDuplicateSite is returned when two sites share a name
	ErrDuplicateSite = errors.New("duplicate site name")
	// ErrUnsupportedLanguage is returned for languages without a morphology analyzer
	ErrUnsupportedLanguage = errors.New("unsupported site language")
	// ErrInvalidBatchSize is returned when batch_size is not greater than 0
	ErrInvalidBatchSize = errors.New("batch_size must be greater than 0")
	// ErrInvalidWorkers is returned when crawl.workers is negative
	ErrInvalidWorkers = errors.New("crawl.workers cannot be negative")
	// ErrInvalidTimeout is returned when a timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout and site_timeout must be greater than 0")
	// ErrInvalidBM25 is returned when k1 is negative or b is outside [0, 1]
	ErrInvalidBM25 = errors.New("search.k1 must be >= 0 and search.b within [0, 1]")
	// ErrInvalidMostCommon is returned when most_common_lemmas is negative
	ErrInvalidMostCommon = errors.New("search.most_common_lemmas cannot be negative")
	// ErrEmptyDatabasePath is returned when database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
)
