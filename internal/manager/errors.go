package manager

import "errors"

var (
	// ErrIndexingInProgress is returned when a crawl or page job is already running
	ErrIndexingInProgress = errors.New("indexing is already running")
	// ErrNotIndexing is returned by a stop request while nothing runs
	ErrNotIndexing = errors.New("indexing is not running")
	// ErrSiteNotConfigured is returned for a page outside every configured site
	ErrSiteNotConfigured = errors.New("page is outside the configured sites")
	// ErrPageUnavailable is returned when a page to index cannot be fetched
	ErrPageUnavailable = errors.New("page is unavailable")
)
