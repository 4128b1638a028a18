package search

import "errors"

var (
	// ErrEmptyQuery is returned for a query without text
	ErrEmptyQuery = errors.New("empty search query")
	// ErrSiteNotFound is returned when the query scope names an unknown site
	ErrSiteNotFound = errors.New("site not found")
)
