package crawler

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrInvalidURL is returned for URLs that are not well-formed http(s) URLs
	ErrInvalidURL = errors.New("invalid URL")
	// ErrTimeout is the cause of a crawl that exceeded the site timeout
	ErrTimeout = errors.New("TIMEOUT")
	// ErrStoppedByUser is the cause of a crawl stopped on request
	ErrStoppedByUser = errors.New("Indexing stopped by user")
	// ErrBufferClosed is returned when a page is added after the crawl shut down
	ErrBufferClosed = errors.New("page buffer closed")
)

// Outcome is the result of one crawl task
type Outcome int

const (
	OutcomeFetched     Outcome = iota // page fetched and recorded
	OutcomeInvalidURL                 // URL failed validation
	OutcomeUnreachable                // transport error or rejected HTTP status
	OutcomeCancelled                  // crawl interrupted before or during the task
	OutcomeFailed                     // recording or indexing failed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFetched:
		return "fetched"
	case OutcomeInvalidURL:
		return "invalid_url"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CrawlStats counts task outcomes of one site crawl
type CrawlStats struct {
	Fetched     int64
	InvalidURL  int64
	Unreachable int64
	Cancelled   int64
	Failed      int64
}

type statsCounter struct {
	counts [OutcomeFailed + 1]atomic.Int64
}

func (s *statsCounter) record(o Outcome) {
	s.counts[o].Add(1)
}

func (s *statsCounter) add(o Outcome, n int64) {
	s.counts[o].Add(n)
}

func (s *statsCounter) snapshot() CrawlStats {
	return CrawlStats{
		Fetched:     s.counts[OutcomeFetched].Load(),
		InvalidURL:  s.counts[OutcomeInvalidURL].Load(),
		Unreachable: s.counts[OutcomeUnreachable].Load(),
		Cancelled:   s.counts[OutcomeCancelled].Load(),
		Failed:      s.counts[OutcomeFailed].Load(),
	}
}
