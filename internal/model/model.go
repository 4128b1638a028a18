// Package model defines the persistent entities shared by the crawler,
// the indexing pipeline and the query engine.
package model

import "time"

// Status is the lifecycle state of a site crawl
type Status string

const (
	StatusIndexing Status = "INDEXING"
	StatusIndexed  Status = "INDEXED"
	StatusFailed   Status = "FAILED"
)

// MaxPathLength is the longest page path that is persisted
const MaxPathLength = 1000

// Site is one configured website
type Site struct {
	ID         int64
	URL        string
	Name       string
	Language   string
	Status     Status
	StatusTime time.Time
	LastError  string
}

// Page is a fetched document of a site, unique per (site, path)
type Page struct {
	ID            int64
	SiteID        int64
	Path          string
	HTTPStatus    int
	Content       string
	ContentLength int
}

// IsError reports whether the page was answered with a 4xx or 5xx status
func (p *Page) IsError() bool {
	return p.HTTPStatus >= 400
}

// Lemma is a root form of a site. Frequency is the number of distinct
// pages of the site containing it.
type Lemma struct {
	ID        int64
	SiteID    int64
	Text      string
	Frequency int
}

// LemmaCount is the number of occurrences of a lemma in one text. Stored
// for a page it is the lemma's rank on that page.
type LemmaCount struct {
	Text  string
	Count int
}

// SiteStatistics is the per-site part of Statistics
type SiteStatistics struct {
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	StatusTime time.Time `json:"statusTime"`
	Error      string    `json:"error,omitempty"`
	Pages      int       `json:"pages"`
	Lemmas     int       `json:"lemmas"`
}

// TotalStatistics aggregates all sites
type TotalStatistics struct {
	Sites    int  `json:"sites"`
	Pages    int  `json:"pages"`
	Lemmas   int  `json:"lemmas"`
	Indexing bool `json:"indexing"`
}

// Statistics is the index overview served to operators
type Statistics struct {
	Total    TotalStatistics  `json:"total"`
	Detailed []SiteStatistics `json:"detailed"`
}
