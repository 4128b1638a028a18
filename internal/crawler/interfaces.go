package crawler

import (
	"context"

	"github.com/masahif/lemmasearch/internal/model"
)

// Fetcher downloads one URL
type Fetcher interface {
	Get(ctx context.Context, url string) (*HTTPResponse, error)
}

// VisitedSet records the links of a site crawl. AddToSet reports whether
// the member was newly added.
type VisitedSet interface {
	AddToSet(set, member string) (bool, error)
	DeleteSet(set string) error
}

// Storage persists crawled pages and the site status
type Storage interface {
	SavePages(ctx context.Context, pages []*model.Page) error
	TouchSite(ctx context.Context, id int64) error
	MarkSiteIndexedIfIndexing(ctx context.Context, id int64) (bool, error)
	MarkSiteFailedIfIndexing(ctx context.Context, id int64, reason string) (bool, error)
}

// PageIndexer extracts the lemmas of saved pages
type PageIndexer interface {
	IndexNewPage(ctx context.Context, site *model.Site, page *model.Page) error
	ReindexPage(ctx context.Context, site *model.Site, page *model.Page) error
}
