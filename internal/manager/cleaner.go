package manager

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/masahif/lemmasearch/internal/crawler"
	"github.com/masahif/lemmasearch/internal/model"
)

const cleanerConcurrency = 4

// CleanerStorage is the storage used to drop indexed data
type CleanerStorage interface {
	ListSites(ctx context.Context) ([]*model.Site, error)
	SitesByURLs(ctx context.Context, urls []string) ([]*model.Site, error)
	SitesByStatus(ctx context.Context, status model.Status) ([]*model.Site, error)
	LemmaIDs(ctx context.Context, siteID int64, limit int) ([]int64, error)
	PageIDs(ctx context.Context, siteID int64, limit int) ([]int64, error)
	DeleteIndexesByLemmas(ctx context.Context, ids []int64) error
	DeleteIndexesByPages(ctx context.Context, ids []int64) error
	DeleteLemmas(ctx context.Context, ids []int64) error
	DeletePages(ctx context.Context, ids []int64) error
	DeleteSite(ctx context.Context, id int64) error
}

// DataCleaner drops the indexed data of sites before a new crawl
type DataCleaner struct {
	store     CleanerStorage
	visited   crawler.VisitedSet
	batchSize int
}

// NewDataCleaner creates a cleaner deleting rows in batches of batchSize
func NewDataCleaner(store CleanerStorage, visited crawler.VisitedSet, batchSize int) *DataCleaner {
	if batchSize < 1 {
		batchSize = 1
	}
	return &DataCleaner{store: store, visited: visited, batchSize: batchSize}
}

// Clean removes pages, lemmas and index rows of the configured sites and
// of sites left INDEXING, clears their visited-link sets and deletes the
// sites that are no longer configured
func (d *DataCleaner) Clean(ctx context.Context, configured []*model.Site) error {
	names := make(map[string]bool, len(configured))
	urls := make([]string, 0, len(configured))
	for _, site := range configured {
		names[site.Name] = true
		urls = append(urls, site.URL)
	}

	byURL, err := d.store.SitesByURLs(ctx, urls)
	if err != nil {
		return fmt.Errorf("failed to list configured sites: %w", err)
	}
	indexing, err := d.store.SitesByStatus(ctx, model.StatusIndexing)
	if err != nil {
		return fmt.Errorf("failed to list indexing sites: %w", err)
	}
	all, err := d.store.ListSites(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sites: %w", err)
	}

	targets := make(map[int64]*model.Site)
	for _, site := range append(byURL, indexing...) {
		if names[site.Name] {
			targets[site.ID] = site
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanerConcurrency)
	for _, site := range targets {
		g.Go(func() error {
			return d.clearSite(ctx, site)
		})
	}
	for _, site := range all {
		if names[site.Name] {
			continue
		}
		g.Go(func() error {
			return d.deleteSite(ctx, site)
		})
	}
	return g.Wait()
}

func (d *DataCleaner) clearSite(ctx context.Context, site *model.Site) error {
	for {
		ids, err := d.store.LemmaIDs(ctx, site.ID, d.batchSize)
		if err != nil {
			return fmt.Errorf("failed to clear lemmas of %s: %w", site.Name, err)
		}
		if len(ids) == 0 {
			break
		}
		if err := d.store.DeleteIndexesByLemmas(ctx, ids); err != nil {
			return fmt.Errorf("failed to clear index of %s: %w", site.Name, err)
		}
		if err := d.store.DeleteLemmas(ctx, ids); err != nil {
			return fmt.Errorf("failed to clear lemmas of %s: %w", site.Name, err)
		}
	}

	for {
		ids, err := d.store.PageIDs(ctx, site.ID, d.batchSize)
		if err != nil {
			return fmt.Errorf("failed to clear pages of %s: %w", site.Name, err)
		}
		if len(ids) == 0 {
			break
		}
		if err := d.store.DeleteIndexesByPages(ctx, ids); err != nil {
			return fmt.Errorf("failed to clear index of %s: %w", site.Name, err)
		}
		if err := d.store.DeletePages(ctx, ids); err != nil {
			return fmt.Errorf("failed to clear pages of %s: %w", site.Name, err)
		}
	}

	if err := d.visited.DeleteSet(site.Name); err != nil {
		return fmt.Errorf("failed to clear visited links of %s: %w", site.Name, err)
	}
	slog.Debug("Cleared site data", "site", site.Name)
	return nil
}

func (d *DataCleaner) deleteSite(ctx context.Context, site *model.Site) error {
	if err := d.store.DeleteSite(ctx, site.ID); err != nil {
		return fmt.Errorf("failed to delete site %s: %w", site.Name, err)
	}
	if err := d.visited.DeleteSet(site.Name); err != nil {
		return fmt.Errorf("failed to clear visited links of %s: %w", site.Name, err)
	}
	slog.Info("Deleted site no longer configured", "site", site.Name, "url", site.URL)
	return nil
}
