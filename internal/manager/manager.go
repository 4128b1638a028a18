// Package manager runs crawls of the configured sites, single-page
// indexing requests and reports index statistics.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/masahif/lemmasearch/internal/config"
	"github.com/masahif/lemmasearch/internal/crawler"
	"github.com/masahif/lemmasearch/internal/model"
	"github.com/masahif/lemmasearch/internal/storage"
)

// Storage is the persistence used by the manager
type Storage interface {
	crawler.Storage
	CleanerStorage
	UpsertSite(ctx context.Context, site *model.Site) error
	SiteByName(ctx context.Context, name string) (*model.Site, error)
	PageByPath(ctx context.Context, siteID int64, path string) (*model.Page, error)
	UpdatePage(ctx context.Context, page *model.Page) error
	Statistics(ctx context.Context) ([]model.SiteStatistics, error)
}

// Invalidator drops cached query results of sites
type Invalidator interface {
	Invalidate(ctx context.Context, siteNames ...string) error
}

// Deps holds the collaborators of a Manager
type Deps struct {
	Storage     Storage
	Visited     crawler.VisitedSet
	Fetcher     crawler.Fetcher
	Indexer     crawler.PageIndexer
	Invalidator Invalidator
	Robots      *crawler.RobotsRules // nil disables robots.txt checks
}

// Manager owns the crawl lifecycle. At most one indexing run and one
// single-page job exist at a time.
type Manager struct {
	cfg     *config.Config
	deps    Deps
	cleaner *DataCleaner

	indexing atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelCauseFunc
	done     chan struct{}

	pagePool *ants.Pool
	pageMu   sync.Mutex
	pageJob  *pageJob
}

// New creates a manager for the configured sites
func New(cfg *config.Config, deps Deps) (*Manager, error) {
	pool, err := ants.NewPool(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create page pool: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		deps:     deps,
		cleaner:  NewDataCleaner(deps.Storage, deps.Visited, cfg.BatchSize),
		pagePool: pool,
	}, nil
}

// Close stops running work and releases the page pool
func (m *Manager) Close() {
	m.stopPageJob()
	if err := m.StopIndexing(context.Background()); err != nil && !errors.Is(err, ErrNotIndexing) {
		slog.Warn("Failed to stop indexing", "error", err)
	}
	_ = m.Wait(context.Background())
	m.pagePool.Release()
}

// IsIndexing reports whether a crawl run is in progress
func (m *Manager) IsIndexing() bool {
	return m.indexing.Load()
}

// StartIndexing marks every configured site INDEXING and crawls them in
// the background. The run is independent of ctx's cancellation.
func (m *Manager) StartIndexing(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.indexing.CompareAndSwap(false, true) {
		return ErrIndexingInProgress
	}

	runID := uuid.NewString()
	logger := slog.With("run", runID)

	sites, err := m.prepareSites(ctx)
	if err != nil {
		m.indexing.Store(false)
		return err
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	logger.Info("Indexing started", "sites", len(sites))
	go func() {
		defer close(done)
		defer m.indexing.Store(false)
		defer cancel(nil)

		start := time.Now()
		m.run(runCtx, logger, sites)
		m.invalidate(context.WithoutCancel(runCtx), sites)
		logger.Info("Indexing finished", "duration", time.Since(start))
	}()
	return nil
}

func (m *Manager) prepareSites(ctx context.Context) ([]*model.Site, error) {
	sites := make([]*model.Site, 0, len(m.cfg.Sites))
	for _, sc := range m.cfg.Sites {
		site := &model.Site{
			Name:       sc.Name,
			URL:        sc.URL,
			Language:   sc.Language,
			Status:     model.StatusIndexing,
			StatusTime: time.Now(),
		}
		if err := m.deps.Storage.UpsertSite(ctx, site); err != nil {
			return nil, fmt.Errorf("failed to prepare site %s: %w", sc.Name, err)
		}
		sites = append(sites, site)
	}
	m.invalidate(ctx, sites)
	return sites, nil
}

func (m *Manager) run(ctx context.Context, logger *slog.Logger, sites []*model.Site) {
	if err := m.cleaner.Clean(ctx, sites); err != nil {
		logger.Error("Failed to clean site data", "error", err)
		m.failSites(context.WithoutCancel(ctx), sites, fmt.Errorf("failed to clean site data: %w", err))
		return
	}

	var g errgroup.Group
	for _, site := range sites {
		crawl, err := crawler.NewSiteCrawl(site, crawler.Options{
			Settings:          m.cfg.Crawl,
			ForbiddenURLTypes: m.cfg.ForbiddenURLTypes,
			BatchSize:         m.cfg.BatchSize,
			Fetcher:           m.deps.Fetcher,
			Visited:           m.deps.Visited,
			Storage:           m.deps.Storage,
			Indexer:           m.deps.Indexer,
			Robots:            m.deps.Robots,
		})
		if err != nil {
			logger.Error("Failed to create site crawl", "site", site.Name, "error", err)
			m.failSites(context.WithoutCancel(ctx), []*model.Site{site}, err)
			continue
		}
		g.Go(func() error {
			return crawl.Run(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("Indexing finished with failures", "error", err)
	}
}

func (m *Manager) failSites(ctx context.Context, sites []*model.Site, cause error) {
	for _, site := range sites {
		if _, err := m.deps.Storage.MarkSiteFailedIfIndexing(ctx, site.ID, cause.Error()); err != nil {
			slog.Error("Failed to mark site failed", "site", site.Name, "error", err)
		}
	}
}

// Wait blocks until the current indexing run finished or ctx is done
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopIndexing cancels the running single-page job and the crawl run.
// Sites still INDEXING are marked FAILED. It returns ErrNotIndexing when
// neither was running.
func (m *Manager) StopIndexing(ctx context.Context) error {
	stoppedPage := m.stopPageJob()
	if stoppedPage {
		slog.Info("Single page indexing stopped")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.IsIndexing() {
		if stoppedPage {
			return nil
		}
		return ErrNotIndexing
	}

	sites, err := m.deps.Storage.SitesByStatus(ctx, model.StatusIndexing)
	if err != nil {
		return fmt.Errorf("failed to list indexing sites: %w", err)
	}
	m.failSites(ctx, sites, crawler.ErrStoppedByUser)
	m.cancel(crawler.ErrStoppedByUser)

	m.invalidate(ctx, sites)
	slog.Info("Indexing stopped", "sites", len(sites))
	return nil
}

func (m *Manager) stopPageJob() bool {
	m.pageMu.Lock()
	defer m.pageMu.Unlock()
	if m.pageJob == nil {
		return false
	}
	m.pageJob.cancel()
	m.pageJob = nil
	return true
}

// IndexPage fetches one page of a configured site and indexes it,
// replacing the stored version. Only one page job runs at a time.
func (m *Manager) IndexPage(ctx context.Context, rawURL string) error {
	if err := crawler.ValidateURL(rawURL); err != nil {
		return err
	}
	sc, ok := m.cfg.Site(rawURL)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSiteNotConfigured, rawURL)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &pageJob{cancel: cancel}

	m.pageMu.Lock()
	if m.pageJob != nil {
		m.pageMu.Unlock()
		cancel()
		return ErrIndexingInProgress
	}
	m.pageJob = job
	m.pageMu.Unlock()

	errc := make(chan error, 1)
	err := m.pagePool.Submit(func() {
		err := m.indexPage(jobCtx, sc, rawURL)
		m.finishPageJob(job)
		errc <- err
	})
	if err != nil {
		m.finishPageJob(job)
		return fmt.Errorf("failed to submit page job: %w", err)
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

type pageJob struct {
	cancel context.CancelFunc
}

func (m *Manager) finishPageJob(job *pageJob) {
	job.cancel()
	m.pageMu.Lock()
	defer m.pageMu.Unlock()
	if m.pageJob == job {
		m.pageJob = nil
	}
}

func (m *Manager) indexPage(ctx context.Context, sc config.SiteConfig, rawURL string) error {
	site, err := m.deps.Storage.SiteByName(ctx, sc.Name)
	if errors.Is(err, storage.ErrNotFound) {
		site = &model.Site{Name: sc.Name, URL: sc.URL, Language: sc.Language, Status: model.StatusIndexed}
		err = m.deps.Storage.UpsertSite(ctx, site)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve site %s: %w", sc.Name, err)
	}

	path, err := crawler.PagePath(rawURL)
	if err != nil {
		return err
	}
	if utf8.RuneCountInString(path) > model.MaxPathLength {
		return fmt.Errorf("%w: path longer than %d characters", crawler.ErrInvalidURL, model.MaxPathLength)
	}

	resp, err := m.deps.Fetcher.Get(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrPageUnavailable, err)
	}

	page, err := m.deps.Storage.PageByPath(ctx, site.ID, path)
	switch {
	case err == nil:
		page.HTTPStatus = resp.StatusCode
		page.Content = string(resp.Body)
		page.ContentLength = utf8.RuneCount(resp.Body)
		if err := m.deps.Storage.UpdatePage(ctx, page); err != nil {
			return fmt.Errorf("failed to update page %s: %w", path, err)
		}
		err = m.deps.Indexer.ReindexPage(ctx, site, page)
	case errors.Is(err, storage.ErrNotFound):
		page = &model.Page{
			SiteID:        site.ID,
			Path:          path,
			HTTPStatus:    resp.StatusCode,
			Content:       string(resp.Body),
			ContentLength: utf8.RuneCount(resp.Body),
		}
		if err := m.deps.Storage.SavePages(ctx, []*model.Page{page}); err != nil {
			return fmt.Errorf("failed to save page %s: %w", path, err)
		}
		err = m.deps.Indexer.IndexNewPage(ctx, site, page)
	default:
		return fmt.Errorf("failed to look up page %s: %w", path, err)
	}
	if err != nil {
		return err
	}

	m.invalidate(ctx, []*model.Site{site})
	slog.Info("Indexed page", "site", site.Name, "path", path, "status", resp.StatusCode)
	return nil
}

// Statistics returns totals and per-site counts of the index
func (m *Manager) Statistics(ctx context.Context) (*model.Statistics, error) {
	detailed, err := m.deps.Storage.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.Statistics{
		Total: model.TotalStatistics{
			Sites:    len(detailed),
			Indexing: m.IsIndexing(),
		},
		Detailed: detailed,
	}
	if stats.Detailed == nil {
		stats.Detailed = []model.SiteStatistics{}
	}
	for _, s := range detailed {
		stats.Total.Pages += s.Pages
		stats.Total.Lemmas += s.Lemmas
	}
	return stats, nil
}

func (m *Manager) invalidate(ctx context.Context, sites []*model.Site) {
	if m.deps.Invalidator == nil || len(sites) == 0 {
		return
	}
	names := make([]string, len(sites))
	for i, s := range sites {
		names[i] = s.Name
	}
	if err := m.deps.Invalidator.Invalidate(ctx, names...); err != nil {
		slog.Warn("Failed to invalidate cached results", "sites", names, "error", err)
	}
}
