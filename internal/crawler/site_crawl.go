// Package crawler crawls the configured sites. Each site gets its own
// bounded worker pool running recursive crawl tasks that fetch a page,
// record it for indexing and spawn children for its unvisited same-site
// links.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"

	"github.com/masahif/lemmasearch/internal/config"
	"github.com/masahif/lemmasearch/internal/model"
	"github.com/masahif/lemmasearch/internal/parser"
)

const statsInterval = 10 * time.Second

// Options holds the collaborators of a site crawl
type Options struct {
	Settings          config.CrawlSettings
	ForbiddenURLTypes []string
	BatchSize         int
	Fetcher           Fetcher
	Visited           VisitedSet
	Storage           Storage
	Indexer           PageIndexer
	Robots            *RobotsRules // nil disables robots.txt checks
}

// SiteCrawl coordinates the crawl of one site: INDEXING ends as INDEXED
// when every task completed, or FAILED on timeout, stop or panic.
type SiteCrawl struct {
	site     *model.Site
	settings config.CrawlSettings
	fetcher  Fetcher
	visited  VisitedSet
	store    Storage
	indexer  PageIndexer
	filter   *LinkFilter
	stagger  *Stagger
	buffer   *PageBuffer

	pool  *ants.Pool
	stats statsCounter
	start time.Time

	done       chan struct{}
	finishOnce sync.Once

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

// task is one URL of the crawl. pending counts the task itself plus
// every child it reserved; when it drops to zero the task is complete
// and releases its parent.
type task struct {
	url     string
	parent  *task
	pending atomic.Int64
}

// NewSiteCrawl creates the coordinator for site
func NewSiteCrawl(site *model.Site, opts Options) (*SiteCrawl, error) {
	filter, err := NewLinkFilter(site.URL, opts.ForbiddenURLTypes, opts.Robots)
	if err != nil {
		return nil, fmt.Errorf("failed to create link filter: %w", err)
	}

	c := &SiteCrawl{
		site:     site,
		settings: opts.Settings,
		fetcher:  opts.Fetcher,
		visited:  opts.Visited,
		store:    opts.Storage,
		indexer:  opts.Indexer,
		filter:   filter,
		stagger:  NewStagger(opts.Settings.StaggerDelay),
		done:     make(chan struct{}),
	}
	c.buffer = NewPageBuffer(opts.BatchSize, c.persist)
	return c, nil
}

// Site returns the crawled site
func (c *SiteCrawl) Site() *model.Site {
	return c.site
}

// Stats returns the task outcome counters
func (c *SiteCrawl) Stats() CrawlStats {
	return c.stats.snapshot()
}

// Stop cancels a running crawl with cause
func (c *SiteCrawl) Stop(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(cause)
	}
}

// Run crawls the site from its root URL until every task completed, the
// site timeout expired or ctx was cancelled, and records the final status.
// The returned error is the cause of a failed crawl.
func (c *SiteCrawl) Run(ctx context.Context) error {
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, c.settings.SiteTimeout, ErrTimeout)
	defer cancelTimeout()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	workers := c.settings.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool, err := ants.NewPool(workers,
		ants.WithPanicHandler(func(p any) {
			slog.Error("Crawl task panicked", "site", c.site.Name, "panic", p)
			cancel(fmt.Errorf("crawl task panicked: %v", p))
		}),
		ants.WithLogger(poolLogger{site: c.site.Name}),
	)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("failed to create worker pool: %w", err))
	}
	c.pool = pool
	c.start = time.Now()

	slog.Info("Starting site crawl", "site", c.site.Name, "url", c.site.URL, "workers", workers)

	if _, err := c.visited.AddToSet(c.site.Name, c.site.URL); err != nil {
		slog.Warn("Failed to mark root visited", "site", c.site.Name, "error", err)
	}
	root := &task{url: c.site.URL}
	root.pending.Store(1)
	if err := pool.Submit(func() { c.run(ctx, root) }); err != nil {
		pool.Release()
		return c.fail(ctx, fmt.Errorf("failed to submit root task: %w", err))
	}

	go c.statsReporter(ctx)

	select {
	case <-c.done:
	case <-ctx.Done():
	}

	var runErr error
	if ctx.Err() == nil {
		runErr = c.buffer.Flush(ctx)
	}
	if lost, err := c.buffer.Lost(); lost > 0 && ctx.Err() == nil {
		runErr = fmt.Errorf("%d crawled pages were not indexed: %w", lost, err)
	}
	if dropped := c.buffer.Close(); dropped > 0 {
		slog.Info("Discarded buffered pages", "site", c.site.Name, "pages", dropped)
	}

	if err := pool.ReleaseTimeout(c.settings.ShutdownGrace); err != nil {
		slog.Warn("Worker pool did not stop within grace period", "site", c.site.Name, "error", err)
	}

	stats := c.Stats()
	slog.Info("Site crawl finished", "site", c.site.Name, "fetched", stats.Fetched,
		"unreachable", stats.Unreachable, "invalid", stats.InvalidURL, "failed", stats.Failed,
		"cancelled", stats.Cancelled, "duration", time.Since(c.start))

	if ctx.Err() != nil {
		if err := c.visited.DeleteSet(c.site.Name); err != nil {
			slog.Warn("Failed to clear visited links", "site", c.site.Name, "error", err)
		}
		return c.fail(ctx, context.Cause(ctx))
	}
	if runErr != nil {
		return c.fail(ctx, runErr)
	}

	if _, err := c.store.MarkSiteIndexedIfIndexing(context.WithoutCancel(ctx), c.site.ID); err != nil {
		return fmt.Errorf("failed to mark site %s indexed: %w", c.site.Name, err)
	}
	return nil
}

// fail records cause as the site's last error unless the site already
// left INDEXING
func (c *SiteCrawl) fail(ctx context.Context, cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	slog.Warn("Site crawl failed", "site", c.site.Name, "error", cause)
	if _, err := c.store.MarkSiteFailedIfIndexing(context.WithoutCancel(ctx), c.site.ID, cause.Error()); err != nil {
		slog.Error("Failed to mark site failed", "site", c.site.Name, "error", err)
	}
	return cause
}

// run processes one task and hands its children to a spawner goroutine,
// so a worker never waits for its descendants
func (c *SiteCrawl) run(ctx context.Context, t *task) {
	outcome, links := c.process(ctx, t.url)
	c.stats.record(outcome)

	if len(links) > 0 {
		t.pending.Add(int64(len(links)))
		go c.spawn(ctx, t, links)
	}
	c.release(t, 1)
}

// spawn submits a child per link, staggered. Reservations of children
// that cannot be submitted are released.
func (c *SiteCrawl) spawn(ctx context.Context, parent *task, links []string) {
	for i, link := range links {
		if err := c.stagger.Wait(ctx); err != nil {
			c.stats.add(OutcomeCancelled, int64(len(links)-i))
			c.release(parent, int64(len(links)-i))
			return
		}

		child := &task{url: link, parent: parent}
		child.pending.Store(1)
		if err := c.pool.Submit(func() { c.run(ctx, child) }); err != nil {
			if !errors.Is(err, ants.ErrPoolClosed) {
				slog.Warn("Failed to submit crawl task", "site", c.site.Name, "url", link, "error", err)
			}
			c.stats.add(OutcomeCancelled, int64(len(links)-i))
			c.release(parent, int64(len(links)-i))
			return
		}
	}
}

func (c *SiteCrawl) release(t *task, n int64) {
	for t != nil {
		if t.pending.Add(-n) != 0 {
			return
		}
		if t.parent == nil {
			c.finish()
			return
		}
		t, n = t.parent, 1
	}
}

// finish runs once the root task and all its descendants completed
func (c *SiteCrawl) finish() {
	c.finishOnce.Do(func() {
		if err := c.visited.DeleteSet(c.site.Name); err != nil {
			slog.Warn("Failed to clear visited links", "site", c.site.Name, "error", err)
		}
		close(c.done)
	})
}

// process fetches and records one page and returns its unvisited links
func (c *SiteCrawl) process(ctx context.Context, rawURL string) (Outcome, []string) {
	if ctx.Err() != nil {
		return OutcomeCancelled, nil
	}
	if err := ValidateURL(rawURL); err != nil {
		slog.Debug("Skipping invalid URL", "site", c.site.Name, "url", rawURL)
		return OutcomeInvalidURL, nil
	}

	resp, err := c.fetcher.Get(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled, nil
		}
		slog.Info("Failed to fetch page", "site", c.site.Name, "url", rawURL, "error", err)
		return OutcomeUnreachable, nil
	}

	outcome := OutcomeFetched
	path, err := PagePath(rawURL)
	if err != nil {
		return OutcomeInvalidURL, nil
	}
	if utf8.RuneCountInString(path) <= model.MaxPathLength {
		page := &model.Page{
			SiteID:        c.site.ID,
			Path:          path,
			HTTPStatus:    resp.StatusCode,
			Content:       string(resp.Body),
			ContentLength: utf8.RuneCount(resp.Body),
		}
		if err := c.buffer.Add(ctx, page); err != nil {
			if errors.Is(err, ErrBufferClosed) || ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			slog.Error("Failed to record page", "site", c.site.Name, "url", rawURL, "error", err)
			outcome = OutcomeFailed
		}
	} else {
		slog.Debug("Page path too long to store", "site", c.site.Name, "url", rawURL)
	}

	if err := c.store.TouchSite(ctx, c.site.ID); err != nil && ctx.Err() == nil {
		slog.Warn("Failed to update site status time", "site", c.site.Name, "error", err)
	}

	doc, err := parser.Parse(resp.FinalURL, resp.Body)
	if err != nil {
		slog.Debug("Failed to parse page", "site", c.site.Name, "url", rawURL, "error", err)
		return outcome, nil
	}

	var links []string
	for _, link := range doc.Links {
		if ctx.Err() != nil {
			return OutcomeCancelled, nil
		}
		if link == resp.FinalURL || !c.filter.Allow(ctx, rawURL, link) {
			continue
		}
		added, err := c.visited.AddToSet(c.site.Name, link)
		if err != nil {
			slog.Warn("Failed to record visited link", "site", c.site.Name, "url", link, "error", err)
			continue
		}
		if added {
			links = append(links, link)
		}
	}

	slog.Debug("Crawled page", "site", c.site.Name, "url", rawURL, "status", resp.StatusCode, "links", len(links))
	return outcome, links
}

// persist saves a batch of pages and indexes them
func (c *SiteCrawl) persist(ctx context.Context, pages []*model.Page, attempt int) (int, error) {
	if err := c.store.SavePages(ctx, pages); err != nil {
		return 0, fmt.Errorf("failed to save pages: %w", err)
	}
	for i, page := range pages {
		index := c.indexer.IndexNewPage
		if i == 0 && attempt > 0 {
			index = c.indexer.ReindexPage
		}
		if err := index(ctx, c.site, page); err != nil {
			return i, fmt.Errorf("failed to index page %s: %w", page.Path, err)
		}
	}
	return len(pages), nil
}

// statsReporter periodically reports crawl progress
func (c *SiteCrawl) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			stats := c.Stats()
			slog.Info("Crawl stats", "site", c.site.Name, "fetched", stats.Fetched,
				"unreachable", stats.Unreachable, "failed", stats.Failed,
				"running", c.pool.Running(), "waiting", c.pool.Waiting(), "duration", time.Since(c.start))
		}
	}
}

type poolLogger struct {
	site string
}

func (l poolLogger) Printf(format string, args ...any) {
	slog.Warn(fmt.Sprintf(format, args...), "site", l.site)
}
