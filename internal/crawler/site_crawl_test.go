package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/lemmasearch/internal/cache"
	"github.com/masahif/lemmasearch/internal/config"
	"github.com/masahif/lemmasearch/internal/model"
	"github.com/masahif/lemmasearch/internal/storage"
)

type fakeIndexer struct {
	mu        sync.Mutex
	indexed   map[string]int
	reindexed map[string]int
	IndexFn   func(page *model.Page) error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{indexed: make(map[string]int), reindexed: make(map[string]int)}
}

func (f *fakeIndexer) IndexNewPage(ctx context.Context, site *model.Site, page *model.Page) error {
	if f.IndexFn != nil {
		if err := f.IndexFn(page); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[page.Path]++
	return nil
}

func (f *fakeIndexer) ReindexPage(ctx context.Context, site *model.Site, page *model.Page) error {
	if f.IndexFn != nil {
		if err := f.IndexFn(page); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexed[page.Path]++
	return nil
}

// siteServer serves pages whose bodies link to the given paths and counts requests
type siteServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests map[string]int
}

func newSiteServer(t *testing.T, links func(path string) ([]string, bool), delay time.Duration) *siteServer {
	t.Helper()
	s := &siteServer{requests: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()

		targets, ok := links(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "<html><head><title>%s</title></head><body><p>Page %s</p>", r.URL.Path, r.URL.Path)
		for _, target := range targets {
			fmt.Fprintf(&sb, `<a href="%s">link</a>`, target)
		}
		sb.WriteString("</body></html>")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(sb.String()))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *siteServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

type crawlFixture struct {
	store   *storage.SQLiteStorage
	cache   *cache.Cache
	indexer *fakeIndexer
	site    *model.Site
}

func newCrawlFixture(t *testing.T, siteURL string) *crawlFixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c, err := cache.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	site := &model.Site{Name: "test", URL: siteURL, Language: "english", Status: model.StatusIndexing}
	require.NoError(t, store.UpsertSite(context.Background(), site))

	return &crawlFixture{store: store, cache: c, indexer: newFakeIndexer(), site: site}
}

func (f *crawlFixture) newCrawl(t *testing.T, batchSize int, configure func(*config.CrawlSettings)) *SiteCrawl {
	t.Helper()
	settings := testSettings()
	settings.StaggerDelay = 5 * time.Millisecond
	settings.ShutdownGrace = 2 * time.Second
	settings.Workers = 4
	if configure != nil {
		configure(&settings)
	}

	crawl, err := NewSiteCrawl(f.site, Options{
		Settings:          settings,
		ForbiddenURLTypes: []string{".pdf"},
		BatchSize:         batchSize,
		Fetcher:           NewHTTPClient(settings),
		Visited:           f.cache,
		Storage:           f.store,
		Indexer:           f.indexer,
	})
	require.NoError(t, err)
	return crawl
}

func (f *crawlFixture) reloadSite(t *testing.T) *model.Site {
	t.Helper()
	site, err := f.store.SiteByID(context.Background(), f.site.ID)
	require.NoError(t, err)
	return site
}

func (f *crawlFixture) pageCount(t *testing.T) int {
	t.Helper()
	n, err := f.store.CountPages(context.Background(), []int64{f.site.ID})
	require.NoError(t, err)
	return n
}

func TestSiteCrawlSmallSite(t *testing.T) {
	graph := map[string][]string{
		"/":  {"/a", "/b", "/manual.pdf", "https://other.example/x"},
		"/a": {"/b", "/", "/a#top"},
		"/b": {"/a"},
	}
	server := newSiteServer(t, func(path string) ([]string, bool) {
		links, ok := graph[path]
		return links, ok
	}, 0)

	f := newCrawlFixture(t, server.URL)
	crawl := f.newCrawl(t, 100, nil)

	require.NoError(t, crawl.Run(context.Background()))

	assert.Equal(t, 3, f.pageCount(t))
	assert.Equal(t, 1, server.count("/"))
	assert.Equal(t, 1, server.count("/a"))
	assert.Equal(t, 1, server.count("/b"), "B has two inbound links but is fetched once")
	assert.Zero(t, server.count("/manual.pdf"))

	site := f.reloadSite(t)
	assert.Equal(t, model.StatusIndexed, site.Status)
	assert.Empty(t, site.LastError)

	assert.Equal(t, map[string]int{"/": 1, "/a": 1, "/b": 1}, f.indexer.indexed)
	assert.Equal(t, int64(3), crawl.Stats().Fetched)

	added, err := f.cache.AddToSet(f.site.Name, server.URL+"/a")
	require.NoError(t, err)
	assert.True(t, added, "the visited set is cleared after the crawl")
}

func TestSiteCrawlDiamondAndCycle(t *testing.T) {
	graph := map[string][]string{
		"/":  {"/b", "/c"},
		"/b": {"/d", "/c"},
		"/c": {"/d", "/b"},
		"/d": {"/b", "/c", "/"},
	}
	server := newSiteServer(t, func(path string) ([]string, bool) {
		links, ok := graph[path]
		return links, ok
	}, 0)

	f := newCrawlFixture(t, server.URL)
	require.NoError(t, f.newCrawl(t, 1, nil).Run(context.Background()))

	for path := range graph {
		assert.Equal(t, 1, server.count(path), path)
	}
	assert.Equal(t, 4, f.pageCount(t))
	assert.Equal(t, model.StatusIndexed, f.reloadSite(t).Status)
}

func TestSiteCrawlRecordsErrorPages(t *testing.T) {
	graph := map[string][]string{
		"/":   {"/ok", "/missing"},
		"/ok": nil,
	}
	server := newSiteServer(t, func(path string) ([]string, bool) {
		links, ok := graph[path]
		return links, ok
	}, 0)

	f := newCrawlFixture(t, server.URL)
	require.NoError(t, f.newCrawl(t, 100, nil).Run(context.Background()))

	page, err := f.store.PageByPath(context.Background(), f.site.ID, "/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, page.HTTPStatus)
	assert.Equal(t, 3, f.pageCount(t))
}

func TestSiteCrawlUnreachableRoot(t *testing.T) {
	f := newCrawlFixture(t, "http://127.0.0.1:1")
	crawl := f.newCrawl(t, 100, nil)

	require.NoError(t, crawl.Run(context.Background()))
	assert.Equal(t, int64(1), crawl.Stats().Unreachable)
	assert.Zero(t, f.pageCount(t))
	assert.Equal(t, model.StatusIndexed, f.reloadSite(t).Status)
}

// endless serves /p/N linking to /p/N+1 and /p/N+2
func endless(path string) ([]string, bool) {
	n := 0
	if path != "/" {
		var err error
		if n, err = strconv.Atoi(strings.TrimPrefix(path, "/p/")); err != nil {
			return nil, false
		}
	}
	return []string{fmt.Sprintf("/p/%d", n+1), fmt.Sprintf("/p/%d", n+2)}, true
}

func TestSiteCrawlStop(t *testing.T) {
	server := newSiteServer(t, endless, 20*time.Millisecond)
	f := newCrawlFixture(t, server.URL)
	crawl := f.newCrawl(t, 1, nil)

	errc := make(chan error, 1)
	go func() { errc <- crawl.Run(context.Background()) }()

	require.Eventually(t, func() bool { return f.pageCount(t) >= 2 }, 5*time.Second, 10*time.Millisecond)
	crawl.Stop(ErrStoppedByUser)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStoppedByUser)
	case <-time.After(5 * time.Second):
		t.Fatal("crawl did not stop")
	}

	site := f.reloadSite(t)
	assert.Equal(t, model.StatusFailed, site.Status)
	assert.Equal(t, "Indexing stopped by user", site.LastError)

	written := f.pageCount(t)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, written, f.pageCount(t), "no pages are written after shutdown")
}

func TestSiteCrawlStopByContext(t *testing.T) {
	server := newSiteServer(t, endless, 20*time.Millisecond)
	f := newCrawlFixture(t, server.URL)
	crawl := f.newCrawl(t, 1, nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(150*time.Millisecond, func() { cancel(ErrStoppedByUser) })

	err := crawl.Run(ctx)
	assert.ErrorIs(t, err, ErrStoppedByUser)
	assert.Equal(t, "Indexing stopped by user", f.reloadSite(t).LastError)
}

func TestSiteCrawlTimeout(t *testing.T) {
	server := newSiteServer(t, endless, 20*time.Millisecond)
	f := newCrawlFixture(t, server.URL)
	crawl := f.newCrawl(t, 100, func(s *config.CrawlSettings) {
		s.SiteTimeout = 200 * time.Millisecond
	})

	err := crawl.Run(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)

	site := f.reloadSite(t)
	assert.Equal(t, model.StatusFailed, site.Status)
	assert.Equal(t, "TIMEOUT", site.LastError)
	assert.Zero(t, f.pageCount(t), "buffered pages are discarded on timeout")
}

func TestSiteCrawlTaskPanic(t *testing.T) {
	server := newSiteServer(t, func(path string) ([]string, bool) {
		return []string{"/a"}, path == "/" || path == "/a"
	}, 0)
	f := newCrawlFixture(t, server.URL)
	f.indexer.IndexFn = func(page *model.Page) error {
		panic("index corrupted")
	}
	crawl := f.newCrawl(t, 1, nil)

	done := make(chan error, 1)
	go func() { done <- crawl.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
	case <-time.After(5 * time.Second):
		t.Fatal("crawl did not fail after a panic")
	}

	site := f.reloadSite(t)
	assert.Equal(t, model.StatusFailed, site.Status)
	assert.Contains(t, site.LastError, "index corrupted")
}

func TestSiteCrawlKeepsFailedStatus(t *testing.T) {
	server := newSiteServer(t, func(path string) ([]string, bool) {
		return nil, path == "/"
	}, 0)
	f := newCrawlFixture(t, server.URL)

	_, err := f.store.MarkSiteFailedIfIndexing(context.Background(), f.site.ID, "Indexing stopped by user")
	require.NoError(t, err)

	require.NoError(t, f.newCrawl(t, 100, nil).Run(context.Background()))
	assert.Equal(t, model.StatusFailed, f.reloadSite(t).Status)
}

func TestSiteCrawlFailsOnDroppedBatch(t *testing.T) {
	graph := map[string][]string{
		"/":  {"/a"},
		"/a": {"/b"},
		"/b": {"/c"},
		"/c": nil,
	}
	server := newSiteServer(t, func(path string) ([]string, bool) {
		links, ok := graph[path]
		return links, ok
	}, 0)

	f := newCrawlFixture(t, server.URL)
	f.indexer.IndexFn = func(page *model.Page) error {
		if page.Path == "/a" {
			return errors.New("lemma table locked")
		}
		return nil
	}

	err := f.newCrawl(t, 1, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lemma table locked")

	for path := range graph {
		assert.Equal(t, 1, server.count(path), "the crawl continues past the dropped batch")
	}
	assert.Equal(t, 1, f.indexer.indexed["/c"])

	site := f.reloadSite(t)
	assert.Equal(t, model.StatusFailed, site.Status)
	assert.Contains(t, site.LastError, "1 crawled pages were not indexed")
	assert.Contains(t, site.LastError, "/a")
}
