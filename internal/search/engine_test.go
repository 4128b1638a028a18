package search

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/lemmasearch/internal/cache"
	"github.com/masahif/lemmasearch/internal/config"
	"github.com/masahif/lemmasearch/internal/indexer"
	"github.com/masahif/lemmasearch/internal/lemma"
	"github.com/masahif/lemmasearch/internal/model"
	"github.com/masahif/lemmasearch/internal/storage"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// countingStore counts candidate lookups to tell cached answers from ranked ones
type countingStore struct {
	*storage.SQLiteStorage
	lookups atomic.Int32
}

func (s *countingStore) PagesByLemma(ctx context.Context, text string, siteIDs []int64) ([]*model.Page, error) {
	s.lookups.Add(1)
	return s.SQLiteStorage.PagesByLemma(ctx, text, siteIDs)
}

type engineFixture struct {
	engine   *Engine
	store    *countingStore
	cache    *cache.Cache
	pipeline *indexer.Pipeline
}

var corpusPages = map[string]map[string]string{
	"zoo": {
		"/fox1":  "<html><head><title>Foxes</title></head><body><p>The fox hunts. The fox sleeps. Page footer.</p></body></html>",
		"/fox2":  "<html><body><p>A fox appears once in this long page about many other animals like cats and dogs and birds. Page footer.</p></body></html>",
		"/owl":   "<html><body><p>The owl hunts at night. Page footer.</p></body></html>",
		"/misc1": "<html><body><p>Random words number one. Page footer.</p></body></html>",
		"/misc2": "<html><body><p>Random words number two. Page footer.</p></body></html>",
		"/misc3": "<html><body><p>Random words number three. Page footer.</p></body></html>",
		"/misc4": "<html><body><p>Random words number four. Page footer.</p></body></html>",
	},
	"farm": {
		"/cow": "<html><body><p>Cows graze. A fox visits. Page footer.</p></body></html>",
	},
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c, err := cache.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	registry, err := lemma.NewRegistry(config.MorphologySettings{})
	require.NoError(t, err)
	pipeline := indexer.New(db, registry, 100)

	settings := config.DefaultConfig().Search
	settings.MostCommonLemmas = 2

	store := &countingStore{SQLiteStorage: db}
	f := &engineFixture{engine: New(store, registry, c, settings), store: store, cache: c, pipeline: pipeline}
	for _, name := range []string{"zoo", "farm"} {
		f.addSite(t, name, "https://"+name+".example", corpusPages[name])
	}
	return f
}

// addSite stores and indexes the pages of a new site
func (f *engineFixture) addSite(t *testing.T, name, siteURL string, pages map[string]string) {
	t.Helper()
	ctx := context.Background()
	db := f.store.SQLiteStorage

	site := &model.Site{Name: name, URL: siteURL, Language: config.LanguageEnglish, Status: model.StatusIndexed}
	require.NoError(t, db.UpsertSite(ctx, site))
	for path, content := range pages {
		page := &model.Page{SiteID: site.ID, Path: path, HTTPStatus: 200, Content: content, ContentLength: utf8.RuneCountInString(content)}
		require.NoError(t, db.SavePages(ctx, []*model.Page{page}))
		require.NoError(t, f.pipeline.IndexNewPage(ctx, site, page))
	}
}

func uris(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.URI
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestSearchRanking(t *testing.T) {
	f := newEngineFixture(t)

	resp, err := f.engine.Search(context.Background(), Query{Text: "Fox zebra"})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Count)
	got := uris(resp.Results)
	assert.ElementsMatch(t, []string{"/fox1", "/fox2", "/cow"}, got)
	assert.Less(t, indexOf(got, "/fox1"), indexOf(got, "/fox2"), "more occurrences in a shorter page rank higher")

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Relevance, resp.Results[i].Relevance)
	}

	top := resp.Results[indexOf(got, "/fox1")]
	assert.Equal(t, "zoo", top.SiteName)
	assert.Equal(t, "https://zoo.example", top.Site)
	assert.Equal(t, "Foxes", top.Title)
	assert.Contains(t, top.Snippet, "<b>fox</b>")
	assert.Greater(t, top.Relevance, 0.0)

	cow := resp.Results[indexOf(got, "/cow")]
	assert.Equal(t, "farm", cow.SiteName)
	assert.Contains(t, cow.Snippet, "A <b>fox</b> visits.")
}

func TestSearchScope(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	t.Run("by name", func(t *testing.T) {
		resp, err := f.engine.Search(ctx, Query{Text: "fox", Site: "zoo"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/fox1", "/fox2"}, uris(resp.Results))
	})

	t.Run("by url", func(t *testing.T) {
		resp, err := f.engine.Search(ctx, Query{Text: "fox", Site: "https://farm.example/"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/cow"}, uris(resp.Results))
	})

	t.Run("unknown site", func(t *testing.T) {
		_, err := f.engine.Search(ctx, Query{Text: "fox", Site: "nowhere"})
		assert.ErrorIs(t, err, ErrSiteNotFound)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := f.engine.Search(ctx, Query{Text: "  "})
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("no known lemmas", func(t *testing.T) {
		resp, err := f.engine.Search(ctx, Query{Text: "zebra, the!"})
		require.NoError(t, err)
		assert.Zero(t, resp.Count)
		assert.NotNil(t, resp.Results)
		assert.Empty(t, resp.Results)
	})
}

func TestSearchCommonLemmas(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	plain, err := f.engine.Search(ctx, Query{Text: "fox"})
	require.NoError(t, err)
	withCommon, err := f.engine.Search(ctx, Query{Text: "page footer fox"})
	require.NoError(t, err)

	require.Equal(t, uris(plain.Results), uris(withCommon.Results))
	for i := range plain.Results {
		assert.InDelta(t, plain.Results[i].Relevance, withCommon.Results[i].Relevance, 1e-12)
	}

	onlyCommon, err := f.engine.Search(ctx, Query{Text: "page"})
	require.NoError(t, err)
	assert.Equal(t, 8, onlyCommon.Count, "a query of common lemmas only keeps them")
}

func TestSearchPagination(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	all, err := f.engine.Search(ctx, Query{Text: "footer"})
	require.NoError(t, err)
	require.Equal(t, 8, all.Count)
	require.Len(t, all.Results, 8)

	page, err := f.engine.Search(ctx, Query{Text: "footer", Offset: 2, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, page.Count)
	assert.Equal(t, uris(all.Results[2:5]), uris(page.Results))

	past, err := f.engine.Search(ctx, Query{Text: "footer", Offset: 10, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, past.Count)
	assert.Empty(t, past.Results)
}

func TestSearchCache(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated query is served from cache", func(t *testing.T) {
		f := newEngineFixture(t)
		first, err := f.engine.Search(ctx, Query{Text: "fox"})
		require.NoError(t, err)
		second, err := f.engine.Search(ctx, Query{Text: " fox ", Offset: 1})
		require.NoError(t, err)

		assert.Equal(t, int32(1), f.store.lookups.Load())
		assert.Equal(t, first.Results[1:], second.Results)
	})

	t.Run("corrupt entry is a miss", func(t *testing.T) {
		f := newEngineFixture(t)
		key := cacheKey(scopeAll, "owl")
		require.NoError(t, f.cache.Set(key, []byte("{broken")))

		resp, err := f.engine.Search(ctx, Query{Text: "owl"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/owl"}, uris(resp.Results))
		assert.Equal(t, int32(1), f.store.lookups.Load())

		data, err := f.cache.Get(key)
		require.NoError(t, err)
		var entry cachedResults
		require.NoError(t, json.Unmarshal(data, &entry))
		assert.Equal(t, "owl", entry.Query)
	})

	t.Run("entry of another query is a miss", func(t *testing.T) {
		f := newEngineFixture(t)
		data, err := json.Marshal(cachedResults{Query: "cow", Results: []Result{{URI: "/wrong"}}})
		require.NoError(t, err)
		require.NoError(t, f.cache.Set(cacheKey(scopeAll, "owl"), data))

		resp, err := f.engine.Search(ctx, Query{Text: "owl"})
		require.NoError(t, err)
		assert.Equal(t, []string{"/owl"}, uris(resp.Results))
	})
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	for _, site := range []string{"", "zoo", "farm"} {
		_, err := f.engine.Search(ctx, Query{Text: "fox", Site: site})
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), f.store.lookups.Load())

	require.NoError(t, f.engine.Invalidate(ctx, "zoo"))

	_, err := f.cache.Get(cacheKey(scopeAll, "fox"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = f.cache.Get(cacheKey(siteScope("zoo"), "fox"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = f.cache.Get(cacheKey(siteScope("farm"), "fox"))
	assert.NoError(t, err)

	_, err = f.engine.Search(ctx, Query{Text: "fox", Site: "farm"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.store.lookups.Load())

	_, err = f.engine.Search(ctx, Query{Text: "fox"})
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.store.lookups.Load())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, f.engine.Invalidate(cancelled, "zoo"), context.Canceled)
}

func TestSearchScopeIsolation(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.addSite(t, "all", "https://all.example", map[string]string{
		"/only": "<html><body><p>Lonely owl.</p></body></html>",
	})
	f.addSite(t, "zoo/night", "https://night.example", map[string]string{
		"/bat": "<html><body><p>A bat and an owl.</p></body></html>",
	})

	everywhere, err := f.engine.Search(ctx, Query{Text: "owl"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/owl", "/only", "/bat"}, uris(everywhere.Results))

	named, err := f.engine.Search(ctx, Query{Text: "owl", Site: "all"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/only"}, uris(named.Results), "a site named all is not the all-sites scope")
	for _, r := range named.Results {
		assert.Equal(t, "all", r.SiteName)
	}

	nested, err := f.engine.Search(ctx, Query{Text: "owl", Site: "zoo/night"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bat"}, uris(nested.Results))

	zoo, err := f.engine.Search(ctx, Query{Text: "owl", Site: "zoo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/owl"}, uris(zoo.Results))

	require.NoError(t, f.engine.Invalidate(ctx, "zoo"))
	_, err = f.cache.Get(cacheKey(siteScope("zoo/night"), "owl"))
	assert.NoError(t, err, "invalidating zoo keeps zoo/night")
	_, err = f.cache.Get(cacheKey(siteScope("all"), "owl"))
	assert.NoError(t, err, "invalidating zoo keeps the site named all")
	_, err = f.cache.Get(cacheKey(scopeAll, "owl"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}
