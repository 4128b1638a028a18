// Package search ranks indexed pages against a query with BM25 and builds
// result snippets. Ranked result lists are cached per query and scope.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/masahif/lemmasearch/internal/cache"
	"github.com/masahif/lemmasearch/internal/config"
	"github.com/masahif/lemmasearch/internal/lemma"
	"github.com/masahif/lemmasearch/internal/model"
	"github.com/masahif/lemmasearch/internal/parser"
	"github.com/masahif/lemmasearch/internal/storage"
)

const (
	cachePrefix = "query/"
	scopeAll    = "all/"
)

// Storage is the index queried by the engine
type Storage interface {
	ListSites(ctx context.Context) ([]*model.Site, error)
	SiteByName(ctx context.Context, name string) (*model.Site, error)
	SiteByURL(ctx context.Context, siteURL string) (*model.Site, error)
	CountPages(ctx context.Context, siteIDs []int64) (int, error)
	AveragePageLength(ctx context.Context) (float64, error)
	LemmaDocumentFrequencies(ctx context.Context, texts []string, siteIDs []int64) (map[string]int, error)
	MostCommonLemmas(ctx context.Context, k int) ([]string, error)
	PagesByLemma(ctx context.Context, text string, siteIDs []int64) ([]*model.Page, error)
	RanksForPage(ctx context.Context, pageID int64, texts []string) (map[string]int, error)
}

// Cache stores serialized result lists
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	DeletePrefix(prefix string) error
}

// Extractors resolves the lemma extractor of a site language
type Extractors interface {
	For(language string) (*lemma.Extractor, error)
}

// Query is one search request. An empty Site searches all sites; a zero
// Limit uses the configured default.
type Query struct {
	Text   string
	Site   string // site name or URL
	Offset int
	Limit  int
}

// Result is one ranked page
type Result struct {
	Site      string  `json:"site"`
	SiteName  string  `json:"siteName"`
	URI       string  `json:"uri"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

// Response is a page of results. Count is the number of results before
// pagination.
type Response struct {
	Count   int      `json:"count"`
	Results []Result `json:"data"`
}

type cachedResults struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// corpus holds statistics loaded once and kept until invalidated
type corpus struct {
	loaded bool
	common map[string]bool
	avgLen float64
}

// Engine answers search queries
type Engine struct {
	store      Storage
	extractors Extractors
	cache      Cache
	settings   config.SearchSettings

	mu     sync.Mutex
	corpus corpus
}

// New creates a query engine
func New(store Storage, extractors Extractors, c Cache, settings config.SearchSettings) *Engine {
	return &Engine{store: store, extractors: extractors, cache: c, settings: settings}
}

// Search ranks the pages of the query scope
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	sites, scope, err := e.scope(ctx, q.Site)
	if err != nil {
		return nil, err
	}

	key := cacheKey(scope, text)
	results, ok := e.cached(key, text)
	if !ok {
		results, err = e.rank(ctx, text, sites)
		if err != nil {
			return nil, err
		}
		e.saveResults(key, text, results)
	}

	return paginate(results, q.Offset, e.limit(q.Limit)), nil
}

func (e *Engine) limit(limit int) int {
	if limit > 0 {
		return limit
	}
	if e.settings.DefaultLimit > 0 {
		return e.settings.DefaultLimit
	}
	return 20
}

func paginate(results []Result, offset, limit int) *Response {
	resp := &Response{Count: len(results), Results: []Result{}}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return resp
	}
	end := min(offset+limit, len(results))
	resp.Results = results[offset:end]
	return resp
}

// scope resolves the searched sites and the cache scope of a query
func (e *Engine) scope(ctx context.Context, site string) ([]*model.Site, string, error) {
	if site == "" {
		sites, err := e.store.ListSites(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list sites: %w", err)
		}
		return sites, scopeAll, nil
	}

	s, err := e.store.SiteByName(ctx, site)
	if errors.Is(err, storage.ErrNotFound) {
		s, err = e.store.SiteByURL(ctx, strings.TrimSuffix(site, "/"))
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: %s", ErrSiteNotFound, site)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve site %s: %w", site, err)
	}
	return []*model.Site{s}, siteScope(s.Name), nil
}

// siteScope is the cache scope of one site. Names are escaped so a site
// scope never equals or contains the all-sites scope or another site's.
func siteScope(name string) string {
	return "site/" + url.PathEscape(name) + "/"
}

func cacheKey(scope, text string) string {
	return fmt.Sprintf("%s%s%016x", cachePrefix, scope, xxhash.Sum64String(text))
}

// cached returns the stored results of a query. Missing, unreadable and
// colliding entries are misses.
func (e *Engine) cached(key, text string) ([]Result, bool) {
	data, err := e.cache.Get(key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			slog.Warn("Failed to read cached results", "key", key, "error", err)
		}
		return nil, false
	}

	var entry cachedResults
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Warn("Discarding corrupt cached results", "key", key, "error", err)
		return nil, false
	}
	if entry.Query != text {
		return nil, false
	}
	return entry.Results, true
}

func (e *Engine) saveResults(key, text string, results []Result) {
	data, err := json.Marshal(cachedResults{Query: text, Results: results})
	if err != nil {
		slog.Warn("Failed to encode results", "error", err)
		return
	}
	if err := e.cache.Set(key, data); err != nil {
		slog.Warn("Failed to cache results", "key", key, "error", err)
	}
}

// Invalidate drops the cached results of the named sites and of the
// all-sites scope, and reloads corpus statistics on the next query
func (e *Engine) Invalidate(ctx context.Context, siteNames ...string) error {
	e.mu.Lock()
	e.corpus = corpus{}
	e.mu.Unlock()

	prefixes := []string{cachePrefix + scopeAll}
	for _, name := range siteNames {
		prefixes = append(prefixes, cachePrefix+siteScope(name))
	}
	for _, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.cache.DeletePrefix(prefix); err != nil {
			return fmt.Errorf("failed to invalidate %s: %w", prefix, err)
		}
	}
	return nil
}

func (e *Engine) loadCorpus(ctx context.Context) (corpus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.corpus.loaded {
		return e.corpus, nil
	}

	common, err := e.store.MostCommonLemmas(ctx, e.settings.MostCommonLemmas)
	if err != nil {
		return corpus{}, fmt.Errorf("failed to load most common lemmas: %w", err)
	}
	avgLen, err := e.store.AveragePageLength(ctx)
	if err != nil {
		return corpus{}, fmt.Errorf("failed to load average page length: %w", err)
	}

	e.corpus = corpus{loaded: true, common: make(map[string]bool, len(common)), avgLen: avgLen}
	for _, l := range common {
		e.corpus.common[l] = true
	}
	slog.Debug("Loaded corpus statistics", "common", common, "avg_length", avgLen)
	return e.corpus, nil
}

// rank computes the ordered results of a query over sites
func (e *Engine) rank(ctx context.Context, text string, sites []*model.Site) ([]Result, error) {
	if len(sites) == 0 {
		return nil, nil
	}

	siteIDs := make([]int64, len(sites))
	byID := make(map[int64]*model.Site, len(sites))
	extractors := make(map[string]*lemma.Extractor)
	texts := make(map[string]bool)
	for i, site := range sites {
		siteIDs[i] = site.ID
		byID[site.ID] = site
		if _, ok := extractors[site.Language]; ok {
			continue
		}
		ex, err := e.extractors.For(site.Language)
		if err != nil {
			return nil, fmt.Errorf("failed to search site %s: %w", site.Name, err)
		}
		extractors[site.Language] = ex
		for l := range ex.CollectLemmas(text) {
			texts[l] = true
		}
	}

	terms, err := e.terms(ctx, texts, siteIDs)
	if err != nil || len(terms) == 0 {
		return nil, err
	}

	c, err := e.loadCorpus(ctx)
	if err != nil {
		return nil, err
	}
	terms = dropCommon(terms, c.common)

	rarest := terms[0]
	for _, t := range terms[1:] {
		if t.Frequency < rarest.Frequency || (t.Frequency == rarest.Frequency && t.Lemma < rarest.Lemma) {
			rarest = t
		}
	}
	pages, err := e.store.PagesByLemma(ctx, rarest.Lemma, siteIDs)
	if err != nil {
		return nil, err
	}

	lemmaTexts := make([]string, len(terms))
	for i, t := range terms {
		lemmaTexts[i] = t.Lemma
	}

	params := Params{K1: e.settings.K1, B: e.settings.B}
	type scored struct {
		page  *model.Page
		score float64
	}
	candidates := make([]scored, 0, len(pages))
	for _, page := range pages {
		if page.ContentLength == 0 {
			continue
		}
		ranks, err := e.store.RanksForPage(ctx, page.ID, lemmaTexts)
		if err != nil {
			return nil, err
		}
		score := 0.0
		for _, t := range terms {
			rank := ranks[t.Lemma]
			if rank == 0 {
				continue
			}
			tf := float64(rank) / float64(page.ContentLength)
			score += BM25(tf, t.IDF, float64(page.ContentLength), c.avgLen, params)
		}
		candidates = append(candidates, scored{page: page, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].page.ID < candidates[j].page.ID
	})

	opts := SnippetOptions{Length: e.settings.SnippetLength, SentenceLength: e.settings.SentenceLength}
	results := make([]Result, 0, len(candidates))
	for _, cand := range candidates {
		site := byID[cand.page.SiteID]
		ex := extractors[site.Language]
		results = append(results, Result{
			Site:      site.URL,
			SiteName:  site.Name,
			URI:       cand.page.Path,
			Title:     parser.Title(cand.page.Content),
			Snippet:   Snippet(ex.StripMarkup(cand.page.Content), terms, ex, opts),
			Relevance: cand.score,
		})
	}
	return results, nil
}

// terms weighs the query lemmas known in the scope. Unknown lemmas are dropped.
func (e *Engine) terms(ctx context.Context, texts map[string]bool, siteIDs []int64) ([]Term, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	list := make([]string, 0, len(texts))
	for t := range texts {
		list = append(list, t)
	}
	sort.Strings(list)

	frequencies, err := e.store.LemmaDocumentFrequencies(ctx, list, siteIDs)
	if err != nil {
		return nil, err
	}
	n, err := e.store.CountPages(ctx, siteIDs)
	if err != nil {
		return nil, err
	}

	var terms []Term
	for _, t := range list {
		df, ok := frequencies[t]
		if !ok || df == 0 {
			continue
		}
		terms = append(terms, Term{Lemma: t, Frequency: df, IDF: IDF(n, df)})
	}
	return terms, nil
}

// dropCommon removes the most common lemmas unless every term is one
func dropCommon(terms []Term, common map[string]bool) []Term {
	kept := make([]Term, 0, len(terms))
	for _, t := range terms {
		if !common[t.Lemma] {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return terms
	}
	return kept
}
