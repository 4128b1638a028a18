// Package indexer turns stored pages into lemma index rows.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/masahif/lemmasearch/internal/lemma"
	"github.com/masahif/lemmasearch/internal/model"
)

// Storage holds the lemma and index rows
type Storage interface {
	AddPageLemmas(ctx context.Context, siteID, pageID int64, lemmas []model.LemmaCount) error
	ReleasePage(ctx context.Context, pageID int64) error
}

// Extractors resolves the lemma extractor of a site language
type Extractors interface {
	For(language string) (*lemma.Extractor, error)
}

// Pipeline indexes pages. Lemma rows of a page are written in batches of
// batchSize, one transaction per batch.
type Pipeline struct {
	store      Storage
	extractors Extractors
	batchSize  int
}

// New creates a pipeline
func New(store Storage, extractors Extractors, batchSize int) *Pipeline {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Pipeline{store: store, extractors: extractors, batchSize: batchSize}
}

// IndexNewPage indexes a page that has no index rows yet. Pages answered
// with an HTTP error status are skipped.
func (p *Pipeline) IndexNewPage(ctx context.Context, site *model.Site, page *model.Page) error {
	if page.IsError() {
		slog.Debug("Skipping error page", "site", site.Name, "path", page.Path, "status", page.HTTPStatus)
		return nil
	}

	extractor, err := p.extractors.For(site.Language)
	if err != nil {
		return fmt.Errorf("failed to index page %s: %w", page.Path, err)
	}

	lemmas := Lemmas(extractor, page.Content)
	for start := 0; start < len(lemmas); start += p.batchSize {
		end := min(start+p.batchSize, len(lemmas))
		if err := p.store.AddPageLemmas(ctx, page.SiteID, page.ID, lemmas[start:end]); err != nil {
			return fmt.Errorf("failed to index page %s: %w", page.Path, err)
		}
	}

	slog.Debug("Indexed page", "site", site.Name, "path", page.Path, "lemmas", len(lemmas))
	return nil
}

// ReindexPage removes the page from the index, then indexes it again
func (p *Pipeline) ReindexPage(ctx context.Context, site *model.Site, page *model.Page) error {
	if err := p.store.ReleasePage(ctx, page.ID); err != nil {
		return fmt.Errorf("failed to reindex page %s: %w", page.Path, err)
	}
	return p.IndexNewPage(ctx, site, page)
}

// Lemmas returns the lemma counts of an HTML document sorted by lemma
func Lemmas(extractor *lemma.Extractor, content string) []model.LemmaCount {
	counts := extractor.CollectLemmas(extractor.StripMarkup(content))
	lemmas := make([]model.LemmaCount, 0, len(counts))
	for text, count := range counts {
		lemmas = append(lemmas, model.LemmaCount{Text: text, Count: count})
	}
	sort.Slice(lemmas, func(i, j int) bool { return lemmas[i].Text < lemmas[j].Text })
	return lemmas
}
