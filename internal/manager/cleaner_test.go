package manager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/lemmasearch/internal/cache"
	"github.com/masahif/lemmasearch/internal/model"
	"github.com/masahif/lemmasearch/internal/storage"
)

func TestDataCleaner(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "clean.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	visited, err := cache.Open("", nil)
	require.NoError(t, err)
	defer func() { _ = visited.Close() }()

	seed := func(name string, status model.Status, pages int) *model.Site {
		site := &model.Site{Name: name, URL: "https://" + name + ".example", Language: "english", Status: status}
		require.NoError(t, store.UpsertSite(ctx, site))
		for i := 0; i < pages; i++ {
			p := &model.Page{SiteID: site.ID, Path: "/" + string(rune('a'+i)), HTTPStatus: 200, Content: "x", ContentLength: 1}
			require.NoError(t, store.SavePages(ctx, []*model.Page{p}))
			require.NoError(t, store.AddPageLemmas(ctx, site.ID, p.ID, []model.LemmaCount{
				{Text: "shared", Count: 1}, {Text: "only" + p.Path, Count: 2},
			}))
		}
		_, err := visited.AddToSet(name, "https://"+name+".example/a")
		require.NoError(t, err)
		return site
	}

	kept := seed("kept", model.StatusIndexing, 5)
	untouched := seed("untouched", model.StatusIndexed, 2)
	removed := seed("removed", model.StatusIndexing, 1)

	cleaner := NewDataCleaner(store, visited, 2)
	require.NoError(t, cleaner.Clean(ctx, []*model.Site{kept, untouched}))

	count := func(site *model.Site) (int, int) {
		pages, err := store.CountPages(ctx, []int64{site.ID})
		require.NoError(t, err)
		lemmas, err := store.CountLemmas(ctx, []int64{site.ID})
		require.NoError(t, err)
		return pages, lemmas
	}

	pages, lemmas := count(kept)
	assert.Zero(t, pages)
	assert.Zero(t, lemmas)

	pages, lemmas = count(untouched)
	assert.Zero(t, pages, "configured sites are cleared by url")
	assert.Zero(t, lemmas)

	_, err = store.SiteByID(ctx, removed.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	for _, name := range []string{"kept", "removed"} {
		added, err := visited.AddToSet(name, "https://"+name+".example/a")
		require.NoError(t, err)
		assert.True(t, added, name)
	}

	_, err = store.SiteByID(ctx, kept.ID)
	assert.NoError(t, err, "configured sites keep their rows")
}
