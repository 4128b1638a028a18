package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/masahif/lemmasearch/internal/model"
)

// AddPageLemmas indexes a page: each lemma gains one page of document
// frequency, created on first use, and its rank on the page is stored.
// One call is one transaction; the increment is a single upsert so
// concurrent pages never lose updates of a shared lemma.
func (s *SQLiteStorage) AddPageLemmas(ctx context.Context, siteID, pageID int64, lemmas []model.LemmaCount) error {
	if len(lemmas) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		increment, err := tx.PrepareContext(ctx, `
			INSERT INTO lemma (site_id, lemma, frequency) VALUES (?, ?, 1)
			ON CONFLICT(site_id, lemma) DO UPDATE SET frequency = frequency + 1
			RETURNING id
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = increment.Close() }()

		rank, err := tx.PrepareContext(ctx, `
			INSERT INTO search_index (lemma_id, page_id, rank) VALUES (?, ?, ?)
			ON CONFLICT(lemma_id, page_id) DO UPDATE SET rank = excluded.rank
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = rank.Close() }()

		for _, l := range lemmas {
			var id int64
			if err := increment.QueryRowContext(ctx, siteID, l.Text).Scan(&id); err != nil {
				return fmt.Errorf("failed to increment lemma %s: %w", l.Text, err)
			}
			if _, err := rank.ExecContext(ctx, id, pageID, l.Count); err != nil {
				return fmt.Errorf("failed to save index row (%s, %d): %w", l.Text, pageID, err)
			}
		}
		return nil
	})
}

// LemmaByText returns the lemma of a site with the given text
func (s *SQLiteStorage) LemmaByText(ctx context.Context, siteID int64, text string) (*model.Lemma, error) {
	var l model.Lemma
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, lemma, frequency FROM lemma WHERE site_id = ? AND lemma = ?
	`, siteID, text).Scan(&l.ID, &l.SiteID, &l.Text, &l.Frequency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lemma %s: %w", text, err)
	}
	return &l, nil
}

// LemmaIDs returns up to limit lemma ids of a site
func (s *SQLiteStorage) LemmaIDs(ctx context.Context, siteID int64, limit int) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT id FROM lemma WHERE site_id = ? ORDER BY id LIMIT ?", siteID, limit)
}

// CountLemmas counts lemmas of the given sites, or of all sites when siteIDs is empty
func (s *SQLiteStorage) CountLemmas(ctx context.Context, siteIDs []int64) (int, error) {
	cond, args := inClause("site_id", siteIDs)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lemma WHERE "+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count lemmas: %w", err)
	}
	return n, nil
}

// LemmaDocumentFrequencies sums the document frequency of each text over
// the given sites. Texts without a lemma row are absent from the result.
func (s *SQLiteStorage) LemmaDocumentFrequencies(ctx context.Context, texts []string, siteIDs []int64) (map[string]int, error) {
	result := make(map[string]int, len(texts))
	if len(texts) == 0 {
		return result, nil
	}

	cond, args := inClause("site_id", siteIDs)
	textArgs := make([]any, len(texts))
	for i, t := range texts {
		textArgs[i] = t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT lemma, SUM(frequency) FROM lemma
		WHERE lemma IN (`+placeholders(len(texts))+`) AND `+cond+`
		GROUP BY lemma
	`, append(textArgs, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lemma frequencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var text string
		var df int
		if err := rows.Scan(&text, &df); err != nil {
			return nil, fmt.Errorf("failed to scan lemma frequency: %w", err)
		}
		result[text] = df
	}
	return result, rows.Err()
}

// MostCommonLemmas returns the k lemma texts with the highest document
// frequency summed over all sites, which are the k lowest-IDF lemmas.
func (s *SQLiteStorage) MostCommonLemmas(ctx context.Context, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT lemma FROM lemma
		GROUP BY lemma
		ORDER BY SUM(frequency) DESC, lemma
		LIMIT ?
	`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query most common lemmas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan lemma: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

// ReleasePage removes a page from the index: every lemma linked to the
// page loses one page of document frequency, lemmas left without pages are
// deleted, then the page's index rows are deleted.
func (s *SQLiteStorage) ReleasePage(ctx context.Context, pageID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		statements := []string{
			`UPDATE lemma SET frequency = frequency - 1
			 WHERE id IN (SELECT lemma_id FROM search_index WHERE page_id = ?)`,
			`DELETE FROM lemma
			 WHERE frequency <= 0 AND id IN (SELECT lemma_id FROM search_index WHERE page_id = ?)`,
			`DELETE FROM search_index WHERE page_id = ?`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, pageID); err != nil {
				return fmt.Errorf("failed to release page %d: %w", pageID, err)
			}
		}
		return nil
	})
}

// PagesByLemma returns the pages of the given sites indexed under text
func (s *SQLiteStorage) PagesByLemma(ctx context.Context, text string, siteIDs []int64) ([]*model.Page, error) {
	cond, args := inClause("l.site_id", siteIDs)
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.site_id, p.path, p.code, p.content, p.content_length
		FROM lemma l
		JOIN search_index i ON i.lemma_id = l.id
		JOIN page p ON p.id = i.page_id
		WHERE l.lemma = ? AND `+cond+`
		ORDER BY p.id
	`, append([]any{text}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages for lemma %s: %w", text, err)
	}
	defer func() { _ = rows.Close() }()

	var pages []*model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// RanksForPage returns the rank of each text on a page. Texts not indexed
// on the page are absent from the result.
func (s *SQLiteStorage) RanksForPage(ctx context.Context, pageID int64, texts []string) (map[string]int, error) {
	ranks := make(map[string]int, len(texts))
	if len(texts) == 0 {
		return ranks, nil
	}

	args := []any{pageID}
	for _, t := range texts {
		args = append(args, t)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.lemma, i.rank
		FROM search_index i
		JOIN lemma l ON l.id = i.lemma_id
		WHERE i.page_id = ? AND l.lemma IN (`+placeholders(len(texts))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranks for page %d: %w", pageID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var text string
		var rank int
		if err := rows.Scan(&text, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan rank: %w", err)
		}
		ranks[text] = rank
	}
	return ranks, rows.Err()
}

// DeleteIndexesByLemmas deletes the index rows of the given lemmas
func (s *SQLiteStorage) DeleteIndexesByLemmas(ctx context.Context, ids []int64) error {
	return s.deleteByIDs(ctx, "search_index", "lemma_id", ids)
}

// DeleteIndexesByPages deletes the index rows of the given pages
func (s *SQLiteStorage) DeleteIndexesByPages(ctx context.Context, ids []int64) error {
	return s.deleteByIDs(ctx, "search_index", "page_id", ids)
}

// DeleteLemmas deletes the given lemmas
func (s *SQLiteStorage) DeleteLemmas(ctx context.Context, ids []int64) error {
	return s.deleteByIDs(ctx, "lemma", "id", ids)
}

// DeletePages deletes the given pages
func (s *SQLiteStorage) DeletePages(ctx context.Context, ids []int64) error {
	return s.deleteByIDs(ctx, "page", "id", ids)
}

func (s *SQLiteStorage) deleteByIDs(ctx context.Context, table, column string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	cond, args := inClause(column, ids)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+cond, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// Statistics returns page and lemma counts for every site
func (s *SQLiteStorage) Statistics(ctx context.Context) ([]model.SiteStatistics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.url, s.language, s.status, s.status_time, s.last_error,
			(SELECT COUNT(*) FROM page p WHERE p.site_id = s.id),
			(SELECT COUNT(*) FROM lemma l WHERE l.site_id = s.id)
		FROM site s
		ORDER BY s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []model.SiteStatistics
	for rows.Next() {
		var site model.Site
		var status string
		var statusTime int64
		var st model.SiteStatistics
		if err := rows.Scan(&site.ID, &site.Name, &site.URL, &site.Language, &status, &statusTime, &site.LastError, &st.Pages, &st.Lemmas); err != nil {
			return nil, fmt.Errorf("failed to scan statistics: %w", err)
		}
		st.URL = site.URL
		st.Name = site.Name
		st.Status = model.Status(status)
		st.StatusTime = time.UnixMilli(statusTime)
		st.Error = site.LastError
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
