// Package storage provides data persistence for the search engine.
// It implements SQLite-based storage for sites, pages, lemmas and the
// lemma-to-page index.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/masahif/lemmasearch/internal/model"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStorage stores the index in a SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// pragmas are applied to every connection through the DSN
var pragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(30000)",
	"temp_store(MEMORY)",
	"cache_size(-64000)",
}

// NewSQLiteStorage opens the database at dbPath and creates the schema
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	params := url.Values{}
	for _, p := range pragmas {
		params.Add("_pragma", p)
	}

	db, err := sql.Open("sqlite", dbPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection serializes read-modify-write statements
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// inClause renders "column IN (?, ?, ...)" for ids. An empty id list
// renders an always-true condition so that a nil scope means all rows.
func inClause(column string, ids []int64) (string, []any) {
	if len(ids) == 0 {
		return "1 = 1", nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return column + " IN (" + placeholders(len(ids)) + ")", args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

const siteColumns = "id, name, url, language, status, status_time, last_error"

func scanSite(row interface{ Scan(...any) error }) (*model.Site, error) {
	var site model.Site
	var status string
	var statusTime int64
	if err := row.Scan(&site.ID, &site.Name, &site.URL, &site.Language, &status, &statusTime, &site.LastError); err != nil {
		return nil, err
	}
	site.Status = model.Status(status)
	site.StatusTime = time.UnixMilli(statusTime)
	return &site, nil
}

// UpsertSite inserts the site or updates the row with the same name,
// and sets site.ID.
func (s *SQLiteStorage) UpsertSite(ctx context.Context, site *model.Site) error {
	if site.StatusTime.IsZero() {
		site.StatusTime = time.Now()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO site (name, url, language, status, status_time, last_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			language = excluded.language,
			status = excluded.status,
			status_time = excluded.status_time,
			last_error = excluded.last_error
		RETURNING id
	`, site.Name, site.URL, site.Language, string(site.Status), millis(site.StatusTime), site.LastError).Scan(&site.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert site %s: %w", site.Name, err)
	}
	return nil
}

// SiteByName returns the site with the given name
func (s *SQLiteStorage) SiteByName(ctx context.Context, name string) (*model.Site, error) {
	return s.querySite(ctx, "SELECT "+siteColumns+" FROM site WHERE name = ?", name)
}

// SiteByURL returns the site with the given root url
func (s *SQLiteStorage) SiteByURL(ctx context.Context, siteURL string) (*model.Site, error) {
	return s.querySite(ctx, "SELECT "+siteColumns+" FROM site WHERE url = ?", siteURL)
}

// SiteByID returns the site with the given id
func (s *SQLiteStorage) SiteByID(ctx context.Context, id int64) (*model.Site, error) {
	return s.querySite(ctx, "SELECT "+siteColumns+" FROM site WHERE id = ?", id)
}

func (s *SQLiteStorage) querySite(ctx context.Context, query string, arg any) (*model.Site, error) {
	site, err := scanSite(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return site, nil
}

// ListSites returns all sites ordered by id
func (s *SQLiteStorage) ListSites(ctx context.Context) ([]*model.Site, error) {
	return s.querySites(ctx, "SELECT "+siteColumns+" FROM site ORDER BY id")
}

// SitesByStatus returns the sites in the given status
func (s *SQLiteStorage) SitesByStatus(ctx context.Context, status model.Status) ([]*model.Site, error) {
	return s.querySites(ctx, "SELECT "+siteColumns+" FROM site WHERE status = ? ORDER BY id", string(status))
}

// SitesByURLs returns the sites whose url is one of urls
func (s *SQLiteStorage) SitesByURLs(ctx context.Context, urls []string) ([]*model.Site, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	return s.querySites(ctx, "SELECT "+siteColumns+" FROM site WHERE url IN ("+placeholders(len(urls))+") ORDER BY id", args...)
}

func (s *SQLiteStorage) querySites(ctx context.Context, query string, args ...any) ([]*model.Site, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sites []*model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// TouchSite refreshes the status time of a site
func (s *SQLiteStorage) TouchSite(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE site SET status_time = ? WHERE id = ?", millis(time.Now()), id); err != nil {
		return fmt.Errorf("failed to touch site %d: %w", id, err)
	}
	return nil
}

// MarkSiteIndexedIfIndexing moves a site from INDEXING to INDEXED and
// reports whether the transition happened.
func (s *SQLiteStorage) MarkSiteIndexedIfIndexing(ctx context.Context, id int64) (bool, error) {
	return s.transition(ctx, id, model.StatusIndexed, "")
}

// MarkSiteFailedIfIndexing moves a site from INDEXING to FAILED with reason
// and reports whether the transition happened.
func (s *SQLiteStorage) MarkSiteFailedIfIndexing(ctx context.Context, id int64, reason string) (bool, error) {
	return s.transition(ctx, id, model.StatusFailed, reason)
}

func (s *SQLiteStorage) transition(ctx context.Context, id int64, to model.Status, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE site SET status = ?, status_time = ?, last_error = ?
		WHERE id = ? AND status = 'INDEXING'
	`, string(to), millis(time.Now()), reason, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark site %d %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark site %d %s: %w", id, to, err)
	}
	return n > 0, nil
}

// DeleteSite removes a site with all its pages, lemmas and index rows
func (s *SQLiteStorage) DeleteSite(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM site WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete site %d: %w", id, err)
	}
	return nil
}

// SavePages inserts or replaces pages by (site, path) and sets their ids
func (s *SQLiteStorage) SavePages(ctx context.Context, pages []*model.Page) error {
	if len(pages) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO page (site_id, path, code, content, content_length)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(site_id, path) DO UPDATE SET
				code = excluded.code,
				content = excluded.content,
				content_length = excluded.content_length
			RETURNING id
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, p := range pages {
			if err := stmt.QueryRowContext(ctx, p.SiteID, p.Path, p.HTTPStatus, p.Content, p.ContentLength).Scan(&p.ID); err != nil {
				return fmt.Errorf("failed to save page %s: %w", p.Path, err)
			}
		}
		return nil
	})
}

const pageColumns = "id, site_id, path, code, content, content_length"

func scanPage(row interface{ Scan(...any) error }) (*model.Page, error) {
	var p model.Page
	if err := row.Scan(&p.ID, &p.SiteID, &p.Path, &p.HTTPStatus, &p.Content, &p.ContentLength); err != nil {
		return nil, err
	}
	return &p, nil
}

// PageByPath returns the page of a site with the given path
func (s *SQLiteStorage) PageByPath(ctx context.Context, siteID int64, path string) (*model.Page, error) {
	p, err := scanPage(s.db.QueryRowContext(ctx, "SELECT "+pageColumns+" FROM page WHERE site_id = ? AND path = ?", siteID, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page %s: %w", path, err)
	}
	return p, nil
}

// UpdatePage replaces the status and content of a stored page
func (s *SQLiteStorage) UpdatePage(ctx context.Context, p *model.Page) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE page SET code = ?, content = ?, content_length = ? WHERE id = ?
	`, p.HTTPStatus, p.Content, p.ContentLength, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update page %d: %w", p.ID, err)
	}
	return nil
}

// CountPages counts pages of the given sites, or of all sites when siteIDs is empty
func (s *SQLiteStorage) CountPages(ctx context.Context, siteIDs []int64) (int, error) {
	cond, args := inClause("site_id", siteIDs)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM page WHERE "+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// PageIDs returns up to limit page ids of a site
func (s *SQLiteStorage) PageIDs(ctx context.Context, siteID int64, limit int) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT id FROM page WHERE site_id = ? ORDER BY id LIMIT ?", siteID, limit)
}

// AveragePageLength returns the mean content length over all pages
func (s *SQLiteStorage) AveragePageLength(ctx context.Context) (float64, error) {
	var avg float64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(AVG(content_length), 0) FROM page").Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to compute average page length: %w", err)
	}
	return avg, nil
}

func (s *SQLiteStorage) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
