package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/masahif/lemmasearch/internal/cache"
	"github.com/masahif/lemmasearch/internal/config"
	"github.com/masahif/lemmasearch/internal/crawler"
	"github.com/masahif/lemmasearch/internal/indexer"
	"github.com/masahif/lemmasearch/internal/lemma"
	"github.com/masahif/lemmasearch/internal/logging"
	"github.com/masahif/lemmasearch/internal/manager"
	"github.com/masahif/lemmasearch/internal/search"
	"github.com/masahif/lemmasearch/internal/storage"
)

// app holds the wired components shared by the subcommands
type app struct {
	cfg     *config.Config
	store   *storage.SQLiteStorage
	cache   *cache.Cache
	client  *crawler.HTTPClient
	manager *manager.Manager
	engine  *search.Engine
	closers []io.Closer
}

// newApp validates cfg, sets up logging and opens the storage layers
func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCloser, err := logging.SetDefault(logging.FromSettings(cfg.Log))
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	a := &app{cfg: cfg, closers: []io.Closer{logCloser}}

	if err := a.open(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open() error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DatabasePath), 0750); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(a.cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	c, err := cache.Open(a.cfg.CachePath, slog.Default())
	if err != nil {
		return err
	}
	a.cache = c
	a.closers = append(a.closers, c)

	registry, err := lemma.NewRegistry(a.cfg.Morphology)
	if err != nil {
		return err
	}

	a.client = crawler.NewHTTPClient(a.cfg.Crawl)
	var robots *crawler.RobotsRules
	if a.cfg.Crawl.RespectRobots {
		robots = crawler.NewRobotsRules(a.client, a.cfg.Crawl.UserAgent)
	}

	a.engine = search.New(store, registry, c, a.cfg.Search)
	a.manager, err = manager.New(a.cfg, manager.Deps{
		Storage:     store,
		Visited:     c,
		Fetcher:     a.client,
		Indexer:     indexer.New(store, registry, a.cfg.BatchSize),
		Invalidator: a.engine,
		Robots:      robots,
	})
	return err
}

// Close stops running work and closes the storage layers in reverse order
func (a *app) Close() error {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.client != nil {
		a.client.Close()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
