// Package cache is the key-value cache backed by an embedded Badger database.
// It stores visited-link sets of running crawls and serialized query results.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("cache: key not found")

const (
	setPrefix       = "set/"
	maxSetAttempts  = 10
	deleteBatchSize = 1000
)

// Cache wraps a Badger database
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

// Info and debug output is dropped
func (l *badgerLogger) Infof(string, ...any)  {}
func (l *badgerLogger) Debugf(string, ...any) {}

// Open opens the cache in directory path. An empty path keeps the cache in memory.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "cache")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

// Close closes the database
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the value stored under key
func (c *Cache) Get(key string) ([]byte, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key
func (c *Cache) Set(key string, value []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// AddToSet adds member to the named set and reports whether it was absent.
// Concurrent adds of the same member conflict in Badger; exactly one of them
// commits and reports true.
func (c *Cache) AddToSet(set, member string) (bool, error) {
	key := []byte(setKey(set) + member)

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		added := false
		err := c.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, badger.ErrKeyNotFound):
				added = true
				return txn.Set(key, nil)
			default:
				return err
			}
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to add to set %q: %w", set, err)
		}
		return added, nil
	}

	return false, fmt.Errorf("failed to add to set %q: %w", set, badger.ErrConflict)
}

// DeleteSet removes the named set and all its members
func (c *Cache) DeleteSet(set string) error {
	return c.DeletePrefix(setKey(set))
}

// setKey is the key prefix of a set's members. The name is escaped so no
// set's prefix is a prefix of another set's keys.
func setKey(set string) string {
	return setPrefix + url.PathEscape(set) + "/"
}

// DeletePrefix removes every key starting with prefix
func (c *Cache) DeletePrefix(prefix string) error {
	for {
		keys, err := c.keys([]byte(prefix), deleteBatchSize)
		if err != nil {
			return fmt.Errorf("failed to list keys with prefix %q: %w", prefix, err)
		}
		if len(keys) == 0 {
			return nil
		}

		wb := c.db.NewWriteBatch()
		for _, k := range keys {
			if err := wb.Delete(k); err != nil {
				wb.Cancel()
				return fmt.Errorf("failed to delete keys with prefix %q: %w", prefix, err)
			}
		}
		if err := wb.Flush(); err != nil {
			return fmt.Errorf("failed to delete keys with prefix %q: %w", prefix, err)
		}
	}
}

func (c *Cache) keys(prefix []byte, limit int) ([][]byte, error) {
	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(keys) < limit; it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}
