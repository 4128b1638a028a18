package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/masahif/lemmasearch/internal/model"
)

const (
	maxFlushAttempts = 3
	flushBackoff     = 200 * time.Millisecond
)

// FlushFunc persists and indexes pages. It returns how many leading pages
// were fully processed before an error. attempt is zero on the first try
// of a batch; on a retry the first page may be partially indexed.
type FlushFunc func(ctx context.Context, pages []*model.Page, attempt int) (int, error)

// PageBuffer collects crawled pages of one site and flushes them in
// batches. Adding and flushing share one lock, so a batch is persisted
// and indexed before the buffer accepts the next page.
type PageBuffer struct {
	mu        sync.Mutex
	pages     []*model.Page
	threshold int
	flush     FlushFunc
	backoff   time.Duration
	closed    bool
	lost      int
	lostErr   error
}

// NewPageBuffer creates a buffer that flushes once it holds more than
// threshold pages
func NewPageBuffer(threshold int, flush FlushFunc) *PageBuffer {
	if threshold < 1 {
		threshold = 1
	}
	return &PageBuffer{
		threshold: threshold,
		flush:     flush,
		backoff:   flushBackoff,
	}
}

// Add buffers a page, flushing the buffer when it exceeds the threshold
func (b *PageBuffer) Add(ctx context.Context, page *model.Page) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}
	b.pages = append(b.pages, page)
	if len(b.pages) <= b.threshold {
		return nil
	}
	return b.flushLocked(ctx)
}

// Flush persists all buffered pages
func (b *PageBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}
	return b.flushLocked(ctx)
}

// Close rejects further pages and discards the buffered ones, returning
// how many were discarded
func (b *PageBuffer) Close() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	n := len(b.pages)
	b.pages = nil
	return n
}

// Len returns the number of buffered pages
func (b *PageBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

// Lost returns how many pages were dropped after their batch exhausted its
// flush attempts, along with the first such failure
func (b *PageBuffer) Lost() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost, b.lostErr
}

func (b *PageBuffer) flushLocked(ctx context.Context) error {
	pending := b.pages
	b.pages = nil

	var err error
	for attempt := 0; attempt < maxFlushAttempts && len(pending) > 0; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return b.drop(pending, ctx.Err())
			case <-time.After(b.backoff * time.Duration(attempt)):
			}
		}

		var done int
		done, err = b.flush(ctx, pending, attempt)
		pending = pending[done:]
		if err == nil {
			return nil
		}
		slog.Warn("Page flush failed", "attempt", attempt+1, "pending", len(pending), "error", err)
	}
	if err != nil {
		return b.drop(pending, err)
	}
	return nil
}

func (b *PageBuffer) drop(pending []*model.Page, cause error) error {
	err := fmt.Errorf("failed to flush %d pages: %w", len(pending), cause)
	b.lost += len(pending)
	if b.lostErr == nil {
		b.lostErr = err
	}
	return err
}
