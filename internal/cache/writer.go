package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pagefront/internal/metrics"
)

type WriteMode string

const (
	// WriteBackground submits writes to a bounded pool and returns immediately.
	WriteBackground WriteMode = "background"
	// WriteInline performs the write before returning. Failures are still
	// only logged.
	WriteInline WriteMode = "inline"
)

// Writer performs best-effort cache writes. A failed write is logged and
// counted, never returned to the request that produced the page.
type Writer struct {
	store   Store
	mode    WriteMode
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewWriter(store Store, mode WriteMode, concurrency int, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Writer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if mode == "" {
		mode = WriteBackground
	}
	return &Writer{
		store:   store,
		mode:    mode,
		timeout: timeout,
		slots:   make(chan struct{}, concurrency),
		logger:  log,
		metrics: m,
	}
}

// Write stores the page. In background mode it never blocks: when every
// write slot is busy the write is dropped and the page stays uncached.
func (w *Writer) Write(key, body string, tags []string, ttl time.Duration) {
	if w.mode == WriteInline {
		w.write(key, body, tags, ttl)
		return
	}

	select {
	case w.slots <- struct{}{}:
	default:
		w.metrics.CacheWriteDropped()
		w.logger.Warn("Cache write dropped, all write slots busy",
			zap.String("key", key),
			zap.Int("slots", cap(w.slots)),
		)
		return
	}

	w.wg.Add(1)
	w.metrics.WriteStarted()
	go func() {
		defer w.wg.Done()
		defer w.metrics.WriteFinished()
		defer func() { <-w.slots }()
		w.write(key, body, tags, ttl)
	}()
}

func (w *Writer) write(key, body string, tags []string, ttl time.Duration) {
	// Detached from the request: the response may already be complete.
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.store.Set(ctx, key, body, tags, ttl)
	w.metrics.CacheWrite(err)
	if err != nil {
		w.logger.Warn("Cache write failed",
			zap.String("key", key),
			zap.Strings("tags", tags),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("Cache entry stored", zap.String("key", key), zap.Int("tags", len(tags)))
}

// Drain waits for in-flight background writes or until ctx is done.
func (w *Writer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
