// Package cachewriter implements the resolver's background cache-writer
// thread: a bounded queue drained one entry at a time against a long-lived
// control-database connection, with its own reconnect-on-failure and
// periodic health-check behavior. See spec.md §4.11.
package cachewriter

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/yeti-lnp/lnpresolver/internal/resolver"
)

// reconnectDelay is how long the writer sleeps after a failed (re)connect
// or health check before trying again.
const reconnectDelay = 5 * time.Second

// Opener produces a fresh *sql.DB handle for the writer to reconnect with.
// Implementations typically close over a driver name and DSN.
type Opener func(ctx context.Context) (*sql.DB, error)

// Writer drains a bounded queue of resolver.CacheEntry values onto the
// control database, one at a time, on its own goroutine. It satisfies
// resolver.CacheEnqueuer.
type Writer struct {
	logger *slog.Logger
	open   Opener
	stmt   string

	checkInterval time.Duration
	queue         chan resolver.CacheEntry

	mu  sync.Mutex
	db  *sql.DB
	bad bool
}

// NewWriter builds a Writer with the given queue depth and health-check
// interval. stmt is the dialect-appropriate SQL text for invoking the
// control database's cache_lnp_data(smallint, varchar, varchar, varchar)
// prepared statement (placeholder syntax differs between the Postgres and
// SQLite control-DB backends, so internal/store supplies it). Nothing is
// connected until Run starts.
func NewWriter(logger *slog.Logger, open Opener, stmt string, queueDepth int, checkInterval time.Duration) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if queueDepth <= 0 {
		queueDepth = 1
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	return &Writer{
		logger:        logger,
		open:          open,
		stmt:          stmt,
		checkInterval: checkInterval,
		queue:         make(chan resolver.CacheEntry, queueDepth),
		bad:           true,
	}
}

// Enqueue offers an entry to the writer without blocking. It returns false
// if the queue is full; the caller is expected to log and drop, matching
// spec.md §4.11's "producers never block on I/O".
func (w *Writer) Enqueue(entry resolver.CacheEntry) bool {
	select {
	case w.queue <- entry:
		return true
	default:
		return false
	}
}

// Run drains the queue until ctx is cancelled, reconnecting as needed. It
// is meant to run on its own goroutine for the lifetime of the process.
func (w *Writer) Run(ctx context.Context) {
	defer w.closeConn()

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-w.queue:
			w.write(ctx, entry)
		case <-ticker.C:
			w.healthCheck(ctx)
		}
	}
}

// write ensures a healthy connection and applies the prepared statement,
// discarding the entry on any failure (at-most-once delivery).
func (w *Writer) write(ctx context.Context, entry resolver.CacheEntry) {
	if !w.ensureHealthy(ctx) {
		w.logger.Warn("cachewriter: dropping entry, no healthy connection", "driver_id", entry.DriverID)
		return
	}

	_, err := w.db.ExecContext(ctx, w.stmt, entry.DriverID, entry.Query, entry.LocalRoutingNumber, nil)
	if err != nil {
		w.logger.Warn("cachewriter: statement failed, discarding entry", "driver_id", entry.DriverID, "error", err)
		w.markBad()
		return
	}
}

// healthCheck issues a zero-op transaction to detect connection loss on an
// otherwise idle wake, per spec.md §4.11.
func (w *Writer) healthCheck(ctx context.Context) {
	if !w.ensureHealthy(ctx) {
		return
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.logger.Warn("cachewriter: health check failed to open transaction", "error", err)
		w.markBad()
		return
	}
	if err := tx.Rollback(); err != nil {
		w.logger.Warn("cachewriter: health check failed to close transaction", "error", err)
		w.markBad()
	}
}

// ensureHealthy reconnects if the connection is known-bad, sleeping
// reconnectDelay between attempts as spec.md §4.11 requires.
func (w *Writer) ensureHealthy(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.bad {
		return true
	}

	if w.db != nil {
		_ = w.db.Close()
		w.db = nil
	}

	for {
		db, err := w.open(ctx)
		if err == nil {
			if pingErr := db.PingContext(ctx); pingErr == nil {
				w.db = db
				w.bad = false
				return true
			} else {
				_ = db.Close()
				err = pingErr
			}
		}

		w.logger.Warn("cachewriter: reconnect failed, retrying", "error", err, "retry_in", reconnectDelay)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(reconnectDelay):
		}
	}
}

func (w *Writer) markBad() {
	w.mu.Lock()
	w.bad = true
	w.mu.Unlock()
}

func (w *Writer) closeConn() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db != nil {
		_ = w.db.Close()
		w.db = nil
	}
}
