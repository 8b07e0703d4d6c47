// Package resolver implements the core request dispatcher: decode a
// datagram, send its provisional reply, dispatch to the configured driver,
// and — for drivers that complete asynchronously — resume on the async
// engine's completion channel to parse the upstream reply and send the
// final one. See spec.md §4.10.
package resolver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yeti-lnp/lnpresolver/internal/asyncio"
	"github.com/yeti-lnp/lnpresolver/internal/driver"
	"github.com/yeti-lnp/lnpresolver/internal/transport"
	"github.com/yeti-lnp/lnpresolver/internal/wire"
)

// CacheEntry is what gets enqueued to the cache writer for a successfully
// resolved tagged request — spec.md §4.3's "Cache entry" shape.
type CacheEntry struct {
	DriverID           uint8
	Query              string
	LocalRoutingNumber string
	RawData            string
	Tag                string
}

// CacheEnqueuer accepts completed cache entries without blocking the
// caller; Enqueue returns false if the entry was dropped (queue full).
type CacheEnqueuer interface {
	Enqueue(entry CacheEntry) bool
}

// MetricsSink receives the four per-driver counter families spec.md §6
// requires: requests started, requests failed, requests finished, and
// request duration.
type MetricsSink interface {
	IncRequests(dbID uint8)
	IncFailed(dbID uint8)
	IncFinished(dbID uint8)
	ObserveDuration(dbID uint8, d time.Duration)
}

// inFlightEntry is what the synchronous path stashes for an async driver
// call until its matching Completion arrives.
type inFlightEntry struct {
	client  transport.Client
	driver  driver.Driver
	dbID    uint8
	reqType wire.RequestType
	payload []byte
	start   time.Time
}

// Dispatcher implements transport.Handler and also drains the async
// engine's completion channel. Registry lookups and in-flight-map access
// are the only state shared across the per-datagram goroutines transport
// spawns; both are protected independently (the registry by its own
// RWMutex, the in-flight map by Dispatcher's), so no single serializing
// goroutine is required for the synchronous path — only completions,
// which have exactly one reader, need one.
type Dispatcher struct {
	Logger   *slog.Logger
	Registry *driver.Registry
	Engine   *asyncio.Engine
	Cache    CacheEnqueuer
	Metrics  MetricsSink

	completions <-chan asyncio.Completion

	mu       sync.Mutex
	inFlight map[uint32]inFlightEntry
}

// NewDispatcher builds a Dispatcher that reads completions from the given
// channel (shared with the asyncio.Engine driving outbound HTTP requests).
func NewDispatcher(logger *slog.Logger, registry *driver.Registry, engine *asyncio.Engine, completions <-chan asyncio.Completion) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Logger:      logger,
		Registry:    registry,
		Engine:      engine,
		completions: completions,
		inFlight:    make(map[uint32]inFlightEntry),
	}
}

// Run drains completions until ctx is cancelled. It is meant to run on its
// own goroutine for the lifetime of the process.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-d.completions:
			d.handleCompletion(c)
		}
	}
}

// HandleDatagram implements transport.Handler: spec.md §4.10's synchronous
// path — decode, provisional reply, registry lookup, dispatch.
func (d *Dispatcher) HandleDatagram(ctx context.Context, client transport.Client, payload []byte) {
	req, err := wire.ParseRequest(payload)
	if err != nil {
		d.sendError(client, req.ReqID, req.Type, err)
		return
	}

	if sendErr := transport.Send(client, wire.Provisional(req.ReqID)); sendErr != nil {
		d.Logger.Warn("resolver: failed to send provisional reply", "error", sendErr)
	}

	drv, ok := d.Registry.Get(req.DBID)
	if !ok {
		d.sendError(client, req.ReqID, req.Type, wire.NewResolverError(wire.CodeGeneralResolvingError, "unknown database id"))
		return
	}
	if drv.DeclaredType() != req.Type {
		d.sendError(client, req.ReqID, req.Type, wire.NewResolverError(wire.CodeGeneralResolvingError, "request type does not match driver's declared type"))
		return
	}

	if d.Metrics != nil {
		d.Metrics.IncRequests(req.DBID)
	}
	start := time.Now()

	result, done, err := drv.StartResolve(ctx, req.ReqID, req.Payload, d.Engine)
	if done {
		d.finish(client, req.DBID, req.ReqID, req.Type, req.Payload, result, err, start)
		return
	}

	d.mu.Lock()
	d.inFlight[req.ReqID] = inFlightEntry{
		client:  client,
		driver:  drv,
		dbID:    req.DBID,
		reqType: req.Type,
		payload: req.Payload,
		start:   start,
	}
	d.mu.Unlock()
}

// handleCompletion implements spec.md §4.10's async completion path: look
// up and remove the matching in-flight entry, translate an engine failure
// into a wire error code (a non-OK upstream response becomes
// DRIVER_RESOLVING_ERROR, anything else GENERAL_RESOLVING_ERROR per
// spec.md §7), and parse the reply body.
func (d *Dispatcher) handleCompletion(c asyncio.Completion) {
	d.mu.Lock()
	entry, ok := d.inFlight[c.RequestID]
	if ok {
		delete(d.inFlight, c.RequestID)
	}
	d.mu.Unlock()

	if !ok {
		d.Logger.Warn("resolver: completion for unknown or already-handled request", "request_id", c.RequestID)
		return
	}

	if c.Err != nil {
		code := wire.CodeGeneralResolvingError
		if _, ok := asyncio.StatusCode(c.Err); ok {
			code = wire.CodeDriverResolvingError
		}
		d.finish(entry.client, entry.dbID, c.RequestID, entry.reqType, entry.payload, driver.Result{}, wire.Wrap(code, c.Err), entry.start)
		return
	}

	result, err := entry.driver.Parse(c.Body, entry.payload)
	d.finish(entry.client, entry.dbID, c.RequestID, entry.reqType, entry.payload, result, err, entry.start)
}

// finish updates metrics, enqueues a cache entry for a successful tagged
// resolution, and encodes and sends the final reply — spec.md §4.10 step 4
// and §4.3's "enqueued only for tagged successful resolutions".
func (d *Dispatcher) finish(client transport.Client, dbID uint8, reqID uint32, reqType wire.RequestType, payload []byte, result driver.Result, err error, start time.Time) {
	if d.Metrics != nil {
		d.Metrics.ObserveDuration(dbID, time.Since(start))
	}

	if err != nil {
		if d.Metrics != nil {
			d.Metrics.IncFailed(dbID)
		}
		d.sendError(client, reqID, reqType, err)
		return
	}

	if d.Metrics != nil {
		d.Metrics.IncFinished(dbID)
	}

	if reqType == wire.TypeCNAM {
		if sendErr := transport.Send(client, wire.CNAMReply(reqID, []byte(result.RawData))); sendErr != nil {
			d.Logger.Warn("resolver: failed to send cnam reply", "error", sendErr)
		}
		return
	}

	if d.Cache != nil {
		d.Cache.Enqueue(CacheEntry{
			DriverID:           dbID,
			Query:              string(payload),
			LocalRoutingNumber: result.LocalRoutingNumber,
			RawData:            result.RawData,
			Tag:                result.LocalRoutingTag,
		})
	}

	if sendErr := transport.Send(client, wire.TaggedSuccess(reqID, result.LocalRoutingNumber, result.LocalRoutingTag)); sendErr != nil {
		d.Logger.Warn("resolver: failed to send tagged reply", "error", sendErr)
	}
}

func (d *Dispatcher) sendError(client transport.Client, reqID uint32, reqType wire.RequestType, err error) {
	if sendErr := transport.Send(client, wire.EncodeErrorReply(reqID, reqType, err)); sendErr != nil {
		d.Logger.Warn("resolver: failed to send error reply", "error", sendErr)
	}
}
