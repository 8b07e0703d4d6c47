package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// RowSource loads the opaque driver-configuration rows from the control
// database. It is implemented by the store package so this package stays
// free of any database/sql or driver-specific SQL knowledge, per spec.md
// §1's "treat load_lnp_databases() as opaque rows of named columns."
type RowSource interface {
	LoadDriverRows(ctx context.Context) ([]RawRow, error)
}

// Registry is the live db_id → Driver mapping. It is replaced wholesale on
// reload, under a mutex held only for the swap itself, matching spec.md
// §4.4's "mutex held for the dispatch decision only" invariant — grounded
// on reloadable_custom_dns.go's Reload.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	drivers map[uint8]Driver
}

// NewRegistry creates an empty Registry. Call Load before serving traffic.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, drivers: map[uint8]Driver{}}
}

// Get looks up the driver for db_id. The read lock is held only for the
// map index, never across I/O.
func (r *Registry) Get(dbID uint8) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[dbID]
	return d, ok
}

// Load executes the row source, builds a fresh driver map, and atomically
// swaps it in on full success. On any failure the previous registry is left
// intact and the error is returned — spec.md §4.4 steps 3-4.
//
// Unknown driver kinds are skipped with a logged warning (step 2); any
// other row-level configuration error aborts the whole reload.
func (r *Registry) Load(ctx context.Context, src RowSource) error {
	rows, err := src.LoadDriverRows(ctx)
	if err != nil {
		return fmt.Errorf("driver registry: load rows: %w", err)
	}

	var shape Shape
	if len(rows) > 0 {
		shape = DetectShape(rows[0])
	}

	next := make(map[uint8]Driver, len(rows))
	for i, row := range rows {
		kind, ok := kindFromRow(row)
		if !ok {
			r.logger.Warn("driver registry: row has no recognizable kind, skipping", "row_index", i)
			continue
		}

		common, err := commonConfigFromRow(row)
		if err != nil {
			return fmt.Errorf("driver registry: row %d: %w", i, err)
		}

		d, err := build(kind, common, shape, row)
		if err != nil {
			if errors.Is(err, ErrUnknownKind) {
				r.logger.Warn("driver registry: unknown driver kind, skipping", "kind", kind, "row_index", i)
				continue
			}
			return fmt.Errorf("driver registry: row %d (kind %s): %w", i, kind, err)
		}

		id, ok := dbIDFromUniqueID(common.UniqueID)
		if !ok {
			return fmt.Errorf("driver registry: row %d: unique_id %d out of db_id range", i, common.UniqueID)
		}
		next[id] = d
	}

	r.mu.Lock()
	r.drivers = next
	r.mu.Unlock()

	r.logger.Info("driver registry: loaded", "driver_count", len(next))
	return nil
}

// Snapshot returns every currently-registered driver, for metrics
// pre-registration at load time (spec.md §6).
func (r *Registry) Snapshot() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, d)
	}
	return out
}

func dbIDFromUniqueID(id int32) (uint8, bool) {
	if id < 0 || id > 255 {
		return 0, false
	}
	return uint8(id), true
}

func commonConfigFromRow(row RawRow) (CommonConfig, error) {
	id, ok := row["unique_id"]
	if !ok {
		return CommonConfig{}, fmt.Errorf("row missing unique_id")
	}
	idInt, ok := asInt(id)
	if !ok {
		return CommonConfig{}, fmt.Errorf("unique_id has unexpected type %T", id)
	}

	label, _ := asString(row, "label")

	timeout := DefaultTimeoutMillis
	if v, ok := row["timeout"]; ok {
		if t, ok := asInt(v); ok && t > 0 {
			timeout = t
		}
	}

	return CommonConfig{UniqueID: int32(idInt), Label: label, Timeout: timeout}, nil
}
