// Package metrics exposes the four per-driver counter families spec.md §6
// requires, backed by github.com/prometheus/client_golang. Each driver
// pre-registers a zero-valued sample at registry-load time so a driver
// that never serves a request still shows up in scrapes.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink collects the four counter families, each labelled by driver type
// name and numeric id, per spec.md §6.
type Sink struct {
	requests *prometheus.CounterVec
	failed   *prometheus.CounterVec
	finished *prometheus.CounterVec
	timeMs   *prometheus.CounterVec
}

// DriverLabel identifies one driver for pre-registration: its wire db_id
// and the human-readable kind/label spec.md's metric naming wants.
type DriverLabel struct {
	DBID  uint8
	Kind  string
	Label string
}

// NewSink registers the four counter families with reg and returns a Sink.
// Pass prometheus.NewRegistry() (or prometheus.DefaultRegisterer wrapped in
// a registry) so tests don't collide with global registration.
func NewSink(reg prometheus.Registerer) *Sink {
	labels := []string{"db_id", "driver_type", "label"}

	s := &Sink{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_requests_count",
			Help: "Total number of resolution requests dispatched to a driver.",
		}, labels),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_requests_failed",
			Help: "Total number of resolution requests that ended in an error.",
		}, labels),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_requests_finished",
			Help: "Total number of resolution requests that completed successfully.",
		}, labels),
		timeMs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_requests_time",
			Help: "Accumulated resolution duration in milliseconds.",
		}, labels),
	}

	reg.MustRegister(s.requests, s.failed, s.finished, s.timeMs)
	return s
}

// PreRegister touches every counter for each driver with a zero value, per
// spec.md §6's "each driver pre-registers zero-valued samples at load
// time" — otherwise a driver with no traffic yet would simply be absent
// from a scrape instead of reporting 0.
func (s *Sink) PreRegister(drivers []DriverLabel) {
	for _, d := range drivers {
		s.requests.WithLabelValues(dbIDLabel(d.DBID), d.Kind, d.Label).Add(0)
		s.failed.WithLabelValues(dbIDLabel(d.DBID), d.Kind, d.Label).Add(0)
		s.finished.WithLabelValues(dbIDLabel(d.DBID), d.Kind, d.Label).Add(0)
		s.timeMs.WithLabelValues(dbIDLabel(d.DBID), d.Kind, d.Label).Add(0)
	}
}

// dbIDLookup resolves a bare db_id to the kind/label pair registered at
// PreRegister time, so IncRequests et al. (which only know the db_id the
// wire protocol carries) can supply matching label values. A driver not
// seen at PreRegister still gets recorded, labelled unknown, rather than
// panicking or silently dropping the sample.
type dbIDLookup struct {
	kind, label string
}

// Registry implements resolver.MetricsSink against a Sink, resolving a bare
// db_id to its registered driver-type/label pair. The lookup table is
// replaced wholesale under a lock on Update, mirroring driver.Registry's
// own reload-swap posture, so a driver-registry reload can refresh the
// label set without handing the resolver a brand new MetricsSink.
type Registry struct {
	sink *Sink

	mu     sync.RWMutex
	lookup map[uint8]dbIDLookup
}

// NewRegistry builds a Registry over sink, indexing the given driver
// labels so the resolver.MetricsSink methods (which only receive a db_id)
// can supply the driver_type/label values the counter families need.
func NewRegistry(sink *Sink, drivers []DriverLabel) *Registry {
	r := &Registry{sink: sink}
	r.Update(drivers)
	return r
}

// Update pre-registers zero-valued samples for drivers and swaps in a
// fresh db_id -> label lookup, used after a driver registry reload.
func (r *Registry) Update(drivers []DriverLabel) {
	lookup := make(map[uint8]dbIDLookup, len(drivers))
	for _, d := range drivers {
		lookup[d.DBID] = dbIDLookup{kind: d.Kind, label: d.Label}
	}
	r.sink.PreRegister(drivers)

	r.mu.Lock()
	r.lookup = lookup
	r.mu.Unlock()
}

func (r *Registry) resolve(dbID uint8) (string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.lookup[dbID]; ok {
		return l.kind, l.label
	}
	return "unknown", "unknown"
}

func dbIDLabel(dbID uint8) string {
	return strconv.Itoa(int(dbID))
}

// IncRequests implements resolver.MetricsSink.
func (r *Registry) IncRequests(dbID uint8) {
	kind, label := r.resolve(dbID)
	r.sink.requests.WithLabelValues(dbIDLabel(dbID), kind, label).Inc()
}

// IncFailed implements resolver.MetricsSink.
func (r *Registry) IncFailed(dbID uint8) {
	kind, label := r.resolve(dbID)
	r.sink.failed.WithLabelValues(dbIDLabel(dbID), kind, label).Inc()
}

// IncFinished implements resolver.MetricsSink.
func (r *Registry) IncFinished(dbID uint8) {
	kind, label := r.resolve(dbID)
	r.sink.finished.WithLabelValues(dbIDLabel(dbID), kind, label).Inc()
}

// ObserveDuration implements resolver.MetricsSink, accumulating
// milliseconds into the driver_requests_time counter per spec.md §6.
func (r *Registry) ObserveDuration(dbID uint8, d time.Duration) {
	kind, label := r.resolve(dbID)
	r.sink.timeMs.WithLabelValues(dbIDLabel(dbID), kind, label).Add(float64(d.Milliseconds()))
}
