package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/five82/infinario/requests"
)

var _ requests.Observer = (*Store)(nil)

// Snapshot is a point-in-time view of delivery statistics.
type Snapshot struct {
	Completed           int
	Succeeded           int
	Failed              int
	Killed              int
	Pending             int
	BytesReceived       int64
	LastStatus          requests.Status
	LastError           error
	LastUpdated         time.Time
	ConsecutiveFailures int // failures since the last success
}

// IsOffline reports whether the collector has been unreachable for several
// requests in a row.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// Store accumulates request outcomes. The zero value is ready to use; call
// Register to also export the counts as Prometheus metrics.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	metrics  *metrics
}

type metrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	bytes    prometheus.Counter
	pending  prometheus.Gauge
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Register creates the store's collectors and registers them with reg.
func (s *Store) Register(reg prometheus.Registerer) error {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infinario",
			Name:      "requests_total",
			Help:      "Completed collector requests by status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "infinario",
			Name:      "request_duration_seconds",
			Help:      "Time from enqueue to completion.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "infinario",
			Name:      "response_bytes_total",
			Help:      "Response body bytes received.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "infinario",
			Name:      "requests_pending",
			Help:      "Requests still queued after the last completion.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.bytes, m.pending} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
	return nil
}

// Observe records one delivered outcome.
func (s *Store) Observe(out requests.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &s.snapshot
	snap.Completed++
	snap.Pending = out.Pending
	snap.BytesReceived += int64(out.BodyBytes)
	snap.LastStatus = out.Status
	snap.LastUpdated = time.Now()

	switch out.Status {
	case requests.Success:
		snap.Succeeded++
		snap.ConsecutiveFailures = 0
		snap.LastError = nil
	case requests.KilledError:
		snap.Killed++
	default:
		snap.Failed++
		snap.ConsecutiveFailures++
		snap.LastError = out.Err
		if snap.LastError == nil {
			snap.LastError = fmt.Errorf("request failed: %s", out.Status)
		}
	}

	if m := s.metrics; m != nil {
		m.requests.WithLabelValues(out.Status.String()).Inc()
		m.duration.Observe(out.Elapsed.Seconds())
		m.bytes.Add(float64(out.BodyBytes))
		m.pending.Set(float64(out.Pending))
	}
}

// Snapshot returns a copy of the current statistics.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	return snap
}
