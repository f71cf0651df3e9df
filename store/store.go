// Package store keeps the retention-bounded alert history and persists it to
// a JSON snapshot file.
//
// The store is the lossless side of the pipeline: the hub may drop alerts for
// slow subscribers, but every appended alert stays queryable until it ages
// out of the retention window. Append never performs IO; a background loop
// flushes the snapshot and sweeps expired alerts on timers.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/errors"
	"github.com/aoi-validoku/p2000/metric"
	"github.com/aoi-validoku/p2000/pkg/retry"
	"github.com/aoi-validoku/p2000/pkg/timestamp"
)

// Defaults for the retention store.
const (
	DefaultRetention     = 72 * time.Hour
	DefaultFlushInterval = 10 * time.Second
	DefaultSweepInterval = time.Minute
)

// Config controls persistence and retention.
type Config struct {
	Path          string        // snapshot file, empty disables persistence
	Retention     time.Duration // how long alerts stay queryable
	FlushInterval time.Duration // snapshot cadence, only flushes when dirty
	SweepInterval time.Duration // eviction cadence
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Store is the retention-bounded alert history. Safe for concurrent use.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	alerts []alert.Alert // append order, ids strictly increasing
	nextID uint64
	dirty  bool

	alertsStored     prometheus.Gauge
	snapshotWrites   prometheus.Counter
	snapshotFailures prometheus.Counter
	evicted          prometheus.Counter
}

// New creates the store and loads the snapshot if one exists. A missing
// snapshot file starts an empty history; an unreadable one is moved aside so
// the monitor keeps running with what it can salvage. The id high-water mark
// is recovered from the highest persisted id. A nil registry disables
// metrics.
func New(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "store"),
		nextID: 1,
	}

	if err := s.registerMetrics(registry); err != nil {
		return nil, err
	}

	if s.cfg.Path != "" {
		alerts, err := loadSnapshot(s.cfg.Path, s.logger)
		if err != nil {
			return nil, err
		}
		s.alerts = alerts
		for _, a := range s.alerts {
			if a.ID >= s.nextID {
				s.nextID = a.ID + 1
			}
		}
		if evicted := s.Evict(time.Now()); evicted > 0 {
			s.logger.Info("pruned expired alerts from snapshot", "evicted", evicted)
		}
	}

	s.setStoredGauge(len(s.alerts))
	return s, nil
}

func (s *Store) registerMetrics(registry *metric.MetricsRegistry) error {
	if registry == nil {
		return nil
	}

	s.alertsStored = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2000", Subsystem: "store", Name: "alerts",
		Help: "Alerts currently held in the retention window",
	})
	s.snapshotWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2000", Subsystem: "store", Name: "snapshot_writes_total",
		Help: "Successful snapshot flushes",
	})
	s.snapshotFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2000", Subsystem: "store", Name: "snapshot_failures_total",
		Help: "Snapshot flushes that failed after retries",
	})
	s.evicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2000", Subsystem: "store", Name: "evicted_total",
		Help: "Alerts dropped by retention sweeps",
	})

	if err := registry.RegisterGauge("store", "alerts", s.alertsStored); err != nil {
		return err
	}
	for name, c := range map[string]prometheus.Counter{
		"snapshot_writes_total":   s.snapshotWrites,
		"snapshot_failures_total": s.snapshotFailures,
		"evicted_total":           s.evicted,
	} {
		if err := registry.RegisterCounter("store", name, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) setStoredGauge(n int) {
	if s.alertsStored != nil {
		s.alertsStored.Set(float64(n))
	}
}

// Append assigns the next id to the alert, records it and returns the stored
// form. Ids are strictly increasing across restarts. Append never touches
// the filesystem; the flush loop persists asynchronously.
func (s *Store) Append(a alert.Alert) alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.nextID
	s.nextID++
	s.alerts = append(s.alerts, a)
	s.dirty = true

	s.setStoredGauge(len(s.alerts))
	return a
}

// Query returns alerts matching f, newest first. A nil filter matches all.
// maxAge <= 0 means the whole retention window.
func (s *Store) Query(f alert.Filter, maxAge time.Duration) []alert.Alert {
	if f == nil {
		f = alert.MatchAll()
	}

	var cutoff int64
	if maxAge > 0 {
		cutoff = timestamp.ToUnixMs(time.Now().Add(-maxAge))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alert.Alert, 0)
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if cutoff != 0 && a.Timestamp < cutoff {
			// Alerts are in arrival order, everything earlier is older still.
			break
		}
		if f(a) {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of alerts currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// Evict drops alerts older than the retention window relative to now and
// returns how many were dropped.
func (s *Store) Evict(now time.Time) int {
	cutoff := timestamp.ToUnixMs(now.Add(-s.cfg.Retention))

	s.mu.Lock()
	defer s.mu.Unlock()

	keep := 0
	for keep < len(s.alerts) && s.alerts[keep].Timestamp < cutoff {
		keep++
	}
	if keep == 0 {
		return 0
	}

	s.alerts = append([]alert.Alert(nil), s.alerts[keep:]...)
	s.dirty = true

	if s.evicted != nil {
		s.evicted.Add(float64(keep))
	}
	s.setStoredGauge(len(s.alerts))
	return keep
}

// Flush writes the snapshot if anything changed since the last successful
// flush. Transient write failures are retried with backoff; a failure after
// retries leaves the store dirty so the next interval tries again.
func (s *Store) Flush(ctx context.Context) error {
	if s.cfg.Path == "" {
		return nil
	}

	s.mu.RLock()
	if !s.dirty {
		s.mu.RUnlock()
		return nil
	}
	snapshot := append([]alert.Alert(nil), s.alerts...)
	s.mu.RUnlock()

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}, func() error {
		return writeSnapshot(s.cfg.Path, snapshot)
	})
	if err != nil {
		if s.snapshotFailures != nil {
			s.snapshotFailures.Inc()
		}
		return errors.WrapTransient(err, "Store", "Flush", "write snapshot")
	}

	s.mu.Lock()
	// Appends that raced the flush stay dirty for the next interval.
	if len(s.alerts) > 0 && len(snapshot) > 0 &&
		s.alerts[len(s.alerts)-1].ID == snapshot[len(snapshot)-1].ID &&
		len(s.alerts) == len(snapshot) {
		s.dirty = false
	} else if len(s.alerts) == 0 && len(snapshot) == 0 {
		s.dirty = false
	}
	s.mu.Unlock()

	if s.snapshotWrites != nil {
		s.snapshotWrites.Inc()
	}
	return nil
}

// Run drives the flush and sweep timers until ctx is cancelled, then takes a
// final snapshot so a clean shutdown loses nothing.
func (s *Store) Run(ctx context.Context) error {
	flush := time.NewTicker(s.cfg.FlushInterval)
	defer flush.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Flush(final); err != nil {
				s.logger.Error("final snapshot flush failed", "error", err)
			}
			return nil

		case <-flush.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("snapshot flush failed, will retry next interval", "error", err)
			}

		case <-sweep.C:
			if evicted := s.Evict(time.Now()); evicted > 0 {
				s.logger.Debug("retention sweep", "evicted", evicted)
			}
		}
	}
}
