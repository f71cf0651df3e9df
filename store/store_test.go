package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/metric"
	"github.com/aoi-validoku/p2000/pkg/timestamp"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := New(cfg, nil, nil)
	require.NoError(t, err)
	return s
}

func testAlert(body string) alert.Alert {
	return alert.Alert{
		Timestamp:  timestamp.Now(),
		Protocol:   "FLEX",
		Capcodes:   []string{"0301101"},
		Body:       body,
		Service:    alert.ServiceFire,
		Priority:   alert.PriorityP1,
		ColorClass: alert.ColorFire,
	}
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	s := newTestStore(t, Config{})

	a := s.Append(testAlert("first"))
	b := s.Append(testAlert("second"))
	c := s.Append(testAlert("third"))

	assert.Equal(t, uint64(1), a.ID)
	assert.Equal(t, uint64(2), b.ID)
	assert.Equal(t, uint64(3), c.ID)
	assert.Equal(t, 3, s.Len())
}

func TestQueryNewestFirst(t *testing.T) {
	s := newTestStore(t, Config{})
	s.Append(testAlert("oldest"))
	s.Append(testAlert("middle"))
	s.Append(testAlert("newest"))

	got := s.Query(nil, 0)
	require.Len(t, got, 3)
	assert.Equal(t, "newest", got[0].Body)
	assert.Equal(t, "oldest", got[2].Body)
}

func TestQueryFilterAndMaxAge(t *testing.T) {
	s := newTestStore(t, Config{})

	old := testAlert("oude brand purmerend")
	old.Timestamp = timestamp.ToUnixMs(time.Now().Add(-2 * time.Hour))
	s.Append(old)
	s.Append(testAlert("verse brand edam"))
	s.Append(testAlert("ambulance rit"))

	got := s.Query(alert.BodyContains("brand"), 0)
	require.Len(t, got, 2)
	assert.Equal(t, "verse brand edam", got[0].Body)

	got = s.Query(alert.BodyContains("brand"), time.Hour)
	require.Len(t, got, 1)
	assert.Equal(t, "verse brand edam", got[0].Body)

	got = s.Query(alert.BodyContains("niets"), 0)
	assert.Empty(t, got)
}

func TestEvict(t *testing.T) {
	s := newTestStore(t, Config{Retention: time.Hour})

	expired := testAlert("expired")
	expired.Timestamp = timestamp.ToUnixMs(time.Now().Add(-2 * time.Hour))
	s.Append(expired)
	s.Append(testAlert("fresh"))

	evicted := s.Evict(time.Now())
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, s.Len())

	got := s.Query(nil, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Body)

	assert.Zero(t, s.Evict(time.Now()))
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")

	s := newTestStore(t, Config{Path: path})
	first := s.Append(testAlert("eerste melding"))
	second := s.Append(testAlert("tweede melding"))
	require.NoError(t, s.Flush(context.Background()))

	reloaded := newTestStore(t, Config{Path: path})
	got := reloaded.Query(nil, 0)
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0])
	assert.Equal(t, first, got[1])

	// The id high-water mark survives the restart.
	next := reloaded.Append(testAlert("derde melding"))
	assert.Equal(t, uint64(3), next.ID)
}

func TestSnapshotMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	s := newTestStore(t, Config{Path: path})
	assert.Zero(t, s.Len())
}

func TestSnapshotCorruptedMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := newTestStore(t, Config{Path: path})
	assert.Zero(t, s.Len())

	_, err := os.Stat(path + ".corrupt")
	assert.NoError(t, err)
}

func TestSnapshotPrunesExpiredOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")

	s := newTestStore(t, Config{Path: path, Retention: time.Hour})
	expired := testAlert("expired")
	expired.Timestamp = timestamp.ToUnixMs(time.Now().Add(-2 * time.Hour))
	s.Append(expired)
	s.Append(testAlert("fresh"))
	require.NoError(t, s.Flush(context.Background()))

	reloaded := newTestStore(t, Config{Path: path, Retention: time.Hour})
	assert.Equal(t, 1, reloaded.Len())
}

func TestFlushOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	s := newTestStore(t, Config{Path: path})

	s.Append(testAlert("melding"))
	require.NoError(t, s.Flush(context.Background()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	first := info.ModTime()

	// Nothing changed, the file must not be rewritten.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Flush(context.Background()))
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, first, info.ModTime())
}

func TestFlushNoPersistence(t *testing.T) {
	s := newTestStore(t, Config{})
	s.Append(testAlert("melding"))
	assert.NoError(t, s.Flush(context.Background()))
}

func TestRunFlushesOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	s := newTestStore(t, Config{Path: path, FlushInterval: time.Hour, SweepInterval: time.Hour})
	s.Append(testAlert("melding"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	reloaded := newTestStore(t, Config{Path: path})
	assert.Equal(t, 1, reloaded.Len())
}

func TestMetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s, err := New(Config{}, registry, nil)
	require.NoError(t, err)
	s.Append(testAlert("melding"))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := false
	for _, fam := range families {
		if fam.GetName() == "p2000_store_alerts" {
			found = true
		}
	}
	assert.True(t, found)
}
