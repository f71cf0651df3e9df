package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/health"
	"github.com/aoi-validoku/p2000/hub"
	"github.com/aoi-validoku/p2000/pkg/timestamp"
	"github.com/aoi-validoku/p2000/store"
)

type fixture struct {
	server  *Server
	store   *store.Store
	hub     *hub.Hub
	monitor *health.Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.New(store.Config{}, nil, nil)
	require.NoError(t, err)
	h, err := hub.New(hub.Config{}, nil, nil)
	require.NoError(t, err)
	monitor := health.NewMonitor()

	srv, err := New(Config{Addr: "127.0.0.1:0", PingInterval: 100 * time.Millisecond},
		st, h, monitor, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		_ = srv.Stop(2 * time.Second)
		h.Close()
	})

	return &fixture{server: srv, store: st, hub: h, monitor: monitor}
}

func (f *fixture) url(path string) string {
	return fmt.Sprintf("http://%s%s", f.server.Addr(), path)
}

func (f *fixture) wsURL(path string) string {
	return fmt.Sprintf("ws://%s%s", f.server.Addr(), path)
}

func (f *fixture) appendAlert(body string) alert.Alert {
	return f.store.Append(alert.Alert{
		Timestamp:  timestamp.Now(),
		Protocol:   "FLEX",
		Capcodes:   []string{"0301101"},
		Body:       body,
		Service:    alert.ServiceFire,
		Priority:   alert.PriorityA1,
		ColorClass: alert.ColorFire,
	})
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestAlertsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.appendAlert("brand purmerend")
	f.appendAlert("ambulance rit amsterdam")
	f.appendAlert("brand edam")

	var alerts []alert.Alert
	code := getJSON(t, f.url("/api/alerts"), &alerts)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, alerts, 3)
	assert.Equal(t, "brand edam", alerts[0].Body)

	code = getJSON(t, f.url("/api/alerts?contains=brand"), &alerts)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, alerts, 2)

	code = getJSON(t, f.url("/api/alerts?contains=niets"), &alerts)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, alerts)
}

func TestAlertsEndpointBadMaxAge(t *testing.T) {
	f := newFixture(t)

	var body map[string]any
	code := getJSON(t, f.url("/api/alerts?max_age=banana"), &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "max_age")
}

func TestHealthzEndpoint(t *testing.T) {
	f := newFixture(t)
	f.monitor.UpdateHealthy("ingest", "ok")

	var status map[string]any
	code := getJSON(t, f.url("/healthz"), &status)
	assert.Equal(t, http.StatusOK, code)

	f.monitor.UpdateUnhealthy("ingest", "stream lost")
	code = getJSON(t, f.url("/healthz"), &status)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRootDescriptor(t *testing.T) {
	f := newFixture(t)

	var desc map[string]any
	code := getJSON(t, f.url("/"), &desc)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p2000-monitor", desc["service"])

	var errBody map[string]any
	code = getJSON(t, f.url("/nope"), &errBody)
	assert.Equal(t, http.StatusNotFound, code)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestWebsocketSnapshotThenStream(t *testing.T) {
	f := newFixture(t)
	f.appendAlert("brand historisch")
	f.appendAlert("ambulance historisch")

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	snap := readEnvelope(t, conn)
	assert.Equal(t, "snapshot", snap.Type)
	require.Len(t, snap.Alerts, 2)
	assert.Equal(t, "ambulance historisch", snap.Alerts[0].Body)
	assert.Nil(t, snap.Alert)

	live := f.appendAlert("brand live")
	f.hub.Publish(live)

	env := readEnvelope(t, conn)
	assert.Equal(t, "alert", env.Type)
	require.NotNil(t, env.Alert)
	assert.Equal(t, live.ID, env.Alert.ID)
	assert.Equal(t, "brand live", env.Alert.Body)
}

func TestWebsocketStreamSkipsSnapshotDuplicates(t *testing.T) {
	f := newFixture(t)
	old := f.appendAlert("brand historisch")

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	snap := readEnvelope(t, conn)
	require.Len(t, snap.Alerts, 1)

	// An alert can race into the queue while the snapshot is being written;
	// ids the snapshot already covered must not be delivered twice.
	f.hub.Publish(old)
	fresh := f.appendAlert("brand live")
	f.hub.Publish(fresh)

	env := readEnvelope(t, conn)
	assert.Equal(t, "alert", env.Type)
	require.NotNil(t, env.Alert)
	assert.Equal(t, fresh.ID, env.Alert.ID)
}

func TestWebsocketFilter(t *testing.T) {
	f := newFixture(t)
	f.appendAlert("brand historisch")
	f.appendAlert("politie historisch")

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/ws?filter=brand"), nil)
	require.NoError(t, err)
	defer conn.Close()

	snap := readEnvelope(t, conn)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "brand historisch", snap.Alerts[0].Body)

	// A non-matching publish is invisible; the next frame is the match.
	f.hub.Publish(f.appendAlert("politie live"))
	match := f.appendAlert("grote brand live")
	f.hub.Publish(match)

	env := readEnvelope(t, conn)
	assert.Equal(t, "alert", env.Type)
	assert.Equal(t, match.ID, env.Alert.ID)
}

func TestWebsocketClientDisconnectCleansUp(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/ws"), nil)
	require.NoError(t, err)
	readEnvelope(t, conn)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		f.server.clientsMu.RLock()
		defer f.server.clientsMu.RUnlock()
		return len(f.server.clients) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStopClosesClients(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readEnvelope(t, conn)

	require.NoError(t, f.server.Stop(2*time.Second))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	f := newFixture(t)
	err := f.server.Start(context.Background())
	assert.Error(t, err)
}
