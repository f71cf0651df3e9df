package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Viewers are plain browsers on arbitrary origins; the feed is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the websocket wire format. The first frame after connect is a
// snapshot; every frame after that carries one live alert.
type envelope struct {
	Type   string        `json:"type"` // "snapshot" or "alert"
	Alerts []alert.Alert `json:"alerts,omitempty"`
	Alert  *alert.Alert  `json:"alert,omitempty"`
}

// wsClient is one connected viewer. The write mutex serializes data frames
// and pings on the single gorilla connection.
type wsClient struct {
	conn    *websocket.Conn
	sub     *hub.Subscriber
	writeMu sync.Mutex

	// snapshotMax is the highest alert id the connect snapshot carried.
	// Queued alerts at or below it already reached the viewer.
	snapshotMax uint64

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsClient) write(server *Server, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(server.cfg.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) writeJSON(server *Server, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(server.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// handleWebsocket upgrades GET /ws?filter=<substr>. The filter is fixed for
// the connection's lifetime: empty or absent matches everything. The client
// first receives the full retained history matching its filter, then the
// live stream.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	filterParam := r.URL.Query().Get("filter")
	filter := alert.BodyContains(filterParam)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.countRequest("ws", http.StatusBadRequest)
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	s.countRequest("ws", http.StatusSwitchingProtocols)

	sub, err := s.feed.Subscribe(filter)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := &wsClient{
		conn: conn,
		sub:  sub,
		done: make(chan struct{}),
	}
	s.addClient(client)

	s.logger.Info("viewer connected",
		"remote", conn.RemoteAddr().String(),
		"filter", filterParam,
		"subscriber", sub.ID())

	// Snapshot before stream: the subscription already exists, so alerts
	// arriving during the snapshot write queue up instead of getting lost.
	// An alert can land both in the snapshot and in the queue; the writer
	// skips queued ids at or below the snapshot's newest.
	snapshot := s.store.Query(filter, 0)
	if len(snapshot) > 0 {
		client.snapshotMax = snapshot[0].ID
	}
	if err := client.writeJSON(s, envelope{Type: "snapshot", Alerts: snapshot}); err != nil {
		s.removeClient(client)
		return
	}

	s.wg.Add(2)
	go s.clientWriter(client)
	go s.clientReader(client)
}

func (s *Server) addClient(c *wsClient) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	if s.clientGauge != nil {
		s.clientGauge.Set(float64(n))
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	n := len(s.clients)
	s.clientsMu.Unlock()

	if s.clientGauge != nil {
		s.clientGauge.Set(float64(n))
	}
	if present {
		s.feed.Unsubscribe(c.sub.ID())
	}
	c.close()
}

// clientWriter pumps the subscriber's queue onto the connection and keeps it
// alive with pings. Dead connections are detected by write failures and by
// the pong deadline the reader maintains.
func (s *Server) clientWriter(c *wsClient) {
	defer s.wg.Done()
	defer s.removeClient(c)

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	ctx, cancel := contextForClient(c, s.shutdown)
	defer cancel()

	next := make(chan alert.Alert)
	go func() {
		defer close(next)
		for {
			a, ok := c.sub.Next(ctx)
			if !ok {
				return
			}
			select {
			case next <- a:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case a, ok := <-next:
			if !ok {
				return
			}
			if a.ID <= c.snapshotMax {
				continue
			}
			if err := c.writeJSON(s, envelope{Type: "alert", Alert: &a}); err != nil {
				s.logger.Debug("viewer write failed, dropping connection", "error", err)
				return
			}
		case <-ping.C:
			if err := c.write(s, websocket.PingMessage, nil); err != nil {
				s.logger.Debug("viewer ping failed, dropping connection", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// contextForClient cancels when the client closes or the server shuts down.
func contextForClient(c *wsClient, shutdown chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.done:
		case <-shutdown:
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}

// clientReader discards everything the viewer sends; its job is pumping
// control frames so pongs reset the read deadline.
func (s *Server) clientReader(c *wsClient) {
	defer s.wg.Done()
	defer s.removeClient(c)

	deadline := 2*s.cfg.PingInterval + s.cfg.WriteTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	c.conn.SetReadLimit(1024)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
