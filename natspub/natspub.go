// Package natspub mirrors published alerts onto a NATS subject so other
// systems can consume the feed without speaking websocket.
//
// The mirror is optional and strictly best-effort: publish failures are
// counted and logged, never propagated back into the pipeline. The hub's
// DropOldest queue applies to the mirror like any other subscriber.
package natspub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/errors"
	"github.com/aoi-validoku/p2000/hub"
	"github.com/aoi-validoku/p2000/metric"
)

// DefaultSubject carries the alert mirror.
const DefaultSubject = "p2000.alerts"

// Config controls the NATS mirror. Disabled by default.
type Config struct {
	Enabled bool
	URL     string // defaults to nats.DefaultURL
	Subject string // defaults to DefaultSubject
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	return c
}

// Feed is the hub-side dependency.
type Feed interface {
	Subscribe(f alert.Filter) (*hub.Subscriber, error)
	Unsubscribe(id string)
}

// Publisher is the reconnecting NATS mirror.
type Publisher struct {
	cfg     Config
	conn    *nats.Conn
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New connects to NATS with infinite reconnects. The initial connect may
// fail transiently; reconnection is left to the nats client afterwards.
// metrics may be nil.
func New(cfg Config, metrics *metric.Metrics, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "natspub"),
		metrics: metrics,
	}

	conn, err := nats.Connect(p.cfg.URL,
		nats.Name("p2000-monitor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warn("nats disconnected", "error", err)
			p.recordStatus(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			p.recordStatus(true)
			if p.metrics != nil {
				p.metrics.RecordNATSReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			p.logger.Info("nats connection closed")
			p.recordStatus(false)
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "Publisher", "New",
			"connect to "+p.cfg.URL)
	}

	p.conn = conn
	p.recordStatus(true)
	p.logger.Info("alert mirror connected", "url", p.cfg.URL, "subject", p.cfg.Subject)
	return p, nil
}

func (p *Publisher) recordStatus(connected bool) {
	if p.metrics != nil {
		p.metrics.RecordNATSStatus(connected)
	}
}

// Run subscribes to the feed and mirrors every alert until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, feed Feed) error {
	sub, err := feed.Subscribe(alert.MatchAll())
	if err != nil {
		return errors.Wrap(err, "Publisher", "Run", "subscribe to hub")
	}
	defer feed.Unsubscribe(sub.ID())

	for {
		a, ok := sub.Next(ctx)
		if !ok {
			return nil
		}
		p.publish(a)
	}
}

// publish is best-effort. The nats client buffers while reconnecting, so
// most transient outages lose nothing; hard failures are counted and the
// alert is skipped.
func (p *Publisher) publish(a alert.Alert) {
	data, err := json.Marshal(a)
	if err != nil {
		p.logger.Error("alert encode failed", "id", a.ID, "error", err)
		return
	}
	if err := p.conn.Publish(p.cfg.Subject, data); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("natspub", "publish")
		}
		p.logger.Warn("mirror publish failed", "id", a.ID, "error", err)
	}
}

// Close flushes pending publishes and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	p.recordStatus(false)
}
