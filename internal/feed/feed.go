// Package feed maintains the live connection to the external stock feed.
//
// One Client owns one logical websocket connection. Valid snapshots replace
// the stock store's value wholesale; any disconnect clears the store and
// schedules an unconditional reconnect after a fixed delay. The feed is a
// best-effort dependency: a prolonged outage only means "no notifications".
package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"gardenbot/internal/stock"
	logx "gardenbot/pkg/logx"
)

type Config struct {
	URL string
	// PingInterval is how often a liveness ping is sent while connected.
	PingInterval time.Duration
	// ReconnectDelay is the fixed wait between connection attempts.
	// There is deliberately no backoff growth and no retry cap.
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PingInterval <= 0 {
		out.PingInterval = 10 * time.Second
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 3 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	return out
}

// Conn is the subset of a websocket connection the client uses.
// Tests substitute an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens one connection to the feed. Tests inject a fake.
type Dialer func(ctx context.Context, url string) (Conn, error)

type Client struct {
	cfg   Config
	log   logx.Logger
	store *stock.Store
	dial  Dialer
	now   func() time.Time
}

func NewClient(cfg Config, store *stock.Store, log logx.Logger) *Client {
	c := &Client{
		cfg:   cfg.withDefaults(),
		log:   log,
		store: store,
		now:   time.Now,
	}
	c.dial = c.dialWebsocket
	return c
}

func (c *Client) dialWebsocket(ctx context.Context, url string) (Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Run connects and serves until ctx is canceled.
//
// The loop is strictly sequential: a new dial is only issued after the
// previous connection has fully closed, so at most one connection attempt is
// active at any time.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx, c.cfg.URL)
		if err != nil {
			c.store.Clear()
			c.log.Warn("feed connect failed", logx.Err(err), logx.Duration("retry_in", c.cfg.ReconnectDelay))
			if !sleep(ctx, c.cfg.ReconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		c.log.Info("feed connected", logx.String("url", c.cfg.URL))
		err = c.serve(ctx, conn)
		// Whatever ended the connection, the last known snapshot is no longer
		// trustworthy.
		c.store.Clear()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("feed disconnected", logx.Err(err), logx.Duration("retry_in", c.cfg.ReconnectDelay))
		if !sleep(ctx, c.cfg.ReconnectDelay) {
			return ctx.Err()
		}
	}
}

// serve reads the connection until it errors or ctx is canceled.
// A keep-alive ping is sent every PingInterval while the connection is open.
func (c *Client) serve(ctx context.Context, conn Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock ReadMessage on cancellation and stop the ping loop on exit.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	go func() {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		snap, err := ParseSnapshot(payload, c.now())
		if err != nil {
			// Malformed or non-success frames are discarded; the previous
			// snapshot stays in place untouched.
			c.log.Debug("feed message discarded", logx.Err(err))
			continue
		}
		c.store.Set(snap)
		c.log.Debug("snapshot updated", logx.Time("taken_at", snap.TakenAt))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
