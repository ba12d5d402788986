package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/crypto"
	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/models"
)

// Client is one authenticated websocket connection.
type Client struct {
	id       string
	identity models.Identity
	conn     *websocket.Conn
	send     chan hub.Event
	logger   zerolog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newClient(parent context.Context, identity models.Identity, conn *websocket.Conn, opts Options, logger zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(parent)
	id := crypto.NewUUIDv7().String()
	return &Client{
		id:           id,
		identity:     identity,
		conn:         conn,
		send:         make(chan hub.Event, opts.SendBuffer),
		logger:       logger.With().Str("conn_id", id).Int64("user_id", identity.ID).Logger(),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ID implements hub.Conn.
func (c *Client) ID() string { return c.id }

// Identity returns the identity the connection authenticated as.
func (c *Client) Identity() models.Identity { return c.identity }

// Enqueue implements hub.Conn. A full buffer drops the event.
func (c *Client) Enqueue(ev hub.Event) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		c.logger.Warn().Str("event", ev.Name).Msg("send buffer full, dropping event")
		return false
	}
}

// Close implements hub.Conn.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, reason)
	})
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, ev)
			cancel()
			if err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing connection")
				c.Close("write failed")
				return
			}
		}
	}
}

func (c *Client) keepAliveLoop() {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping failed, closing connection")
				c.Close("ping timeout")
				return
			}
		}
	}
}
