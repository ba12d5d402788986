// Package gateway serves the authenticated websocket channel that carries
// private messages.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/auth"
	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/messaging"
	"github.com/eldtechnologies/courier/internal/metrics"
	"github.com/eldtechnologies/courier/internal/models"
)

// Authenticator verifies a handshake credential.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (models.Identity, error)
}

// MessageHandler processes one inbound send from an authenticated identity.
type MessageHandler interface {
	Handle(ctx context.Context, sender models.Identity, payload []byte) (*messaging.PrivateMessage, error)
}

// Options tunes the websocket transport.
type Options struct {
	OriginPatterns     []string
	InsecureSkipVerify bool
	SendBuffer         int
	ReadLimit          int64
	WriteTimeout       time.Duration
	PingInterval       time.Duration
}

// DefaultOptions returns transport defaults.
func DefaultOptions() Options {
	return Options{
		SendBuffer:   64,
		ReadLimit:    64 * 1024,
		WriteTimeout: 10 * time.Second,
		PingInterval: 25 * time.Second,
	}
}

// OriginHosts converts allowed browser origins ("https://app.example:3000")
// into the host patterns the websocket handshake matches against.
func OriginHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// inbound is the client envelope: {"event": name, "data": payload}.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Server upgrades authenticated requests and runs one read loop per connection.
type Server struct {
	auth     Authenticator
	registry *hub.Registry
	messages MessageHandler
	opts     Options
	logger   zerolog.Logger
}

// NewServer creates a Server.
func NewServer(a Authenticator, registry *hub.Registry, messages MessageHandler, opts Options, logger zerolog.Logger) *Server {
	d := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = d.SendBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = d.ReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = d.WriteTimeout
	}
	return &Server{auth: a, registry: registry, messages: messages, opts: opts, logger: logger}
}

// Credential returns the bearer credential presented with the handshake.
// Browsers cannot set headers on websocket upgrades, so a token query
// parameter is accepted as well.
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP authenticates, upgrades and serves one connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Verify(r.Context(), Credential(r))
	if err != nil {
		reason := auth.Reason(err)
		metrics.HandshakeRejections.WithLabelValues(reason).Inc()
		s.logger.Warn().
			Err(err).
			Str("reason", reason).
			Str("remote_addr", r.RemoteAddr).
			Msg("websocket handshake refused")

		status := http.StatusUnauthorized
		if reason == "internal" {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "authentication failed")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.opts.OriginPatterns,
		InsecureSkipVerify: s.opts.InsecureSkipVerify,
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(s.opts.ReadLimit)

	client := newClient(r.Context(), identity, conn, s.opts, s.logger)
	if err := s.registry.Join(identity.ID, client); err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	}
	defer func() {
		s.registry.Leave(client)
		client.Close("bye")
		client.logger.Debug().Msg("connection closed")
	}()
	client.logger.Debug().Msg("connection registered")

	go client.writeLoop()
	go client.keepAliveLoop()

	s.readLoop(client)
}

// readLoop handles a connection's events one at a time, so a connection's
// sends are stored and fanned out in the order it submitted them.
func (s *Server) readLoop(c *Client) {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var env inbound
		if err := json.Unmarshal(data, &env); err != nil {
			metrics.SendRejections.WithLabelValues("bad_envelope").Inc()
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch env.Event {
		case messaging.EventSendPrivateMessage:
			// Errors are logged by the pipeline and the connection stays open.
			_, _ = s.messages.Handle(c.ctx, c.identity, env.Data)
		default:
			c.logger.Debug().Str("event", env.Event).Msg("ignoring unknown event")
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
