// Package messaging validates inbound private messages, stores them and fans
// them out to the sender's and recipient's live connections.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/metrics"
	"github.com/eldtechnologies/courier/internal/models"
)

// ErrRateLimited is returned when the sender exceeded its send budget.
var ErrRateLimited = errors.New("send rate limit exceeded")

// PersistenceError wraps a failure to durably record a message.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist message: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// MessageStore is the durable message record.
type MessageStore interface {
	CreateMessage(ctx context.Context, fromID, toID int64, content models.Content) (*models.Message, error)
}

// Broadcaster delivers an event to one identity's group.
type Broadcaster interface {
	Broadcast(identity int64, ev hub.Event) int
}

// Throttle decides whether a sender may send another message.
type Throttle interface {
	AllowSend(ctx context.Context, userID int64) (bool, error)
}

const defaultStoreTimeout = 10 * time.Second

// Pipeline is the ingestion and fan-out path for private messages.
type Pipeline struct {
	store        MessageStore
	groups       Broadcaster
	throttle     Throttle
	logger       zerolog.Logger
	storeTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithThrottle limits how fast a single identity may send.
func WithThrottle(t Throttle) Option {
	return func(p *Pipeline) { p.throttle = t }
}

// WithStoreTimeout bounds each persistence call.
func WithStoreTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.storeTimeout = d }
}

// NewPipeline creates a Pipeline.
func NewPipeline(store MessageStore, groups Broadcaster, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        store,
		groups:       groups,
		logger:       logger,
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one send-private-message payload from sender's connection.
//
// The message is stored with sender as its author whatever the payload
// claims, and is broadcast only after the store accepted it. Failures are
// logged and returned; nothing is sent back to the client.
func (p *Pipeline) Handle(ctx context.Context, sender models.Identity, payload []byte) (*PrivateMessage, error) {
	log := p.logger.With().Int64("user_id", sender.ID).Logger()

	req, err := ParseSendRequest(payload)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			metrics.SendRejections.WithLabelValues(verr.Reason).Inc()
		}
		log.Warn().Err(err).Msg("dropping invalid private message")
		return nil, err
	}
	log = log.With().Int64("to_user_id", req.ToUserID).Str("type", string(req.Content.Type)).Logger()

	if p.throttle != nil {
		allowed, err := p.throttle.AllowSend(ctx, sender.ID)
		if err != nil {
			log.Warn().Err(err).Msg("send throttle unavailable, allowing message")
		} else if !allowed {
			metrics.SendRejections.WithLabelValues("rate_limited").Inc()
			log.Warn().Msg("dropping private message over rate limit")
			return nil, ErrRateLimited
		}
	}

	// The sender may hang up right after submitting; the write still completes.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.storeTimeout)
	defer cancel()

	msg, err := p.store.CreateMessage(storeCtx, sender.ID, req.ToUserID, req.Content)
	if err != nil {
		metrics.SendRejections.WithLabelValues("persistence").Inc()
		log.Error().Err(err).Msg("failed to save private message")
		return nil, &PersistenceError{Err: err}
	}
	metrics.MessagesPersisted.WithLabelValues(string(msg.Type)).Inc()

	out := NewPrivateMessage(msg, sender)
	ev := hub.Event{Name: EventPrivateMessage, Data: out}

	delivered := p.groups.Broadcast(sender.ID, ev)
	if req.ToUserID != sender.ID {
		delivered += p.groups.Broadcast(req.ToUserID, ev)
	}

	log.Debug().
		Int64("message_id", msg.ID).
		Int("delivered", delivered).
		Msg("private message fanned out")

	return &out, nil
}

// RateLimiter is the Redis call behind RedisThrottle.
type RateLimiter interface {
	AllowSend(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

// RedisThrottle allows limit sends per window for each identity.
type RedisThrottle struct {
	limiter RateLimiter
	limit   int
	window  time.Duration
}

// NewRedisThrottle creates a per-identity fixed-window throttle.
func NewRedisThrottle(limiter RateLimiter, limit int, window time.Duration) *RedisThrottle {
	return &RedisThrottle{limiter: limiter, limit: limit, window: window}
}

// AllowSend implements Throttle.
func (t *RedisThrottle) AllowSend(ctx context.Context, userID int64) (bool, error) {
	ok, err := t.limiter.AllowSend(ctx, userID, t.limit, t.window)
	if err != nil {
		return false, fmt.Errorf("redis throttle: %w", err)
	}
	return ok, nil
}
