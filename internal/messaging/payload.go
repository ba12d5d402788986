package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/courier/internal/models"
)

// Event names on the live channel.
const (
	EventSendPrivateMessage = "send-private-message"
	EventPrivateMessage     = "private-message"
)

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("invalid send request")

// ValidationError describes why an inbound send was rejected.
type ValidationError struct {
	Reason string // short label: bad_payload, bad_recipient, bad_type, missing_media
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(reason, format string, args ...interface{}) error {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// SendRequest is a validated inbound send.
type SendRequest struct {
	ToUserID int64
	Content  models.Content
}

// wirePayload is the client's send-private-message body. Sender fields a
// client may add are deliberately not decoded.
type wirePayload struct {
	ToUserID json.RawMessage `json:"toUserId"`
	Message  *string         `json:"message"`
	Type     *string         `json:"type"`
	MediaURL *string         `json:"media_url"`
}

// ParseSendRequest decodes and validates a send-private-message payload.
//
// The recipient must be a positive JSON integer. A missing type means text.
// Text with no body becomes the empty string. Images need a media reference
// and never carry a body.
func ParseSendRequest(data []byte) (SendRequest, error) {
	var p wirePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return SendRequest{}, invalid("bad_payload", "%v", err)
	}

	to, err := strconv.ParseInt(strings.TrimSpace(string(p.ToUserID)), 10, 64)
	if err != nil || to <= 0 {
		return SendRequest{}, invalid("bad_recipient", "toUserId must be a positive integer, got %s", string(p.ToUserID))
	}

	kind := models.MessageTypeText
	if p.Type != nil {
		kind = models.MessageType(*p.Type)
	}
	if !kind.Valid() {
		return SendRequest{}, invalid("bad_type", "unknown message type %q", kind)
	}

	req := SendRequest{ToUserID: to}
	switch kind {
	case models.MessageTypeImage:
		if p.MediaURL == nil || strings.TrimSpace(*p.MediaURL) == "" {
			return SendRequest{}, invalid("missing_media", "image message without media_url")
		}
		req.Content = models.ImageContent(strings.TrimSpace(*p.MediaURL))
	default:
		body := ""
		if p.Message != nil {
			body = *p.Message
		}
		req.Content = models.TextContent(body)
	}
	return req, nil
}

// PrivateMessage is the private-message event pushed to both parties.
type PrivateMessage struct {
	ID         int64              `json:"id"`
	FromUserID int64              `json:"from_user_id"`
	ToUserID   int64              `json:"to_user_id"`
	Content    string             `json:"content"`
	MediaURL   *string            `json:"media_url"`
	Type       models.MessageType `json:"type"`
	CreatedAt  time.Time          `json:"created_at"`
	FromUser   models.UserSummary `json:"FromUser"`
}

// NewPrivateMessage builds the outbound event for a stored message.
func NewPrivateMessage(msg *models.Message, sender models.Identity) PrivateMessage {
	return PrivateMessage{
		ID:         msg.ID,
		FromUserID: msg.FromUserID,
		ToUserID:   msg.ToUserID,
		Content:    msg.Text(),
		MediaURL:   msg.MediaURL,
		Type:       msg.Type,
		CreatedAt:  msg.CreatedAt,
		FromUser:   sender.Summary(),
	}
}
