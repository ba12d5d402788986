package models

import "time"

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeImage
}

// Content is the payload of a message: either a text body or an image reference.
// Build it with TextContent or ImageContent so the two never mix.
type Content struct {
	Type     MessageType
	Body     string
	MediaURL string
}

// TextContent returns a text payload. An empty body is allowed.
func TextContent(body string) Content {
	return Content{Type: MessageTypeText, Body: body}
}

// ImageContent returns an image payload. The text body is always empty.
func ImageContent(mediaURL string) Content {
	return Content{Type: MessageTypeImage, MediaURL: mediaURL}
}

// Columns returns the nullable content and media_url column values.
func (c Content) Columns() (content *string, mediaURL *string) {
	body := c.Body
	if c.Type == MessageTypeImage {
		body = ""
		ref := c.MediaURL
		return &body, &ref
	}
	return &body, nil
}

// Message is a persisted private message between two users.
// ID and CreatedAt are assigned by the store.
type Message struct {
	ID         int64        `json:"id"`
	FromUserID int64        `json:"from_user_id"`
	ToUserID   int64        `json:"to_user_id"`
	Type       MessageType  `json:"type"`
	Content    *string      `json:"content"`
	MediaURL   *string      `json:"media_url"`
	CreatedAt  time.Time    `json:"created_at"`
	FromUser   *UserSummary `json:"FromUser,omitempty"`
}

// Text returns the message body, or "" when it is null.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}
