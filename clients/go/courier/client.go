// Package courier is a Go client for the courier private messaging server.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Event names on the websocket channel.
const (
	EventSendPrivateMessage = "send-private-message"
	EventPrivateMessage     = "private-message"
)

// Message types.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// Sender is the display summary attached to a message.
type Sender struct {
	Username       string  `json:"username"`
	ProfilePicture *string `json:"profile_picture"`
}

// Message is a private message as returned by history or pushed live.
type Message struct {
	ID         int64     `json:"id"`
	FromUserID int64     `json:"from_user_id"`
	ToUserID   int64     `json:"to_user_id"`
	Type       string    `json:"type"`
	Content    *string   `json:"content"`
	MediaURL   *string   `json:"media_url"`
	CreatedAt  time.Time `json:"created_at"`
	FromUser   *Sender   `json:"FromUser,omitempty"`
}

// Text returns the message body, or "" for none.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Partner returns the other side of the conversation as seen by self.
func (m Message) Partner(self int64) int64 {
	if m.FromUserID == self {
		return m.ToUserID
	}
	return m.FromUserID
}

// Contact is a conversation partner with the time of the last message.
type Contact struct {
	UserID          int64      `json:"user_id"`
	Username        string     `json:"username"`
	ProfilePicture  *string    `json:"profile_picture"`
	LastMessageTime *time.Time `json:"last_message_time"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("courier error %d: %s", e.Status, e.Message)
}

// Client is a courier API client.
type Client struct {
	BaseURL    string
	Token      string
	ConfigDir  string
	HTTPClient *http.Client
}

// NewClient creates a new client. An empty token is loaded from ConfigDir.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("COURIER_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".courier")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	if c.Token == "" {
		_ = c.LoadToken()
	}
	return c
}

// LoadToken reads the saved bearer token from disk.
func (c *Client) LoadToken() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "token"))
	if err != nil {
		return err
	}
	c.Token = strings.TrimSpace(string(data))
	return nil
}

// SaveToken writes the bearer token to disk.
func (c *Client) SaveToken() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.ConfigDir, "token"), []byte(c.Token), 0600)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, nil
}

// History returns every message exchanged with partner, oldest first.
func (c *Client) History(ctx context.Context, partner int64) ([]Message, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/history/"+strconv.FormatInt(partner, 10), nil, "")
	if err != nil {
		return nil, err
	}

	var msgs []Message
	if err := json.Unmarshal(respBody, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Contacts lists conversation partners, most recent first.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/chat/contacts", nil, "")
	if err != nil {
		return nil, err
	}

	var contacts []Contact
	if err := json.Unmarshal(respBody, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// Upload sends an image and returns the media reference to use with SendImage.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/chat/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return "", err
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Groups      int    `json:"groups"`
	Connections int    `json:"connections"`
	Checks      map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// Health checks the server health. A degraded server still returns a report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

// envelope is the websocket frame: {"event": name, "data": payload}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendPayload struct {
	ToUserID int64   `json:"toUserId"`
	Message  string  `json:"message"`
	Type     string  `json:"type"`
	MediaURL *string `json:"media_url,omitempty"`
}

// Conn is a live websocket session.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens the live channel, authenticating with the client's token.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	u, err := url.Parse(c.BaseURL + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.Token)

	ws, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: "handshake refused"}
		}
		return nil, err
	}
	ws.SetReadLimit(1 << 20)
	return &Conn{ws: ws}, nil
}

// SendText sends a text message to a user.
func (c *Conn) SendText(ctx context.Context, to int64, body string) error {
	return c.send(ctx, sendPayload{ToUserID: to, Message: body, Type: TypeText})
}

// SendImage sends an image reference previously returned by Upload.
func (c *Conn) SendImage(ctx context.Context, to int64, mediaURL string) error {
	return c.send(ctx, sendPayload{ToUserID: to, Type: TypeImage, MediaURL: &mediaURL})
}

func (c *Conn) send(ctx context.Context, p sendPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, c.ws, envelope{Event: EventSendPrivateMessage, Data: data})
}

// Next blocks until the next private message arrives. Other events are skipped.
func (c *Conn) Next(ctx context.Context) (Message, error) {
	for {
		var env envelope
		if err := wsjson.Read(ctx, c.ws, &env); err != nil {
			return Message{}, err
		}
		if env.Event != EventPrivateMessage {
			continue
		}
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return Message{}, err
		}
		return msg, nil
	}
}

// Close closes the live channel.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
