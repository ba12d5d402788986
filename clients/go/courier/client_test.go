package courier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("COURIER_CONFIG", t.TempDir())
	return NewClient(srv.URL, "tok")
}

func TestHistory(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/2" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`[{"id":1,"from_user_id":1,"to_user_id":2,"type":"text","content":"hi","media_url":null,"created_at":"2024-05-01T12:00:00Z","FromUser":{"username":"one","profile_picture":null}}]`))
	}))

	msgs, err := c.History(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text() != "hi" || msgs[0].FromUser.Username != "one" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))

	_, err := c.Contacts(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden || apiErr.Message != "invalid token" {
		t.Errorf("err = %v", err)
	}
}

func TestUpload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "cat.png" || string(data) != "png-bytes" {
			t.Errorf("got %s %q", header.Filename, data)
		}
		w.Write([]byte(`{"url":"/uploads/chat_images/abc.png"}`))
	}))

	ref, err := c.Upload(context.Background(), "/tmp/cat.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if ref != "/uploads/chat_images/abc.png" {
		t.Errorf("ref = %q", ref)
	}
}

func TestDialSendAndReceive(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()

		var in envelope
		if err := wsjson.Read(r.Context(), ws, &in); err != nil {
			return
		}
		var p sendPayload
		json.Unmarshal(in.Data, &p)

		out, _ := json.Marshal(Message{ID: 10, FromUserID: 1, ToUserID: p.ToUserID, Type: p.Type, Content: &p.Message, CreatedAt: time.Now()})
		wsjson.Write(r.Context(), ws, envelope{Event: "something-else", Data: json.RawMessage(`{}`)})
		wsjson.Write(r.Context(), ws, envelope{Event: EventPrivateMessage, Data: out})
		ws.Read(r.Context())
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := c.Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.SendText(ctx, 2, "hello"); err != nil {
		t.Fatal(err)
	}
	m, err := conn.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != 10 || m.ToUserID != 2 || m.Text() != "hello" {
		t.Errorf("m = %+v", m)
	}
}

func TestDialRefused(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	c.Token = "bad"

	_, err := c.Dial(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("err = %v", err)
	}
}
