package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/auth"
	"github.com/eldtechnologies/courier/internal/crypto"
	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/messaging"
	"github.com/eldtechnologies/courier/internal/models"
	"github.com/eldtechnologies/courier/internal/store"
)

const secret = "gateway-test-secret"

type harness struct {
	srv      *httptest.Server
	store    *store.SQLiteStore
	registry *hub.Registry
	users    []*models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	var users []*models.User
	for _, name := range []string{"one", "two", "three"} {
		u, err := s.CreateUser(ctx, name, nil)
		if err != nil {
			t.Fatal(err)
		}
		users = append(users, u)
	}

	reg := hub.New()
	logger := zerolog.Nop()
	pipeline := messaging.NewPipeline(s, reg, logger)
	gw := NewServer(auth.NewVerifier(secret, s), reg, pipeline, DefaultOptions(), logger)

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		reg.Close()
		srv.Close()
	})

	return &harness{srv: srv, store: s, registry: reg, users: users}
}

func (h *harness) dial(t *testing.T, user *models.User) *websocket.Conn {
	t.Helper()
	tok, err := crypto.IssueToken(user.ID, secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, h.srv.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	if err != nil {
		t.Fatalf("dial as %s: %v", user.Username, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func (h *harness) waitForMembers(t *testing.T, userID int64, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.registry.Members(userID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("user %d: expected %d members, have %d", userID, want, h.registry.Members(userID))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type outbound struct {
	Event string                   `json:"event"`
	Data  messaging.PrivateMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame := `{"event":"send-private-message","data":` + data + `}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatal(err)
	}
}

func receive(t *testing.T, conn *websocket.Conn, wait time.Duration) (outbound, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	var ev outbound
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		return ev, false
	}
	return ev, true
}

func id(n int64) string { return strconv.FormatInt(n, 10) }

func TestPrivateMessageScenario(t *testing.T) {
	h := newHarness(t)
	one, two, three := h.users[0], h.users[1], h.users[2]

	d1a := h.dial(t, one)
	d1b := h.dial(t, one)
	d2 := h.dial(t, two)
	d3 := h.dial(t, three)
	h.waitForMembers(t, one.ID, 2)
	h.waitForMembers(t, two.ID, 1)
	h.waitForMembers(t, three.ID, 1)

	send(t, d1a, `{"toUserId":`+id(two.ID)+`,"message":"hi","type":"text"}`)

	for name, conn := range map[string]*websocket.Conn{"d1a": d1a, "d1b": d1b, "d2": d2} {
		ev, ok := receive(t, conn, 5*time.Second)
		if !ok {
			t.Fatalf("%s: no event received", name)
		}
		if ev.Event != messaging.EventPrivateMessage || ev.Data.Content != "hi" || ev.Data.FromUserID != one.ID || ev.Data.ToUserID != two.ID {
			t.Fatalf("%s: unexpected event %+v", name, ev)
		}
		if ev.Data.FromUser.Username != "one" {
			t.Fatalf("%s: missing sender summary: %+v", name, ev.Data.FromUser)
		}
	}
	if _, ok := receive(t, d3, 200*time.Millisecond); ok {
		t.Fatal("unrelated connection received the message")
	}

	msgs, err := h.store.ListConversation(context.Background(), one.ID, two.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].FromUserID != one.ID || msgs[0].Text() != "hi" {
		t.Fatalf("unexpected history %+v", msgs)
	}
}

func TestInvalidImageIsDroppedAndConnectionSurvives(t *testing.T) {
	h := newHarness(t)
	one, two := h.users[0], h.users[1]

	d1 := h.dial(t, one)
	d2 := h.dial(t, two)
	h.waitForMembers(t, one.ID, 1)
	h.waitForMembers(t, two.ID, 1)

	send(t, d1, `{"toUserId":`+id(two.ID)+`,"type":"image"}`)
	send(t, d1, `not json at all`)
	send(t, d1, `{"toUserId":`+id(two.ID)+`,"message":"after"}`)

	// Sends from one connection are handled in order, so the first event
	// must be the valid one.
	ev, ok := receive(t, d2, 5*time.Second)
	if !ok || ev.Data.Content != "after" {
		t.Fatalf("expected the valid follow-up message, got %+v (ok=%v)", ev, ok)
	}

	msgs, _ := h.store.ListConversation(context.Background(), one.ID, two.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected only the valid message stored, got %d", len(msgs))
	}
}

func TestHandshakeRejected(t *testing.T) {
	h := newHarness(t)

	cases := map[string]http.Header{
		"no credential": nil,
		"bad token":     {"Authorization": []string{"Bearer garbage"}},
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, resp, err := websocket.Dial(ctx, h.srv.URL, &websocket.DialOptions{HTTPHeader: header})
			if err == nil {
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %+v", resp)
			}
		})
	}

	if st := h.registry.Stats(); st.Connections != 0 {
		t.Fatalf("refused handshakes left registry entries: %+v", st)
	}
}

func TestTokenQueryParameter(t *testing.T) {
	h := newHarness(t)
	tok, _ := crypto.IssueToken(h.users[0].ID, secret, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, h.srv.URL+"?token="+tok, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	h.waitForMembers(t, h.users[0].ID, 1)
}

func TestDisconnectEmptiesGroup(t *testing.T) {
	h := newHarness(t)
	one := h.users[0]

	a := h.dial(t, one)
	b := h.dial(t, one)
	h.waitForMembers(t, one.ID, 2)

	a.Close(websocket.StatusNormalClosure, "")
	b.Close(websocket.StatusNormalClosure, "")
	h.waitForMembers(t, one.ID, 0)

	h.dial(t, one)
	h.waitForMembers(t, one.ID, 1)
}

func TestOriginHosts(t *testing.T) {
	got := OriginHosts([]string{"http://localhost:3000", "https://chat.example.com", "*", "app.example.org"})
	want := []string{"localhost:3000", "chat.example.com", "*", "app.example.org"}
	if len(got) != len(want) {
		t.Fatalf("OriginHosts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OriginHosts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
