package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/eldtechnologies/courier/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "courier.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func mustCreateUser(t *testing.T, s DataStore, name string) *models.User {
	t.Helper()

	u, err := s.CreateUser(context.Background(), name, nil)
	if err != nil {
		t.Fatalf("create user %q: %v", name, err)
	}
	return u
}

func TestUserLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pic := "avatars/a.png"
	created, err := s.CreateUser(ctx, "alice", &pic)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Username != "alice" || got.ProfilePicture == nil || *got.ProfilePicture != pic {
		t.Fatalf("unexpected user %+v", got)
	}

	missing, err := s.GetUserByID(ctx, created.ID+100)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing user, got %+v", missing)
	}
}

func TestCreateMessageAssignsIDAndTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "a")
	b := mustCreateUser(t, s, "b")

	before := time.Now().Add(-time.Second)
	first, err := s.CreateMessage(ctx, a.ID, b.ID, models.TextContent("hi"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateMessage(ctx, b.ID, a.ID, models.ImageContent("/uploads/chat_images/x.png"))
	if err != nil {
		t.Fatal(err)
	}

	if first.ID <= 0 || second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d, %d", first.ID, second.ID)
	}
	if first.CreatedAt.Before(before) {
		t.Fatalf("created_at not assigned: %v", first.CreatedAt)
	}
	if first.MediaURL != nil || first.Text() != "hi" {
		t.Fatalf("text message columns wrong: %+v", first)
	}
	if second.MediaURL == nil || second.Text() != "" || second.Content == nil {
		t.Fatalf("image message columns wrong: %+v", second)
	}
}

func TestCreateMessageUnknownUserFails(t *testing.T) {
	s := newTestStore(t)
	a := mustCreateUser(t, s, "a")

	if _, err := s.CreateMessage(context.Background(), a.ID, 9999, models.TextContent("x")); err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestListConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "a")
	b := mustCreateUser(t, s, "b")
	c := mustCreateUser(t, s, "c")

	m1, _ := s.CreateMessage(ctx, a.ID, b.ID, models.TextContent("one"))
	_, _ = s.CreateMessage(ctx, a.ID, c.ID, models.TextContent("other pair"))
	m2, _ := s.CreateMessage(ctx, b.ID, a.ID, models.TextContent("two"))
	m3, _ := s.CreateMessage(ctx, a.ID, b.ID, models.ImageContent("/uploads/chat_images/p.gif"))

	msgs, err := s.ListConversation(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []int64{m1.ID, m2.ID, m3.ID} {
		if msgs[i].ID != want {
			t.Fatalf("message %d: expected id %d, got %d", i, want, msgs[i].ID)
		}
	}
	if msgs[1].FromUser == nil || msgs[1].FromUser.Username != "b" {
		t.Fatalf("sender summary missing: %+v", msgs[1].FromUser)
	}
	if !msgs[0].CreatedAt.Equal(m1.CreatedAt) {
		t.Fatalf("created_at does not round-trip: %v vs %v", msgs[0].CreatedAt, m1.CreatedAt)
	}
	if msgs[2].Type != models.MessageTypeImage || msgs[2].MediaURL == nil {
		t.Fatalf("image message not read back: %+v", msgs[2])
	}
}

func TestListConversationEmpty(t *testing.T) {
	s := newTestStore(t)
	msgs, err := s.ListConversation(context.Background(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", msgs)
	}
}

func TestListContacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "a")
	b := mustCreateUser(t, s, "b")
	c := mustCreateUser(t, s, "c")
	mustCreateUser(t, s, "d")

	_, _ = s.CreateMessage(ctx, a.ID, b.ID, models.TextContent("to b"))
	_, _ = s.CreateMessage(ctx, c.ID, a.ID, models.TextContent("from c"))
	last, _ := s.CreateMessage(ctx, b.ID, a.ID, models.TextContent("b again"))

	contacts, err := s.ListContacts(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(contacts))
	}
	if contacts[0].UserID != b.ID || contacts[1].UserID != c.ID {
		t.Fatalf("contacts not ordered by last message: %+v", contacts)
	}
	if contacts[0].LastMessageTime == nil || !contacts[0].LastMessageTime.Equal(last.CreatedAt) {
		t.Fatalf("last message time wrong: %+v", contacts[0])
	}
}
