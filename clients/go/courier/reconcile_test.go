package courier

import (
	"context"
	"errors"
	"testing"
	"time"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id, from, to int64, offset time.Duration, body string) Message {
	return Message{
		ID:         id,
		FromUserID: from,
		ToUserID:   to,
		Type:       TypeText,
		Content:    &body,
		CreatedAt:  base.Add(offset),
	}
}

func ids(msgs []Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestConversationInsertOrdersAndDedups(t *testing.T) {
	c := NewConversation()
	c.Insert(msg(3, 1, 2, 3*time.Second, "c"))
	c.Insert(msg(1, 1, 2, time.Second, "a"))
	c.Insert(msg(2, 2, 1, 2*time.Second, "b"))

	if c.Insert(msg(2, 2, 1, 2*time.Second, "b")) {
		t.Error("re-inserting the same id should be a no-op")
	}
	if got := ids(c.Messages()); !equalIDs(got, []int64{1, 2, 3}) {
		t.Errorf("order = %v", got)
	}
}

func TestConversationDedupWithoutID(t *testing.T) {
	c := NewConversation()
	noID := msg(0, 1, 2, time.Second, "hello")
	c.Insert(noID)

	// Same message later seen with its store id.
	if c.Insert(msg(7, 1, 2, time.Second, "hello")) {
		t.Fatal("copy with id should match the id-less copy")
	}
	if c.Len() != 1 || c.Messages()[0].ID != 7 {
		t.Errorf("messages = %+v", c.Messages())
	}
	if c.Insert(msg(7, 1, 2, time.Second, "hello")) {
		t.Error("adopted id should dedup")
	}
}

func TestConversationDistinctIDsSameInstant(t *testing.T) {
	c := NewConversation()
	c.Insert(msg(4, 1, 2, time.Second, "x"))
	if !c.Insert(msg(5, 1, 2, time.Second, "y")) {
		t.Fatal("different ids at the same instant are different messages")
	}
	if got := ids(c.Messages()); !equalIDs(got, []int64{4, 5}) {
		t.Errorf("order = %v", got)
	}
}

func TestMergeIsCommutative(t *testing.T) {
	history := []Message{
		msg(1, 1, 2, time.Second, "hi"),
		msg(2, 2, 1, 2*time.Second, "hey"),
		msg(3, 1, 2, 3*time.Second, "sup"),
	}
	live := []Message{
		msg(3, 1, 2, 3*time.Second, "sup"),
		msg(4, 2, 1, 4*time.Second, "new"),
	}

	historyFirst := NewState(1)
	historyFirst.ApplyHistory(2, history)
	for _, m := range live {
		historyFirst.ApplyLive(m)
	}

	liveFirst := NewState(1)
	for _, m := range live {
		liveFirst.ApplyLive(m)
	}
	liveFirst.ApplyHistory(2, history)

	a, b := ids(historyFirst.Messages(2)), ids(liveFirst.Messages(2))
	if !equalIDs(a, b) || !equalIDs(a, []int64{1, 2, 3, 4}) {
		t.Errorf("history first = %v, live first = %v", a, b)
	}
}

func TestUnreadTriggers(t *testing.T) {
	s := NewState(1)

	s.ApplyLive(msg(1, 2, 1, time.Second, "from two"))
	if !s.Unread(2) {
		t.Error("message from an inactive partner should mark unread")
	}

	s.Open(2)
	if s.Unread(2) {
		t.Error("opening should clear unread")
	}

	s.ApplyLive(msg(2, 2, 1, 2*time.Second, "while open"))
	if s.Unread(2) {
		t.Error("message in the open conversation should not mark unread")
	}

	s.ApplyLive(msg(3, 3, 1, 3*time.Second, "from three"))
	if !s.Unread(3) {
		t.Error("message from another partner should mark unread")
	}
	if got := s.UnreadPartners(); len(got) != 1 || got[0] != 3 {
		t.Errorf("UnreadPartners = %v", got)
	}
}

func TestOwnMessagesNeverUnread(t *testing.T) {
	s := NewState(1)
	s.ApplyLive(msg(1, 1, 2, time.Second, "mine, other tab"))
	if s.Unread(2) {
		t.Error("own message should not mark unread")
	}
	if len(s.Messages(2)) != 1 {
		t.Error("own message should still be merged under the partner")
	}
}

func TestHistoryLeavesUnreadAlone(t *testing.T) {
	s := NewState(1)
	s.ApplyHistory(2, []Message{msg(1, 2, 1, time.Second, "old")})
	if s.Unread(2) {
		t.Error("history merge should not mark unread")
	}

	s.ApplyLive(msg(2, 2, 1, 2*time.Second, "new"))
	s.ApplyHistory(2, []Message{msg(1, 2, 1, time.Second, "old"), msg(2, 2, 1, 2*time.Second, "new")})
	if !s.Unread(2) {
		t.Error("history merge should not clear unread")
	}
}

type fakeFetcher struct {
	msgs []Message
	err  error
}

func (f *fakeFetcher) History(ctx context.Context, partner int64) ([]Message, error) {
	return f.msgs, f.err
}

func runSession(t *testing.T, f HistoryFetcher) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(1, f)
	go s.Run(ctx)
	t.Cleanup(cancel)
	return s
}

func TestSessionOpenMergesHistory(t *testing.T) {
	f := &fakeFetcher{msgs: []Message{msg(1, 2, 1, time.Second, "a"), msg(2, 1, 2, 2*time.Second, "b")}}
	s := runSession(t, f)
	ctx := context.Background()

	if err := s.Live(ctx, msg(3, 2, 1, 3*time.Second, "c")); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(ctx, 2); err != nil {
		t.Fatal(err)
	}

	msgs, unread, err := s.Snapshot(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if unread {
		t.Error("open conversation should not be unread")
	}
	if got := ids(msgs); !equalIDs(got, []int64{1, 2, 3}) {
		t.Errorf("messages = %v", got)
	}
}

func TestSessionFailedFetchKeepsLiveView(t *testing.T) {
	f := &fakeFetcher{err: errors.New("network down")}
	s := runSession(t, f)
	ctx := context.Background()

	if err := s.Live(ctx, msg(9, 2, 1, time.Second, "live only")); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(ctx, 2); err == nil {
		t.Fatal("expected fetch error")
	}

	msgs, unread, err := s.Snapshot(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if unread {
		t.Error("open should have cleared unread even though the fetch failed")
	}
	if got := ids(msgs); !equalIDs(got, []int64{9}) {
		t.Errorf("messages = %v", got)
	}

	partners, err := s.UnreadPartners(ctx)
	if err != nil || len(partners) != 0 {
		t.Errorf("UnreadPartners = %v, %v", partners, err)
	}
}

func TestSessionClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(1, &fakeFetcher{})
	finished := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(finished)
	}()
	cancel()
	<-finished

	if err := s.Live(context.Background(), msg(1, 2, 1, 0, "late")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestAdoptedIDReordersTies(t *testing.T) {
	c := NewConversation()
	c.Insert(msg(0, 1, 2, time.Second, "mine, no id yet"))
	c.Insert(msg(5, 2, 1, time.Second, "theirs"))
	if got := ids(c.Messages()); !equalIDs(got, []int64{0, 5}) {
		t.Fatalf("order before adoption = %v", got)
	}

	c.Insert(msg(7, 1, 2, time.Second, "mine, no id yet"))
	if got := ids(c.Messages()); !equalIDs(got, []int64{5, 7}) {
		t.Errorf("order after adoption = %v, want [5 7]", got)
	}
}

func TestLiveAfterHistoryMarksUnread(t *testing.T) {
	s := NewState(1)
	m := msg(1, 2, 1, time.Second, "seen in history first")

	s.Open(2)
	s.ApplyHistory(2, []Message{m})
	s.Open(3)
	s.ApplyLive(m)

	if !s.Unread(2) {
		t.Error("live message from an inactive partner should mark unread even if already merged")
	}
	if len(s.Messages(2)) != 1 {
		t.Errorf("duplicate merged: %v", ids(s.Messages(2)))
	}
}
