package courier

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrSessionClosed is returned by Session calls after Run has returned.
var ErrSessionClosed = errors.New("session closed")

// tsKey identifies a message that carries no store id.
type tsKey struct {
	createdAt  int64 // unix microseconds
	fromUserID int64
}

func keyOf(m Message) tsKey {
	return tsKey{createdAt: m.CreatedAt.UnixMicro(), fromUserID: m.FromUserID}
}

// Conversation is the merged, ordered message list for one partner.
// Messages are deduplicated by store id when both copies carry one and by
// (created_at, from_user_id) otherwise.
type Conversation struct {
	msgs  []Message
	ids   map[int64]struct{}
	byKey map[tsKey][]int64 // store ids seen under the key; 0 for none
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		ids:   make(map[int64]struct{}),
		byKey: make(map[tsKey][]int64),
	}
}

// Insert adds m unless an equivalent message is already present and reports
// whether it was added.
func (c *Conversation) Insert(m Message) bool {
	if m.ID != 0 {
		if _, ok := c.ids[m.ID]; ok {
			return false
		}
	}
	k := keyOf(m)
	for _, id := range c.byKey[k] {
		if id == 0 || m.ID == 0 {
			if id == 0 && m.ID != 0 {
				c.adoptID(k, m.ID)
			}
			return false
		}
	}

	c.insertSorted(m)

	if m.ID != 0 {
		c.ids[m.ID] = struct{}{}
	}
	c.byKey[k] = append(c.byKey[k], m.ID)
	return true
}

func (c *Conversation) insertSorted(m Message) {
	i := sort.Search(len(c.msgs), func(i int) bool { return less(m, c.msgs[i]) })
	c.msgs = append(c.msgs, Message{})
	copy(c.msgs[i+1:], c.msgs[i:])
	c.msgs[i] = m
}

// adoptID gives the id-less copy under k its store id and moves it to the
// position that id sorts to.
func (c *Conversation) adoptID(k tsKey, id int64) {
	for i := range c.msgs {
		if c.msgs[i].ID == 0 && keyOf(c.msgs[i]) == k {
			m := c.msgs[i]
			c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
			m.ID = id
			c.insertSorted(m)
			break
		}
	}
	ids := c.byKey[k]
	for i := range ids {
		if ids[i] == 0 {
			ids[i] = id
			break
		}
	}
	c.ids[id] = struct{}{}
}

// less orders by created_at, then store id.
func less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Messages returns a copy of the ordered list.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.msgs) }

// State is the client-side view of all conversations. It is not safe for
// concurrent use; Session serializes access to it.
type State struct {
	self   int64
	active int64 // 0 when no conversation is open
	convs  map[int64]*Conversation
	unread map[int64]bool
}

// NewState returns an empty view for the signed-in user.
func NewState(self int64) *State {
	return &State{
		self:   self,
		convs:  make(map[int64]*Conversation),
		unread: make(map[int64]bool),
	}
}

func (s *State) conv(partner int64) *Conversation {
	c, ok := s.convs[partner]
	if !ok {
		c = NewConversation()
		s.convs[partner] = c
	}
	return c
}

// ApplyLive merges a pushed message. A message from a partner whose
// conversation is not open marks it unread, even when history already
// merged it; messages from self never do.
func (s *State) ApplyLive(m Message) {
	partner := m.Partner(s.self)
	s.conv(partner).Insert(m)
	if m.FromUserID != s.self && partner != s.active {
		s.unread[partner] = true
	}
}

// ApplyHistory merges a fetched history snapshot. Unread is untouched.
func (s *State) ApplyHistory(partner int64, msgs []Message) {
	c := s.conv(partner)
	for _, m := range msgs {
		c.Insert(m)
	}
}

// Open makes partner the active conversation and clears its unread flag.
func (s *State) Open(partner int64) {
	s.active = partner
	s.unread[partner] = false
}

// Active returns the open conversation's partner, or 0.
func (s *State) Active() int64 { return s.active }

// Unread reports whether partner has unseen messages.
func (s *State) Unread(partner int64) bool { return s.unread[partner] }

// UnreadPartners returns every partner currently marked unread.
func (s *State) UnreadPartners() []int64 {
	var out []int64
	for p, u := range s.unread {
		if u {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Messages returns the merged list for partner.
func (s *State) Messages(partner int64) []Message {
	c, ok := s.convs[partner]
	if !ok {
		return nil
	}
	return c.Messages()
}

// HistoryFetcher loads a conversation snapshot.
type HistoryFetcher interface {
	History(ctx context.Context, partner int64) ([]Message, error)
}

// Session owns a State and applies every mutation on one goroutine. Network
// fetches run on the caller's goroutine and only their results are queued.
type Session struct {
	state   *State
	fetcher HistoryFetcher
	ops     chan func(*State)
	done    chan struct{}
	once    sync.Once
}

// NewSession creates a Session for self. Call Run to start it.
func NewSession(self int64, fetcher HistoryFetcher) *Session {
	return &Session{
		state:   NewState(self),
		fetcher: fetcher,
		ops:     make(chan func(*State), 64),
		done:    make(chan struct{}),
	}
}

// Run applies queued operations until ctx is done.
func (s *Session) Run(ctx context.Context) {
	defer s.once.Do(func() { close(s.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op(s.state)
		}
	}
}

// do queues op and waits for it to be applied.
func (s *Session) do(ctx context.Context, op func(*State)) error {
	applied := make(chan struct{})
	select {
	case s.ops <- func(st *State) { op(st); close(applied) }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-applied:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Live merges a pushed message.
func (s *Session) Live(ctx context.Context, m Message) error {
	return s.do(ctx, func(st *State) { st.ApplyLive(m) })
}

// Open activates partner, then fetches and merges its history. On a fetch
// error the live-only view is kept and the error returned.
func (s *Session) Open(ctx context.Context, partner int64) error {
	if err := s.do(ctx, func(st *State) { st.Open(partner) }); err != nil {
		return err
	}

	msgs, err := s.fetcher.History(ctx, partner)
	if err != nil {
		return err
	}
	return s.do(ctx, func(st *State) { st.ApplyHistory(partner, msgs) })
}

// Snapshot returns partner's merged messages and unread flag.
func (s *Session) Snapshot(ctx context.Context, partner int64) ([]Message, bool, error) {
	var (
		msgs   []Message
		unread bool
	)
	err := s.do(ctx, func(st *State) {
		msgs = st.Messages(partner)
		unread = st.Unread(partner)
	})
	return msgs, unread, err
}

// UnreadPartners returns the partners with unseen messages.
func (s *Session) UnreadPartners(ctx context.Context) ([]int64, error) {
	var out []int64
	err := s.do(ctx, func(st *State) { out = st.UnreadPartners() })
	return out, err
}
