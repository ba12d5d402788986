// Package hub tracks the live connections of each identity and fans events
// out to them.
//
// Membership is process-local and in memory. Running several gateway
// processes needs an external pub/sub backplane, which this package does not
// provide.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eldtechnologies/courier/internal/metrics"
)

// ErrClosed is returned by Join after the registry has been closed.
var ErrClosed = errors.New("registry closed")

const shardCount = 32

// Event is a named payload pushed to connections.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

// Conn is a live connection as seen by the registry.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string
	// Enqueue hands ev to the connection without blocking and reports
	// whether it was accepted.
	Enqueue(ev Event) bool
	// Close terminates the connection.
	Close(reason string)
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Groups      int `json:"groups"`
	Connections int `json:"connections"`
}

type shard struct {
	mu     sync.RWMutex
	groups map[int64]map[string]Conn
}

// Registry maps identities to their groups of live connections.
type Registry struct {
	shards [shardCount]*shard
	owners sync.Map // conn ID -> identity
	closed atomic.Bool
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{groups: make(map[int64]map[string]Conn)}
	}
	return r
}

func (r *Registry) shardFor(identity int64) *shard {
	return r.shards[uint64(identity)%shardCount]
}

// Join adds conn to identity's group, creating the group if needed.
// Joining the same connection twice is a no-op.
func (r *Registry) Join(identity int64, conn Conn) error {
	if _, loaded := r.owners.LoadOrStore(conn.ID(), identity); loaded {
		return nil
	}

	s := r.shardFor(identity)
	s.mu.Lock()
	if r.closed.Load() {
		s.mu.Unlock()
		r.owners.Delete(conn.ID())
		return ErrClosed
	}
	group := s.groups[identity]
	if group == nil {
		group = make(map[string]Conn)
		s.groups[identity] = group
	}
	group[conn.ID()] = conn
	s.mu.Unlock()

	metrics.LiveConnections.Inc()
	return nil
}

// Leave removes conn from whatever group it joined. It reports whether the
// connection was a member; calling it again is harmless.
func (r *Registry) Leave(conn Conn) bool {
	v, ok := r.owners.LoadAndDelete(conn.ID())
	if !ok {
		return false
	}
	identity := v.(int64)

	s := r.shardFor(identity)
	s.mu.Lock()
	removed := false
	if group, ok := s.groups[identity]; ok {
		if _, ok := group[conn.ID()]; ok {
			delete(group, conn.ID())
			removed = true
		}
		if len(group) == 0 {
			delete(s.groups, identity)
		}
	}
	s.mu.Unlock()

	if removed {
		metrics.LiveConnections.Dec()
	}
	return removed
}

// Broadcast enqueues ev on every connection in identity's group and returns
// how many accepted it. An empty or unknown group is not an error.
func (r *Registry) Broadcast(identity int64, ev Event) int {
	s := r.shardFor(identity)
	s.mu.RLock()
	group := s.groups[identity]
	targets := make([]Conn, 0, len(group))
	for _, c := range group {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Enqueue(ev) {
			delivered++
			metrics.FanoutDeliveries.Inc()
		} else {
			metrics.FanoutDrops.Inc()
		}
	}
	return delivered
}

// Members returns the number of live connections in identity's group.
func (r *Registry) Members(identity int64) int {
	s := r.shardFor(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups[identity])
}

// Stats counts groups and connections across all shards.
func (r *Registry) Stats() Stats {
	var st Stats
	for _, s := range r.shards {
		s.mu.RLock()
		st.Groups += len(s.groups)
		for _, g := range s.groups {
			st.Connections += len(g)
		}
		s.mu.RUnlock()
	}
	return st
}

// Close empties the registry and closes every connection in it. Later
// joins fail with ErrClosed.
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}

	var conns []Conn
	for _, s := range r.shards {
		s.mu.Lock()
		for identity, g := range s.groups {
			for _, c := range g {
				conns = append(conns, c)
			}
			delete(s.groups, identity)
		}
		s.mu.Unlock()
	}

	for _, c := range conns {
		r.owners.Delete(c.ID())
		metrics.LiveConnections.Dec()
		c.Close("server shutting down")
	}
}
