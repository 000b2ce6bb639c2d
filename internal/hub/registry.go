package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultShards is the shard count used when NewRegistry gets a non-positive value.
const DefaultShards = 32

// ErrRegistryClosed is returned by Connect after Shutdown.
var ErrRegistryClosed = errors.New("hub: registry closed")

// Conn is a live client connection as seen by the registry.
//
// Send must not block: it either queues the frame for the connection's single
// writer or returns an error (closed connection, full queue). Close must be
// safe to call more than once and from any goroutine.
type Conn interface {
	ID() string
	UserID() int64
	Send(frame []byte) error
	Close() error
}

type shard struct {
	mu     sync.RWMutex
	byUser map[int64]map[string]Conn // user -> conn id -> conn
}

// Registry maps user ids to their live connections. It is safe for
// concurrent use; users are spread over independently locked shards so that
// fan-out to one user never waits on a lock held for another shard.
type Registry struct {
	shards []*shard
	count  atomic.Int64
	closed atomic.Bool
	log    zerolog.Logger
}

// NewRegistry creates an empty registry with n shards.
func NewRegistry(n int, logger zerolog.Logger) *Registry {
	if n <= 0 {
		n = DefaultShards
	}
	r := &Registry{
		shards: make([]*shard, n),
		log:    logger.With().Str("component", "hub").Logger(),
	}
	for i := range r.shards {
		r.shards[i] = &shard{byUser: make(map[int64]map[string]Conn)}
	}
	return r
}

func (r *Registry) shardFor(userID int64) *shard {
	return r.shards[uint64(userID)%uint64(len(r.shards))]
}

// Connect registers c under c.UserID(). A user may hold any number of
// connections at once.
func (r *Registry) Connect(c Conn) error {
	s := r.shardFor(c.UserID())
	s.mu.Lock()
	// checked under the shard lock so Shutdown cannot miss a late Connect
	if r.closed.Load() {
		s.mu.Unlock()
		return ErrRegistryClosed
	}
	conns := s.byUser[c.UserID()]
	if conns == nil {
		conns = make(map[string]Conn)
		s.byUser[c.UserID()] = conns
	}
	_, existed := conns[c.ID()]
	conns[c.ID()] = c
	s.mu.Unlock()

	if !existed {
		r.count.Add(1)
		wsConnections.Inc()
	}
	r.log.Debug().
		Int64("user_id", c.UserID()).
		Str("conn_id", c.ID()).
		Int64("total", r.count.Load()).
		Msg("connection registered")
	return nil
}

// Disconnect removes exactly c and closes it. Unknown connections are ignored,
// so calling it twice is harmless.
func (r *Registry) Disconnect(c Conn) {
	if !r.remove(c) {
		return
	}
	_ = c.Close()
	r.log.Debug().
		Int64("user_id", c.UserID()).
		Str("conn_id", c.ID()).
		Int64("total", r.count.Load()).
		Msg("connection unregistered")
}

func (r *Registry) remove(c Conn) bool {
	s := r.shardFor(c.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.byUser[c.UserID()]
	cur, ok := conns[c.ID()]
	if !ok || cur != c {
		return false
	}
	delete(conns, c.ID())
	if len(conns) == 0 {
		delete(s.byUser, c.UserID())
	}
	r.count.Add(-1)
	wsConnections.Dec()
	return true
}

// snapshot copies the connections of userID so sends happen outside the lock.
func (r *Registry) snapshot(userID int64) []Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// SendToUser delivers ev to every connection of userID and returns how many
// accepted it. A connection that fails is disconnected; the others still
// receive the event. Having no connections is not an error.
func (r *Registry) SendToUser(userID int64, ev Event) int {
	frame, err := ev.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("type", ev.Type).Msg("encode event")
		return 0
	}
	return r.sendFrame(userID, ev.Type, frame)
}

// Broadcast delivers ev to every connection of each distinct user in userIDs.
// The event is encoded once. It returns the number of connections that
// accepted the frame.
func (r *Registry) Broadcast(userIDs []int64, ev Event) int {
	if len(userIDs) == 0 {
		return 0
	}
	frame, err := ev.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("type", ev.Type).Msg("encode event")
		return 0
	}
	n := 0
	for _, uid := range lo.Uniq(userIDs) {
		n += r.sendFrame(uid, ev.Type, frame)
	}
	return n
}

func (r *Registry) sendFrame(userID int64, typ string, frame []byte) int {
	delivered := 0
	for _, c := range r.snapshot(userID) {
		if err := c.Send(frame); err != nil {
			wsDeliveryFailures.WithLabelValues(typ).Inc()
			r.log.Debug().Err(err).
				Int64("user_id", userID).
				Str("conn_id", c.ID()).
				Str("type", typ).
				Msg("delivery failed; dropping connection")
			r.Disconnect(c)
			continue
		}
		wsDeliveries.WithLabelValues(typ).Inc()
		delivered++
	}
	return delivered
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// UserConnections returns the number of connections registered for userID.
func (r *Registry) UserConnections(userID int64) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID])
}

// Shutdown closes and removes every connection and rejects later Connect
// calls.
func (r *Registry) Shutdown() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	var all []Conn
	for _, s := range r.shards {
		s.mu.RLock()
		for _, conns := range s.byUser {
			for _, c := range conns {
				all = append(all, c)
			}
		}
		s.mu.RUnlock()
	}
	for _, c := range all {
		r.Disconnect(c)
	}
	r.log.Info().Int("closed", len(all)).Msg("hub shut down")
}
