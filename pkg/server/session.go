package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mhaas-dev/chatline/pkg/model"
	"github.com/mhaas-dev/chatline/pkg/protocol"
)

var (
	ErrAlreadyConnected = errors.New("server: user already connected")
	ErrSinkClosed       = errors.New("server: session sink closed")
	ErrSinkFull         = errors.New("server: session sink full")
)

// sinkBufferSize bounds the per-session outbound queue. A peer that stops
// reading fills its queue and is treated as dead rather than stalling
// broadcast fan-out.
const sinkBufferSize = 64

// Session is the live binding between an authenticated identity and its
// outbound message sink. The identity is immutable for the session lifetime.
type Session struct {
	Identity model.Identity
	JoinedAt time.Time

	codec *protocol.Codec
	out   chan string
	done  chan struct{}
	once  sync.Once
}

// NewSession creates a session over an established codec. The caller starts
// WriteLoop on its own goroutine after registration succeeds.
func NewSession(identity model.Identity, codec *protocol.Codec) *Session {
	return &Session{
		Identity: identity,
		JoinedAt: time.Now(),
		codec:    codec,
		out:      make(chan string, sinkBufferSize),
		done:     make(chan struct{}),
	}
}

// Username returns the session's username.
func (s *Session) Username() string {
	return s.Identity.Username
}

// Send queues one message for delivery. It never blocks: a closed session
// returns ErrSinkClosed and a full queue returns ErrSinkFull, both of which
// the broadcaster treats as a dead sink.
func (s *Session) Send(text string) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	select {
	case s.out <- text:
		return nil
	case <-s.done:
		return ErrSinkClosed
	default:
		return ErrSinkFull
	}
}

// SendNow writes one message directly to the wire, bypassing the queue.
// Used for final notices (kick, ban) that must reach the peer before the
// connection is torn down.
func (s *Session) SendNow(text string) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	return s.codec.WriteMessage(text)
}

// WriteLoop drains the outbound queue onto the wire. It exits when the
// session closes or a write fails; a write failure closes the session so the
// owning connection handler unwinds.
func (s *Session) WriteLoop() {
	for {
		select {
		case <-s.done:
			return
		case text := <-s.out:
			if err := s.codec.WriteMessage(text); err != nil {
				s.Close()
				return
			}
		}
	}
}

// Close closes the sink and the underlying connection. Idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.codec.Close()
	})
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// SessionRegistry is the single source of truth mapping active usernames to
// their sessions. At most one live session exists per username.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty session registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Register stores a session for its username. Fails with ErrAlreadyConnected
// if the username already has a live session; the existing session is left
// untouched. Atomic with respect to concurrent registrations of the same name.
func (r *SessionRegistry) Register(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := sess.Username()
	if _, exists := r.sessions[name]; exists {
		return ErrAlreadyConnected
	}
	r.sessions[name] = sess
	return nil
}

// Unregister removes the registry entry for sess, but only if sess is still
// the current session for its username. A stale session whose user has since
// reconnected never evicts the successor. Returns true if an entry was removed.
func (r *SessionRegistry) Unregister(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := sess.Username()
	if r.sessions[name] != sess {
		return false
	}
	delete(r.sessions, name)
	return true
}

// Lookup retrieves the live session for a username.
func (r *SessionRegistry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[username]
	return sess, ok
}

// Usernames returns a sorted snapshot of all connected usernames.
func (r *SessionRegistry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of active sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForceDisconnect closes sess and removes its registry entry in one step
// under the registry lock. The close always happens; the removal is keyed on
// the session pointer, so a successor that re-registered the same username is
// left untouched. Returns true if sess was the registered session.
func (r *SessionRegistry) ForceDisconnect(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.Close()
	name := sess.Username()
	if r.sessions[name] != sess {
		return false
	}
	delete(r.sessions, name)
	return true
}
