// Package server coordinates session registration, lookup, and removal for
// the relay via the Registry type.
package server

import (
	"sort"
	"sync"
	"time"
)

// Session is a logged-in connection as recorded by the Registry. Values
// returned by Registry methods are copies; mutating them has no effect on
// the registry.
type Session struct {
	Client       *Client
	Username     string
	LoggedInAt   time.Time
	LastActivity time.Time

	seq uint64
}

// Registry is the table of logged-in connections. Every read and write goes
// through one mutex, and iteration is only available as a Snapshot so no
// caller ever ranges over the live map.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Client]*Session
	nextSeq  uint64
	now      func() time.Time
}

// NewRegistry creates an empty Registry. A nil clock selects time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[*Client]*Session),
		now:      now,
	}
}

// Register logs client in as username. It fails with ErrUsernameTaken if
// any active session already uses username (exact byte comparison) and with
// ErrAlreadyRegistered if client is already registered.
func (r *Registry) Register(client *Client, username string) (Session, error) {
	return r.RegisterFunc(client, username, nil)
}

// RegisterFunc is Register with a hook run under the registry lock right
// after the insert. onInsert must not block; the router uses it to queue the
// login acknowledgement ahead of any line another session may route to the
// new one.
func (r *Registry) RegisterFunc(client *Client, username string, onInsert func(Session)) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[client]; ok {
		return Session{}, ErrAlreadyRegistered
	}
	for _, s := range r.sessions {
		if s.Username == username {
			return Session{}, ErrUsernameTaken
		}
	}

	now := r.now()
	r.nextSeq++
	s := &Session{
		Client:       client,
		Username:     username,
		LoggedInAt:   now,
		LastActivity: now,
		seq:          r.nextSeq,
	}
	r.sessions[client] = s
	if onInsert != nil {
		onInsert(*s)
	}
	return *s, nil
}

// Touch records activity for client and reports whether it is still
// registered. An absent client is not an error: it may have just been
// deregistered concurrently.
func (r *Registry) Touch(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[client]
	if ok {
		s.LastActivity = r.now()
	}
	return ok
}

// Lookup returns the session for client.
func (r *Registry) Lookup(client *Client) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[client]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// LookupByUsername returns the session logged in as username.
func (r *Registry) LookupByUsername(username string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.Username == username {
			return *s, true
		}
	}
	return Session{}, false
}

// Deregister removes client's session and returns it. removed is false if
// the session was already absent; callers treat that as a no-op, so the
// worker and the reaper can both call it safely.
func (r *Registry) Deregister(client *Client) (s Session, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sessions[client]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, client)
	return *existing, true
}

// Snapshot returns a point-in-time copy of all sessions in login order.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, *s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	return sessions
}

// Len returns the number of logged-in sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
