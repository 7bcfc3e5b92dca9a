// Package session hosts checkout stores behind an HTTP API so that redirect
// flows and non-browser clients can drive a checkout remotely.
package session

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/reevit-checkout/internal/checkout"
	"github.com/noah-isme/reevit-checkout/internal/obs"
)

// ErrNotFound is returned for unknown or evicted session ids.
var ErrNotFound = errors.New("session: not found")

// Session pairs a checkout store with its bookkeeping.
type Session struct {
	ID        string
	Store     *checkout.Store
	CreatedAt time.Time

	lastSeen atomic.Int64
	done     chan struct{}
	doneOnce sync.Once
}

// Done is closed once the session leaves the registry.
func (s *Session) Done() <-chan struct{} { return s.done }

// LastSeen reports the last time the session was looked up.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

func (s *Session) finish() { s.doneOnce.Do(func() { close(s.done) }) }

// Registry is the in-process set of live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session), now: time.Now}
}

// NewID allocates a session id.
func NewID() string { return uuid.NewString() }

// Add registers store under id.
func (r *Registry) Add(id string, store *checkout.Store) *Session {
	now := r.now()
	s := &Session{ID: id, Store: store, CreatedAt: now, done: make(chan struct{})}
	s.touch(now)
	r.mu.Lock()
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()
	setActive(n)
	return s
}

// Get returns the session and marks it as seen.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(r.now())
	return s, nil
}

// Remove drops the session and closes its Done channel.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if ok {
		s.finish()
		setActive(n)
	}
	return s, ok
}

// Evict removes sessions not seen for longer than ttl and returns them,
// oldest first.
func (r *Registry) Evict(ttl time.Duration) []*Session {
	cutoff := r.now().Add(-ttl)
	var out []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(r.sessions, id)
			out = append(out, s)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()
	for _, s := range out {
		s.finish()
	}
	if len(out) > 0 {
		setActive(n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen().Before(out[j].LastSeen()) })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func setActive(n int) {
	if obs.SessionsActive != nil {
		obs.SessionsActive.Set(float64(n))
	}
}
