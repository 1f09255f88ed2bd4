package chatserver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flicker-im/fabric/internal/chatsession"
)

// MaxConnections bounds how many sessions a single chat server admits, per
// spec section 4.2.
const MaxConnections = 10000

// reapInterval is how often the registry sweeps for sessions that closed
// without being explicitly removed, mirroring the teacher's 1-minute
// evictor cadence (internal/domain/registry/hub.go's runEvictor) scaled up
// to the spec's stated 5-minute cleanup timer.
const reapInterval = 5 * time.Minute

// registry is the single-session-per-user live-connection map for one
// ChatServer process. Go's garbage collector makes the source's weak-
// reference map unnecessary (spec section 9's design note): a *Session
// removes itself via Host.Remove on close, so a plain strong-reference map
// under a RWMutex already gives the map-entry-is-a-tombstone behavior the
// note asks for, with the periodic sweep only as a safety net against a
// session that failed to call Remove.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*chatsession.Session
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newRegistry(logger *slog.Logger) *registry {
	r := &registry{
		sessions: make(map[string]*chatsession.Session),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	go r.runReaper()
	return r
}

// add inserts session under uuid, closing any prior session for the same
// user first: the single-session-per-user invariant from spec section 4.2.
func (r *registry) add(uuid string, s *chatsession.Session) {
	r.mu.Lock()
	old, exists := r.sessions[uuid]
	r.sessions[uuid] = s
	r.mu.Unlock()

	if exists && old != s && old.State() != chatsession.Closed {
		old.Stop()
	}
}

// remove deregisters uuid, but only if it still maps to s: a session
// superseded by add() and then closed must not evict its successor.
func (r *registry) remove(uuid string, s *chatsession.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[uuid]; ok && cur == s {
		delete(r.sessions, uuid)
	}
}

func (r *registry) get(uuid string) (*chatsession.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[uuid]
	if !ok || s.State() == chatsession.Closed {
		return nil, false
	}
	return s, true
}

// count returns the number of live entries, including any not-yet-reaped
// tombstones; callers enforcing MaxConnections treat that as acceptable
// slack, matching the spec's "computed from map size" wording.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *registry) loadPercent() int {
	n := r.count()
	pct := n * 100 / MaxConnections
	if pct > 100 {
		pct = 100
	}
	return pct
}

// snapshot returns every live session, for broadcast.
func (r *registry) snapshot() map[string]*chatsession.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*chatsession.Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// stopAll snapshots every session under the lock, releases it, then stops
// each — matching spec section 4.2's stop() ordering so that Session.Stop
// (which calls back into registry.remove, re-taking the lock) never
// deadlocks against the lock stopAll itself holds.
func (r *registry) stopAll() {
	for uuid, s := range r.snapshot() {
		s.Stop()
		r.remove(uuid, s)
	}
}

func (r *registry) runReaper() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *registry) reapOnce() {
	var dead []string
	for uuid, s := range r.snapshot() {
		if s.State() == chatsession.Closed {
			dead = append(dead, uuid)
		}
	}
	if len(dead) == 0 {
		return
	}
	r.mu.Lock()
	for _, uuid := range dead {
		if cur, ok := r.sessions[uuid]; ok && cur.State() == chatsession.Closed {
			delete(r.sessions, uuid)
		}
	}
	r.mu.Unlock()
	r.logger.Debug("chatserver: reaped closed sessions", slog.Int("count", len(dead)))
}

func (r *registry) close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
