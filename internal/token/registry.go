// Package token implements the Status process's TokenService: JWT
// issuance/validation and the chat-server registry used to pick a server
// for a new login. Grounded on spec section 4.4 and the original source's
// FKStatusServer.cpp server-selection loop (SPEC_FULL.md section 4),
// generalized to a Go sync.RWMutex-guarded map the way
// internal/chatserver's registry (also a map under a sync.RWMutex)
// generalizes the teacher's Hub.
package token

import (
	"context"
	"sort"
	"sync"
)

// ChatServerInfo is the in-memory descriptor from spec section 3
// ("Chat-server descriptor"). CurrentLoad is mutated by selection and by
// loadbus delta events; it is guarded by the owning Registry's lock
// rather than being atomic, since updates always happen with the lock
// already held for the scan.
type ChatServerInfo struct {
	ID             string
	Host           string
	Port           int32
	Zone           string
	MaxConnections int
	CurrentLoad    int
	Active         bool
}

func (s ChatServerInfo) loadRatio() float64 {
	if s.MaxConnections <= 0 {
		return 1
	}
	return float64(s.CurrentLoad) / float64(s.MaxConnections)
}

// Registry holds every known chat-server descriptor for this Status
// process. It is intentionally process-local: each Status replica learns
// its own view from static configuration plus load-delta events: spec
// section 4.4 does not require cross-Status synchronization.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*ChatServerInfo
}

// NewRegistry seeds a registry with a static list of servers, as read
// from configuration at startup.
func NewRegistry(servers []ChatServerInfo) *Registry {
	r := &Registry{servers: make(map[string]*ChatServerInfo, len(servers))}
	for i := range servers {
		s := servers[i]
		r.servers[s.ID] = &s
	}
	return r
}

// SelectBest implements spec section 4.4's `_select_best`: discard
// servers at or over capacity, pick the lowest load ratio, tie-break by
// lexicographic id, and bump its CurrentLoad by one before returning.
func (r *Registry) SelectBest() (ChatServerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*ChatServerInfo
	for _, s := range r.servers {
		if !s.Active {
			continue
		}
		if s.loadRatio() >= 1 {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return ChatServerInfo{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].loadRatio(), candidates[j].loadRatio()
		if ri != rj {
			return ri < rj
		}
		return candidates[i].ID < candidates[j].ID
	})

	best := candidates[0]
	best.CurrentLoad++
	return *best, true
}

// ApplyDelta adjusts a known server's CurrentLoad by delta, clamped at 0.
// Unknown server ids are ignored (a late event for a server that has
// since been deconfigured).
func (r *Registry) ApplyDelta(serverID string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[serverID]
	if !ok {
		return
	}
	s.CurrentLoad += delta
	if s.CurrentLoad < 0 {
		s.CurrentLoad = 0
	}
}

// SetActive flips a server's health flag, used by a future health-check
// loop; exposed now so tests and an eventual heartbeat consumer can drive
// it directly.
func (r *Registry) SetActive(serverID string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servers[serverID]; ok {
		s.Active = active
	}
}

// Snapshot returns a copy of every known descriptor, for diagnostics.
func (r *Registry) Snapshot() []ChatServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChatServerInfo, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, *s)
	}
	return out
}

// ConsumeLoadDeltas applies one load delta in a flat (serverID, delta)
// form; cmd/statusserver wraps it in a closure to fit loadbus.Handler.
func (r *Registry) ConsumeLoadDeltas(_ context.Context, serverID string, delta int) error {
	r.ApplyDelta(serverID, delta)
	return nil
}
