package ws

import (
	"log"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry is the live connection set of the channel. It is the only owner
// of that set.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]registryEntry
	seq   uint64
}

type registryEntry struct {
	peer Peer
	seq  uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]registryEntry)}
}

// Register adds p. Registering an already present peer is a no-op.
func (r *Registry) Register(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID()]; ok {
		return
	}
	r.seq++
	r.peers[p.ID()] = registryEntry{peer: p, seq: r.seq}
}

// Unregister removes p and reports whether it was present. Duplicate close
// events therefore land here harmlessly.
func (r *Registry) Unregister(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.peers[p.ID()]
	if !ok || entry.peer != p {
		return false
	}
	delete(r.peers, p.ID())
	return true
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ForEach calls fn once per peer registered when the call started, in
// registration order. fn runs outside the lock so peers may join or leave
// meanwhile. A failing fn is logged and counted and never stops the pass.
func (r *Registry) ForEach(fn func(Peer) error) (delivered, failed int) {
	for _, p := range r.snapshot() {
		if err := fn(p); err != nil {
			log.Printf("registry: deliver to conn_id=%s failed: %v", p.ID(), err)
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

func (r *Registry) snapshot() []Peer {
	r.mu.RLock()
	entries := lo.Values(r.peers)
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return lo.Map(entries, func(e registryEntry, _ int) Peer { return e.peer })
}

// IDs lists registered peer ids in registration order.
func (r *Registry) IDs() []string {
	return lo.Map(r.snapshot(), func(p Peer, _ int) string { return p.ID() })
}
