// SPDX-License-Identifier: MIT

package tree

import (
	"hash/fnv"
	"sync"
)

const registryShards = 32

// Registry is the process-wide lookup table from (view, path identity)
// to node. It holds lookup-only references, never ownership: removing a
// subtree from its parent plus dropping its registry entries is enough
// to make it collectible. Identities are never reused while the
// process runs because child counters only ever grow.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu sync.RWMutex
	m  map[string]Node
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].m = make(map[string]Node)
	}
	return r
}

func registryKey(view, pathID string) string {
	return view + "\x00" + pathID
}

func (r *Registry) shard(key string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.shards[h.Sum32()%registryShards]
}

// Put registers a node under its view and path identity.
func (r *Registry) Put(view string, n Node) {
	key := registryKey(view, n.PathID())
	s := r.shard(key)
	s.mu.Lock()
	s.m[key] = n
	s.mu.Unlock()
}

// Get looks a node up by path identity within one view.
func (r *Registry) Get(view, pathID string) (Node, bool) {
	key := registryKey(view, pathID)
	s := r.shard(key)
	s.mu.RLock()
	n, ok := s.m[key]
	s.mu.RUnlock()
	return n, ok
}

// Remove drops a node and, for containers, its whole subtree.
func (r *Registry) Remove(view string, n Node) {
	key := registryKey(view, n.PathID())
	s := r.shard(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()

	if c, ok := n.(Container); ok {
		for _, child := range c.Children() {
			r.Remove(view, child)
		}
	}
}
