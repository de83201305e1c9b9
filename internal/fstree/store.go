// Package fstree maintains the authoritative local mirror of a room's
// file and folder tree.
//
// The tree is mutated only by applying server-confirmed events:
// snapshots replace the map wholesale, incremental events upsert or
// remove per node id. Local operations are fire-and-forget requests;
// the store changes only when the confirmation comes back. Last event
// wins per node id; the server is the ordering authority.
package fstree

import (
	"sort"
	"sync"

	"github.com/coderoom-dev/roomsync/pkg/types"
)

// Store holds the node map for one room.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]types.FSNode
}

// NewStore creates an empty tree store.
func NewStore() *Store {
	return &Store{nodes: make(map[string]types.FSNode)}
}

// SetSnapshot atomically replaces the entire tree. Nodes absent from
// the snapshot are gone afterwards; no ghost nodes survive a rejoin.
func (s *Store) SetSnapshot(nodes []types.FSNode) {
	next := make(map[string]types.FSNode, len(nodes))
	for _, node := range nodes {
		if node.ID == "" || !node.Type.Valid() {
			continue
		}
		next[node.ID] = node
	}

	s.mu.Lock()
	s.nodes = next
	s.mu.Unlock()
}

// UpsertNode replaces-or-inserts one node by id. Applying the same
// confirmed event twice is a no-op in effect.
func (s *Store) UpsertNode(node types.FSNode) {
	if node.ID == "" || !node.Type.Valid() {
		return
	}
	s.mu.Lock()
	s.nodes[node.ID] = node
	s.mu.Unlock()
}

// RemoveNode removes a node and every node whose parent chain reaches
// it, in one atomic update. A client may receive only the root delete
// notification, so the cascade is computed locally.
func (s *Store) RemoveNode(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, node := range s.nodes {
			if node.ParentID != "" && doomed[node.ParentID] && !doomed[node.ID] {
				doomed[node.ID] = true
				changed = true
			}
		}
	}
	for nodeID := range doomed {
		delete(s.nodes, nodeID)
	}
}

// Clear drops all nodes. Called on room leave.
func (s *Store) Clear() {
	s.mu.Lock()
	s.nodes = make(map[string]types.FSNode)
	s.mu.Unlock()
}

// Get returns a node by id.
func (s *Store) Get(id string) (types.FSNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	return node, ok
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Nodes returns all nodes sorted by path for stable iteration.
func (s *Store) Nodes() []types.FSNode {
	s.mu.RLock()
	out := make([]types.FSNode, 0, len(s.nodes))
	for _, node := range s.nodes {
		out = append(out, node)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ChildrenOf returns the direct children of a node, folders first,
// each group sorted by name. Pass the empty string for the room root.
func (s *Store) ChildrenOf(parentID string) []types.FSNode {
	s.mu.RLock()
	out := make([]types.FSNode, 0)
	for _, node := range s.nodes {
		if node.ParentID == parentID {
			out = append(out, node)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == types.NodeFolder
		}
		return out[i].Name < out[j].Name
	})
	return out
}
