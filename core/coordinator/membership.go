package coordinator

import "sync"

// Membership is the set of replicas known to the coordinator, in join order.
// Nodes are never removed: a replica that dies stays a member and fails
// every later prepare.
type Membership struct {
	mu    sync.RWMutex
	nodes []string
	index map[string]struct{}
}

// NewMembership creates an empty Membership.
func NewMembership() *Membership {
	return &Membership{index: make(map[string]struct{})}
}

// Add registers node and reports whether it was new.
func (m *Membership) Add(node string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[node]; ok {
		return false
	}
	m.index[node] = struct{}{}
	m.nodes = append(m.nodes, node)
	return true
}

// Snapshot returns the members in join order.
func (m *Membership) Snapshot() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// Len returns the number of members.
func (m *Membership) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}
