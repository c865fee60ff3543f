// Package relation holds many-to-many links between resources, such as zones
// to endpoints or endpoints to ports.
//
// A Store is a set of (parent, child, agent) triples guarded by one mutex.
// Bulk rewrites hold the lock for the whole scan, so callers never observe a
// half-applied UpdateParent or UpdateChild.
package relation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Entry is one relation triple.
type Entry struct {
	Parent  string `json:"parent"`
	Child   string `json:"child"`
	AgentID string `json:"agent_id,omitempty"`
}

// Predicate selects entries for RemoveIf.
type Predicate func(parent, child, agentID string) bool

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for bulk removals. If not provided,
// slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store is a concurrency-safe set of relation triples.
type Store struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[Entry]uint64
	seq     uint64
}

// NewStore creates an empty relation store. name shows up in log messages
// and errors, e.g. "zone_endpoints".
func NewStore(name string, opts ...Option) *Store {
	s := &Store{
		name:    name,
		entries: make(map[Entry]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// AddEntry inserts the triple. Adding an existing triple is a no-op.
func (s *Store) AddEntry(parent, child, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(Entry{Parent: parent, Child: child, AgentID: agentID}, 0)
}

// RemoveEntry removes every triple linking parent to child, whatever its
// agent.
func (s *Store) RemoveEntry(parent, child string) {
	s.RemoveIf(func(p, c, _ string) bool { return p == parent && c == child })
}

// RemoveParent removes every triple with the given parent.
func (s *Store) RemoveParent(parent string) {
	s.RemoveIf(func(p, _, _ string) bool { return p == parent })
}

// RemoveChild removes every triple with the given child.
func (s *Store) RemoveChild(child string) {
	s.RemoveIf(func(_, c, _ string) bool { return c == child })
}

// RemoveIf removes every triple matching pred and returns how many were
// removed.
func (s *Store) RemoveIf(pred Predicate) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for e := range s.entries {
		if pred(e.Parent, e.Child, e.AgentID) {
			delete(s.entries, e)
			n++
		}
	}
	return n
}

// EntryExists reports whether parent is linked to child.
func (s *Store) EntryExists(parent, child string) bool {
	return s.hasMatch(func(e Entry) bool { return e.Parent == parent && e.Child == child })
}

// ParentExists reports whether parent has at least one child.
func (s *Store) ParentExists(parent string) bool {
	return s.hasMatch(func(e Entry) bool { return e.Parent == parent })
}

// ChildExists reports whether child has at least one parent.
func (s *Store) ChildExists(child string) bool {
	return s.hasMatch(func(e Entry) bool { return e.Child == child })
}

// GetChildren returns the children of parent in insertion order.
func (s *Store) GetChildren(parent string) []string {
	return s.collect(
		func(e Entry) bool { return e.Parent == parent },
		func(e Entry) string { return e.Child },
	)
}

// GetParents returns the parents of child in insertion order.
func (s *Store) GetParents(child string) []string {
	return s.collect(
		func(e Entry) bool { return e.Child == child },
		func(e Entry) string { return e.Parent },
	)
}

// GetAllUniqueParents returns every parent once, in order of first link.
func (s *Store) GetAllUniqueParents() []string {
	return s.collect(
		func(Entry) bool { return true },
		func(e Entry) string { return e.Parent },
	)
}

// UpdateParent rewrites the parent of every triple from oldParent to
// newParent. Triples that would duplicate an existing one are merged.
func (s *Store) UpdateParent(oldParent, newParent string) int {
	return s.rewrite(
		func(e Entry) bool { return e.Parent == oldParent },
		func(e Entry) Entry { e.Parent = newParent; return e },
	)
}

// UpdateChild rewrites the child of every triple from oldChild to newChild.
func (s *Store) UpdateChild(oldChild, newChild string) int {
	return s.rewrite(
		func(e Entry) bool { return e.Child == oldChild },
		func(e Entry) Entry { e.Child = newChild; return e },
	)
}

// UpdateAgent moves every triple owned by oldAgent to newAgent.
func (s *Store) UpdateAgent(oldAgent, newAgent string) int {
	return s.rewrite(
		func(e Entry) bool { return e.AgentID == oldAgent },
		func(e Entry) Entry { e.AgentID = newAgent; return e },
	)
}

// CleanResourcesForAgent removes every triple owned by agentID.
func (s *Store) CleanResourcesForAgent(agentID string) int {
	n := s.RemoveIf(func(_, _, agent string) bool { return agent == agentID })
	if n != 0 {
		s.logger.Info("removed relations", "count", n, "relation", s.name, "agent_id", agentID)
	}
	return n
}

// CleanResourcesWithNoAgent removes every triple without an owner.
func (s *Store) CleanResourcesWithNoAgent() int {
	return s.CleanResourcesForAgent("")
}

// Clear removes every triple.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.entries)
}

// Count returns the number of triples.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Entries returns every triple in insertion order.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.orderedLocked()
}

// Export returns the JSON encoding of every triple, for persistence
// snapshots.
func (s *Store) Export() (map[string][]byte, error) {
	entries := s.Entries()
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("relation %s: %w", s.name, err)
		}
		out[e.Parent+"/"+e.Child+"/"+e.AgentID] = data
	}
	return out, nil
}

func (s *Store) insertLocked(e Entry, seq uint64) {
	if _, ok := s.entries[e]; ok {
		return
	}
	if seq == 0 {
		s.seq++
		seq = s.seq
	}
	s.entries[e] = seq
}

func (s *Store) rewrite(match func(Entry) bool, apply func(Entry) Entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make(map[Entry]uint64)
	for e, seq := range s.entries {
		if match(e) {
			matched[e] = seq
		}
	}
	for e := range matched {
		delete(s.entries, e)
	}
	for e, seq := range matched {
		s.insertLocked(apply(e), seq)
	}
	return len(matched)
}

func (s *Store) hasMatch(pred func(Entry) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for e := range s.entries {
		if pred(e) {
			return true
		}
	}
	return false
}

func (s *Store) collect(pred func(Entry) bool, field func(Entry) string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, e := range s.orderedLocked() {
		if !pred(e) {
			continue
		}
		v := field(e)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (s *Store) orderedLocked() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return s.entries[out[i]] < s.entries[out[j]] })
	return out
}
