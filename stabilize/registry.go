// Package stabilize renames resources from temporary to persistent UUIDs and
// rewrites every reference to the old UUID held elsewhere.
//
// References live in three places: ParentUUID of child resources, relation
// stores, and plain UUID-valued fields inside other resources (a zone's
// switch, a function's functional device, an endpoint's connected entities).
// Each agent module registers one Rule per reference shape it owns; the
// Coordinator runs the rules of a kind after renaming the resource itself.
package stabilize

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/zero-day-ai/gami/model"
)

// RewriteFunc replaces oldUUID with newUUID in one reference shape.
type RewriteFunc func(ctx context.Context, oldUUID, newUUID string) error

// Rule is a named RewriteFunc. The name shows up in logs, spans and metrics.
type Rule struct {
	Name    string
	Rewrite RewriteFunc
}

// Registry maps a resource kind to the rules that rewrite references to
// resources of that kind.
type Registry struct {
	mu    sync.RWMutex
	rules map[model.Kind][]Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[model.Kind][]Rule)}
}

// Register appends a rule for kind. Rules run in registration order.
func (r *Registry) Register(kind model.Kind, name string, fn RewriteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules[kind] = append(r.rules[kind], Rule{Name: name, Rewrite: fn})
}

// Rules returns a copy of the rules registered for kind.
func (r *Registry) Rules(kind model.Kind) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.rules[kind])
}

// Kinds returns every kind with at least one rule, sorted by name.
func (r *Registry) Kinds() []model.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]model.Kind, 0, len(r.rules))
	for k := range r.rules {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
