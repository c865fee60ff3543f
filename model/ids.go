package model

import "sync"

// IDAllocator hands out REST ids per scope. A scope is usually the parent
// UUID. Ids come from a per-scope high-water mark, so an id is never handed
// out twice in a scope even after the resource holding it is removed.
//
// Ids of removed resources are also remembered as retired, so a resource
// arriving with a preset id cannot take over an id that once named another
// resource. The retired set grows by one id per removal.
type IDAllocator struct {
	mu      sync.Mutex
	high    map[string]uint64
	retired map[string]map[uint64]struct{}
}

// NewIDAllocator creates an empty allocator.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		high:    make(map[string]uint64),
		retired: make(map[string]map[uint64]struct{}),
	}
}

// Allocate returns the next id in scope, starting at 1.
func (a *IDAllocator) Allocate(scope string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.high[scope]++
	return a.high[scope]
}

// Reserve raises the high-water mark of scope to at least id. It is used when
// a resource arrives with a REST id already assigned.
func (a *IDAllocator) Reserve(scope string, id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id > a.high[scope] {
		a.high[scope] = id
	}
}

// Retire marks id as no longer usable in scope.
func (a *IDAllocator) Retire(scope string, id uint64) {
	if id == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.retired[scope]
	if !ok {
		set = make(map[uint64]struct{})
		a.retired[scope] = set
	}
	set[id] = struct{}{}
}

// Retired reports whether id was retired in scope.
func (a *IDAllocator) Retired(scope string, id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.retired[scope][id]
	return ok
}

// MoveScope merges the high-water mark and retired ids of oldScope into
// newScope and forgets oldScope. Called when a parent is renamed.
func (a *IDAllocator) MoveScope(oldScope, newScope string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if oldScope == newScope {
		return
	}
	if high, ok := a.high[oldScope]; ok {
		if high > a.high[newScope] {
			a.high[newScope] = high
		}
		delete(a.high, oldScope)
	}
	if old, ok := a.retired[oldScope]; ok {
		set, ok := a.retired[newScope]
		if !ok {
			a.retired[newScope] = old
		} else {
			for id := range old {
				set[id] = struct{}{}
			}
		}
		delete(a.retired, oldScope)
	}
}

// HighWater returns the largest id handed out or reserved in scope.
func (a *IDAllocator) HighWater(scope string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.high[scope]
}
