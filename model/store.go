package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Filter selects resources in key scans. Filters run under the store's read
// lock and must not mutate the value or call back into the store.
type Filter[T any] func(T) bool

// UpdateStatus reports what AddOrUpdateEntry did.
type UpdateStatus int

const (
	// Unchanged means the incoming resource hashed equal to the stored one.
	// Only TouchedAt was refreshed.
	Unchanged UpdateStatus = iota

	// StatusChanged means only the status block differed.
	StatusChanged

	// Updated means resource content differed and was overwritten.
	Updated

	// Added means the resource was not present and has been inserted.
	Added
)

// String returns a human-readable name for the status.
func (s UpdateStatus) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case StatusChanged:
		return "status_changed"
	case Updated:
		return "updated"
	case Added:
		return "added"
	default:
		return fmt.Sprintf("UpdateStatus(%d)", int(s))
	}
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

// DefaultTombstoneLimit is how many removed UUIDs a store remembers for
// ErrRemoved reporting unless WithTombstoneLimit says otherwise.
const DefaultTombstoneLimit = 4096

type storeOptions struct {
	logger     *slog.Logger
	hasher     Hasher
	globalIDs  bool
	tombstones int
}

// WithLogger sets the logger used for bulk removal and rename messages.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithHasher replaces the default ContentHasher.
func WithHasher(h Hasher) StoreOption {
	return func(o *storeOptions) {
		o.hasher = h
	}
}

// WithGlobalIDs makes REST ids unique across the whole store instead of per
// parent. Use it for collections addressed at the root, like /Systems/{id}.
func WithGlobalIDs() StoreOption {
	return func(o *storeOptions) {
		o.globalIDs = true
	}
}

// WithTombstoneLimit bounds the number of removed UUIDs remembered. Once
// the limit is exceeded the oldest removals are forgotten and lookups of
// them fail with plain ErrNotFound. n <= 0 keeps DefaultTombstoneLimit.
func WithTombstoneLimit(n int) StoreOption {
	return func(o *storeOptions) {
		o.tombstones = n
	}
}

type tombstone struct {
	uuid string
	seq  uint64
}

type slot[T any] struct {
	value T
	seq   uint64
}

// Store is the concurrency-safe collection of every resource of one kind.
//
// All operations are short critical sections on a single RWMutex. Scans
// return results in insertion order.
//
// Removed UUIDs are kept as tombstones up to a bounded limit. REST ids of
// removed entries stay retired for the life of the store.
type Store[T Object[T]] struct {
	kind          Kind
	logger        *slog.Logger
	hasher        Hasher
	globalIDs     bool
	ids           *IDAllocator
	maxTombstones int

	mu         sync.RWMutex
	entries    map[string]*slot[T]
	removed    map[string]uint64
	tombstones []tombstone
	tombSeq    uint64
	seq        uint64
	epoch      atomic.Uint64
}

// NewStore creates an empty store for resources of the given kind.
func NewStore[T Object[T]](kind Kind, opts ...StoreOption) *Store[T] {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.hasher == nil {
		o.hasher = NewHasher()
	}
	if o.tombstones <= 0 {
		o.tombstones = DefaultTombstoneLimit
	}

	return &Store[T]{
		kind:          kind,
		logger:        o.logger,
		hasher:        o.hasher,
		globalIDs:     o.globalIDs,
		ids:           NewIDAllocator(),
		maxTombstones: o.tombstones,
		entries:       make(map[string]*slot[T]),
		removed:       make(map[string]uint64),
	}
}

// Kind returns the kind of resources held by the store.
func (s *Store[T]) Kind() Kind {
	return s.kind
}

// AddEntry inserts a copy of v. It fails with ErrDuplicateUUID if the UUID is
// already present, leaving the store unchanged.
func (s *Store[T]) AddEntry(v T) error {
	value, err := s.prepare("AddEntry", v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	uuid := value.Metadata().UUID
	if _, ok := s.entries[uuid]; ok {
		return &Error{Op: "AddEntry", Kind: s.kind, UUID: uuid, Err: ErrDuplicateUUID}
	}
	s.insertLocked(value)
	return nil
}

// AddOrUpdateEntry inserts v if its UUID is unknown, otherwise compares
// content hashes with the stored entry and overwrites it when they differ.
// The stored REST id and persistence flag are kept on overwrite.
func (s *Store[T]) AddOrUpdateEntry(v T) (UpdateStatus, error) {
	value, err := s.prepare("AddOrUpdateEntry", v)
	if err != nil {
		return Unchanged, err
	}
	meta := value.Metadata()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[meta.UUID]
	if !ok {
		s.insertLocked(value)
		return Added, nil
	}

	currentMeta := current.value.Metadata()
	if currentMeta.ParentUUID != meta.ParentUUID {
		return Unchanged, &Error{
			Op:   "AddOrUpdateEntry",
			Kind: s.kind,
			UUID: meta.UUID,
			Err:  fmt.Errorf("%w: from '%s' to '%s'", ErrParentChanged, currentMeta.ParentUUID, meta.ParentUUID),
		}
	}

	currentMeta.TouchedAt = s.epoch.Add(1)

	var status UpdateStatus
	switch {
	case currentMeta.hash.Resource != meta.hash.Resource:
		status = Updated
	case currentMeta.hash.Status != meta.hash.Status:
		status = StatusChanged
	default:
		return Unchanged, nil
	}

	meta.RestID = currentMeta.RestID
	meta.TouchedAt = currentMeta.TouchedAt
	meta.Persistent = currentMeta.Persistent
	current.value = value
	return status, nil
}

// GetEntry returns a copy of the entry.
func (s *Store[T]) GetEntry(uuid string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.entries[uuid]
	if !ok {
		var zero T
		return zero, s.missingLocked("GetEntry", uuid)
	}
	return sl.value.Clone(), nil
}

// Update runs fn on the live entry while holding the write lock. The content
// hash is recomputed afterwards. fn must not call back into the store.
func (s *Store[T]) Update(uuid string, fn func(T) error) error {
	ref, err := s.GetEntryReference(uuid)
	if err != nil {
		return err
	}
	defer ref.Release()

	return fn(ref.Get())
}

// UpdateWhere runs fn on every entry matching filter under a single write
// lock and returns how many entries were visited.
func (s *Store[T]) UpdateWhere(filter Filter[T], fn func(T)) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sl := range s.orderedLocked() {
		if !filter(sl.value) {
			continue
		}
		meta := sl.value.Metadata()
		key, parent := meta.UUID, meta.ParentUUID
		fn(sl.value)
		s.finalizeLocked(sl, key, parent)
		n++
	}
	return n
}

// GetKeys returns the UUIDs of all entries passing every filter.
func (s *Store[T]) GetKeys(filters ...Filter[T]) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for _, sl := range s.orderedLocked() {
		if matches(sl.value, filters) {
			keys = append(keys, sl.value.Metadata().UUID)
		}
	}
	return keys
}

// GetKeysByParent returns the UUIDs of the direct children of parent that
// pass every filter.
func (s *Store[T]) GetKeysByParent(parent string, filters ...Filter[T]) []string {
	return s.GetKeys(append([]Filter[T]{byParent[T](parent)}, filters...)...)
}

// GetIDs returns the REST ids of all entries passing every filter.
func (s *Store[T]) GetIDs(filters ...Filter[T]) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.entries))
	for _, sl := range s.orderedLocked() {
		if matches(sl.value, filters) {
			ids = append(ids, sl.value.Metadata().RestID)
		}
	}
	return ids
}

// GetIDsByParent returns the REST ids of the direct children of parent.
func (s *Store[T]) GetIDsByParent(parent string) []uint64 {
	return s.GetIDs(byParent[T](parent))
}

// EntryExists reports whether uuid is present.
func (s *Store[T]) EntryExists(uuid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[uuid]
	return ok
}

// GetEntryCount returns the number of entries.
func (s *Store[T]) GetEntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// GetEntryCountByParent returns the number of direct children of parent.
func (s *Store[T]) GetEntryCountByParent(parent string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sl := range s.entries {
		if sl.value.Metadata().ParentUUID == parent {
			n++
		}
	}
	return n
}

// RemoveEntry removes uuid. Removing an absent UUID is a no-op.
func (s *Store[T]) RemoveEntry(uuid string) {
	s.RemoveEntryWithHook(uuid, nil)
}

// RemoveEntryWithHook removes uuid after running hook on the live entry.
// The hook runs under the write lock and must not call back into the store.
func (s *Store[T]) RemoveEntryWithHook(uuid string, hook func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.entries[uuid]
	if !ok {
		return
	}
	if hook != nil {
		hook(sl.value)
	}
	s.removeLocked(uuid)
}

// RemoveByParent removes the direct children of parent and returns how many
// were removed. Grandchildren are left in place.
func (s *Store[T]) RemoveByParent(parent string) int {
	n := s.removeWhere(byParent[T](parent))
	if n != 0 {
		s.logger.Info("removed resources", "count", n, "kind", s.kind, "parent_uuid", parent)
	}
	return n
}

// CleanResourcesForAgent removes every entry owned by agentID.
func (s *Store[T]) CleanResourcesForAgent(agentID string) int {
	n := s.removeWhere(func(v T) bool { return v.Metadata().AgentID == agentID })
	if n != 0 {
		s.logger.Info("removed resources", "count", n, "kind", s.kind, "agent_id", agentID)
	}
	return n
}

// CleanResourcesWithNoAgent removes every entry without an owning agent.
func (s *Store[T]) CleanResourcesWithNoAgent() int {
	return s.CleanResourcesForAgent("")
}

// RemoveUntouchedSince removes entries whose TouchedAt is not newer than
// epoch. A discovery loop reads CurrentEpoch before a cycle, refreshes every
// resource it finds, then sweeps the rest with this call.
func (s *Store[T]) RemoveUntouchedSince(epoch uint64) int {
	n := s.removeWhere(func(v T) bool { return v.Metadata().TouchedAt <= epoch })
	if n != 0 {
		s.logger.Info("removed stale resources", "count", n, "kind", s.kind, "epoch", epoch)
	}
	return n
}

// Touch refreshes TouchedAt of uuid without changing its content.
func (s *Store[T]) Touch(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.entries[uuid]
	if !ok {
		return s.missingLocked("Touch", uuid)
	}
	sl.value.Metadata().TouchedAt = s.epoch.Add(1)
	return nil
}

// CurrentEpoch returns the epoch stamped on the most recent add or refresh.
func (s *Store[T]) CurrentEpoch() uint64 {
	return s.epoch.Load()
}

// ClearEntries removes every entry. REST id high-water marks are kept.
func (s *Store[T]) ClearEntries() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for uuid := range s.entries {
		s.removeLocked(uuid)
	}
}

// RestIDToUUID finds the entry with REST id id among the children of
// parentUUID. An empty parentUUID searches the whole store.
func (s *Store[T]) RestIDToUUID(id uint64, parentUUID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sl := range s.orderedLocked() {
		meta := sl.value.Metadata()
		if meta.RestID != id {
			continue
		}
		if parentUUID == "" || meta.ParentUUID == parentUUID {
			return meta.UUID, nil
		}
	}

	s.logger.Debug("rest id not found", "kind", s.kind, "id", id, "parent_uuid", parentUUID)
	return "", &Error{Op: "RestIDToUUID", Kind: s.kind, RestID: id, Err: ErrNotFound}
}

// UUIDToRestID returns the REST id of uuid.
func (s *Store[T]) UUIDToRestID(uuid string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.entries[uuid]
	if !ok {
		return 0, s.missingLocked("UUIDToRestID", uuid)
	}
	return sl.value.Metadata().RestID, nil
}

// Rename replaces the key of oldUUID with the UUID returned by derive, in a
// single critical section: readers see either the old key or the new one,
// never neither. The entry is marked persistent.
//
// renamed is false when derive returns the current UUID. Rename fails with
// ErrDuplicateUUID if the derived UUID belongs to another entry; the store
// is unchanged in that case.
func (s *Store[T]) Rename(oldUUID string, derive func(*Meta) string) (newUUID string, renamed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.entries[oldUUID]
	if !ok {
		return "", false, s.missingLocked("Rename", oldUUID)
	}

	meta := sl.value.Metadata()
	newUUID = derive(meta)
	switch {
	case newUUID == "":
		return "", false, &Error{Op: "Rename", Kind: s.kind, UUID: oldUUID, Err: ErrInvalidUUID}
	case newUUID == oldUUID:
		meta.Persistent = true
		return oldUUID, false, nil
	}
	if _, taken := s.entries[newUUID]; taken {
		return "", false, &Error{Op: "Rename", Kind: s.kind, UUID: newUUID, Err: ErrDuplicateUUID}
	}

	delete(s.entries, oldUUID)
	meta.UUID = newUUID
	meta.Persistent = true
	s.entries[newUUID] = sl
	s.tombstoneLocked(oldUUID)
	delete(s.removed, newUUID)

	s.logger.Debug("renamed resource", "kind", s.kind, "old_uuid", oldUUID, "new_uuid", newUUID)
	return newUUID, true, nil
}

// Reparent points every direct child of oldParent at newParent and carries
// the REST id scope over, so children keep their ids.
func (s *Store[T]) Reparent(oldParent, newParent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.globalIDs {
		s.ids.MoveScope(oldParent, newParent)
	}

	n := 0
	for _, sl := range s.orderedLocked() {
		meta := sl.value.Metadata()
		if meta.ParentUUID != oldParent {
			continue
		}
		meta.ParentUUID = newParent
		if s.idTakenLocked(s.scope(newParent), meta.RestID, meta.UUID) {
			meta.RestID = s.ids.Allocate(s.scope(newParent))
		}
		s.finalizeLocked(sl, meta.UUID, newParent)
		n++
	}
	return n
}

// Snapshot returns copies of all entries in insertion order.
func (s *Store[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]T, 0, len(s.entries))
	for _, sl := range s.orderedLocked() {
		values = append(values, sl.value.Clone())
	}
	return values
}

// Export returns the JSON encoding of every entry keyed by UUID.
func (s *Store[T]) Export() (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte, len(s.entries))
	for uuid, sl := range s.entries {
		data, err := json.Marshal(sl.value)
		if err != nil {
			return nil, &Error{Op: "Export", Kind: s.kind, UUID: uuid, Err: err}
		}
		out[uuid] = data
	}
	return out, nil
}

func (s *Store[T]) prepare(op string, v T) (T, error) {
	value := v.Clone()
	meta := value.Metadata()
	if meta.UUID == "" {
		return value, &Error{Op: op, Kind: s.kind, Err: ErrInvalidUUID}
	}
	h, err := s.hasher.Hash(value)
	if err != nil {
		return value, &Error{Op: op, Kind: s.kind, UUID: meta.UUID, Err: err}
	}
	meta.hash = h
	return value, nil
}

func (s *Store[T]) insertLocked(value T) {
	meta := value.Metadata()
	meta.RestID = s.assignIDLocked(meta.ParentUUID, meta.RestID, meta.UUID)
	meta.TouchedAt = s.epoch.Add(1)
	s.seq++
	s.entries[meta.UUID] = &slot[T]{value: value, seq: s.seq}
	delete(s.removed, meta.UUID)
}

// finalizeLocked restores invariants after a value was mutated in place:
// the key cannot change, a new parent may need a new REST id, and the hash
// must reflect the new content.
func (s *Store[T]) finalizeLocked(sl *slot[T], key, parent string) {
	meta := sl.value.Metadata()
	if meta.UUID != key {
		s.logger.Warn("UUID change through a reference ignored, use Rename", "kind", s.kind, "uuid", key, "attempted", meta.UUID)
		meta.UUID = key
	}
	if meta.ParentUUID != parent {
		if oldScope := s.scope(parent); oldScope != s.scope(meta.ParentUUID) {
			s.ids.Retire(oldScope, meta.RestID)
		}
		meta.RestID = s.assignIDLocked(meta.ParentUUID, meta.RestID, key)
	}
	h, err := s.hasher.Hash(sl.value)
	if err != nil {
		s.logger.Warn("failed to rehash resource", "kind", s.kind, "uuid", key, "error", err)
		return
	}
	meta.hash = h
}

func (s *Store[T]) scope(parent string) string {
	if s.globalIDs {
		return ""
	}
	return parent
}

// assignIDLocked keeps want if it is neither retired nor held by another
// entry in the parent's scope, otherwise allocates a fresh id.
func (s *Store[T]) assignIDLocked(parent string, want uint64, self string) uint64 {
	scope := s.scope(parent)
	if want != 0 && !s.ids.Retired(scope, want) && !s.idTakenLocked(scope, want, self) {
		s.ids.Reserve(scope, want)
		return want
	}
	return s.ids.Allocate(scope)
}

func (s *Store[T]) idTakenLocked(scope string, id uint64, self string) bool {
	for uuid, sl := range s.entries {
		meta := sl.value.Metadata()
		if uuid != self && meta.RestID == id && s.scope(meta.ParentUUID) == scope {
			return true
		}
	}
	return false
}

func (s *Store[T]) removeWhere(pred Filter[T]) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for uuid, sl := range s.entries {
		if pred(sl.value) {
			s.removeLocked(uuid)
			n++
		}
	}
	return n
}

func (s *Store[T]) removeLocked(uuid string) {
	sl, ok := s.entries[uuid]
	if !ok {
		return
	}
	meta := sl.value.Metadata()
	s.ids.Retire(s.scope(meta.ParentUUID), meta.RestID)
	delete(s.entries, uuid)
	s.tombstoneLocked(uuid)
}

// tombstoneLocked remembers uuid as removed and forgets the oldest
// tombstones beyond the limit.
func (s *Store[T]) tombstoneLocked(uuid string) {
	s.tombSeq++
	s.removed[uuid] = s.tombSeq
	s.tombstones = append(s.tombstones, tombstone{uuid: uuid, seq: s.tombSeq})

	for len(s.removed) > s.maxTombstones && len(s.tombstones) > 0 {
		oldest := s.tombstones[0]
		s.tombstones = s.tombstones[1:]
		if s.removed[oldest.uuid] == oldest.seq {
			delete(s.removed, oldest.uuid)
		}
	}

	// drop queue entries for UUIDs that were re-added or removed again
	if len(s.tombstones) > 2*s.maxTombstones {
		live := make([]tombstone, 0, len(s.removed))
		for _, ts := range s.tombstones {
			if s.removed[ts.uuid] == ts.seq {
				live = append(live, ts)
			}
		}
		s.tombstones = live
	}
}

func (s *Store[T]) missingLocked(op, uuid string) error {
	if _, gone := s.removed[uuid]; gone {
		return &Error{Op: op, Kind: s.kind, UUID: uuid, Err: ErrRemoved}
	}
	return &Error{Op: op, Kind: s.kind, UUID: uuid, Err: ErrNotFound}
}

func (s *Store[T]) orderedLocked() []*slot[T] {
	slots := make([]*slot[T], 0, len(s.entries))
	for _, sl := range s.entries {
		slots = append(slots, sl)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].seq < slots[j].seq })
	return slots
}

func matches[T any](v T, filters []Filter[T]) bool {
	for _, f := range filters {
		if f != nil && !f(v) {
			return false
		}
	}
	return true
}

func byParent[T Object[T]](parent string) Filter[T] {
	return func(v T) bool {
		return v.Metadata().ParentUUID == parent
	}
}
