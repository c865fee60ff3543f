package model

import "sync"

// Reference is exclusive access to one live entry. The store's write lock is
// held from GetEntryReference until Release, so keep the window short and do
// not call back into the same store while holding it.
//
// Example:
//
//	ref, err := drives.GetEntryReference(id)
//	if err != nil {
//	    return err
//	}
//	defer ref.Release()
//	ref.Get().Status.Health = model.HealthWarning
type Reference[T Object[T]] struct {
	store  *Store[T]
	slot   *slot[T]
	key    string
	parent string
	once   sync.Once
}

// GetEntryReference locks the store and returns the live entry for uuid.
func (s *Store[T]) GetEntryReference(uuid string) (*Reference[T], error) {
	s.mu.Lock()

	sl, ok := s.entries[uuid]
	if !ok {
		err := s.missingLocked("GetEntryReference", uuid)
		s.mu.Unlock()
		return nil, err
	}

	return &Reference[T]{
		store:  s,
		slot:   sl,
		key:    uuid,
		parent: sl.value.Metadata().ParentUUID,
	}, nil
}

// Get returns the live entry. Changes are visible to other callers once the
// reference is released.
func (r *Reference[T]) Get() T {
	return r.slot.value
}

// Release recomputes the content hash and unlocks the store. A UUID change
// made through the reference is reverted; use Store.Rename instead. Calling
// Release more than once is safe.
func (r *Reference[T]) Release() {
	r.once.Do(func() {
		r.store.finalizeLocked(r.slot, r.key, r.parent)
		r.store.mu.Unlock()
	})
}
