// Package model provides the in-process resource model shared by every
// agent and by the orchestrator.
//
// A Store keeps every resource of one kind, keyed by UUID. Stores are safe
// for concurrent use and each one owns its own lock; there is no lock that
// spans stores. Cross-store consistency for identifier renames is provided by
// the stabilize package, which sequences rewrites after a Store.Rename.
//
// # Resources
//
// Resource types embed Meta and implement Clone:
//
//	type Drive struct {
//	    model.Meta
//	    SerialNumber string `json:"serial_number"`
//	}
//
//	func (d *Drive) Clone() *Drive {
//	    c := *d
//	    return &c
//	}
//
//	drives := model.NewStore[*Drive]("drive")
//	err := drives.AddEntry(&Drive{Meta: model.Meta{UUID: model.NewTemporaryUUID()}})
//
// Stores hold their own copies: values passed in are cloned, and GetEntry
// returns a clone. The only way to mutate a stored value in place is through
// GetEntryReference, Update or UpdateWhere, all of which hold the store's
// write lock for the duration of the mutation.
//
// # Identity
//
// Every resource carries three identifiers:
//
//   - UUID: unique within the store. Temporary until stabilized, then a
//     name-based UUID derived from the content digest or UniqueKey.
//   - RestID: a small number unique within the parent scope, used in REST
//     URLs. It is allocated on insert from a high-water mark, so removed ids
//     are never handed out again.
//   - TouchedAt: the store epoch at the last add or refresh, used by
//     discovery loops to sweep resources that did not show up in a cycle.
//
// # Errors
//
// Lookups of unknown keys return *Error wrapping ErrNotFound. Lookups of keys
// that existed and were removed or renamed wrap ErrRemoved, which itself
// wraps ErrNotFound, so both of these hold:
//
//	errors.Is(err, model.ErrNotFound)
//	errors.Is(err, model.ErrRemoved)
//
// Removal operations never fail on missing keys.
package model
