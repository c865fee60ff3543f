package stabilize

import (
	"context"
	"fmt"

	"github.com/zero-day-ai/gami/model"
	"github.com/zero-day-ai/gami/relation"
)

// Rewriters built here return an error wrapping model.ErrInvalidReference
// when their target store is nil, i.e. the module owning it is disabled.

// ParentField moves the children of oldUUID in store to newUUID. Children
// keep their REST ids. The store may hold any kind; ParentUUID is not typed.
func ParentField(store model.Table) RewriteFunc {
	return func(_ context.Context, oldUUID, newUUID string) error {
		if store == nil {
			return missing("parent field")
		}
		store.Reparent(oldUUID, newUUID)
		return nil
	}
}

// ScalarField rewrites a single UUID-valued field of every resource in store.
//
// Example:
//
//	stabilize.ScalarField(zones, func(z *resource.Zone) *string { return &z.SwitchUUID })
func ScalarField[T model.Object[T]](store *model.Store[T], field func(T) *string) RewriteFunc {
	return Field(store,
		func(v T, oldUUID string) bool { return *field(v) == oldUUID },
		func(v T, _, newUUID string) { *field(v) = newUUID },
	)
}

// ListField rewrites every matching element of a UUID list field.
func ListField[T model.Object[T]](store *model.Store[T], field func(T) *[]string) RewriteFunc {
	return Field(store,
		func(v T, oldUUID string) bool {
			for _, id := range *field(v) {
				if id == oldUUID {
					return true
				}
			}
			return false
		},
		func(v T, oldUUID, newUUID string) {
			list := *field(v)
			for i := range list {
				if list[i] == oldUUID {
					list[i] = newUUID
				}
			}
		},
	)
}

// Field is the general form: rewrite runs on every resource for which match
// returns true, under the store's write lock.
func Field[T model.Object[T]](store *model.Store[T], match func(v T, oldUUID string) bool, rewrite func(v T, oldUUID, newUUID string)) RewriteFunc {
	return func(_ context.Context, oldUUID, newUUID string) error {
		if store == nil {
			return missing("field")
		}
		store.UpdateWhere(
			func(v T) bool { return match(v, oldUUID) },
			func(v T) { rewrite(v, oldUUID, newUUID) },
		)
		return nil
	}
}

// RelationParent rewrites the parent side of a relation store.
func RelationParent(rel *relation.Store) RewriteFunc {
	return func(_ context.Context, oldUUID, newUUID string) error {
		if rel == nil {
			return missing("relation parent")
		}
		rel.UpdateParent(oldUUID, newUUID)
		return nil
	}
}

// RelationChild rewrites the child side of a relation store.
func RelationChild(rel *relation.Store) RewriteFunc {
	return func(_ context.Context, oldUUID, newUUID string) error {
		if rel == nil {
			return missing("relation child")
		}
		rel.UpdateChild(oldUUID, newUUID)
		return nil
	}
}

func missing(shape string) error {
	return fmt.Errorf("%s rewrite: store not available: %w", shape, model.ErrInvalidReference)
}
