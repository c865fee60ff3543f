package command

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zero-day-ai/gami/model"
	"github.com/zero-day-ai/gami/query"
)

// Remover deletes a resource. Removing an absent resource must be a no-op.
type Remover func(uuid string) error

// Stabilizer renames a resource to its persistent UUID.
type Stabilizer interface {
	Stabilize(ctx context.Context, kind model.Kind, uuid string) (string, error)
}

// RegisterResource adds the builtin commands for one store:
//
//	Get<name>Info        {"uuid"}                 -> the resource
//	Get<name>Collection  {"parent", "filter"}     -> {"members": [{"uuid", "rest_id"}]}
//	Delete<name>         {"uuid"}                 -> {}
//
// filter is an optional CEL expression, see package query. remove defaults
// to store.RemoveEntry.
func RegisterResource[T model.Object[T]](t *Table, name string, store *model.Store[T], remove Remover) error {
	if remove == nil {
		remove = func(uuid string) error {
			store.RemoveEntry(uuid)
			return nil
		}
	}

	handlers := map[string]Handler{
		"Get" + name + "Info": func(_ context.Context, params *structpb.Struct) (*structpb.Struct, error) {
			uuid, err := requiredString(params, "uuid")
			if err != nil {
				return nil, err
			}
			v, err := store.GetEntry(uuid)
			if err != nil {
				return nil, err
			}
			return toStruct(v)
		},

		"Get" + name + "Collection": func(_ context.Context, params *structpb.Struct) (*structpb.Struct, error) {
			filter, err := query.Compile[T](optionalString(params, "filter"))
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}

			var keys []string
			if parent := optionalString(params, "parent"); parent != "" {
				keys = store.GetKeysByParent(parent, filter)
			} else {
				keys = store.GetKeys(filter)
			}

			members := make([]any, 0, len(keys))
			for _, key := range keys {
				id, err := store.UUIDToRestID(key)
				if err != nil {
					// removed between the scan and the lookup
					continue
				}
				members = append(members, map[string]any{"uuid": key, "rest_id": float64(id)})
			}
			return structpb.NewStruct(map[string]any{"members": members})
		},

		"Delete" + name: func(_ context.Context, params *structpb.Struct) (*structpb.Struct, error) {
			uuid, err := requiredString(params, "uuid")
			if err != nil {
				return nil, err
			}
			if !store.EntryExists(uuid) {
				return nil, &model.Error{Op: "Delete" + name, Kind: store.Kind(), UUID: uuid, Err: model.ErrNotFound}
			}
			if err := remove(uuid); err != nil {
				return nil, err
			}
			return &structpb.Struct{}, nil
		},
	}

	for cmd, h := range handlers {
		if err := t.Register(cmd, h); err != nil {
			return err
		}
	}
	return nil
}

// RegisterStabilize adds StabilizeResource {"kind", "uuid"} -> {"uuid"}.
func RegisterStabilize(t *Table, s Stabilizer) error {
	return t.Register("StabilizeResource", func(ctx context.Context, params *structpb.Struct) (*structpb.Struct, error) {
		kind, err := requiredString(params, "kind")
		if err != nil {
			return nil, err
		}
		uuid, err := requiredString(params, "uuid")
		if err != nil {
			return nil, err
		}
		newUUID, err := s.Stabilize(ctx, model.Kind(kind), uuid)
		if err != nil {
			return nil, err
		}
		return structpb.NewStruct(map[string]any{"uuid": newUUID})
	})
}

func requiredString(params *structpb.Struct, key string) (string, error) {
	v := optionalString(params, key)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "missing string param %q", key)
	}
	return v, nil
}

func optionalString(params *structpb.Struct, key string) string {
	if params == nil {
		return ""
	}
	return params.GetFields()[key].GetStringValue()
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	return structpb.NewStruct(fields)
}
