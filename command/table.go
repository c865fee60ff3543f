// Package command is the name-keyed command table answering requests
// against the stores, e.g. GetDriveInfo or GetPortCollection.
//
// Every command has the same shape: a JSON-compatible params struct in, a
// JSON-compatible result struct out, and an error that ToStatus turns into a
// gRPC status.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrDuplicateCommand is returned by Register for a name already in use.
var ErrDuplicateCommand = errors.New("command already registered")

// Handler executes one command.
type Handler func(ctx context.Context, params *structpb.Struct) (*structpb.Struct, error)

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// Table maps command names to handlers.
type Table struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewTable creates an empty command table.
func NewTable(opts ...Option) *Table {
	t := &Table{handlers: make(map[string]Handler)}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Register binds name to h.
func (t *Table) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("command name and handler are required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	t.handlers[name] = h
	return nil
}

// Lookup returns the handler bound to name.
func (t *Table) Lookup(name string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.handlers[name]
	return h, ok
}

// Names returns every registered command name, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the command. Unknown commands fail with codes.Unimplemented;
// handler errors are translated with ToStatus.
func (t *Table) Invoke(ctx context.Context, name string, params *structpb.Struct) (*structpb.Struct, error) {
	h, ok := t.Lookup(name)
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown command %q", name)
	}
	if params == nil {
		params = &structpb.Struct{}
	}

	result, err := h(ctx, params)
	if err != nil {
		t.logger.Debug("command failed", "command", name, "error", err)
		return nil, ToStatus(err)
	}
	if result == nil {
		result = &structpb.Struct{}
	}
	return result, nil
}

// Dispatch decodes a JSON object of params, runs the command and encodes
// the result as JSON. An empty request means no params.
func (t *Table) Dispatch(ctx context.Context, name string, request []byte) ([]byte, error) {
	params := &structpb.Struct{}
	if len(request) > 0 {
		if err := protojson.Unmarshal(request, params); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid params JSON for %s: %v", name, err)
		}
	}

	result, err := t.Invoke(ctx, name, params)
	if err != nil {
		return nil, err
	}

	out, err := protojson.Marshal(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to marshal result: %v", err)
	}
	return out, nil
}
