package stabilize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/gami/model"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithTracer enables a span per Stabilize call.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

// WithMeter enables the gami.stabilize.* instruments.
func WithMeter(meter metric.Meter) Option {
	return func(c *Coordinator) {
		c.meter = meter
	}
}

// WithNamespace sets the name-space UUID persistent UUIDs are derived in.
// Defaults to model.DefaultNamespace.
func WithNamespace(ns uuid.UUID) Option {
	return func(c *Coordinator) {
		c.namespace = ns
	}
}

// Coordinator renames resources to their persistent UUID and then runs the
// registered rules for the resource's kind.
//
// Stabilize calls are serialized. Each store keeps its own lock, so readers
// of other stores may briefly see the old UUID until Stabilize returns.
//
// Every rename is remembered for Resolve, so memory grows by one entry per
// stabilized resource for the life of the coordinator.
type Coordinator struct {
	registry  *Registry
	namespace uuid.UUID
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	metrics   *coordinatorMetrics

	mu      sync.Mutex
	tables  map[model.Kind]model.Table
	history map[string]string
}

// NewCoordinator creates a coordinator running the rules of registry.
func NewCoordinator(registry *Registry, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		registry:  registry,
		namespace: model.DefaultNamespace,
		tables:    make(map[model.Kind]model.Table),
		history:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("gami/stabilize")
	}

	m, err := newCoordinatorMetrics(c.meter)
	if err != nil {
		return nil, err
	}
	c.metrics = m

	return c, nil
}

// AddTable makes resources of t.Kind() stabilizable.
func (c *Coordinator) AddTable(t model.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tables[t.Kind()] = t
}

// Registry returns the rule registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Stabilize renames the resource oldUUID of the given kind to its persistent
// UUID and rewrites every registered reference. It returns the new UUID.
//
// The persistent UUID is derived from Meta.UniqueKey when set, otherwise
// from the resource content digest. Calling Stabilize again with the same
// oldUUID returns the same new UUID without renaming anything; calling it
// on an already persistent resource returns its UUID unchanged.
//
// ctx only carries tracing. A started rename always runs to completion.
func (c *Coordinator) Stabilize(ctx context.Context, kind model.Kind, oldUUID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "gami.stabilize",
		trace.WithAttributes(
			attribute.String("gami.kind", kind.String()),
			attribute.String("gami.old_uuid", oldUUID),
		),
	)
	defer span.End()

	newUUID, err := c.stabilizeLocked(ctx, span, kind, oldUUID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("gami.new_uuid", newUUID))
	span.SetStatus(codes.Ok, "")
	c.metrics.recordDuration(ctx, kind.String(), time.Since(start))
	return newUUID, nil
}

func (c *Coordinator) stabilizeLocked(ctx context.Context, span trace.Span, kind model.Kind, oldUUID string) (string, error) {
	table, ok := c.tables[kind]
	if !ok {
		return "", fmt.Errorf("stabilize %s: %w", kind, model.ErrInvalidReference)
	}

	newUUID, renamed, err := table.Rename(oldUUID, c.derive(kind))
	if errors.Is(err, model.ErrNotFound) {
		if prior, ok := c.resolveLocked(oldUUID); ok {
			span.SetAttributes(attribute.Bool("gami.repeated", true))
			return prior, nil
		}
	}
	if err != nil {
		return "", err
	}
	if !renamed {
		return newUUID, nil
	}

	c.history[oldUUID] = newUUID
	c.metrics.recordRename(ctx, kind.String())
	c.logger.Info("stabilized resource", "kind", kind, "old_uuid", oldUUID, "new_uuid", newUUID)

	for _, rule := range c.registry.Rules(kind) {
		err := rule.Rewrite(ctx, oldUUID, newUUID)
		c.metrics.recordRule(ctx, kind.String(), rule.Name, err)
		if err != nil {
			// The rename stands even when an optional store is missing; the
			// reference it would have held stays stale.
			level := slog.LevelWarn
			if errors.Is(err, model.ErrInvalidReference) {
				level = slog.LevelDebug
			}
			c.logger.Log(ctx, level, "skipped reference rewrite",
				"kind", kind,
				"rule", rule.Name,
				"old_uuid", oldUUID,
				"new_uuid", newUUID,
				"error", err,
			)
			span.AddEvent("rewrite skipped", trace.WithAttributes(
				attribute.String("gami.rule", rule.Name),
				attribute.String("error", err.Error()),
			))
		}
	}

	return newUUID, nil
}

// derive returns the UUID a resource of kind should end up with.
func (c *Coordinator) derive(kind model.Kind) func(*model.Meta) string {
	return func(m *model.Meta) string {
		if m.Persistent {
			return m.UUID
		}
		key := m.UniqueKey
		if key == "" {
			key = m.ContentHash().Resource
		}
		return model.PersistentUUID(c.namespace, kind, key)
	}
}

// Resolve returns the current UUID of a resource that may have been
// stabilized since id was handed out. Unknown ids are returned unchanged.
func (c *Coordinator) Resolve(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if resolved, ok := c.resolveLocked(id); ok {
		return resolved
	}
	return id
}

func (c *Coordinator) resolveLocked(id string) (string, bool) {
	current, ok := c.history[id]
	if !ok {
		return "", false
	}
	for range len(c.history) {
		next, ok := c.history[current]
		if !ok {
			break
		}
		current = next
	}
	return current, true
}
