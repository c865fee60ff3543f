// Package components builds the process-wide set of resource stores,
// relation stores and rewrite rules for the modules enabled in the
// configuration, and hands them to the parts of the process that need them.
//
// A Registry is constructed once at startup and passed explicitly; there is
// no global lookup.
package components

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/gami/config"
	"github.com/zero-day-ai/gami/model"
	"github.com/zero-day-ai/gami/relation"
	"github.com/zero-day-ai/gami/resource"
	"github.com/zero-day-ai/gami/stabilize"
)

// Relation store names.
const (
	RelationZoneEndpoints = "zone_endpoints"
	RelationEndpointPorts = "endpoint_ports"
)

// Option configures a Registry.
type Option func(*options)

type options struct {
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
}

// WithLogger sets the logger handed to every store and the coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer sets the tracer used by the coordinator.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithMeter sets the meter used by the coordinator.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// Registry owns every store of the process. Stores of kinds whose module is
// disabled are nil.
type Registry struct {
	cfg    *config.Config
	logger *slog.Logger

	Managers      *model.Store[*resource.Manager]
	Chassis       *model.Store[*resource.Chassis]
	Systems       *model.Store[*resource.System]
	Drives        *model.Store[*resource.Drive]
	Switches      *model.Store[*resource.Switch]
	Ports         *model.Store[*resource.Port]
	Zones         *model.Store[*resource.Zone]
	Endpoints     *model.Store[*resource.Endpoint]
	PcieDevices   *model.Store[*resource.PcieDevice]
	PcieFunctions *model.Store[*resource.PcieFunction]

	ZoneEndpoints *relation.Store
	EndpointPorts *relation.Store

	tables      map[model.Kind]model.Table
	relations   []*relation.Store
	rules       *stabilize.Registry
	coordinator *stabilize.Coordinator
}

// New builds the stores for the modules enabled in cfg. A nil cfg enables
// every module.
func New(cfg *config.Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	r := &Registry{
		cfg:    cfg,
		logger: o.logger,
		tables: make(map[model.Kind]model.Table),
		rules:  stabilize.NewRegistry(),
	}

	enabled := enabledKinds(cfg)

	// Managers, chassis and systems are addressed at the collection root.
	r.Managers = addStore[*resource.Manager](r, resource.KindManager, model.WithGlobalIDs())
	r.Chassis = addStore[*resource.Chassis](r, resource.KindChassis, model.WithGlobalIDs())
	r.Systems = addStore[*resource.System](r, resource.KindSystem, model.WithGlobalIDs())

	if enabled[resource.KindDrive] {
		r.Drives = addStore[*resource.Drive](r, resource.KindDrive)
	}
	if enabled[resource.KindSwitch] {
		r.Switches = addStore[*resource.Switch](r, resource.KindSwitch)
	}
	if enabled[resource.KindPort] {
		r.Ports = addStore[*resource.Port](r, resource.KindPort)
	}
	if enabled[resource.KindZone] {
		r.Zones = addStore[*resource.Zone](r, resource.KindZone)
	}
	if enabled[resource.KindEndpoint] {
		r.Endpoints = addStore[*resource.Endpoint](r, resource.KindEndpoint)
	}
	if enabled[resource.KindPcieDevice] {
		r.PcieDevices = addStore[*resource.PcieDevice](r, resource.KindPcieDevice)
	}
	if enabled[resource.KindPcieFunction] {
		r.PcieFunctions = addStore[*resource.PcieFunction](r, resource.KindPcieFunction)
	}

	if r.Zones != nil && r.Endpoints != nil {
		r.ZoneEndpoints = r.addRelation(RelationZoneEndpoints)
	}
	if r.Endpoints != nil && r.Ports != nil {
		r.EndpointPorts = r.addRelation(RelationEndpointPorts)
	}

	r.registerRules()

	coordOpts := []stabilize.Option{
		stabilize.WithLogger(o.logger),
		stabilize.WithNamespace(cfg.Stabilization.GetNamespace()),
	}
	if o.tracer != nil {
		coordOpts = append(coordOpts, stabilize.WithTracer(o.tracer))
	}
	if o.meter != nil {
		coordOpts = append(coordOpts, stabilize.WithMeter(o.meter))
	}
	coord, err := stabilize.NewCoordinator(r.rules, coordOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	for _, t := range r.tables {
		coord.AddTable(t)
	}
	r.coordinator = coord

	o.logger.Debug("components initialized",
		"modules", cfg.GetModules(),
		"stores", len(r.tables),
		"relations", len(r.relations),
	)

	return r, nil
}

// enabledKinds maps every module to the kinds its agent discovers.
func enabledKinds(cfg *config.Config) map[model.Kind]bool {
	kinds := make(map[model.Kind]bool)
	enable := func(ks ...model.Kind) {
		for _, k := range ks {
			kinds[k] = true
		}
	}

	for _, m := range cfg.GetModules() {
		switch m {
		case config.ModuleNetwork:
			enable(resource.KindSwitch, resource.KindPort)
		case config.ModuleStorage:
			enable(resource.KindDrive, resource.KindEndpoint, resource.KindZone)
		case config.ModulePnc:
			enable(
				resource.KindSwitch, resource.KindPort, resource.KindZone,
				resource.KindEndpoint, resource.KindDrive,
				resource.KindPcieDevice, resource.KindPcieFunction,
			)
		}
	}
	return kinds
}

func addStore[T model.Object[T]](r *Registry, kind model.Kind, opts ...model.StoreOption) *model.Store[T] {
	opts = append([]model.StoreOption{model.WithLogger(r.logger)}, opts...)
	s := model.NewStore[T](kind, opts...)
	r.tables[kind] = s
	return s
}

func (r *Registry) addRelation(name string) *relation.Store {
	s := relation.NewStore(name, relation.WithLogger(r.logger))
	r.relations = append(r.relations, s)
	return s
}

// Config returns the configuration the registry was built from.
func (r *Registry) Config() *config.Config {
	return r.cfg
}

// Tables returns every resource store sorted by kind.
func (r *Registry) Tables() []model.Table {
	tables := make([]model.Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Kind() < tables[j].Kind() })
	return tables
}

// Table returns the store of kind. It fails with model.ErrInvalidReference
// if the kind's module is disabled.
func (r *Registry) Table(kind model.Kind) (model.Table, error) {
	t, ok := r.tables[kind]
	if !ok {
		return nil, fmt.Errorf("store %s: %w", kind, model.ErrInvalidReference)
	}
	return t, nil
}

// Relations returns every relation store.
func (r *Registry) Relations() []*relation.Store {
	return append([]*relation.Store(nil), r.relations...)
}

// Rules returns the rewrite rule registry.
func (r *Registry) Rules() *stabilize.Registry {
	return r.rules
}

// Coordinator returns the stabilization coordinator.
func (r *Registry) Coordinator() *stabilize.Coordinator {
	return r.coordinator
}

// Stabilize renames a resource to its persistent UUID.
func (r *Registry) Stabilize(ctx context.Context, kind model.Kind, uuid string) (string, error) {
	return r.coordinator.Stabilize(ctx, kind, uuid)
}

// RemoveResource removes a resource and every relation it takes part in.
// Removing an absent resource is a no-op.
func (r *Registry) RemoveResource(kind model.Kind, uuid string) error {
	t, err := r.Table(kind)
	if err != nil {
		return err
	}
	t.RemoveEntry(uuid)
	for _, rel := range r.relations {
		rel.RemoveParent(uuid)
		rel.RemoveChild(uuid)
	}
	return nil
}

// CleanAgent drops everything agentID owns from every store and relation
// store. It returns the number of removed entries.
func (r *Registry) CleanAgent(agentID string) int {
	n := 0
	for _, t := range r.Tables() {
		n += t.CleanResourcesForAgent(agentID)
	}
	for _, rel := range r.relations {
		n += rel.CleanResourcesForAgent(agentID)
	}
	r.logger.Info("cleaned agent resources", "agent_id", agentID, "count", n)
	return n
}

// CleanWithNoAgent drops every ownerless entry from every store and
// relation store.
func (r *Registry) CleanWithNoAgent() int {
	n := 0
	for _, t := range r.Tables() {
		n += t.CleanResourcesWithNoAgent()
	}
	for _, rel := range r.relations {
		n += rel.CleanResourcesWithNoAgent()
	}
	return n
}
