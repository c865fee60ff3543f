package components

import (
	"github.com/zero-day-ai/gami/model"
	"github.com/zero-day-ai/gami/resource"
	"github.com/zero-day-ai/gami/stabilize"
)

// registerRules wires every place a UUID of one kind is stored in another.
// Field rules are registered whether or not their target module is enabled;
// a rule whose store is nil is skipped by the coordinator.
func (r *Registry) registerRules() {
	reg := r.rules

	// ParentUUID may name a resource of any kind, so the parent field of
	// every store is rewritten whatever kind is stabilized.
	tables := r.Tables()
	for _, parent := range tables {
		for _, child := range tables {
			reg.Register(parent.Kind(), child.Kind().String()+".parent", stabilize.ParentField(child))
		}
	}

	reg.Register(resource.KindChassis, "system.chassis",
		stabilize.ScalarField(r.Systems, func(s *resource.System) *string { return &s.Chassis }))
	reg.Register(resource.KindChassis, "switch.chassis",
		stabilize.ScalarField(r.Switches, func(s *resource.Switch) *string { return &s.Chassis }))
	reg.Register(resource.KindChassis, "pcie_device.chassis",
		stabilize.ScalarField(r.PcieDevices, func(d *resource.PcieDevice) *string { return &d.Chassis }))

	reg.Register(resource.KindSystem, "endpoint.connected_entities", connectedEntities(r.Endpoints))

	reg.Register(resource.KindDrive, "endpoint.connected_entities", connectedEntities(r.Endpoints))
	reg.Register(resource.KindDrive, "pcie_function.functional_device",
		stabilize.ScalarField(r.PcieFunctions, func(f *resource.PcieFunction) *string { return &f.FunctionalDevice }))

	reg.Register(resource.KindSwitch, "zone.switch",
		stabilize.ScalarField(r.Zones, func(z *resource.Zone) *string { return &z.SwitchUUID }))

	reg.Register(resource.KindPort, "pcie_function.dsp_port",
		stabilize.ScalarField(r.PcieFunctions, func(f *resource.PcieFunction) *string { return &f.DspPortUUID }))
	reg.Register(resource.KindPort, "drive.dsp_ports",
		stabilize.ListField(r.Drives, func(d *resource.Drive) *[]string { return &d.DspPortUUIDs }))
	reg.Register(resource.KindPort, RelationEndpointPorts+".child", stabilize.RelationChild(r.EndpointPorts))

	reg.Register(resource.KindZone, RelationZoneEndpoints+".parent", stabilize.RelationParent(r.ZoneEndpoints))

	reg.Register(resource.KindEndpoint, RelationZoneEndpoints+".child", stabilize.RelationChild(r.ZoneEndpoints))
	reg.Register(resource.KindEndpoint, RelationEndpointPorts+".parent", stabilize.RelationParent(r.EndpointPorts))
	reg.Register(resource.KindEndpoint, "endpoint.identifiers", uuidIdentifiers(r.Endpoints))
}

// connectedEntities rewrites endpoint connected entities pointing at a
// system or drive.
func connectedEntities(endpoints *model.Store[*resource.Endpoint]) stabilize.RewriteFunc {
	return stabilize.Field(endpoints,
		func(e *resource.Endpoint, oldUUID string) bool { return e.HasEntity(oldUUID) },
		func(e *resource.Endpoint, oldUUID, newUUID string) {
			for i := range e.ConnectedEntities {
				if e.ConnectedEntities[i].Entity == oldUUID {
					e.ConnectedEntities[i].Entity = newUUID
				}
			}
		},
	)
}

// uuidIdentifiers rewrites UUID-format durable names, which carry the
// endpoint's own UUID.
func uuidIdentifiers(endpoints *model.Store[*resource.Endpoint]) stabilize.RewriteFunc {
	isOld := func(id resource.Identifier, oldUUID string) bool {
		return id.DurableNameFormat == resource.DurableNameUUID && id.DurableName == oldUUID
	}
	return stabilize.Field(endpoints,
		func(e *resource.Endpoint, oldUUID string) bool {
			for _, id := range e.Identifiers {
				if isOld(id, oldUUID) {
					return true
				}
			}
			return false
		},
		func(e *resource.Endpoint, oldUUID, newUUID string) {
			for i := range e.Identifiers {
				if isOld(e.Identifiers[i], oldUUID) {
					e.Identifiers[i].DurableName = newUUID
				}
			}
		},
	)
}
