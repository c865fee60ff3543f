package components

import (
	"errors"

	"github.com/zero-day-ai/gami/command"
	"github.com/zero-day-ai/gami/model"
)

// RegisterCommands adds the builtin commands of every enabled store plus
// StabilizeResource to t. Delete commands also drop the resource's
// relations.
func (r *Registry) RegisterCommands(t *command.Table) error {
	return errors.Join(
		registerStore(t, r, "Manager", r.Managers),
		registerStore(t, r, "Chassis", r.Chassis),
		registerStore(t, r, "System", r.Systems),
		registerStore(t, r, "Drive", r.Drives),
		registerStore(t, r, "Switch", r.Switches),
		registerStore(t, r, "Port", r.Ports),
		registerStore(t, r, "Zone", r.Zones),
		registerStore(t, r, "Endpoint", r.Endpoints),
		registerStore(t, r, "PcieDevice", r.PcieDevices),
		registerStore(t, r, "PcieFunction", r.PcieFunctions),
		command.RegisterStabilize(t, r),
	)
}

func registerStore[T model.Object[T]](t *command.Table, r *Registry, name string, s *model.Store[T]) error {
	if s == nil {
		return nil
	}
	kind := s.Kind()
	return command.RegisterResource(t, name, s, func(uuid string) error {
		return r.RemoveResource(kind, uuid)
	})
}
