// Package resource defines the hardware and logical resources managed by a
// gami process. Every type embeds model.Meta and deep-copies itself in Clone.
package resource

import (
	"slices"

	"github.com/zero-day-ai/gami/model"
)

// Resource kinds.
const (
	KindManager      model.Kind = "manager"
	KindChassis      model.Kind = "chassis"
	KindSystem       model.Kind = "system"
	KindDrive        model.Kind = "drive"
	KindSwitch       model.Kind = "switch"
	KindPort         model.Kind = "port"
	KindZone         model.Kind = "zone"
	KindEndpoint     model.Kind = "endpoint"
	KindPcieDevice   model.Kind = "pcie_device"
	KindPcieFunction model.Kind = "pcie_function"
)

// Manager is a management controller. Managers are roots or children of
// other managers.
type Manager struct {
	model.Meta
	ManagerType     string `json:"manager_type,omitempty"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	IPv4Address     string `json:"ipv4_address,omitempty"`
	Port            int    `json:"port,omitempty"`
}

// Clone returns a deep copy.
func (m *Manager) Clone() *Manager {
	c := *m
	return &c
}

// Chassis is a physical enclosure. Its parent is a manager or another
// chassis.
type Chassis struct {
	model.Meta
	ChassisType  string `json:"chassis_type,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	PartNumber   string `json:"part_number,omitempty"`
	LocationID   string `json:"location_id,omitempty"`
}

// Clone returns a deep copy.
func (c *Chassis) Clone() *Chassis {
	cp := *c
	return &cp
}

// System is a computer system. Chassis references the enclosure it sits in.
type System struct {
	model.Meta
	SystemType   string   `json:"system_type,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	GUID         string   `json:"guid,omitempty"`
	Chassis      string   `json:"chassis,omitempty"`
	BootOrder    []string `json:"boot_order,omitempty"`
}

// Clone returns a deep copy.
func (s *System) Clone() *System {
	c := *s
	c.BootOrder = slices.Clone(s.BootOrder)
	return &c
}

// Drive is a storage device. DspPortUUIDs lists the downstream switch ports
// the drive is reachable through.
type Drive struct {
	model.Meta
	Interface     string   `json:"interface,omitempty"`
	MediaType     string   `json:"media_type,omitempty"`
	CapacityBytes uint64   `json:"capacity_bytes,omitempty"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Model         string   `json:"model,omitempty"`
	SerialNumber  string   `json:"serial_number,omitempty"`
	DspPortUUIDs  []string `json:"dsp_port_uuids,omitempty"`
}

// Clone returns a deep copy.
func (d *Drive) Clone() *Drive {
	c := *d
	c.DspPortUUIDs = slices.Clone(d.DspPortUUIDs)
	return &c
}

// Switch is a PCIe or ethernet fabric switch.
type Switch struct {
	model.Meta
	SwitchID     string `json:"switch_id,omitempty"`
	Technology   string `json:"technology,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Chassis      string `json:"chassis,omitempty"`
}

// Clone returns a deep copy.
func (s *Switch) Clone() *Switch {
	c := *s
	return &c
}

// Port is a switch port. Its parent is the switch.
type Port struct {
	model.Meta
	PortID       string `json:"port_id,omitempty"`
	PortType     string `json:"port_type,omitempty"`
	Protocol     string `json:"protocol,omitempty"`
	SpeedGbps    uint32 `json:"speed_gbps,omitempty"`
	Width        uint32 `json:"width,omitempty"`
	MaxWidth     uint32 `json:"max_width,omitempty"`
	PhysicalPort uint32 `json:"physical_port,omitempty"`
}

// Clone returns a deep copy.
func (p *Port) Clone() *Port {
	c := *p
	return &c
}

// Zone groups endpoints that may talk to each other. SwitchUUID references
// the switch enforcing the zone.
type Zone struct {
	model.Meta
	ZoneID     string `json:"zone_id,omitempty"`
	SwitchUUID string `json:"switch_uuid,omitempty"`
}

// Clone returns a deep copy.
func (z *Zone) Clone() *Zone {
	c := *z
	return &c
}

// Entity roles in ConnectedEntity.
const (
	RoleInitiator = "Initiator"
	RoleTarget    = "Target"
	RoleBoth      = "Both"
)

// ConnectedEntity is a resource reachable through an endpoint.
type ConnectedEntity struct {
	Role   string `json:"role"`
	Entity string `json:"entity"`
	LUN    string `json:"lun,omitempty"`
}

// Durable name formats in Identifier.
const (
	DurableNameUUID = "UUID"
	DurableNameNQN  = "NQN"
	DurableNameIQN  = "iQN"
)

// Identifier is a durable name of an endpoint.
type Identifier struct {
	DurableName       string `json:"durable_name"`
	DurableNameFormat string `json:"durable_name_format"`
}

// Endpoint is a fabric endpoint. Connected entities point at systems and
// drives by UUID; an identifier in UUID format carries the endpoint's own
// UUID.
type Endpoint struct {
	model.Meta
	Protocol          string            `json:"protocol,omitempty"`
	ConnectedEntities []ConnectedEntity `json:"connected_entities,omitempty"`
	Identifiers       []Identifier      `json:"identifiers,omitempty"`
}

// Clone returns a deep copy.
func (e *Endpoint) Clone() *Endpoint {
	c := *e
	c.ConnectedEntities = slices.Clone(e.ConnectedEntities)
	c.Identifiers = slices.Clone(e.Identifiers)
	return &c
}

// HasEntity reports whether the endpoint connects to entity.
func (e *Endpoint) HasEntity(entity string) bool {
	return slices.ContainsFunc(e.ConnectedEntities, func(ce ConnectedEntity) bool {
		return ce.Entity == entity
	})
}

// PcieDevice is a device on a PCIe fabric.
type PcieDevice struct {
	model.Meta
	DeviceID     string `json:"device_id,omitempty"`
	DeviceClass  string `json:"device_class,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Chassis      string `json:"chassis,omitempty"`
}

// Clone returns a deep copy.
func (d *PcieDevice) Clone() *PcieDevice {
	c := *d
	return &c
}

// PcieFunction is a function of a PCIe device. DspPortUUID is the
// downstream port it is bound to and FunctionalDevice the drive it exposes.
type PcieFunction struct {
	model.Meta
	FunctionID       uint32 `json:"function_id"`
	FunctionType     string `json:"function_type,omitempty"`
	DeviceClass      string `json:"device_class,omitempty"`
	PciVendorID      string `json:"pci_vendor_id,omitempty"`
	PciDeviceID      string `json:"pci_device_id,omitempty"`
	DspPortUUID      string `json:"dsp_port_uuid,omitempty"`
	FunctionalDevice string `json:"functional_device,omitempty"`
}

// Clone returns a deep copy.
func (f *PcieFunction) Clone() *PcieFunction {
	c := *f
	return &c
}
