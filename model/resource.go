package model

import (
	"github.com/google/uuid"
)

// Kind names a resource collection, e.g. "drive" or "pcie_function".
type Kind string

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// State is the Redfish-style enablement state of a resource.
type State string

// Resource states.
const (
	StateEnabled            State = "Enabled"
	StateDisabled           State = "Disabled"
	StateAbsent             State = "Absent"
	StateStarting           State = "Starting"
	StateStandbyOffline     State = "StandbyOffline"
	StateUnavailableOffline State = "UnavailableOffline"
)

// Health is the Redfish-style health of a resource.
type Health string

// Resource health values.
const (
	HealthOK       Health = "OK"
	HealthWarning  Health = "Warning"
	HealthCritical Health = "Critical"
)

// Status is the volatile part of a resource. Changes here are reported as
// StatusChanged rather than Updated and never influence the persistent UUID.
type Status struct {
	State  State  `json:"state,omitempty"`
	Health Health `json:"health,omitempty"`
}

// IsHealthy returns true if the resource is enabled and reports OK.
func (s Status) IsHealthy() bool {
	return s.State == StateEnabled && s.Health == HealthOK
}

// Meta is the identity and bookkeeping block embedded in every resource.
type Meta struct {
	// UUID identifies the resource within its store.
	UUID string `json:"uuid"`

	// ParentUUID references the owning resource, possibly of another kind.
	// Empty for roots.
	ParentUUID string `json:"parent_uuid,omitempty"`

	// AgentID tags the agent that populated the entry. Empty means no owner.
	AgentID string `json:"agent_id,omitempty"`

	// RestID is assigned by the store on insert.
	RestID uint64 `json:"rest_id,omitempty"`

	// TouchedAt is the store epoch of the last add or refresh.
	TouchedAt uint64 `json:"touched_at,omitempty"`

	// Persistent is set once the UUID has been stabilized.
	Persistent bool `json:"persistent,omitempty"`

	// UniqueKey, when set, replaces the content digest as the input of the
	// persistent UUID.
	UniqueKey string `json:"unique_key,omitempty"`

	Status Status `json:"status"`

	hash Hash
}

// Metadata returns the receiver. Resource types embedding Meta get it
// promoted, which makes them satisfy Object.
func (m *Meta) Metadata() *Meta {
	return m
}

// ContentHash returns the digest computed by the store at the last write.
func (m *Meta) ContentHash() Hash {
	return m.hash
}

// Object is the constraint for values kept in a Store. T is the pointer type
// of the resource; Clone must deep-copy every slice and map it owns.
type Object[T any] interface {
	Metadata() *Meta
	Clone() T
}

// DefaultNamespace is the name-space UUID persistent identifiers are derived
// in when no other namespace is configured.
var DefaultNamespace = uuid.MustParse("5f3d3ad4-6b1c-4c5e-9a53-2b0f1d2c7e41")

// NewTemporaryUUID returns a random UUID for a freshly discovered resource.
func NewTemporaryUUID() string {
	return uuid.NewString()
}

// PersistentUUID derives the name-based (version 5) UUID of a resource of
// the given kind from its identity key. The same inputs always give the same
// UUID.
func PersistentUUID(namespace uuid.UUID, kind Kind, key string) string {
	return uuid.NewSHA1(namespace, []byte(string(kind)+":"+key)).String()
}
