package model

// Table is the kind-independent view of a Store. The stabilizer and the
// agent cleanup walk every table through it.
type Table interface {
	Kind() Kind
	EntryExists(uuid string) bool
	GetEntryCount() int
	RemoveEntry(uuid string)
	Rename(oldUUID string, derive func(*Meta) string) (string, bool, error)
	Reparent(oldParent, newParent string) int
	CleanResourcesForAgent(agentID string) int
	CleanResourcesWithNoAgent() int
	Export() (map[string][]byte, error)
}

var _ Table = (*Store[*Meta])(nil)

// Clone returns a copy of the metadata block. It lets *Meta be stored on its
// own for resources that carry no payload.
func (m *Meta) Clone() *Meta {
	c := *m
	return &c
}
