package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gami/model"
	"github.com/zero-day-ai/gami/resource"
)

func TestCompile(t *testing.T) {
	healthy := &resource.Drive{
		Meta:          model.Meta{UUID: "d1", ParentUUID: "c", Status: model.Status{State: model.StateEnabled, Health: model.HealthOK}},
		CapacityBytes: 2_000_000_000_000,
		DspPortUUIDs:  []string{"p1", "p2"},
	}
	failing := &resource.Drive{
		Meta:          model.Meta{UUID: "d2", ParentUUID: "c", Status: model.Status{State: model.StateEnabled, Health: model.HealthCritical}},
		CapacityBytes: 500_000_000_000,
	}

	tests := []struct {
		name    string
		expr    string
		healthy bool
		failing bool
	}{
		{name: "empty matches all", expr: "", healthy: true, failing: true},
		{name: "status", expr: `r.status.health == "Critical"`, healthy: false, failing: true},
		{name: "numeric", expr: `r.capacity_bytes > 1e12`, healthy: true, failing: false},
		{name: "int literal", expr: `r.capacity_bytes > 1000000000000`, healthy: true, failing: false},
		{name: "list", expr: `has(r.dsp_port_uuids) && "p2" in r.dsp_port_uuids`, healthy: true, failing: false},
		{name: "missing key", expr: `r.dsp_port_uuids.size() > 0`, healthy: true, failing: false},
		{name: "parent", expr: `r.parent_uuid == "c" && r.uuid != "d1"`, healthy: false, failing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := Compile[*resource.Drive](tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.healthy, filter(healthy))
			assert.Equal(t, tt.failing, filter(failing))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile[*resource.Drive](`r.status.health ==`)
	assert.ErrorContains(t, err, "invalid filter")

	_, err = Compile[*resource.Drive](`"not a bool"`)
	assert.ErrorContains(t, err, "is not bool")

	_, err = Compile[*resource.Drive](`unknown_var == 1`)
	assert.Error(t, err)
}

func TestCompile_WithStore(t *testing.T) {
	s := model.NewStore[*resource.Port](resource.KindPort)
	require.NoError(t, s.AddEntry(&resource.Port{Meta: model.Meta{UUID: "a", ParentUUID: "sw"}, PortType: "Upstream"}))
	require.NoError(t, s.AddEntry(&resource.Port{Meta: model.Meta{UUID: "b", ParentUUID: "sw"}, PortType: "Downstream"}))

	filter, err := Compile[*resource.Port](`r.port_type == "Downstream"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, s.GetKeysByParent("sw", filter))
}
