package components

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gami/config"
	"github.com/zero-day-ai/gami/model"
	"github.com/zero-day-ai/gami/resource"
)

func newTestRegistry(t *testing.T, modules ...string) *Registry {
	t.Helper()
	cfg := config.Default()
	if len(modules) > 0 {
		cfg.Modules = modules
	}
	r, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return r
}

func TestNew_ModuleSelection(t *testing.T) {
	t.Run("all modules", func(t *testing.T) {
		r := newTestRegistry(t)
		assert.Len(t, r.Tables(), 10)
		assert.Len(t, r.Relations(), 2)
		assert.NotNil(t, r.ZoneEndpoints)
		assert.NotNil(t, r.EndpointPorts)
	})

	t.Run("storage only", func(t *testing.T) {
		r := newTestRegistry(t, config.ModuleStorage)
		assert.NotNil(t, r.Drives)
		assert.NotNil(t, r.Zones)
		assert.Nil(t, r.Switches)
		assert.Nil(t, r.PcieFunctions)
		assert.NotNil(t, r.ZoneEndpoints)
		assert.Nil(t, r.EndpointPorts)

		_, err := r.Table(resource.KindSwitch)
		assert.ErrorIs(t, err, model.ErrInvalidReference)
		tbl, err := r.Table(resource.KindDrive)
		require.NoError(t, err)
		assert.Equal(t, resource.KindDrive, tbl.Kind())
	})

	t.Run("network only", func(t *testing.T) {
		r := newTestRegistry(t, config.ModuleNetwork)
		var kinds []model.Kind
		for _, tbl := range r.Tables() {
			kinds = append(kinds, tbl.Kind())
		}
		assert.Equal(t, []model.Kind{"chassis", "manager", "port", "switch", "system"}, kinds)
		assert.Empty(t, r.Relations())
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := New(&config.Config{Modules: []string{"gpu"}})
		assert.Error(t, err)
	})

	t.Run("nil config", func(t *testing.T) {
		r, err := New(nil, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		require.NoError(t, err)
		assert.Equal(t, config.AllModules, r.Config().GetModules())
	})
}

func TestNew_RootCollectionsUseGlobalIDs(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Systems.AddEntry(&resource.System{Meta: model.Meta{UUID: "s1", ParentUUID: "m1"}}))
	require.NoError(t, r.Systems.AddEntry(&resource.System{Meta: model.Meta{UUID: "s2", ParentUUID: "m2"}}))

	assert.Equal(t, []uint64{1, 2}, r.Systems.GetIDs())
}

// fabric populates a small PNC topology with temporary UUIDs.
func fabric(t *testing.T, r *Registry) {
	t.Helper()

	require.NoError(t, r.Managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m0"}, ManagerType: "EnclosureManager"}))
	require.NoError(t, r.Chassis.AddEntry(&resource.Chassis{Meta: model.Meta{UUID: "c0", ParentUUID: "m0"}, SerialNumber: "CH-1"}))
	require.NoError(t, r.Switches.AddEntry(&resource.Switch{Meta: model.Meta{UUID: "sw0", ParentUUID: "m0"}, SwitchID: "1", Chassis: "c0"}))
	require.NoError(t, r.Ports.AddEntry(&resource.Port{Meta: model.Meta{UUID: "p0", ParentUUID: "sw0"}, PortID: "3"}))
	require.NoError(t, r.Zones.AddEntry(&resource.Zone{Meta: model.Meta{UUID: "z0", ParentUUID: "m0"}, SwitchUUID: "sw0"}))
	require.NoError(t, r.Drives.AddEntry(&resource.Drive{
		Meta:         model.Meta{UUID: "d0", ParentUUID: "c0"},
		SerialNumber: "DR-1",
		DspPortUUIDs: []string{"p0"},
	}))
	require.NoError(t, r.Endpoints.AddEntry(&resource.Endpoint{
		Meta:              model.Meta{UUID: "e0", ParentUUID: "m0"},
		ConnectedEntities: []resource.ConnectedEntity{{Role: resource.RoleTarget, Entity: "d0"}},
		Identifiers:       []resource.Identifier{{DurableName: "e0", DurableNameFormat: resource.DurableNameUUID}},
	}))
	require.NoError(t, r.PcieDevices.AddEntry(&resource.PcieDevice{Meta: model.Meta{UUID: "pd0", ParentUUID: "m0"}, Chassis: "c0"}))
	require.NoError(t, r.PcieFunctions.AddEntry(&resource.PcieFunction{
		Meta:             model.Meta{UUID: "f0", ParentUUID: "pd0"},
		DspPortUUID:      "p0",
		FunctionalDevice: "d0",
	}))

	r.ZoneEndpoints.AddEntry("z0", "e0", "")
	r.EndpointPorts.AddEntry("e0", "p0", "")
}

func TestStabilize_FabricTopology(t *testing.T) {
	r := newTestRegistry(t)
	fabric(t, r)
	ctx := context.Background()

	stable := make(map[string]string)
	for _, step := range []struct {
		kind model.Kind
		old  string
	}{
		{resource.KindManager, "m0"},
		{resource.KindChassis, "c0"},
		{resource.KindSwitch, "sw0"},
		{resource.KindPort, "p0"},
		{resource.KindDrive, "d0"},
		{resource.KindZone, "z0"},
		{resource.KindEndpoint, "e0"},
		{resource.KindPcieDevice, "pd0"},
		{resource.KindPcieFunction, "f0"},
	} {
		got, err := r.Stabilize(ctx, step.kind, step.old)
		require.NoError(t, err, "stabilize %s", step.kind)
		require.NotEqual(t, step.old, got)
		stable[step.old] = got
	}

	c, err := r.Chassis.GetEntry(stable["c0"])
	require.NoError(t, err)
	assert.Equal(t, stable["m0"], c.ParentUUID)

	sw, err := r.Switches.GetEntry(stable["sw0"])
	require.NoError(t, err)
	assert.Equal(t, stable["m0"], sw.ParentUUID)
	assert.Equal(t, stable["c0"], sw.Chassis)

	p, err := r.Ports.GetEntry(stable["p0"])
	require.NoError(t, err)
	assert.Equal(t, stable["sw0"], p.ParentUUID)

	z, err := r.Zones.GetEntry(stable["z0"])
	require.NoError(t, err)
	assert.Equal(t, stable["m0"], z.ParentUUID)
	assert.Equal(t, stable["sw0"], z.SwitchUUID)

	d, err := r.Drives.GetEntry(stable["d0"])
	require.NoError(t, err)
	assert.Equal(t, stable["c0"], d.ParentUUID)
	assert.Equal(t, []string{stable["p0"]}, d.DspPortUUIDs)

	e, err := r.Endpoints.GetEntry(stable["e0"])
	require.NoError(t, err)
	assert.Equal(t, stable["m0"], e.ParentUUID)
	assert.Equal(t, stable["d0"], e.ConnectedEntities[0].Entity)
	assert.Equal(t, stable["e0"], e.Identifiers[0].DurableName)

	pd, err := r.PcieDevices.GetEntry(stable["pd0"])
	require.NoError(t, err)
	assert.Equal(t, stable["m0"], pd.ParentUUID)
	assert.Equal(t, stable["c0"], pd.Chassis)

	f, err := r.PcieFunctions.GetEntry(stable["f0"])
	require.NoError(t, err)
	assert.Equal(t, stable["pd0"], f.ParentUUID)
	assert.Equal(t, stable["p0"], f.DspPortUUID)
	assert.Equal(t, stable["d0"], f.FunctionalDevice)

	assert.Equal(t, []string{stable["e0"]}, r.ZoneEndpoints.GetChildren(stable["z0"]))
	assert.Equal(t, []string{stable["p0"]}, r.EndpointPorts.GetChildren(stable["e0"]))

	// no temporary UUID survives anywhere
	for old := range stable {
		for _, tbl := range r.Tables() {
			assert.False(t, tbl.EntryExists(old), "%s still in %s", old, tbl.Kind())
			exported, err := tbl.Export()
			require.NoError(t, err)
			for key, data := range exported {
				assert.NotContains(t, string(data), fmt.Sprintf("%q", old), "%s referenced by %s %s", old, tbl.Kind(), key)
			}
		}
		for _, rel := range r.Relations() {
			assert.False(t, rel.ParentExists(old))
			assert.False(t, rel.ChildExists(old))
		}
	}
}

func TestStabilize_ParentOfAnyKind(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m0"}, ManagerType: "EnclosureManager"}))
	require.NoError(t, r.Systems.AddEntry(&resource.System{Meta: model.Meta{UUID: "s0", ParentUUID: "m0"}}))
	require.NoError(t, r.Zones.AddEntry(&resource.Zone{Meta: model.Meta{UUID: "z0", ParentUUID: "m0"}}))
	require.NoError(t, r.Endpoints.AddEntry(&resource.Endpoint{Meta: model.Meta{UUID: "e0", ParentUUID: "m0"}}))
	require.NoError(t, r.Drives.AddEntry(&resource.Drive{Meta: model.Meta{UUID: "d0", ParentUUID: "m0"}, SerialNumber: "DR-0"}))
	require.NoError(t, r.Drives.AddEntry(&resource.Drive{Meta: model.Meta{UUID: "d1", ParentUUID: "s0"}, SerialNumber: "DR-1"}))

	m1, err := r.Stabilize(ctx, resource.KindManager, "m0")
	require.NoError(t, err)
	s1, err := r.Stabilize(ctx, resource.KindSystem, "s0")
	require.NoError(t, err)

	sys, err := r.Systems.GetEntry(s1)
	require.NoError(t, err)
	assert.Equal(t, m1, sys.ParentUUID)

	z, err := r.Zones.GetEntry("z0")
	require.NoError(t, err)
	assert.Equal(t, m1, z.ParentUUID)

	e, err := r.Endpoints.GetEntry("e0")
	require.NoError(t, err)
	assert.Equal(t, m1, e.ParentUUID)

	d0, err := r.Drives.GetEntry("d0")
	require.NoError(t, err)
	assert.Equal(t, m1, d0.ParentUUID)
	assert.Equal(t, uint64(1), d0.RestID)

	d1, err := r.Drives.GetEntry("d1")
	require.NoError(t, err)
	assert.Equal(t, s1, d1.ParentUUID)

	for _, tbl := range r.Tables() {
		exported, err := tbl.Export()
		require.NoError(t, err)
		for key, data := range exported {
			assert.NotContains(t, string(data), `"m0"`, "%s %s", tbl.Kind(), key)
			assert.NotContains(t, string(data), `"s0"`, "%s %s", tbl.Kind(), key)
		}
	}
}

func TestStabilize_DisabledTargetsAreSkipped(t *testing.T) {
	r := newTestRegistry(t, config.ModuleStorage)
	ctx := context.Background()

	require.NoError(t, r.Drives.AddEntry(&resource.Drive{Meta: model.Meta{UUID: "d0"}, SerialNumber: "X"}))
	require.NoError(t, r.Endpoints.AddEntry(&resource.Endpoint{
		Meta:              model.Meta{UUID: "e0"},
		ConnectedEntities: []resource.ConnectedEntity{{Role: resource.RoleTarget, Entity: "d0"}},
	}))

	got, err := r.Stabilize(ctx, resource.KindDrive, "d0")
	require.NoError(t, err)

	e, err := r.Endpoints.GetEntry("e0")
	require.NoError(t, err)
	assert.Equal(t, got, e.ConnectedEntities[0].Entity)

	_, err = r.Stabilize(ctx, resource.KindSwitch, "sw")
	assert.ErrorIs(t, err, model.ErrInvalidReference)
}

func TestRemoveResource(t *testing.T) {
	r := newTestRegistry(t)
	fabric(t, r)

	require.NoError(t, r.RemoveResource(resource.KindEndpoint, "e0"))
	assert.False(t, r.Endpoints.EntryExists("e0"))
	assert.False(t, r.ZoneEndpoints.ChildExists("e0"))
	assert.False(t, r.EndpointPorts.ParentExists("e0"))

	require.NoError(t, r.RemoveResource(resource.KindEndpoint, "e0"))

	r2 := newTestRegistry(t, config.ModuleNetwork)
	assert.ErrorIs(t, r2.RemoveResource(resource.KindDrive, "d0"), model.ErrInvalidReference)
}

func TestCleanAgent(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m1", AgentID: "storage-1"}}))
	require.NoError(t, r.Drives.AddEntry(&resource.Drive{Meta: model.Meta{UUID: "d1", AgentID: "storage-1"}}))
	require.NoError(t, r.Drives.AddEntry(&resource.Drive{Meta: model.Meta{UUID: "d2", AgentID: "storage-2"}}))
	require.NoError(t, r.Drives.AddEntry(&resource.Drive{Meta: model.Meta{UUID: "d3"}}))
	r.ZoneEndpoints.AddEntry("z", "e", "storage-1")
	r.ZoneEndpoints.AddEntry("z", "e2", "")

	assert.Equal(t, 3, r.CleanAgent("storage-1"))
	assert.Equal(t, []string{"d2", "d3"}, r.Drives.GetKeys())
	assert.Equal(t, 0, r.Managers.GetEntryCount())

	assert.Equal(t, 2, r.CleanWithNoAgent())
	assert.Equal(t, []string{"d2"}, r.Drives.GetKeys())
	assert.Equal(t, 0, r.ZoneEndpoints.Count())
}

func TestStabilize_ConcurrentReaders(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	const n = 50
	for i := range n {
		require.NoError(t, r.Ports.AddEntry(&resource.Port{
			Meta:   model.Meta{UUID: fmt.Sprintf("p%d", i), ParentUUID: "sw"},
			PortID: fmt.Sprintf("%d", i),
		}))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range runtime.GOMAXPROCS(0) * 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if got := r.Ports.GetEntryCount(); got != n {
					t.Errorf("port count = %d during stabilization", got)
					return
				}
			}
		}()
	}

	var swg sync.WaitGroup
	for i := range n {
		swg.Add(1)
		go func() {
			defer swg.Done()
			_, err := r.Stabilize(ctx, resource.KindPort, fmt.Sprintf("p%d", i))
			assert.NoError(t, err)
		}()
	}
	swg.Wait()
	close(stop)
	wg.Wait()

	for _, key := range r.Ports.GetKeys() {
		p, err := r.Ports.GetEntry(key)
		require.NoError(t, err)
		assert.True(t, p.Persistent)
	}
	assert.Len(t, r.Ports.GetIDsByParent("sw"), n)
}
