package stabilize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zero-day-ai/gami/model"
	"github.com/zero-day-ai/gami/relation"
	"github.com/zero-day-ai/gami/resource"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	managers *model.Store[*resource.Manager]
	chassis  *model.Store[*resource.Chassis]
	links    *relation.Store
	registry *Registry
	coord    *Coordinator
	recorder *tracetest.SpanRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		managers: model.NewStore[*resource.Manager](resource.KindManager, model.WithLogger(quietLogger())),
		chassis:  model.NewStore[*resource.Chassis](resource.KindChassis, model.WithLogger(quietLogger())),
		links:    relation.NewStore("manager_chassis", relation.WithLogger(quietLogger())),
		registry: NewRegistry(),
		recorder: tracetest.NewSpanRecorder(),
	}

	f.registry.Register(resource.KindManager, "chassis.parent", ParentField(f.chassis))
	f.registry.Register(resource.KindManager, "manager_chassis.parent", RelationParent(f.links))
	f.registry.Register(resource.KindChassis, "manager_chassis.child", RelationChild(f.links))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	coord, err := NewCoordinator(f.registry,
		WithLogger(quietLogger()),
		WithTracer(tp.Tracer("test")),
		WithMeter(noop.NewMeterProvider().Meter("test")),
	)
	require.NoError(t, err)
	coord.AddTable(f.managers)
	coord.AddTable(f.chassis)
	f.coord = coord

	return f
}

func TestStabilize_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.managers.AddEntry(&resource.Manager{
		Meta:        model.Meta{UUID: "m0"},
		ManagerType: "ManagementController",
	}))
	require.NoError(t, f.chassis.AddEntry(&resource.Chassis{
		Meta:        model.Meta{UUID: "c0", ParentUUID: "m0"},
		ChassisType: "Drawer",
	}))
	f.links.AddEntry("m0", "c0", "")

	m1, err := f.coord.Stabilize(ctx, resource.KindManager, "m0")
	require.NoError(t, err)
	require.NotEqual(t, "m0", m1)
	_, err = uuid.Parse(m1)
	require.NoError(t, err)

	c, err := f.chassis.GetEntry("c0")
	require.NoError(t, err)
	assert.Equal(t, m1, c.ParentUUID)

	assert.Equal(t, []string{"c0"}, f.links.GetChildren(m1))
	assert.False(t, f.links.ParentExists("m0"))
	assert.False(t, f.managers.EntryExists("m0"))
	assert.True(t, f.managers.EntryExists(m1))
	assert.Empty(t, f.chassis.GetKeysByParent("m0"))

	m, err := f.managers.GetEntry(m1)
	require.NoError(t, err)
	assert.True(t, m.Persistent)
}

func TestStabilize_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := 0
	f.registry.Register(resource.KindManager, "counter", func(context.Context, string, string) error {
		calls++
		return nil
	})
	require.NoError(t, f.managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m0"}}))

	first, err := f.coord.Stabilize(ctx, resource.KindManager, "m0")
	require.NoError(t, err)
	second, err := f.coord.Stabilize(ctx, resource.KindManager, "m0")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, f.coord.Resolve("m0"))
	assert.Equal(t, "unknown", f.coord.Resolve("unknown"))

	// stabilizing the persistent UUID itself is a no-op too
	third, err := f.coord.Stabilize(ctx, resource.KindManager, first)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Equal(t, 1, calls)
}

func TestStabilize_Deterministic(t *testing.T) {
	ctx := context.Background()

	stabilizeOnce := func(tempUUID string) string {
		f := newFixture(t)
		require.NoError(t, f.chassis.AddEntry(&resource.Chassis{
			Meta:         model.Meta{UUID: tempUUID, ParentUUID: "m"},
			SerialNumber: "SN-1",
		}))
		got, err := f.coord.Stabilize(ctx, resource.KindChassis, tempUUID)
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, stabilizeOnce("first-run"), stabilizeOnce("second-run"))
}

func TestStabilize_UniqueKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.chassis.AddEntry(&resource.Chassis{
		Meta:         model.Meta{UUID: "tmp", UniqueKey: "Chassis_SN-9"},
		SerialNumber: "SN-9",
		LocationID:   "slot-1",
	}))

	got, err := f.coord.Stabilize(ctx, resource.KindChassis, "tmp")
	require.NoError(t, err)
	assert.Equal(t, model.PersistentUUID(model.DefaultNamespace, resource.KindChassis, "Chassis_SN-9"), got)
}

func TestStabilize_Namespace(t *testing.T) {
	ns := uuid.MustParse("0b8a5e1c-3f6d-4c1a-8d2e-7f9b0c1d2e3f")
	managers := model.NewStore[*resource.Manager](resource.KindManager)
	coord, err := NewCoordinator(NewRegistry(), WithNamespace(ns), WithLogger(quietLogger()))
	require.NoError(t, err)
	coord.AddTable(managers)

	require.NoError(t, managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "tmp", UniqueKey: "k"}}))
	got, err := coord.Stabilize(context.Background(), resource.KindManager, "tmp")
	require.NoError(t, err)
	assert.Equal(t, model.PersistentUUID(ns, resource.KindManager, "k"), got)
}

func TestStabilize_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown kind", func(t *testing.T) {
		_, err := f.coord.Stabilize(ctx, "zone", "z")
		assert.ErrorIs(t, err, model.ErrInvalidReference)
	})

	t.Run("unknown uuid", func(t *testing.T) {
		_, err := f.coord.Stabilize(ctx, resource.KindManager, "never-seen")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("collision", func(t *testing.T) {
		require.NoError(t, f.chassis.AddEntry(&resource.Chassis{Meta: model.Meta{UUID: "a"}, SerialNumber: "same"}))
		require.NoError(t, f.chassis.AddEntry(&resource.Chassis{Meta: model.Meta{UUID: "b"}, SerialNumber: "same"}))

		_, err := f.coord.Stabilize(ctx, resource.KindChassis, "a")
		require.NoError(t, err)
		_, err = f.coord.Stabilize(ctx, resource.KindChassis, "b")
		assert.ErrorIs(t, err, model.ErrDuplicateUUID)
		assert.True(t, f.chassis.EntryExists("b"))
	})
}

func TestStabilize_MissingStoreIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var zones *model.Store[*resource.Zone]
	ran := false
	f.registry.Register(resource.KindManager, "zone.switch", ScalarField(zones, func(z *resource.Zone) *string { return &z.SwitchUUID }))
	f.registry.Register(resource.KindManager, "after", func(context.Context, string, string) error {
		ran = true
		return nil
	})

	require.NoError(t, f.managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m0"}}))
	got, err := f.coord.Stabilize(ctx, resource.KindManager, "m0")
	require.NoError(t, err)
	assert.True(t, f.managers.EntryExists(got))
	assert.True(t, ran)

	spans := f.recorder.Ended()
	require.NotEmpty(t, spans)
	last := spans[len(spans)-1]
	var skipped []string
	for _, ev := range last.Events() {
		if ev.Name == "rewrite skipped" {
			for _, attr := range ev.Attributes {
				if attr.Key == "gami.rule" {
					skipped = append(skipped, attr.Value.AsString())
				}
			}
		}
	}
	assert.Equal(t, []string{"zone.switch"}, skipped)
}

func TestStabilize_SkipLogLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	coord, err := NewCoordinator(f.registry, WithLogger(logger))
	require.NoError(t, err)
	coord.AddTable(f.managers)

	var zones *model.Store[*resource.Zone]
	f.registry.Register(resource.KindManager, "zone.switch", ScalarField(zones, func(z *resource.Zone) *string { return &z.SwitchUUID }))
	f.registry.Register(resource.KindManager, "broken", func(context.Context, string, string) error {
		return errors.New("boom")
	})

	require.NoError(t, f.managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m0"}}))
	_, err = coord.Stabilize(ctx, resource.KindManager, "m0")
	require.NoError(t, err)

	levels := make(map[string]string)
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		if line["msg"] == "skipped reference rewrite" {
			levels[line["rule"].(string)] = line["level"].(string)
		}
	}
	assert.Equal(t, map[string]string{"zone.switch": "DEBUG", "broken": "WARN"}, levels)
}

func TestStabilize_RuleErrorIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(resource.KindManager, "broken", func(context.Context, string, string) error {
		return errors.New("boom")
	})
	require.NoError(t, f.managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m0"}}))
	require.NoError(t, f.chassis.AddEntry(&resource.Chassis{Meta: model.Meta{UUID: "c0", ParentUUID: "m0"}}))

	got, err := f.coord.Stabilize(context.Background(), resource.KindManager, "m0")
	require.NoError(t, err)

	c, err := f.chassis.GetEntry("c0")
	require.NoError(t, err)
	assert.Equal(t, got, c.ParentUUID)
}

func TestStabilize_Span(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m0"}}))

	got, err := f.coord.Stabilize(context.Background(), resource.KindManager, "m0")
	require.NoError(t, err)
	_, err = f.coord.Stabilize(context.Background(), resource.KindZone, "z")
	require.Error(t, err)

	spans := f.recorder.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "gami.stabilize", ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	attrs := map[string]string{}
	for _, kv := range ok.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "manager", attrs["gami.kind"])
	assert.Equal(t, "m0", attrs["gami.old_uuid"])
	assert.Equal(t, got, attrs["gami.new_uuid"])

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
}

func TestNewCoordinator_Defaults(t *testing.T) {
	coord, err := NewCoordinator(nil)
	require.NoError(t, err)
	assert.NotNil(t, coord.Registry())

	managers := model.NewStore[*resource.Manager](resource.KindManager)
	coord.AddTable(managers)
	require.NoError(t, managers.AddEntry(&resource.Manager{Meta: model.Meta{UUID: "m"}}))
	_, err = coord.Stabilize(context.Background(), resource.KindManager, "m")
	assert.NoError(t, err)
}
