package gami

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zero-day-ai/gami/config"
	"github.com/zero-day-ai/gami/health"
)

const pingTimeout = 2 * time.Second

// Health checks the snapshot backend, the etcd connection and, for the
// badger backend, the data directory. Store sizes are reported in the
// details of the stores check.
func (f *Framework) Health(ctx context.Context) health.Status {
	counts := make(map[string]any)
	for _, t := range f.components.Tables() {
		counts[string(t.Kind())] = t.GetEntryCount()
	}
	for _, rel := range f.components.Relations() {
		counts[rel.Name()] = rel.Count()
	}
	checks := []health.Status{{
		Status:  health.StatusHealthy,
		Message: "stores available",
		Details: counts,
	}}

	if p, ok := f.backend.(health.Pinger); ok {
		checks = append(checks, health.PingCheck(ctx, "persistence", p, pingTimeout))
	}
	if f.cfg.Persistence.GetBackend() == config.BackendBadger {
		checks = append(checks, health.FileCheck(f.cfg.Persistence.GetPath()))
	}
	if p, ok := f.presence.(health.Pinger); ok {
		checks = append(checks, health.PingCheck(ctx, "presence", p, pingTimeout))
	}

	status := health.Combine(checks...)
	if status.Details == nil {
		status.Details = make(map[string]any)
	}
	status.Details["stores"] = counts
	return status
}

// registerHealth adds GetHealth {} -> health.Status to the command table.
func (f *Framework) registerHealth() error {
	return f.commands.Register("GetHealth", func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		data, err := json.Marshal(f.Health(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health status: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode health status: %w", err)
		}
		return structpb.NewStruct(fields)
	})
}
