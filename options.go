package gami

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/gami/config"
	"github.com/zero-day-ai/gami/persistence"
	"github.com/zero-day-ai/gami/presence"
)

// FrameworkOption configures the Framework.
type FrameworkOption func(*frameworkConfig)

// frameworkConfig holds configuration for the Framework instance.
type frameworkConfig struct {
	configPath string
	config     *config.Config
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	backend    persistence.Backend
	presence   presenceClient
}

// presenceClient is the part of presence.Client the framework uses.
type presenceClient interface {
	Announce(ctx context.Context, info presence.Info) error
	Withdraw(ctx context.Context, agentID string) error
	Watch(ctx context.Context, handler presence.Handler) error
	Close() error
}

// WithConfig sets the path of the agent.yaml file, or of a directory
// containing one.
func WithConfig(path string) FrameworkOption {
	return func(c *frameworkConfig) {
		c.configPath = path
	}
}

// WithConfigValue uses cfg instead of loading a file. It takes precedence
// over WithConfig.
func WithConfigValue(cfg *config.Config) FrameworkOption {
	return func(c *frameworkConfig) {
		c.config = cfg
	}
}

// WithLogger sets a custom logger for the framework.
// If not provided, one is built from the logging section of the config.
func WithLogger(logger *slog.Logger) FrameworkOption {
	return func(c *frameworkConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for stabilization spans.
func WithTracer(tracer trace.Tracer) FrameworkOption {
	return func(c *frameworkConfig) {
		c.tracer = tracer
	}
}

// WithMeter sets an OpenTelemetry meter for stabilization metrics.
func WithMeter(meter metric.Meter) FrameworkOption {
	return func(c *frameworkConfig) {
		c.meter = meter
	}
}

// WithBackend sets the snapshot backend instead of opening the one named
// in the persistence config. The framework closes it on Close.
func WithBackend(backend persistence.Backend) FrameworkOption {
	return func(c *frameworkConfig) {
		c.backend = backend
	}
}
