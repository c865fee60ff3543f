package gami

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zero-day-ai/gami/command"
	"github.com/zero-day-ai/gami/components"
	"github.com/zero-day-ai/gami/config"
	"github.com/zero-day-ai/gami/persistence"
	"github.com/zero-day-ai/gami/presence"
)

// Framework wires the configuration, the component registry, the command
// table, snapshots and agent presence of one process.
//
// The lifecycle is New, Start, Close. Stores and commands are usable right
// after New; Start launches the snapshot loop and the presence watch.
type Framework struct {
	cfg        *config.Config
	logger     *slog.Logger
	components *components.Registry
	commands   *command.Table
	backend    persistence.Backend
	snapshots  *persistence.Snapshotter
	presence   presenceClient

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Framework. The configuration comes from WithConfigValue,
// else from the file named by WithConfig, else config.Default().
func New(opts ...FrameworkOption) (*Framework, error) {
	fc := &frameworkConfig{}
	for _, opt := range opts {
		opt(fc)
	}

	cfg, err := loadConfig(fc)
	if err != nil {
		return nil, err
	}

	logger := fc.logger
	if logger == nil {
		logger = cfg.Logging.NewLogger(os.Stderr)
	}

	copts := []components.Option{components.WithLogger(logger)}
	if fc.tracer != nil {
		copts = append(copts, components.WithTracer(fc.tracer))
	}
	if fc.meter != nil {
		copts = append(copts, components.WithMeter(fc.meter))
	}
	reg, err := components.New(cfg, copts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build components: %w", err)
	}

	commands := command.NewTable(command.WithLogger(logger))
	if err := reg.RegisterCommands(commands); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	f := &Framework{
		cfg:        cfg,
		logger:     logger,
		components: reg,
		commands:   commands,
		backend:    fc.backend,
		presence:   fc.presence,
	}
	if err := f.registerHealth(); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	if f.backend == nil {
		f.backend, err = persistence.Open(cfg.Persistence)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistence backend: %w", err)
		}
	}
	if f.backend != nil {
		f.snapshots = persistence.NewSnapshotter(f.backend, persistence.WithLogger(logger))
		for _, t := range reg.Tables() {
			f.snapshots.Add(string(t.Kind()), t)
		}
		for _, rel := range reg.Relations() {
			f.snapshots.Add(rel.Name(), rel)
		}
	}

	if f.presence == nil && cfg.Presence.Enabled() {
		client, err := presence.NewClient(cfg.Presence, presence.WithLogger(logger))
		if err != nil {
			CloseWithLog(f.backend, logger, "persistence backend")
			return nil, fmt.Errorf("failed to connect presence: %w", err)
		}
		f.presence = client
	}

	return f, nil
}

func loadConfig(fc *frameworkConfig) (*config.Config, error) {
	cfg := fc.config
	if cfg == nil && fc.configPath != "" {
		loaded, err := config.Load(fc.configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Config returns the effective configuration.
func (f *Framework) Config() *config.Config {
	return f.cfg
}

// Logger returns the framework logger.
func (f *Framework) Logger() *slog.Logger {
	return f.logger
}

// Components returns the component registry.
func (f *Framework) Components() *components.Registry {
	return f.components
}

// Commands returns the command table.
func (f *Framework) Commands() *command.Table {
	return f.commands
}

// Dispatch runs the named command with JSON params. See command.Table.
func (f *Framework) Dispatch(ctx context.Context, name string, params []byte) ([]byte, error) {
	return f.commands.Dispatch(ctx, name, params)
}

// Flush writes a snapshot now. It is a no-op without a backend.
func (f *Framework) Flush(ctx context.Context) error {
	if f.snapshots == nil {
		return nil
	}
	return f.snapshots.Flush(ctx)
}

// Start announces this agent, starts watching other agents and starts the
// snapshot loop. Background work runs until Close.
func (f *Framework) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if f.presence != nil {
		if f.cfg.AgentID != "" {
			info := presence.Info{AgentID: f.cfg.AgentID, Modules: f.cfg.GetModules()}
			if err := f.presence.Announce(ctx, info); err != nil {
				cancel()
				return fmt.Errorf("failed to announce agent: %w", err)
			}
		}
		if err := f.presence.Watch(runCtx, f.onPresence); err != nil {
			cancel()
			return fmt.Errorf("failed to watch agents: %w", err)
		}
	}

	if f.snapshots != nil {
		interval := f.cfg.Persistence.GetInterval()
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.snapshots.Run(runCtx, interval)
		}()
	}

	f.cancel = cancel
	f.started = true
	f.logger.Info("started gami framework",
		"agent_id", f.cfg.AgentID,
		"modules", f.cfg.GetModules(),
		"backend", f.cfg.Persistence.GetBackend(),
		"presence", f.presence != nil,
	)
	return nil
}

// onPresence drops the resources of agents that went away.
func (f *Framework) onPresence(ev presence.Event) {
	if ev.Type != presence.EventLeft || ev.AgentID == f.cfg.AgentID {
		return
	}
	removed := f.components.CleanAgent(ev.AgentID)
	f.logger.Info("agent left, removed its resources",
		"agent_id", ev.AgentID,
		"removed", removed,
	)
}

// Close withdraws this agent, stops background work after a final
// snapshot and releases the backend and the etcd connection. Close is
// safe to call more than once.
func (f *Framework) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	started := f.started
	cancel := f.cancel
	f.mu.Unlock()

	var errs []error

	if started && f.presence != nil && f.cfg.AgentID != "" {
		ctx, cancelWithdraw := context.WithTimeout(context.Background(), 5*time.Second)
		if err := f.presence.Withdraw(ctx, f.cfg.AgentID); err != nil {
			errs = append(errs, err)
		}
		cancelWithdraw()
	}

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()

	if f.presence != nil {
		if err := f.presence.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close presence: %w", err))
		}
	}
	if f.backend != nil {
		if err := f.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close persistence backend: %w", err))
		}
	}

	f.logger.Info("closed gami framework")
	return errors.Join(errs...)
}
