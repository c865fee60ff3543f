package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gami/model"
)

const sampleConfig = `
agent_id: psme-storage-1
modules: [storage, chassis]
stabilization:
  namespace: 0b8a5e1c-3f6d-4c1a-8d2e-7f9b0c1d2e3f
persistence:
  backend: redis
  redis_url: redis://localhost:6379/0
  prefix: rack1
  interval: 5s
presence:
  endpoints: [localhost:2379]
  ttl: 10
logging:
  level: debug
  format: json
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "psme-storage-1", cfg.AgentID)
	assert.Equal(t, []string{"storage", "chassis"}, cfg.GetModules())
	assert.True(t, cfg.HasModule(ModuleStorage))
	assert.False(t, cfg.HasModule(ModulePnc))

	assert.Equal(t, uuid.MustParse("0b8a5e1c-3f6d-4c1a-8d2e-7f9b0c1d2e3f"), cfg.Stabilization.GetNamespace())

	assert.Equal(t, BackendRedis, cfg.Persistence.GetBackend())
	assert.Equal(t, "rack1", cfg.Persistence.GetPrefix())
	assert.Equal(t, 5*time.Second, cfg.Persistence.GetInterval())

	assert.True(t, cfg.Presence.Enabled())
	assert.Equal(t, "/gami", cfg.Presence.GetNamespace())
	assert.Equal(t, 10, cfg.Presence.GetTTL())

	assert.Equal(t, slog.LevelDebug, cfg.Logging.GetLevel())
	assert.Equal(t, "json", cfg.Logging.GetFormat())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("modules: [unterminated"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	var cfg Config

	assert.Equal(t, AllModules, cfg.GetModules())
	assert.Equal(t, model.DefaultNamespace, cfg.Stabilization.GetNamespace())
	assert.Equal(t, BackendNone, cfg.Persistence.GetBackend())
	assert.Equal(t, "gami-data", cfg.Persistence.GetPath())
	assert.Equal(t, "gami", cfg.Persistence.GetPrefix())
	assert.Equal(t, 30*time.Second, cfg.Persistence.GetInterval())
	assert.False(t, cfg.Presence.Enabled())
	assert.Equal(t, 30, cfg.Presence.GetTTL())
	assert.Equal(t, slog.LevelInfo, cfg.Logging.GetLevel())
	assert.Equal(t, "text", cfg.Logging.GetFormat())
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, AllModules, Default().Modules)

	bad := &StabilizationConfig{Namespace: "not-a-uuid"}
	assert.Equal(t, model.DefaultNamespace, bad.GetNamespace())
	badInterval := &PersistenceConfig{Interval: "soon"}
	assert.Equal(t, 30*time.Second, badInterval.GetInterval())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "unknown module",
			cfg:     Config{Modules: []string{"gpu"}},
			wantErr: `unknown module "gpu"`,
		},
		{
			name:    "bad namespace",
			cfg:     Config{Stabilization: &StabilizationConfig{Namespace: "xyz"}},
			wantErr: "invalid stabilization namespace",
		},
		{
			name:    "redis without url",
			cfg:     Config{Persistence: &PersistenceConfig{Backend: "redis"}},
			wantErr: "requires redis_url",
		},
		{
			name:    "unknown backend",
			cfg:     Config{Persistence: &PersistenceConfig{Backend: "sqlite"}},
			wantErr: `unknown persistence backend "sqlite"`,
		},
		{
			name:    "bad interval",
			cfg:     Config{Persistence: &PersistenceConfig{Interval: "often"}},
			wantErr: "invalid persistence interval",
		},
		{
			name:    "bad level",
			cfg:     Config{Logging: &LoggingConfig{Level: "loud"}},
			wantErr: "invalid log level",
		},
		{
			name:    "partial tls",
			cfg:     Config{Presence: &PresenceConfig{Endpoints: []string{"e:2379"}, TLS: &TLSConfig{Enabled: true, CertFile: "c.pem"}}},
			wantErr: "presence tls requires",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.yml"), []byte(sampleConfig), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "psme-storage-1", cfg.AgentID)

	cfg, err = Load(filepath.Join(dir, "agent.yml"))
	require.NoError(t, err)
	assert.Equal(t, "psme-storage-1", cfg.AgentID)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "no agent.yaml or agent.yml found")
}

func TestLoadFromDir_WalksUp(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "agent.yaml"), []byte("agent_id: parent\n"), 0o600))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, err := LoadFromDir(nested)
	require.NoError(t, err)
	assert.Equal(t, "parent", cfg.AgentID)
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := (&LoggingConfig{Level: "warn", Format: "json"}).NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "kind", "drive")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"kind":"drive"`)

	buf.Reset()
	var nilCfg *LoggingConfig
	nilCfg.NewLogger(&buf).Info("text")
	assert.Contains(t, buf.String(), "msg=text")
}
