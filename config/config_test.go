package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/grovetools/statehub/errors"
)

func TestSetDefaults(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected func(*testing.T, *Config)
	}{
		{
			name:   "zero config gets full defaults",
			config: Config{},
			expected: func(t *testing.T, c *Config) {
				assert.Equal(t, "1.0", c.Version)
				assert.Equal(t, "127.0.0.1:7433", c.Daemon.Listen)
				assert.Equal(t, 32, c.Daemon.MaxSessions)
				assert.Equal(t, "claude-sonnet", c.Daemon.DefaultModel)
				assert.Equal(t, 256, c.Daemon.DeltaHistory)
				assert.Equal(t, "ws://127.0.0.1:7433/ws", c.Hub.ServerURL)
				assert.Equal(t, 10*time.Second, c.Hub.CallTimeout.Std())
				assert.Equal(t, 5*time.Second, c.Hub.OptimisticDeadline.Std())
				assert.Equal(t, 3, c.Hub.SnapshotAttempts)
			},
		},
		{
			name: "hub URL follows custom listen address",
			config: Config{
				Daemon: DaemonConfig{Listen: "0.0.0.0:9000"},
			},
			expected: func(t *testing.T, c *Config) {
				assert.Equal(t, "ws://0.0.0.0:9000/ws", c.Hub.ServerURL)
			},
		},
		{
			name: "explicit values survive defaulting",
			config: Config{
				Daemon: DaemonConfig{MaxSessions: 4},
				Hub:    HubConfig{ServerURL: "ws://remote:7433/ws"},
			},
			expected: func(t *testing.T, c *Config) {
				assert.Equal(t, 4, c.Daemon.MaxSessions)
				assert.Equal(t, "ws://remote:7433/ws", c.Hub.ServerURL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.SetDefaults()
			tt.expected(t, &tt.config)
		})
	}
}

func TestLoadFromBytes(t *testing.T) {
	raw := `
version: "1.0"
daemon:
  listen: "127.0.0.1:8100"
  max_sessions: 8
  health_interval: 30s
hub:
  call_timeout: 2s
  optimistic_deadline: 750ms
`
	cfg, err := LoadFromBytes([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8100", cfg.Daemon.Listen)
	assert.Equal(t, 8, cfg.Daemon.MaxSessions)
	assert.Equal(t, 30*time.Second, cfg.Daemon.HealthInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.Hub.CallTimeout.Std())
	assert.Equal(t, 750*time.Millisecond, cfg.Hub.OptimisticDeadline.Std())

	// Unspecified fields still receive defaults.
	assert.Equal(t, 256, cfg.Daemon.DeltaHistory)
	assert.Equal(t, 3, cfg.Hub.SnapshotAttempts)
}

func TestLoadFromBytesExpandsEnvVars(t *testing.T) {
	t.Setenv("STATEHUB_TEST_LISTEN", "127.0.0.1:8200")

	cfg, err := LoadFromBytes([]byte("daemon:\n  listen: \"${STATEHUB_TEST_LISTEN}\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8200", cfg.Daemon.Listen)
}

func TestLoadFromBytesUnsetEnvVarExpandsEmpty(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("daemon:\n  default_model: \"${STATEHUB_TEST_UNSET_VAR}\"\n"))
	require.NoError(t, err)

	// The empty expansion falls through to the default.
	assert.Equal(t, "claude-sonnet", cfg.Daemon.DefaultModel)
}

func TestLoadFromBytesInvalidYAML(t *testing.T) {
	_, err := LoadFromBytes([]byte("daemon: [not: a: map"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "negative max sessions",
			mutate:  func(c *Config) { c.Daemon.MaxSessions = -1 },
			wantErr: "max_sessions",
		},
		{
			name:    "snapshot backoff above cap",
			mutate:  func(c *Config) { c.Hub.SnapshotBackoff = Duration(time.Minute) },
			wantErr: "snapshot_backoff",
		},
		{
			name:    "reconnect backoff above cap",
			mutate:  func(c *Config) { c.Hub.ReconnectBackoff = Duration(time.Hour) },
			wantErr: "reconnect_backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestUnmarshalExtension(t *testing.T) {
	raw := `
daemon:
  listen: "127.0.0.1:8100"
tracing:
  endpoint: "localhost:4317"
  sample_rate: 0.25
`
	cfg, err := LoadFromBytes([]byte(raw))
	require.NoError(t, err)

	var tracing struct {
		Endpoint   string  `mapstructure:"endpoint"`
		SampleRate float64 `mapstructure:"sample_rate"`
	}
	require.NoError(t, cfg.UnmarshalExtension("tracing", &tracing))
	assert.Equal(t, "localhost:4317", tracing.Endpoint)
	assert.Equal(t, 0.25, tracing.SampleRate)

	// A missing extension key leaves the target zero-valued.
	var missing struct {
		Endpoint string `mapstructure:"endpoint"`
	}
	require.NoError(t, cfg.UnmarshalExtension("nope", &missing))
	assert.Empty(t, missing.Endpoint)
}

func TestDurationUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected time.Duration
		wantErr  bool
	}{
		{name: "seconds string", yaml: "5s", expected: 5 * time.Second},
		{name: "compound string", yaml: "1m30s", expected: 90 * time.Second},
		{name: "bare integer nanoseconds", yaml: "1000000000", expected: time.Second},
		{name: "garbage", yaml: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg struct {
				D Duration `yaml:"d"`
			}
			err := yaml.Unmarshal([]byte("d: "+tt.yaml), &cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.D.Std())
		})
	}
}
