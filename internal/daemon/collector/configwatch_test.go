package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/statehub/internal/daemon/store"
	"github.com/grovetools/statehub/pkg/models"
	"github.com/grovetools/statehub/pkg/protocol"
)

func writeConfig(t *testing.T, path, model string) {
	t.Helper()
	content := "daemon:\n  default_model: \"" + model + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func configFromStore(t *testing.T, st *store.Store) models.ServerConfig {
	t.Helper()
	snap := st.Snapshot(protocol.NewKey(protocol.ChannelConfig, ""))
	require.Len(t, snap.Items, 1)
	var cfg models.ServerConfig
	require.NoError(t, json.Unmarshal(snap.Items[0].Data, &cfg))
	return cfg
}

func TestConfigWatcherSeedsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "statehub.yml")
	writeConfig(t, path, "claude-opus")

	st := store.New(16)
	w := NewConfigWatcher(path, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, st)
	}()

	key := protocol.NewKey(protocol.ChannelConfig, "")
	require.Eventually(t, func() bool {
		return st.Snapshot(key).Meta.Version >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cfg := configFromStore(t, st)
	assert.Equal(t, "claude-opus", cfg.DefaultModel)
	assert.Equal(t, 1, cfg.Revision)

	cancel()
	<-done
}

func TestConfigWatcherRepublishesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "statehub.yml")
	writeConfig(t, path, "claude-sonnet")

	st := store.New(16)
	w := NewConfigWatcher(path, testLogger())
	w.debounce = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, st)
	}()

	key := protocol.NewKey(protocol.ChannelConfig, "")
	require.Eventually(t, func() bool {
		return st.Snapshot(key).Meta.Version >= 1
	}, 2*time.Second, 10*time.Millisecond)

	writeConfig(t, path, "claude-haiku")

	require.Eventually(t, func() bool {
		snap := st.Snapshot(key)
		if len(snap.Items) != 1 {
			return false
		}
		var cfg models.ServerConfig
		if err := json.Unmarshal(snap.Items[0].Data, &cfg); err != nil {
			return false
		}
		return cfg.DefaultModel == "claude-haiku"
	}, 5*time.Second, 20*time.Millisecond)

	cfg := configFromStore(t, st)
	assert.Greater(t, cfg.Revision, 1)

	cancel()
	<-done
}

func TestConfigWatcherMissingFileFallsBackToDefaults(t *testing.T) {
	w := NewConfigWatcher(filepath.Join(t.TempDir(), "absent.yml"), testLogger())
	cfg := w.load()
	assert.Equal(t, "claude-sonnet", cfg.DefaultModel)
	assert.Equal(t, 32, cfg.MaxSessions)
	assert.Equal(t, 1, cfg.Revision)
}
