package collector

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/statehub/config"
	"github.com/grovetools/statehub/internal/daemon/store"
	"github.com/grovetools/statehub/pkg/models"
	"github.com/grovetools/statehub/pkg/protocol"
)

// ConfigWatcher publishes the client-visible daemon configuration on
// state.config and refreshes it when the config file changes on disk, so
// every connected client converges on the new values without restarting.
type ConfigWatcher struct {
	path       string
	debounce   time.Duration
	logger     *logrus.Entry
	mu         sync.Mutex
	lastChange time.Time
	revision   int
}

// NewConfigWatcher watches the given config file.
func NewConfigWatcher(path string, logger *logrus.Entry) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   logger,
	}
}

func (c *ConfigWatcher) Name() string { return "config-watcher" }

// Run seeds state.config from the current file, then watches the config
// directory for writes. fsnotify reports the directory, not the file, so
// editor rename-and-replace saves are caught too.
func (c *ConfigWatcher) Run(ctx context.Context, st *store.Store) error {
	key := protocol.NewKey(protocol.ChannelConfig, "")

	st.Commit(key, store.Mutation{
		Added: []protocol.Item{protocol.MustItem("config", c.load())},
	})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".yml") && !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if !c.shouldProcess() {
				continue
			}
			c.logger.WithField("file", filepath.Base(event.Name)).Info("Config changed, republishing")
			st.Commit(key, store.Mutation{
				Updated: map[string]json.RawMessage{
					"config": mustJSON(c.load()),
				},
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.WithError(err).Error("Config watcher error")
		}
	}
}

// shouldProcess debounces rapid successive writes.
func (c *ConfigWatcher) shouldProcess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastChange) < c.debounce {
		return false
	}
	c.lastChange = time.Now()
	return true
}

func (c *ConfigWatcher) load() *models.ServerConfig {
	c.mu.Lock()
	c.revision++
	rev := c.revision
	c.mu.Unlock()

	cfg, err := config.Load(c.path)
	if err != nil {
		c.logger.WithError(err).Warn("Config reload failed, using defaults")
		cfg = config.Default()
	}
	return &models.ServerConfig{
		DefaultModel:       cfg.Daemon.DefaultModel,
		MaxSessions:        cfg.Daemon.MaxSessions,
		OptimisticDeadline: cfg.Hub.OptimisticDeadline.String(),
		Revision:           rev,
	}
}
