package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/statehub/internal/daemon/store"
	"github.com/grovetools/statehub/pkg/models"
	"github.com/grovetools/statehub/pkg/protocol"
)

// SessionCounter reports how many sessions are live, for the health report.
type SessionCounter interface {
	List() []*models.Session
}

// HealthCollector publishes a periodic health report on state.health.
type HealthCollector struct {
	interval time.Duration
	sessions SessionCounter
	logger   *logrus.Entry
	started  time.Time
}

// NewHealth creates a health collector ticking at the given interval.
func NewHealth(interval time.Duration, sessions SessionCounter, logger *logrus.Entry) *HealthCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthCollector{
		interval: interval,
		sessions: sessions,
		logger:   logger,
		started:  time.Now(),
	}
}

func (c *HealthCollector) Name() string { return "health" }

// Run seeds the health channel immediately, then refreshes it every tick.
func (c *HealthCollector) Run(ctx context.Context, st *store.Store) error {
	key := protocol.NewKey(protocol.ChannelHealth, "")

	st.Commit(key, store.Mutation{
		Added: []protocol.Item{protocol.MustItem("health", c.report())},
	})

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st.Commit(key, store.Mutation{
				Updated: map[string]json.RawMessage{
					"health": mustJSON(c.report()),
				},
			})
		}
	}
}

func (c *HealthCollector) report() *models.Health {
	active := 0
	if c.sessions != nil {
		active = len(c.sessions.List())
	}
	return &models.Health{
		Status:         "ok",
		Uptime:         time.Since(c.started).Round(time.Second).String(),
		ActiveSessions: active,
		CheckedAt:      time.Now().UTC(),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
