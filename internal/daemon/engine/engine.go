// Package engine orchestrates background collectors for the daemon.
package engine

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/statehub/internal/daemon/collector"
	"github.com/grovetools/statehub/internal/daemon/store"
)

// Engine manages and runs all collectors.
type Engine struct {
	store      *store.Store
	collectors []collector.Collector
	logger     *logrus.Entry
}

// New creates a new Engine instance.
func New(st *store.Store, logger *logrus.Entry) *Engine {
	return &Engine{
		store:  st,
		logger: logger,
	}
}

// Register adds a collector to the engine.
func (e *Engine) Register(c collector.Collector) {
	e.collectors = append(e.collectors, c)
}

// Start runs all collectors and blocks until the context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range e.collectors {
		wg.Add(1)
		go func(col collector.Collector) {
			defer wg.Done()
			e.logger.WithField("collector", col.Name()).Info("Starting collector")
			if err := col.Run(ctx, e.store); err != nil {
				e.logger.WithField("collector", col.Name()).WithError(err).Error("Collector failed")
			}
		}(c)
	}
	wg.Wait()
}

// Store returns the engine's state store.
func (e *Engine) Store() *store.Store {
	return e.store
}
