// Package collector holds the background producers that keep the daemon's
// global channels current.
package collector

import (
	"context"

	"github.com/grovetools/statehub/internal/daemon/store"
)

// Collector is a background producer of state. Run blocks until the
// context is cancelled, committing changes through the store.
type Collector interface {
	Name() string
	Run(ctx context.Context, st *store.Store) error
}
