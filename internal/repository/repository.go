// Package repository defines StateRepository: full-snapshot persistence
// of the daemon's learned state, independent of the concrete backend
// (see internal/repository/sqlite).
package repository

import (
	"context"
	"time"

	"github.com/harrison/prefetchd/internal/store"
)

// Meta carries the snapshot's `meta` table fields, which live outside
// Stores proper (last_accounting_time is an Engine-level bookkeeping
// value, not learned model state).
type Meta struct {
	ModelTime          time.Duration
	LastAccountingTime time.Time
}

// StateRepository persists and restores a full Stores snapshot. Snapshot
// I/O is always full, never delta: save() overwrites the prior snapshot
// in its entirety, and load() reconstructs a Stores from scratch.
type StateRepository interface {
	// Save writes a full snapshot of stores and meta. The Engine treats
	// a failure as non-fatal, including at the final shutdown save: it
	// logs a warning and carries on.
	Save(ctx context.Context, stores *store.Stores, meta Meta) error
	// Load reconstructs a Stores from the most recent snapshot. A
	// missing snapshot (first run) returns an empty Stores and zero
	// Meta, not an error. Failure to read an existing, malformed
	// snapshot is fatal at startup; the caller decides how to surface
	// that.
	Load(ctx context.Context) (*store.Stores, Meta, error)
	// Close releases any resources (e.g. the underlying DB handle).
	Close() error
}
