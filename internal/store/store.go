// Package store persists the reattachment snapshot: the set of non-terminal
// records at the time of the last lifecycle transition. The snapshot is
// overwritten whole on every save and read once at startup.
package store

import (
	"context"

	"github.com/loykin/warden/internal/process"
)

// Store is the persistence interface for the snapshot.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// Save replaces the stored snapshot with recs.
	Save(ctx context.Context, recs []process.Record) error
	// Load returns the stored snapshot. A store that has never been saved
	// returns (nil, nil); a corrupt one returns an error and the caller
	// decides whether to degrade to an empty start.
	Load(ctx context.Context) ([]process.Record, error)
	Close() error
}

// Config selects and parameterizes a store backend.
type Config struct {
	Type string `toml:"type" mapstructure:"type" json:"type"` // "json" or "sqlite"
	Path string `toml:"path" mapstructure:"path" json:"path"`
}
