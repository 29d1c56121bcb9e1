// Package recurrence expands recurring events into occurrences and finds
// overlapping ones.
package recurrence

import (
	"iter"
	"slices"
	"time"

	"github.com/and161185/teamcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

const (
	// DefaultMaxOccurrences caps a single expansion.
	DefaultMaxOccurrences = 1000
	// DefaultSweepThreshold is the input size above which conflicts use the sweep.
	DefaultSweepThreshold = 64
)

// Config tunes the Engine.
type Config struct {
	MaxOccurrences int
	SweepThreshold int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{MaxOccurrences: DefaultMaxOccurrences, SweepThreshold: DefaultSweepThreshold}
}

// Engine ties expansion, conflict detection and the optional cache together.
type Engine struct {
	cfg   Config
	cache *Cache
}

// NewEngine creates an engine. cache may be nil.
func NewEngine(cfg Config, cache *Cache) *Engine {
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = DefaultMaxOccurrences
	}
	if cfg.SweepThreshold < 0 {
		cfg.SweepThreshold = 0
	}
	return &Engine{cfg: cfg, cache: cache}
}

// Expand yields occurrences of ev overlapping [from, to) lazily.
func (e *Engine) Expand(ev model.Event, from, to time.Time) iter.Seq[model.Occurrence] {
	return Expand(ev, from, to, e.cfg.MaxOccurrences)
}

// Occurrences returns the occurrences of ev overlapping [from, to), served from the cache when possible.
func (e *Engine) Occurrences(ev model.Event, from, to time.Time) []model.Occurrence {
	if e.cache != nil {
		if occ, ok := e.cache.Get(ev, from, to); ok {
			return slices.Clone(occ)
		}
	}
	occ := slices.Collect(Expand(ev, from, to, e.cfg.MaxOccurrences))
	if e.cache != nil {
		e.cache.Set(ev, from, to, slices.Clone(occ))
	}
	return occ
}

// DetectConflicts applies the engine's sweep threshold.
func (e *Engine) DetectConflicts(candidates, existing []model.Occurrence) []model.Conflict {
	return DetectConflicts(candidates, existing, e.cfg.SweepThreshold)
}

// Invalidate drops cached expansions of eventID.
func (e *Engine) Invalidate(eventID uuid.UUID) {
	if e.cache != nil {
		e.cache.Invalidate(eventID)
	}
}
