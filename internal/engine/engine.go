// SPDX-License-Identifier: MIT

// Package engine holds the registry of on-the-fly conversion engines.
// The serving core only needs engine metadata to make and describe
// decisions; process execution lives outside this repository.
package engine

import (
	"strings"
	"sync"

	"github.com/trelleck/mediatree/internal/mediainfo"
)

// Engine describes one conversion engine.
type Engine interface {
	// Name is the stable identifier used in logs and metrics.
	Name() string
	// OutputContainer is the transport container the engine muxes into.
	OutputContainer() string
	// TimeSeekable reports whether the engine honours time-based seeks.
	TimeSeekable() bool
	// Score rates how well the engine handles the given profile. Zero or
	// negative means "cannot handle".
	Score(info *mediainfo.MediaInfo) int
}

// Registry selects the best engine for a technical profile. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines []Engine
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends an engine. Registration order breaks score ties.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines = append(r.engines, e)
}

// PickBest returns the highest-scoring engine for the profile, or nil
// when no engine can handle it.
func (r *Registry) PickBest(info *mediainfo.MediaInfo) Engine {
	if info == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Engine
	bestScore := 0
	for _, e := range r.engines {
		if s := e.Score(info); s > bestScore {
			best, bestScore = e, s
		}
	}
	return best
}

// Builtin engines. These are metadata-only descriptors of the engines the
// conversion layer ships with.

type tsVideoEngine struct{}

func (tsVideoEngine) Name() string            { return "ffmpeg-mpegts" }
func (tsVideoEngine) OutputContainer() string { return "mpegts" }
func (tsVideoEngine) TimeSeekable() bool      { return true }
func (tsVideoEngine) Score(info *mediainfo.MediaInfo) int {
	if info.Kind != mediainfo.KindVideo {
		return 0
	}
	// Strongest candidate for anything with a video stream.
	if strings.EqualFold(info.Container, "mpegts") {
		return 1
	}
	return 2
}

type audioEngine struct{}

func (audioEngine) Name() string            { return "ffmpeg-audio" }
func (audioEngine) OutputContainer() string { return "lpcm" }
func (audioEngine) TimeSeekable() bool      { return false }
func (audioEngine) Score(info *mediainfo.MediaInfo) int {
	if info.Kind != mediainfo.KindAudio {
		return 0
	}
	return 2
}

// DefaultRegistry returns a registry populated with the built-in engines.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(tsVideoEngine{})
	r.Register(audioEngine{})
	return r
}
