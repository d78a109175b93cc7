// SPDX-License-Identifier: MIT

// Package decide implements the rendering decision engine: for one
// (item, renderer) pair it settles stream-vs-convert, picks the
// conversion engine and the audio/subtitle tracks, and caches the result
// until the item's profile or the renderer context changes.
package decide

import (
	"strconv"
	"strings"
	"sync"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/engine"
	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/metrics"
	"github.com/trelleck/mediatree/internal/renderer"
	"github.com/trelleck/mediatree/internal/tracks"
)

// Reason explains a decision outcome.
type Reason string

const (
	ReasonConversionDisabled     Reason = "conversion_disabled"
	ReasonNeverConvert           Reason = "never_convert"
	ReasonNoEngine               Reason = "no_engine"
	ReasonAlwaysConvert          Reason = "always_convert"
	ReasonIncompatibleContainer  Reason = "incompatible_container"
	ReasonIncompatibleCodec      Reason = "incompatible_codec"
	ReasonIncompatibleResolution Reason = "incompatible_resolution"
	ReasonIncompatibleBitrate    Reason = "incompatible_bitrate"
	ReasonIncompatibleLevel      Reason = "incompatible_level"
	ReasonIncompatibleStereo     Reason = "incompatible_stereo"
	ReasonSubtitleBurnIn         Reason = "subtitle_burn_in"
	ReasonCompatible             Reason = "compatible"
)

// Decision is the cached outcome for one (item, renderer) pair.
type Decision struct {
	Engine   engine.Engine // nil means stream as-is
	Audio    *mediainfo.AudioTrack
	Subtitle *mediainfo.SubtitleTrack
	Reason   Reason
}

// Convert reports whether the item must be converted.
func (d *Decision) Convert() bool {
	return d != nil && d.Engine != nil
}

// Copy returns a decision suitable for attaching to a clone of the item.
// Clones exist to offer an alternative presentation of the same decision
// context, so the decision is carried over rather than recomputed.
func (d *Decision) Copy() *Decision {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Engine computes and caches rendering decisions.
type Engine struct {
	registry *engine.Registry
	playback config.PlaybackConfig
	subs     config.SubtitleConfig

	mu    sync.RWMutex
	cache map[string]*Decision
}

// New creates a decision engine with the given conversion-engine registry
// and playback policy.
func New(reg *engine.Registry, playback config.PlaybackConfig, subs config.SubtitleConfig) *Engine {
	return &Engine{
		registry: reg,
		playback: playback,
		subs:     subs,
		cache:    make(map[string]*Decision),
	}
}

func cacheKey(itemKey, rendererName string) string {
	return itemKey + "\x00" + rendererName
}

// Decide returns the rendering decision for the item under the given
// renderer, computing it on first use. itemKey must be stable for the
// item's technical profile; ext is the lowercased file extension without
// the dot.
func (e *Engine) Decide(itemKey, ext string, info *mediainfo.MediaInfo, r *renderer.Renderer) *Decision {
	key := cacheKey(itemKey, r.Name)

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return cached
	}

	d := e.evaluate(ext, info, r)

	e.mu.Lock()
	// Another caller may have raced us here; keep the first result so
	// repeated calls stay identical.
	if prior, ok := e.cache[key]; ok {
		d = prior
	} else {
		e.cache[key] = d
	}
	e.mu.Unlock()

	engineName := ""
	if d.Engine != nil {
		engineName = d.Engine.Name()
	}
	metrics.RecordDecision(d.Convert(), engineName, string(d.Reason))
	return d
}

// Convertible reports whether some conversion engine could take the
// item on at all. Used when deciding whether a converted rendition is
// worth offering alongside the original.
func (e *Engine) Convertible(info *mediainfo.MediaInfo) bool {
	if e.playback.DisableConversion {
		return false
	}
	return e.registry.PickBest(info) != nil
}

// Adopt seeds the cache for a clone with a carried-over decision.
func (e *Engine) Adopt(itemKey, rendererName string, d *Decision) {
	e.mu.Lock()
	e.cache[cacheKey(itemKey, rendererName)] = d
	e.mu.Unlock()
}

// Invalidate drops all cached decisions for the item and its shadow
// presentations, across renderers. Call when the item's technical
// profile changes.
func (e *Engine) Invalidate(itemKey string) {
	exact := itemKey + "\x00"
	variants := itemKey + "#"
	e.mu.Lock()
	for k := range e.cache {
		if strings.HasPrefix(k, exact) || strings.HasPrefix(k, variants) {
			delete(e.cache, k)
		}
	}
	e.mu.Unlock()
}

// Purge empties the whole cache. Cached outcomes embed renderer limits,
// so a profile reload has to start over.
func (e *Engine) Purge() {
	e.mu.Lock()
	e.cache = make(map[string]*Decision)
	e.mu.Unlock()
}

// evaluate runs the ordered decision rules. Forced settings short-circuit
// before any compatibility inspection.
func (e *Engine) evaluate(ext string, info *mediainfo.MediaInfo, r *renderer.Renderer) *Decision {
	d := &Decision{}
	if info != nil {
		d.Audio = tracks.SelectAudio(info.AudioTracks, e.playback.AudioLangPrefs)
		audioLang := ""
		if d.Audio != nil {
			audioLang = d.Audio.Lang
		}
		d.Subtitle = tracks.SelectSubtitle(audioLang, info.SubtitleTracks, e.subs)
	}

	if e.playback.DisableConversion {
		d.Reason = ReasonConversionDisabled
		return d
	}
	if containsFold(e.playback.NeverConvert, ext) {
		d.Reason = ReasonNeverConvert
		return d
	}

	candidate := e.registry.PickBest(info)
	if candidate == nil {
		d.Reason = ReasonNoEngine
		return d
	}

	if containsFold(e.playback.AlwaysConvert, ext) {
		d.Engine = candidate
		d.Reason = ReasonAlwaysConvert
		return d
	}

	if reason, ok := incompatibility(info, r, d.Subtitle); ok {
		d.Engine = candidate
		d.Reason = reason
		return d
	}

	d.Reason = ReasonCompatible
	return d
}

// incompatibility inspects the profile against renderer limits. The first
// failing check decides the reason; any single failure flips the outcome
// to convert.
func incompatibility(info *mediainfo.MediaInfo, r *renderer.Renderer, sub *mediainfo.SubtitleTrack) (Reason, bool) {
	if info == nil {
		return "", false
	}
	if !r.SupportsContainer(info.Container) {
		return ReasonIncompatibleContainer, true
	}
	if info.VideoCodec != "" && !r.SupportsVideoCodec(info.VideoCodec) {
		return ReasonIncompatibleCodec, true
	}
	if a := info.FirstAudio(); a != nil && !r.SupportsAudioCodec(a.Codec) {
		return ReasonIncompatibleCodec, true
	}
	if (r.MaxWidth > 0 && info.Width > r.MaxWidth) || (r.MaxHeight > 0 && info.Height > r.MaxHeight) {
		return ReasonIncompatibleResolution, true
	}
	if r.MaxBitrate > 0 && info.Bitrate > r.MaxBitrate {
		return ReasonIncompatibleBitrate, true
	}
	if r.MaxVideoLevel != "" && info.VideoLevel != "" {
		if !levelWithin(info.VideoLevel, r.MaxVideoLevel) {
			return ReasonIncompatibleLevel, true
		}
	}
	if !r.SupportsStereoLayout(info.Stereoscopy) {
		return ReasonIncompatibleStereo, true
	}
	if sub != nil && !r.SupportsSubtitles {
		return ReasonSubtitleBurnIn, true
	}
	return "", false
}

// levelWithin compares encoder levels numerically. An unparsable level is
// treated as exceeding the ceiling.
func levelWithin(level, ceiling string) bool {
	lv, err := strconv.ParseFloat(strings.TrimSpace(level), 64)
	if err != nil {
		return false
	}
	limit, err := strconv.ParseFloat(strings.TrimSpace(ceiling), 64)
	if err != nil {
		return false
	}
	return lv <= limit
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
