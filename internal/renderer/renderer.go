// SPDX-License-Identifier: MIT

// Package renderer models the capability set a playback device declares,
// and detects which configured profile an incoming request belongs to.
package renderer

import (
	"strings"

	"github.com/trelleck/mediatree/internal/config"
)

// Renderer is one playback device profile. A zero capability list means
// "no restriction declared": checks against it are permissive.
type Renderer struct {
	Name     string
	Identity string // network identity (remote address), set per request

	UserAgentMatch       string
	SupportedContainers  []string
	SupportedVideoCodecs []string
	SupportedAudioCodecs []string

	MaxBitrate    int64
	MaxWidth      int
	MaxHeight     int
	MaxVideoLevel string

	PreferredConvertContainer string
	SupportsTimeSeek          bool
	TimeSeekDisablesByteSeek  bool
	SupportsSubtitles         bool

	// StereoLayouts lists 3D layouts the device renders natively; empty
	// means no restriction.
	StereoLayouts []string

	// ImageProfiles nil means the renderer declared no protocol info at
	// all; every image profile is treated as supported.
	ImageProfiles []string

	ConcurrencyCap int
}

// SupportsContainer reports whether the renderer can play the container
// natively. An empty capability list accepts everything.
func (r *Renderer) SupportsContainer(container string) bool {
	return matches(r.SupportedContainers, container)
}

// SupportsVideoCodec reports whether the renderer decodes the codec.
func (r *Renderer) SupportsVideoCodec(codec string) bool {
	return matches(r.SupportedVideoCodecs, codec)
}

// SupportsAudioCodec reports whether the renderer decodes the codec.
func (r *Renderer) SupportsAudioCodec(codec string) bool {
	return matches(r.SupportedAudioCodecs, codec)
}

// SupportsStereoLayout reports whether the renderer handles the given
// stereoscopic layout. Flat content (empty layout) always passes.
func (r *Renderer) SupportsStereoLayout(layout string) bool {
	if layout == "" {
		return true
	}
	return matches(r.StereoLayouts, layout)
}

// SupportsImageProfile reports whether the renderer accepts the DLNA
// image profile. A renderer that declared no image capability at all is
// treated as supporting everything.
func (r *Renderer) SupportsImageProfile(profile string) bool {
	if r.ImageProfiles == nil {
		return true
	}
	return matches(r.ImageProfiles, profile)
}

func matches(declared []string, value string) bool {
	if len(declared) == 0 {
		return true
	}
	for _, d := range declared {
		if strings.EqualFold(strings.TrimSpace(d), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}

// Detector matches requests to configured renderer profiles.
type Detector struct {
	profiles []Renderer
	fallback Renderer
}

// NewDetector builds a detector from renderer configuration. The fallback
// profile declares no capabilities, which makes every compatibility check
// permissive.
func NewDetector(cfgs []config.RendererConfig) *Detector {
	d := &Detector{
		fallback: Renderer{Name: "Generic", SupportsTimeSeek: false, SupportsSubtitles: true},
	}
	for _, c := range cfgs {
		d.profiles = append(d.profiles, fromConfig(c))
	}
	return d
}

func fromConfig(c config.RendererConfig) Renderer {
	cc := c.ConcurrencyCap
	if cc <= 0 {
		cc = 3
	}
	return Renderer{
		Name:                      c.Name,
		UserAgentMatch:            c.UserAgentMatch,
		SupportedContainers:       c.SupportedContainers,
		SupportedVideoCodecs:      c.SupportedVideoCodecs,
		SupportedAudioCodecs:      c.SupportedAudioCodecs,
		MaxBitrate:                c.MaxBitrate,
		MaxWidth:                  c.MaxWidth,
		MaxHeight:                 c.MaxHeight,
		MaxVideoLevel:             c.MaxVideoLevel,
		PreferredConvertContainer: c.PreferredConvertContainer,
		SupportsTimeSeek:          c.SupportsTimeSeek,
		TimeSeekDisablesByteSeek:  c.TimeSeekDisablesByteSeek,
		SupportsSubtitles:         c.SupportsSubtitles,
		StereoLayouts:             c.StereoLayouts,
		ImageProfiles:             c.ImageProfiles,
		ConcurrencyCap:            cc,
	}
}

// Detect returns the renderer profile for the given request metadata.
// Matching is by case-insensitive User-Agent substring, first profile
// wins; unknown agents get the permissive fallback.
func (d *Detector) Detect(userAgent, remoteAddr string) *Renderer {
	ua := strings.ToLower(userAgent)
	for i := range d.profiles {
		m := strings.ToLower(d.profiles[i].UserAgentMatch)
		if m != "" && strings.Contains(ua, m) {
			r := d.profiles[i] // copy, Identity is per request
			r.Identity = remoteAddr
			return &r
		}
	}
	r := d.fallback
	r.Identity = remoteAddr
	return &r
}
