// SPDX-License-Identifier: MIT

package decide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/engine"
	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/renderer"
)

func videoInfo() *mediainfo.MediaInfo {
	return &mediainfo.MediaInfo{
		Kind:       mediainfo.KindVideo,
		Container:  "mkv",
		Bitrate:    8_000_000,
		Width:      1920,
		Height:     1080,
		VideoCodec: "h264",
		VideoLevel: "4.1",
		AudioTracks: []mediainfo.AudioTrack{
			{ID: 1, Lang: "eng", Codec: "ac3", Channels: 6},
		},
	}
}

func newEngine(playback config.PlaybackConfig, subs config.SubtitleConfig) *Engine {
	return New(engine.DefaultRegistry(), playback, subs)
}

func TestDecideOrderedRules(t *testing.T) {
	t.Parallel()

	permissive := &renderer.Renderer{Name: "Open", SupportsSubtitles: true}
	strict := &renderer.Renderer{
		Name:                 "Strict",
		SupportedContainers:  []string{"mp4"},
		SupportedVideoCodecs: []string{"h264"},
		SupportsSubtitles:    true,
	}

	tests := []struct {
		name        string
		playback    config.PlaybackConfig
		info        *mediainfo.MediaInfo
		r           *renderer.Renderer
		ext         string
		wantConvert bool
		wantReason  Reason
	}{
		{
			name:        "global disable streams",
			playback:    config.PlaybackConfig{DisableConversion: true},
			info:        videoInfo(),
			r:           strict,
			ext:         "mkv",
			wantConvert: false,
			wantReason:  ReasonConversionDisabled,
		},
		{
			name:        "never-convert list streams before compatibility",
			playback:    config.PlaybackConfig{NeverConvert: []string{"mkv"}},
			info:        videoInfo(),
			r:           strict,
			ext:         "mkv",
			wantConvert: false,
			wantReason:  ReasonNeverConvert,
		},
		{
			name:        "no engine streams",
			playback:    config.PlaybackConfig{},
			info:        &mediainfo.MediaInfo{Kind: mediainfo.KindImage, Container: "jpeg"},
			r:           strict,
			ext:         "jpg",
			wantConvert: false,
			wantReason:  ReasonNoEngine,
		},
		{
			name:        "always-convert list converts",
			playback:    config.PlaybackConfig{AlwaysConvert: []string{"mkv"}},
			info:        videoInfo(),
			r:           permissive,
			ext:         "mkv",
			wantConvert: true,
			wantReason:  ReasonAlwaysConvert,
		},
		{
			name:        "unsupported container converts",
			playback:    config.PlaybackConfig{},
			info:        videoInfo(),
			r:           strict,
			ext:         "mkv",
			wantConvert: true,
			wantReason:  ReasonIncompatibleContainer,
		},
		{
			name:        "compatible streams",
			playback:    config.PlaybackConfig{},
			info:        videoInfo(),
			r:           permissive,
			ext:         "mkv",
			wantConvert: false,
			wantReason:  ReasonCompatible,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEngine(tt.playback, config.SubtitleConfig{})
			d := e.Decide("item-"+tt.name, tt.ext, tt.info, tt.r)
			assert.Equal(t, tt.wantConvert, d.Convert())
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestDecideCompatibilityLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mutate     func(*mediainfo.MediaInfo)
		r          renderer.Renderer
		wantReason Reason
	}{
		{
			name:       "resolution over ceiling",
			mutate:     func(m *mediainfo.MediaInfo) { m.Width, m.Height = 3840, 2160 },
			r:          renderer.Renderer{Name: "R", MaxWidth: 1920, MaxHeight: 1080, SupportsSubtitles: true},
			wantReason: ReasonIncompatibleResolution,
		},
		{
			name:       "bitrate over ceiling",
			mutate:     func(m *mediainfo.MediaInfo) { m.Bitrate = 40_000_000 },
			r:          renderer.Renderer{Name: "R", MaxBitrate: 20_000_000, SupportsSubtitles: true},
			wantReason: ReasonIncompatibleBitrate,
		},
		{
			name:       "level over ceiling",
			mutate:     func(m *mediainfo.MediaInfo) { m.VideoLevel = "5.1" },
			r:          renderer.Renderer{Name: "R", MaxVideoLevel: "4.1", SupportsSubtitles: true},
			wantReason: ReasonIncompatibleLevel,
		},
		{
			name:       "unparsable level is incompatible",
			mutate:     func(m *mediainfo.MediaInfo) { m.VideoLevel = "high@L4" },
			r:          renderer.Renderer{Name: "R", MaxVideoLevel: "4.1", SupportsSubtitles: true},
			wantReason: ReasonIncompatibleLevel,
		},
		{
			name:       "stereo layout mismatch",
			mutate:     func(m *mediainfo.MediaInfo) { m.Stereoscopy = "sbs" },
			r:          renderer.Renderer{Name: "R", StereoLayouts: []string{"tab"}, SupportsSubtitles: true},
			wantReason: ReasonIncompatibleStereo,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := videoInfo()
			tt.mutate(info)
			e := newEngine(config.PlaybackConfig{}, config.SubtitleConfig{})
			d := e.Decide("item-"+tt.name, "mkv", info, &tt.r)
			assert.True(t, d.Convert())
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestDecideSubtitleBurnIn(t *testing.T) {
	t.Parallel()

	info := videoInfo()
	info.SubtitleTracks = []mediainfo.SubtitleTrack{
		{ID: 1, Lang: "eng", Title: "English", Priority: 1},
	}
	r := &renderer.Renderer{Name: "NoSubs", SupportsSubtitles: false}

	e := newEngine(
		config.PlaybackConfig{AudioLangPrefs: []string{"eng"}},
		config.SubtitleConfig{LangPairs: [][2]string{{"eng", "eng"}}},
	)
	d := e.Decide("item-burnin", "mkv", info, r)

	assert.True(t, d.Convert())
	assert.Equal(t, ReasonSubtitleBurnIn, d.Reason)
	require.NotNil(t, d.Subtitle)
	assert.Equal(t, 1, d.Subtitle.ID)
	require.NotNil(t, d.Audio)
	assert.Equal(t, "eng", d.Audio.Lang)
}

func TestDecideCachedAndInvalidated(t *testing.T) {
	t.Parallel()

	e := newEngine(config.PlaybackConfig{}, config.SubtitleConfig{})
	r := &renderer.Renderer{Name: "Open", SupportsSubtitles: true}

	first := e.Decide("item-1", "mkv", videoInfo(), r)
	for i := 0; i < 5; i++ {
		assert.Same(t, first, e.Decide("item-1", "mkv", videoInfo(), r))
	}

	e.Invalidate("item-1")
	second := e.Decide("item-1", "mkv", videoInfo(), r)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Reason, second.Reason)
}

func TestDecidePerRendererIsolation(t *testing.T) {
	t.Parallel()

	e := newEngine(config.PlaybackConfig{}, config.SubtitleConfig{})
	open := &renderer.Renderer{Name: "Open", SupportsSubtitles: true}
	strict := &renderer.Renderer{Name: "Strict", SupportedContainers: []string{"mp4"}, SupportsSubtitles: true}

	dOpen := e.Decide("shared-item", "mkv", videoInfo(), open)
	dStrict := e.Decide("shared-item", "mkv", videoInfo(), strict)

	assert.False(t, dOpen.Convert())
	assert.True(t, dStrict.Convert())
	// Neither evaluation overwrote the other's cached decision.
	assert.Same(t, dOpen, e.Decide("shared-item", "mkv", videoInfo(), open))
	assert.Same(t, dStrict, e.Decide("shared-item", "mkv", videoInfo(), strict))
}

func TestDecisionCopyForClone(t *testing.T) {
	t.Parallel()

	e := newEngine(config.PlaybackConfig{}, config.SubtitleConfig{})
	r := &renderer.Renderer{Name: "Open", SupportsSubtitles: true}
	orig := e.Decide("orig", "mkv", videoInfo(), r)

	clone := orig.Copy()
	e.Adopt("orig#convert", r.Name, clone)
	assert.Same(t, clone, e.Decide("orig#convert", "mkv", nil, r))
	assert.Equal(t, orig.Reason, clone.Reason)
}

func TestInvalidateCoversShadowVariants(t *testing.T) {
	t.Parallel()

	e := newEngine(config.PlaybackConfig{}, config.SubtitleConfig{})
	r := &renderer.Renderer{Name: "Open", SupportsSubtitles: true}

	orig := e.Decide("/srv/a.mkv", "mkv", videoInfo(), r)
	e.Adopt("/srv/a.mkv#convert", r.Name, orig.Copy())
	e.Adopt("/srv/a.mkv#resume", r.Name, orig.Copy())
	// A sibling sharing the prefix as a plain name must survive.
	other := e.Decide("/srv/a.mkv.bak", "mkv", videoInfo(), r)

	e.Invalidate("/srv/a.mkv")

	assert.NotSame(t, orig, e.Decide("/srv/a.mkv", "mkv", videoInfo(), r))
	assert.NotSame(t, orig, e.Decide("/srv/a.mkv#convert", "mkv", videoInfo(), r))
	assert.Same(t, other, e.Decide("/srv/a.mkv.bak", "mkv", videoInfo(), r))
}

func TestPurgeDropsAllDecisions(t *testing.T) {
	t.Parallel()

	e := newEngine(config.PlaybackConfig{}, config.SubtitleConfig{})
	wide := &renderer.Renderer{Name: "TV", SupportsSubtitles: true}

	first := e.Decide("/srv/a.mkv", "mkv", videoInfo(), wide)
	assert.False(t, first.Convert())

	// A profile reload tightened the limits under the same name.
	e.Purge()
	narrow := &renderer.Renderer{Name: "TV", MaxWidth: 1280, MaxHeight: 720, SupportsSubtitles: true}
	second := e.Decide("/srv/a.mkv", "mkv", videoInfo(), narrow)
	assert.True(t, second.Convert())
	assert.Equal(t, ReasonIncompatibleResolution, second.Reason)
}
