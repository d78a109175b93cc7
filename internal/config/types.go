// SPDX-License-Identifier: MIT

// Package config holds the mediatree configuration model, loading and
// hot-reload machinery.
package config

import "time"

// Config is the full daemon configuration.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	HTTP      HTTPConfig       `yaml:"http"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Cache     CacheConfig      `yaml:"cache"`
	Resume    ResumeConfig     `yaml:"resume"`
	Shares    []ShareConfig    `yaml:"shares"`
	Renderers []RendererConfig `yaml:"renderers"`
	Playback  PlaybackConfig   `yaml:"playback"`
	Subtitles SubtitleConfig   `yaml:"subtitles"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// HTTPConfig configures the protocol HTTP surface.
type HTTPConfig struct {
	Listen          string        `yaml:"listen"`
	RateLimit       int           `yaml:"rate_limit"`        // requests per window per client, 0 disables
	RateWindow      time.Duration `yaml:"rate_window"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// CacheConfig configures the technical-profile cache.
type CacheConfig struct {
	Backend   string `yaml:"backend"` // "badger" (default), "redis", "memory", "off"
	Dir       string `yaml:"dir"`     // badger data directory
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// ResumeConfig configures resume-marker persistence.
type ResumeConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DBPath     string        `yaml:"db_path"`
	MinWatched time.Duration `yaml:"min_watched"` // minimum played time before a marker is created
}

// ShareConfig describes one shared folder exposed in the tree.
type ShareConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	// AlbumSort groups audio items by (disc, track) instead of insertion order.
	AlbumSort bool `yaml:"album_sort"`
	// Optical marks shares backed by a physical optical drive; discovery
	// concurrency drops to 1 for them.
	Optical bool `yaml:"optical"`
}

// RendererConfig declares a known renderer profile matched by User-Agent.
type RendererConfig struct {
	Name                      string   `yaml:"name"`
	UserAgentMatch            string   `yaml:"user_agent_match"`
	SupportedContainers       []string `yaml:"supported_containers"`
	SupportedVideoCodecs      []string `yaml:"supported_video_codecs"`
	SupportedAudioCodecs      []string `yaml:"supported_audio_codecs"`
	MaxBitrate                int64    `yaml:"max_bitrate"`
	MaxWidth                  int      `yaml:"max_width"`
	MaxHeight                 int      `yaml:"max_height"`
	MaxVideoLevel             string   `yaml:"max_video_level"`
	PreferredConvertContainer string   `yaml:"preferred_convert_container"`
	SupportsTimeSeek          bool     `yaml:"supports_time_seek"`
	TimeSeekDisablesByteSeek  bool     `yaml:"time_seek_disables_byte_seek"`
	SupportsSubtitles         bool     `yaml:"supports_subtitles"`
	StereoLayouts             []string `yaml:"stereo_layouts"` // 3D layouts the device renders, e.g. "sbs"
	ImageProfiles             []string `yaml:"image_profiles"`
	ConcurrencyCap            int      `yaml:"concurrency_cap"`
}

// PlaybackConfig holds global conversion policy.
type PlaybackConfig struct {
	DisableConversion bool     `yaml:"disable_conversion"`
	NeverConvert      []string `yaml:"never_convert"`  // file extensions
	AlwaysConvert     []string `yaml:"always_convert"` // file extensions
	AudioLangPrefs    []string `yaml:"audio_lang_prefs"`
}

// SubtitleConfig holds subtitle selection policy.
type SubtitleConfig struct {
	Disabled      bool     `yaml:"disabled"`
	ForceExternal bool     `yaml:"force_external"`
	LoadExternal  bool     `yaml:"load_external"`
	// LangPairs maps audio language to subtitle language, walked in order.
	// "*" matches any audio language, "off" as a subtitle value disables
	// subtitles for that pairing.
	LangPairs  [][2]string `yaml:"lang_pairs"`
	ForcedTag  string      `yaml:"forced_tag"`
	ForcedLang string      `yaml:"forced_lang"`
}

// Default returns a configuration with sensible defaults applied.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{Listen: ":8200", RateLimit: 120, RateWindow: time.Minute, ShutdownTimeout: 10 * time.Second},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			SamplingRate: 0.1,
		},
		Cache:  CacheConfig{Backend: "badger", Dir: "data/probecache"},
		Resume: ResumeConfig{Enabled: true, DBPath: "data/resume.db", MinWatched: 2 * time.Minute},
		Playback: PlaybackConfig{
			AudioLangPrefs: []string{"eng"},
		},
		Subtitles: SubtitleConfig{LoadExternal: true, ForcedTag: "forced"},
	}
}
