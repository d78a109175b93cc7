// SPDX-License-Identifier: MIT

// Package mediainfo defines the technical media profile produced by an
// external prober. The serving core treats these values as read-only
// input; it never computes them itself.
package mediainfo

import (
	"context"
	"time"
)

// Kind classifies a probed file.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// AudioTrack describes one audio stream of a media file.
type AudioTrack struct {
	ID         int
	Lang       string // ISO 639 code as reported by the prober, may be empty
	Codec      string
	Channels   int
	SampleRate int
	Title      string
}

// SubtitleTrack describes one subtitle stream, embedded or external.
type SubtitleTrack struct {
	ID       int
	Lang     string
	Codec    string
	Title    string
	External bool
	Path     string // file path for external tracks
	Priority int    // higher wins when several candidates match
}

// ImageInfo carries the colour/format descriptor used for image
// compliance negotiation.
type ImageInfo struct {
	Format string // "jpeg", "png", "gif", ...
	Width  int
	Height int
}

// Tags holds descriptive metadata read from the file's tag container.
// All fields are optional.
type Tags struct {
	Title     string
	Album     string
	Artist    string
	Composer  string
	Conductor string
	Genre     string
	Track     int
	Disc      int
	Date      string

	SeriesTitle  string
	EpisodeTitle string
	Season       int
	Episode      int
}

// MediaInfo is the opaque technical profile of one media file.
type MediaInfo struct {
	Kind           Kind
	Container      string
	Duration       time.Duration
	Bitrate        int64 // bits per second, 0 if unknown
	Width          int
	Height         int
	VideoCodec     string
	VideoLevel     string // encoder level as a decimal string, e.g. "4.1"
	Stereoscopy    string // "", "sbs", "tab"
	Size           int64  // bytes, 0 if unknown
	AudioTracks    []AudioTrack
	SubtitleTracks []SubtitleTrack
	Image          *ImageInfo
	Tags           *Tags
}

// FirstAudio returns the first audio track or nil.
func (m *MediaInfo) FirstAudio() *AudioTrack {
	if len(m.AudioTracks) == 0 {
		return nil
	}
	return &m.AudioTracks[0]
}

// Prober extracts a technical profile from a file on disk. Implemented
// outside the serving core (ffprobe wrapper in production, fakes in tests).
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
}
