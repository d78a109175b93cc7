// SPDX-License-Identifier: MIT

// Package ffprobe implements the media prober on top of the ffprobe
// binary. Its output is the only place technical profiles come from.
package ffprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/mediainfo"
)

// sidecar extensions recognised as external subtitle files.
var subtitleExts = []string{".srt", ".ass", ".ssa", ".sub", ".vtt"}

// Prober shells out to ffprobe and maps the JSON report onto a
// technical profile. Safe for concurrent use.
type Prober struct {
	bin    string
	subs   config.SubtitleConfig
	logger zerolog.Logger
}

// New creates a prober. An empty bin falls back to "ffprobe" on PATH.
func New(bin string, subs config.SubtitleConfig) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{bin: bin, subs: subs, logger: log.WithComponent("ffprobe")}
}

func (p *Prober) Probe(ctx context.Context, path string) (*mediainfo.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "quiet",
		"-fflags", "+discardcorrupt",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	info, err := parseReport(out)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	if p.subs.LoadExternal && !p.subs.Disabled && info.Kind == mediainfo.KindVideo {
		p.attachSidecars(info, path)
	}
	return info, nil
}

// report mirrors the ffprobe JSON fields we consume. Numeric fields
// arrive as strings in the format section.
type report struct {
	Streams []struct {
		Index       int               `json:"index"`
		CodecType   string            `json:"codec_type"`
		CodecName   string            `json:"codec_name"`
		Level       int               `json:"level"`
		Width       int               `json:"width"`
		Height      int               `json:"height"`
		SampleRate  string            `json:"sample_rate"`
		Channels    int               `json:"channels"`
		Disposition map[string]int    `json:"disposition"`
		Tags        map[string]string `json:"tags"`
	} `json:"streams"`
	Format struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		BitRate    string            `json:"bit_rate"`
		Size       string            `json:"size"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

func parseReport(out []byte) (*mediainfo.MediaInfo, error) {
	var rep report
	if err := json.Unmarshal(out, &rep); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}

	info := &mediainfo.MediaInfo{
		Container: primaryFormat(rep.Format.FormatName),
	}
	if secs, err := strconv.ParseFloat(rep.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	info.Bitrate, _ = strconv.ParseInt(rep.Format.BitRate, 10, 64)
	info.Size, _ = strconv.ParseInt(rep.Format.Size, 10, 64)

	for _, s := range rep.Streams {
		switch s.CodecType {
		case "video":
			if isAttachedPicture(s.Disposition) {
				continue
			}
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
				if s.Level > 0 {
					info.VideoLevel = formatLevel(s.Level)
				}
			}
		case "audio":
			sr, _ := strconv.Atoi(s.SampleRate)
			info.AudioTracks = append(info.AudioTracks, mediainfo.AudioTrack{
				ID:         s.Index,
				Lang:       s.Tags["language"],
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: sr,
				Title:      s.Tags["title"],
			})
		case "subtitle":
			info.SubtitleTracks = append(info.SubtitleTracks, mediainfo.SubtitleTrack{
				ID:    s.Index,
				Lang:  s.Tags["language"],
				Codec: s.CodecName,
				Title: s.Tags["title"],
			})
		}
	}

	switch {
	case isImageCodec(info.VideoCodec) && len(info.AudioTracks) == 0 && info.Duration < time.Second:
		info.Kind = mediainfo.KindImage
		info.Image = &mediainfo.ImageInfo{
			Format: imageFormat(info.VideoCodec),
			Width:  info.Width,
			Height: info.Height,
		}
	case info.VideoCodec != "":
		info.Kind = mediainfo.KindVideo
	case len(info.AudioTracks) > 0:
		info.Kind = mediainfo.KindAudio
	default:
		info.Kind = mediainfo.KindUnknown
	}

	info.Tags = parseTags(rep.Format.Tags)
	return info, nil
}

// attachSidecars appends subtitle files sitting next to the video,
// matched on the video's base name prefix.
func (p *Prober) attachSidecars(info *mediainfo.MediaInfo, videoPath string) {
	dir := filepath.Dir(videoPath)
	stem := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		p.logger.Debug().Err(err).Str(log.FieldPath, dir).Msg("sidecar scan failed")
		return
	}
	next := len(info.SubtitleTracks)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, stem) || !hasSubtitleExt(name) {
			continue
		}
		info.SubtitleTracks = append(info.SubtitleTracks, mediainfo.SubtitleTrack{
			ID:       1000 + next, // keep clear of ffprobe stream indexes
			Lang:     sidecarLang(name, stem),
			Codec:    strings.TrimPrefix(filepath.Ext(name), "."),
			External: true,
			Path:     filepath.Join(dir, name),
		})
		next++
	}
}

// sidecarLang extracts the language token from names like
// "movie.eng.srt"; a bare "movie.srt" yields no language.
func sidecarLang(name, stem string) string {
	rest := strings.TrimPrefix(name, stem)
	rest = strings.TrimSuffix(rest, filepath.Ext(rest))
	rest = strings.Trim(rest, ".")
	if len(rest) == 2 || len(rest) == 3 {
		return strings.ToLower(rest)
	}
	return ""
}

func hasSubtitleExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range subtitleExts {
		if ext == s {
			return true
		}
	}
	return false
}

// primaryFormat picks the first token of ffprobe's comma-separated
// format_name and maps demuxer aliases to container names.
func primaryFormat(name string) string {
	first := name
	if i := strings.IndexByte(name, ','); i >= 0 {
		first = name[:i]
	}
	switch first {
	case "matroska", "webm":
		return "mkv"
	case "mov", "m4a":
		return "mp4"
	case "mpegts":
		return "mpegts"
	}
	return first
}

// formatLevel renders ffprobe's integer level (e.g. 41) as the decimal
// form compliance checks compare against ("4.1").
func formatLevel(level int) string {
	if level >= 10 {
		return fmt.Sprintf("%d.%d", level/10, level%10)
	}
	return strconv.Itoa(level)
}

func isAttachedPicture(disposition map[string]int) bool {
	return disposition["attached_pic"] == 1
}

func isImageCodec(codec string) bool {
	switch codec {
	case "mjpeg", "png", "gif", "bmp", "webp":
		return true
	}
	return false
}

func imageFormat(codec string) string {
	if codec == "mjpeg" {
		return "jpeg"
	}
	return codec
}

func parseTags(raw map[string]string) *mediainfo.Tags {
	if len(raw) == 0 {
		return nil
	}
	lower := make(map[string]string, len(raw))
	for k, v := range raw {
		lower[strings.ToLower(k)] = v
	}
	t := &mediainfo.Tags{
		Title:        lower["title"],
		Album:        lower["album"],
		Artist:       lower["artist"],
		Composer:     lower["composer"],
		Conductor:    lower["conductor"],
		Genre:        lower["genre"],
		Date:         lower["date"],
		SeriesTitle:  lower["show"],
		EpisodeTitle: lower["episode_id"],
	}
	t.Track = leadingInt(lower["track"])
	t.Disc = leadingInt(lower["disc"])
	t.Season = leadingInt(lower["season_number"])
	t.Episode = leadingInt(lower["episode_sort"])
	if *t == (mediainfo.Tags{}) {
		return nil
	}
	return t
}

// leadingInt parses "3" and "3/12" alike.
func leadingInt(v string) int {
	if i := strings.IndexByte(v, '/'); i >= 0 {
		v = v[:i]
	}
	n, _ := strconv.Atoi(strings.TrimSpace(v))
	return n
}
