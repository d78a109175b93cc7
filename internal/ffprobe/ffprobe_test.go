// SPDX-License-Identifier: MIT

package ffprobe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/mediainfo"
)

const videoReport = `{
  "streams": [
    {
      "index": 0,
      "codec_type": "video",
      "codec_name": "h264",
      "level": 41,
      "width": 1920,
      "height": 1080
    },
    {
      "index": 1,
      "codec_type": "audio",
      "codec_name": "aac",
      "sample_rate": "48000",
      "channels": 6,
      "tags": {"language": "eng", "title": "Surround"}
    },
    {
      "index": 2,
      "codec_type": "subtitle",
      "codec_name": "subrip",
      "tags": {"language": "ger"}
    }
  ],
  "format": {
    "format_name": "matroska,webm",
    "duration": "5400.320000",
    "bit_rate": "8000000",
    "size": "5400320000",
    "tags": {"title": "Some Movie"}
  }
}`

const audioReport = `{
  "streams": [
    {"index": 0, "codec_type": "audio", "codec_name": "mp3", "sample_rate": "44100", "channels": 2},
    {"index": 1, "codec_type": "video", "codec_name": "mjpeg", "disposition": {"attached_pic": 1}}
  ],
  "format": {
    "format_name": "mp3",
    "duration": "180.5",
    "tags": {"artist": "Someone", "album": "Record", "track": "3/12", "disc": "1"}
  }
}`

func TestParseVideoReport(t *testing.T) {
	t.Parallel()
	info, err := parseReport([]byte(videoReport))
	require.NoError(t, err)

	assert.Equal(t, mediainfo.KindVideo, info.Kind)
	assert.Equal(t, "mkv", info.Container)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "4.1", info.VideoLevel)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, int64(8000000), info.Bitrate)
	assert.Equal(t, 5400*time.Second+320*time.Millisecond, info.Duration)

	require.Len(t, info.AudioTracks, 1)
	assert.Equal(t, "eng", info.AudioTracks[0].Lang)
	assert.Equal(t, 48000, info.AudioTracks[0].SampleRate)
	assert.Equal(t, 6, info.AudioTracks[0].Channels)

	require.Len(t, info.SubtitleTracks, 1)
	assert.Equal(t, "ger", info.SubtitleTracks[0].Lang)
	assert.False(t, info.SubtitleTracks[0].External)

	require.NotNil(t, info.Tags)
	assert.Equal(t, "Some Movie", info.Tags.Title)
}

func TestParseAudioReportSkipsCoverArt(t *testing.T) {
	t.Parallel()
	info, err := parseReport([]byte(audioReport))
	require.NoError(t, err)

	assert.Equal(t, mediainfo.KindAudio, info.Kind)
	assert.Equal(t, "mp3", info.Container)
	assert.Empty(t, info.VideoCodec)
	require.NotNil(t, info.Tags)
	want := &mediainfo.Tags{Artist: "Someone", Album: "Record", Track: 3, Disc: 1}
	assert.Empty(t, cmp.Diff(want, info.Tags))
}

func TestSidecarDiscovery(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	video := filepath.Join(dir, "movie.mkv")
	for _, n := range []string{"movie.mkv", "movie.eng.srt", "movie.srt", "movie.nfo", "other.srt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}

	p := New("", config.SubtitleConfig{LoadExternal: true})
	info := &mediainfo.MediaInfo{Kind: mediainfo.KindVideo}
	p.attachSidecars(info, video)

	require.Len(t, info.SubtitleTracks, 2)
	langs := []string{info.SubtitleTracks[0].Lang, info.SubtitleTracks[1].Lang}
	assert.Contains(t, langs, "eng")
	assert.Contains(t, langs, "")
	for _, s := range info.SubtitleTracks {
		assert.True(t, s.External)
		assert.NotEmpty(t, s.Path)
	}
}

func TestLevelFormatting(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "3.0", formatLevel(30))
	assert.Equal(t, "5.1", formatLevel(51))
	assert.Equal(t, "9", formatLevel(9))
}
