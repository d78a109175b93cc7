// SPDX-License-Identifier: MIT

package dlna

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/renderer"
)

func TestProfileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info *mediainfo.MediaInfo
		conv *Conversion
		want string
	}{
		{
			name: "streamed ts h264",
			info: &mediainfo.MediaInfo{Kind: mediainfo.KindVideo, Container: "mpegts", VideoCodec: "h264"},
			want: "AVC_TS_HD_24_AC3",
		},
		{
			name: "streamed mp4 h264",
			info: &mediainfo.MediaInfo{Kind: mediainfo.KindVideo, Container: "mp4", VideoCodec: "h264"},
			want: "AVC_MP4_MP_SD_AAC_MULT5",
		},
		{
			name: "streamed mkv has no confident match",
			info: &mediainfo.MediaInfo{Kind: mediainfo.KindVideo, Container: "mkv", VideoCodec: "h264"},
			want: "",
		},
		{
			name: "converted to mpegts",
			info: &mediainfo.MediaInfo{Kind: mediainfo.KindVideo, Container: "mkv", VideoCodec: "hevc"},
			conv: &Conversion{EngineName: "ffmpeg-mpegts", OutputContainer: "mpegts"},
			want: "MPEG_TS_SD_EU_ISO",
		},
		{
			name: "converted audio to lpcm",
			info: &mediainfo.MediaInfo{Kind: mediainfo.KindAudio, Container: "flac"},
			conv: &Conversion{EngineName: "ffmpeg-audio", OutputContainer: "lpcm"},
			want: "LPCM",
		},
		{
			name: "streamed mp3",
			info: &mediainfo.MediaInfo{Kind: mediainfo.KindAudio, Container: "mp3"},
			want: "MP3",
		},
		{
			name: "image by resolution",
			info: &mediainfo.MediaInfo{Kind: mediainfo.KindImage, Image: &mediainfo.ImageInfo{Format: "jpeg", Width: 800, Height: 600}},
			want: "JPEG_MED",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ProfileName(tt.info, tt.conv))
		})
	}
}

func TestSeekForAndOpFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                                             string
		converting, engineTS, rendererTS, dropByteOnTime bool
		want                                             string
	}{
		{"streamed without time seek", false, false, false, false, "01"},
		{"streamed with renderer time seek", false, false, true, false, "11"},
		{"converted with both capabilities", true, true, true, false, "10"},
		{"converted engine cannot time seek", true, false, true, false, "00"},
		{"renderer override drops byte seek", false, true, true, true, "10"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := SeekFor(tt.converting, tt.engineTS, tt.rendererTS, tt.dropByteOnTime)
			assert.Equal(t, tt.want, s.OpFlags())
		})
	}
}

func TestContentFeatures(t *testing.T) {
	t.Parallel()

	got := ContentFeatures("MPEG_TS_SD_EU_ISO", Seek{Time: true}, true)
	assert.Equal(t, "DLNA.ORG_PN=MPEG_TS_SD_EU_ISO;DLNA.ORG_OP=10;DLNA.ORG_CI=1;DLNA.ORG_FLAGS="+defaultFlags, got)

	// No profile name: the PN field is omitted, not left empty.
	got = ContentFeatures("", Seek{Byte: true}, false)
	assert.Equal(t, "DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS="+defaultFlags, got)

	assert.Equal(t,
		"http-get:*:video/mpeg:"+got,
		ProtocolInfo("video/mpeg", got))
}

func largeJpeg() *mediainfo.MediaInfo {
	return &mediainfo.MediaInfo{
		Kind: mediainfo.KindImage,
		Size: 2 << 20,
		Image: &mediainfo.ImageInfo{Format: "jpeg", Width: 1920, Height: 1080},
	}
}

func TestImageDescriptorsLargeSource(t *testing.T) {
	t.Parallel()

	open := &renderer.Renderer{Name: "Open"}
	ds := ImageDescriptors(largeJpeg(), open)
	require.NotEmpty(t, ds)

	// Thumbnail first, then the large profile as primary full resolution.
	assert.True(t, ds[0].Thumbnail)
	assert.Equal(t, "JPEG_TN", ds[0].Profile)
	assert.Equal(t, "JPEG_LRG", ds[1].Profile)
	assert.False(t, ds[1].Conversion)
	assert.Equal(t, 1920, ds[1].Width)

	// The exact-resolution offer follows the sized family.
	assert.Equal(t, "JPEG_RES_1920_1080", ds[2].Profile)

	// All thumbnails precede all full-resolution descriptors.
	sawFull := false
	for _, d := range ds {
		if !d.Thumbnail {
			sawFull = true
		}
		if d.Thumbnail {
			assert.False(t, sawFull, "thumbnail after full-resolution descriptor")
		}
	}
}

func TestImageDescriptorsWidthBeforeHeight(t *testing.T) {
	t.Parallel()

	ds := ImageDescriptors(largeJpeg(), &renderer.Renderer{Name: "Open"})

	var full []Descriptor
	for _, d := range ds {
		if !d.Thumbnail && d.Conversion {
			full = append(full, d)
		}
	}
	require.GreaterOrEqual(t, len(full), 2)
	for i := 1; i < len(full); i++ {
		if full[i-1].Width != full[i].Width {
			assert.Greater(t, full[i-1].Width, full[i].Width)
		} else {
			assert.GreaterOrEqual(t, full[i-1].Height, full[i].Height)
		}
	}
}

func TestImageDescriptorsFiltered(t *testing.T) {
	t.Parallel()

	limited := &renderer.Renderer{Name: "Limited", ImageProfiles: []string{"JPEG_TN", "JPEG_SM"}}
	ds := ImageDescriptors(largeJpeg(), limited)
	require.Len(t, ds, 2)
	assert.Equal(t, "JPEG_TN", ds[0].Profile)
	assert.Equal(t, "JPEG_SM", ds[1].Profile)

	// No capability information at all: nothing is filtered out.
	open := ImageDescriptors(largeJpeg(), &renderer.Renderer{Name: "Open"})
	assert.Greater(t, len(open), len(ds))
}

func TestImageDescriptorsPng(t *testing.T) {
	t.Parallel()

	info := &mediainfo.MediaInfo{
		Kind: mediainfo.KindImage,
		Image: &mediainfo.ImageInfo{Format: "png", Width: 500, Height: 400},
	}
	ds := ImageDescriptors(info, &renderer.Renderer{Name: "Open"})
	require.NotEmpty(t, ds)

	// PNG source: PNG targets rank before JPEG ones within each group.
	var firstFull Descriptor
	for _, d := range ds {
		if !d.Thumbnail {
			firstFull = d
			break
		}
	}
	assert.Equal(t, "PNG_LRG", firstFull.Profile)
	assert.False(t, firstFull.Conversion)

	for _, d := range ds {
		assert.False(t, strings.HasPrefix(d.Profile, "JPEG_RES_"), "no exact-res descriptor for png sources")
	}
}
