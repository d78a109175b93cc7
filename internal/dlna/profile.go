// SPDX-License-Identifier: MIT

// Package dlna computes the protocol compliance codes a renderer matches
// against: ORG_PN profile names, ORG_OP operation flags, ORG_CI and
// ORG_FLAGS, and the ranked image descriptor set. Renderers compare
// these strings for exact equality; a wrong code breaks playback on real
// devices, an absent one merely forces MIME-based inference.
package dlna

import (
	"strings"

	"github.com/trelleck/mediatree/internal/mediainfo"
)

// Conversion describes the chosen presentation when an item is converted.
type Conversion struct {
	EngineName      string
	OutputContainer string
}

// ProfileName returns the ORG_PN profile for the presentation, or an
// empty string when no confident match exists.
func ProfileName(info *mediainfo.MediaInfo, conv *Conversion) string {
	if info == nil {
		return ""
	}
	if conv != nil {
		return convertedProfile(info, conv)
	}
	return streamedProfile(info)
}

// streamedProfile keys on the source container and codec family.
func streamedProfile(info *mediainfo.MediaInfo) string {
	container := strings.ToLower(info.Container)
	switch info.Kind {
	case mediainfo.KindVideo:
		codec := strings.ToLower(info.VideoCodec)
		switch {
		case container == "mpegts" && codec == "h264":
			return "AVC_TS_HD_24_AC3"
		case container == "mpegts" && codec == "mpeg2video":
			return "MPEG_TS_SD_EU_ISO"
		case container == "mp4" && codec == "h264":
			return "AVC_MP4_MP_SD_AAC_MULT5"
		case container == "mpeg" || container == "mpegps":
			return "MPEG_PS_PAL"
		}
	case mediainfo.KindAudio:
		switch container {
		case "mp3":
			return "MP3"
		case "mp4", "m4a":
			return "AAC_ISO_320"
		case "wav", "lpcm":
			return "LPCM"
		case "wma":
			return "WMABASE"
		}
	case mediainfo.KindImage:
		if info.Image != nil {
			return imageProfileFor(info.Image.Format, info.Image.Width, info.Image.Height)
		}
	}
	return ""
}

// convertedProfile keys on the engine's multiplexing container. Engines
// with an unrecognised output yield no code.
func convertedProfile(info *mediainfo.MediaInfo, conv *Conversion) string {
	switch strings.ToLower(conv.OutputContainer) {
	case "mpegts":
		return "MPEG_TS_SD_EU_ISO"
	case "mpegps":
		return "MPEG_PS_PAL"
	case "lpcm":
		return "LPCM"
	case "mp3":
		return "MP3"
	}
	return ""
}

// imageProfileFor maps an encoding plus pixel dimensions onto the sized
// DLNA image profile families.
func imageProfileFor(format string, width, height int) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		switch {
		case width <= 160 && height <= 160:
			return "JPEG_TN"
		case width <= 640 && height <= 480:
			return "JPEG_SM"
		case width <= 1024 && height <= 768:
			return "JPEG_MED"
		default:
			return "JPEG_LRG"
		}
	case "png":
		if width <= 160 && height <= 160 {
			return "PNG_TN"
		}
		return "PNG_LRG"
	case "gif":
		return "GIF_LRG"
	}
	return ""
}

// MimeType returns the wire MIME type for the presentation.
func MimeType(info *mediainfo.MediaInfo, conv *Conversion) string {
	if conv != nil {
		switch strings.ToLower(conv.OutputContainer) {
		case "mpegts":
			return "video/mpeg"
		case "lpcm":
			return "audio/L16"
		case "mp3":
			return "audio/mpeg"
		}
		return "application/octet-stream"
	}
	if info == nil {
		return "application/octet-stream"
	}
	switch info.Kind {
	case mediainfo.KindVideo:
		switch strings.ToLower(info.Container) {
		case "mp4":
			return "video/mp4"
		case "mkv", "matroska":
			return "video/x-matroska"
		case "avi":
			return "video/avi"
		default:
			return "video/mpeg"
		}
	case mediainfo.KindAudio:
		switch strings.ToLower(info.Container) {
		case "mp3":
			return "audio/mpeg"
		case "flac":
			return "audio/flac"
		case "wav", "lpcm":
			return "audio/L16"
		case "mp4", "m4a":
			return "audio/mp4"
		default:
			return "audio/mpeg"
		}
	case mediainfo.KindImage:
		if info.Image != nil {
			switch strings.ToLower(info.Image.Format) {
			case "png":
				return "image/png"
			case "gif":
				return "image/gif"
			}
		}
		return "image/jpeg"
	}
	return "application/octet-stream"
}
