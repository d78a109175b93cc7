// SPDX-License-Identifier: MIT

package tree

import (
	"path/filepath"
	"strings"

	"github.com/trelleck/mediatree/internal/mediainfo"
)

// knownFormats maps file extensions to the media kind they carry.
// Files outside this table are not media and never enter the tree.
var knownFormats = map[string]mediainfo.Kind{
	"avi":  mediainfo.KindVideo,
	"mkv":  mediainfo.KindVideo,
	"mp4":  mediainfo.KindVideo,
	"m4v":  mediainfo.KindVideo,
	"mov":  mediainfo.KindVideo,
	"mpg":  mediainfo.KindVideo,
	"mpeg": mediainfo.KindVideo,
	"ts":   mediainfo.KindVideo,
	"m2ts": mediainfo.KindVideo,
	"vob":  mediainfo.KindVideo,
	"wmv":  mediainfo.KindVideo,
	"webm": mediainfo.KindVideo,
	"iso":  mediainfo.KindVideo,

	"mp3":  mediainfo.KindAudio,
	"flac": mediainfo.KindAudio,
	"ogg":  mediainfo.KindAudio,
	"oga":  mediainfo.KindAudio,
	"m4a":  mediainfo.KindAudio,
	"aac":  mediainfo.KindAudio,
	"wav":  mediainfo.KindAudio,
	"wma":  mediainfo.KindAudio,
	"ape":  mediainfo.KindAudio,

	"jpg":  mediainfo.KindImage,
	"jpeg": mediainfo.KindImage,
	"png":  mediainfo.KindImage,
	"gif":  mediainfo.KindImage,
}

// ExtensionOf returns the lowercased extension without the dot.
func ExtensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// KindForPath classifies a file name by extension.
func KindForPath(name string) mediainfo.Kind {
	return knownFormats[ExtensionOf(name)]
}

// infoFromName builds a minimal profile for entries that cannot be
// probed directly, such as archive members.
func infoFromName(name string) *mediainfo.MediaInfo {
	ext := ExtensionOf(name)
	info := &mediainfo.MediaInfo{
		Kind:      knownFormats[ext],
		Container: ext,
	}
	return info
}
