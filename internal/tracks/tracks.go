// SPDX-License-Identifier: MIT

// Package tracks selects which audio and subtitle stream of an item a
// renderer should receive, given the user's language preferences.
package tracks

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/mediainfo"
)

// langEqual compares two language identifiers, accepting any mix of
// ISO 639-1/639-2 codes ("en", "eng") and full BCP-47 tags.
func langEqual(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if strings.EqualFold(a, b) {
		return true
	}
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	baseA, confA := ta.Base()
	baseB, confB := tb.Base()
	if confA == language.No || confB == language.No {
		return false
	}
	return baseA == baseB
}

// fidelityRank orders audio codec categories; higher is better.
func fidelityRank(t *mediainfo.AudioTrack) int {
	rank := 0
	switch strings.ToLower(t.Codec) {
	case "truehd", "flac", "alac", "pcm", "lpcm", "dts-hd":
		rank = 3
	case "dts", "eac3":
		rank = 2
	case "ac3", "aac":
		rank = 1
	}
	// Multichannel beats stereo within the same category.
	if t.Channels > 2 {
		rank++
	}
	return rank
}

// SelectAudio returns the audio track to play. Preferences are walked in
// order and the first language match wins; with preferences configured
// but none matching, the highest-fidelity track is preferred over the
// first-listed one. Without preferences the first track is returned.
// The result is deterministic for identical inputs.
func SelectAudio(audio []mediainfo.AudioTrack, prefs []string) *mediainfo.AudioTrack {
	if len(audio) == 0 {
		return nil
	}
	for _, pref := range prefs {
		for i := range audio {
			if langEqual(audio[i].Lang, pref) {
				return &audio[i]
			}
		}
	}
	if len(prefs) == 0 {
		return &audio[0]
	}
	best := 0
	for i := 1; i < len(audio); i++ {
		if fidelityRank(&audio[i]) > fidelityRank(&audio[best]) {
			best = i
		}
	}
	return &audio[best]
}

// topPriority returns the candidate with the highest priority; earlier
// tracks win ties so the choice is stable.
func topPriority(cands []*mediainfo.SubtitleTrack) *mediainfo.SubtitleTrack {
	if len(cands) == 0 {
		return nil
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Priority > best.Priority {
			best = c
		}
	}
	return best
}

// SelectSubtitle returns the subtitle track to use, or nil for none.
// Stages, first producing a result wins:
//  1. disabled by configuration
//  2. forced external subtitles
//  3. audio-to-subtitle language pairing table ("*" wildcard audio,
//     "off" short-circuits to none)
//  4. tracks whose title carries the configured forced tag
func SelectSubtitle(audioLang string, subs []mediainfo.SubtitleTrack, cfg config.SubtitleConfig) *mediainfo.SubtitleTrack {
	if cfg.Disabled || len(subs) == 0 {
		return nil
	}

	if cfg.ForceExternal {
		var ext []*mediainfo.SubtitleTrack
		for i := range subs {
			if subs[i].External {
				ext = append(ext, &subs[i])
			}
		}
		if top := topPriority(ext); top != nil {
			return top
		}
	}

	if audioLang != "" && len(cfg.LangPairs) > 0 {
		for _, pair := range cfg.LangPairs {
			audioSide, subSide := pair[0], pair[1]
			if audioSide != "*" && !langEqual(audioSide, audioLang) {
				continue
			}
			if strings.EqualFold(subSide, "off") {
				return nil
			}
			var cands []*mediainfo.SubtitleTrack
			for i := range subs {
				if subs[i].External && !cfg.LoadExternal {
					continue
				}
				if subSide == "*" || langEqual(subs[i].Lang, subSide) {
					cands = append(cands, &subs[i])
				}
			}
			if top := topPriority(cands); top != nil {
				return top
			}
		}
	}

	if cfg.ForcedTag != "" {
		var cands []*mediainfo.SubtitleTrack
		for i := range subs {
			if !strings.Contains(strings.ToLower(subs[i].Title), strings.ToLower(cfg.ForcedTag)) {
				continue
			}
			if cfg.ForcedLang != "" && !langEqual(subs[i].Lang, cfg.ForcedLang) {
				continue
			}
			if subs[i].External && !cfg.LoadExternal {
				continue
			}
			cands = append(cands, &subs[i])
		}
		if top := topPriority(cands); top != nil {
			return top
		}
	}

	return nil
}
