// SPDX-License-Identifier: MIT

package didl

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/trelleck/mediatree/internal/dlna"
	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/renderer"
	"github.com/trelleck/mediatree/internal/tree"
)

// Compiler turns resource nodes plus a renderer context into DIDL-Lite
// entries, delegating compliance codes to the format negotiator and
// track choices to the cached rendering decision.
type Compiler struct {
	baseURL string
}

// NewCompiler creates a compiler emitting absolute URLs under baseURL.
func NewCompiler(baseURL string) *Compiler {
	return &Compiler{baseURL: strings.TrimRight(baseURL, "/")}
}

// CompileChildren renders a container's child slice into one document.
func (c *Compiler) CompileChildren(parent tree.Container, children []tree.Node, r *renderer.Renderer) *Document {
	doc := NewDocument()
	for _, n := range children {
		c.appendNode(doc, n, r)
	}
	return doc
}

// CompileNode renders a single node into a document of its own, as
// metadata queries expect.
func (c *Compiler) CompileNode(n tree.Node, r *renderer.Renderer) *Document {
	doc := NewDocument()
	c.appendNode(doc, n, r)
	return doc
}

func (c *Compiler) appendNode(doc *Document, n tree.Node, r *renderer.Renderer) {
	if ct, ok := n.(tree.Container); ok {
		doc.Containers = append(doc.Containers, c.compileContainer(ct))
		return
	}
	if it, ok := n.(*tree.Item); ok {
		doc.Items = append(doc.Items, c.compileItem(it, r))
	}
}

func (c *Compiler) compileContainer(ct tree.Container) Container {
	return Container{
		Object: Object{
			ID:         ct.PathID(),
			ParentID:   parentID(ct),
			Restricted: 1,
			Title:      ct.Name(),
			Class:      ClassFolder,
		},
		ChildCount: len(ct.Children()),
	}
}

func (c *Compiler) compileItem(it *tree.Item, r *renderer.Renderer) Item {
	obj := Object{
		ID:         it.PathID(),
		ParentID:   parentID(it),
		Restricted: 1,
		Title:      it.Name(),
	}

	info := it.Info
	kind := mediainfo.KindUnknown
	if info != nil {
		kind = info.Kind
	}
	switch kind {
	case mediainfo.KindImage:
		obj.Class = ClassPhoto
	case mediainfo.KindAudio:
		obj.Class = ClassTrack
	default:
		obj.Class = ClassMovie
	}
	if info != nil && info.Tags != nil {
		applyTags(&obj, info.Tags)
	}
	if m := it.Resume; m != nil {
		obj.PlaybackCount = m.PlayCount
		if !m.UpdatedAt.IsZero() {
			obj.LastPlaybackTime = m.UpdatedAt.Format(time.RFC3339)
		}
	}

	item := Item{Object: obj}
	if kind == mediainfo.KindImage {
		c.appendImageRes(&item, it, r)
		return item
	}
	c.appendAVRes(&item, it, r)
	return item
}

// appendAVRes emits the primary playable resource for audio and video.
func (c *Compiler) appendAVRes(item *Item, it *tree.Item, r *renderer.Renderer) {
	d := it.Decision
	converting := d.Convert()

	var conv *dlna.Conversion
	engineTimeSeek := false
	if converting {
		conv = &dlna.Conversion{
			EngineName:      d.Engine.Name(),
			OutputContainer: d.Engine.OutputContainer(),
		}
		engineTimeSeek = d.Engine.TimeSeekable()
	}

	seek := dlna.SeekFor(converting, engineTimeSeek, r.SupportsTimeSeek, r.TimeSeekDisablesByteSeek)
	profile := dlna.ProfileName(it.Info, conv)
	mime := dlna.MimeType(it.Info, conv)
	features := dlna.ContentFeatures(profile, seek, converting)

	res := Res{
		ProtocolInfo: dlna.ProtocolInfo(mime, features),
		URL:          c.streamURL(it),
	}
	if info := it.Info; info != nil {
		if !converting {
			res.Size = info.Size
			res.Bitrate = info.Bitrate
		}
		if info.Duration > 0 {
			res.Duration = formatDuration(info.Duration)
		}
		if info.Width > 0 && info.Height > 0 {
			res.Resolution = fmt.Sprintf("%dx%d", info.Width, info.Height)
		}
	}
	if d != nil && d.Audio != nil {
		res.NrAudioChannels = d.Audio.Channels
		res.SampleFrequency = d.Audio.SampleRate
	}
	item.Res = append(item.Res, res)
}

// appendImageRes emits one res per ranked compliance descriptor, plus
// album-art shortcuts for the thumbnail profiles that support them.
func (c *Compiler) appendImageRes(item *Item, it *tree.Item, r *renderer.Renderer) {
	for _, d := range dlna.ImageDescriptors(it.Info, r) {
		features := dlna.ContentFeatures(d.Profile, dlna.Seek{Byte: true}, d.Conversion)
		res := Res{
			ProtocolInfo: dlna.ProtocolInfo(d.Mime, features),
			URL:          c.imageURL(it, d.Profile),
			Size:         d.Size,
		}
		if d.Width > 0 && d.Height > 0 {
			res.Resolution = fmt.Sprintf("%dx%d", d.Width, d.Height)
		}
		item.Res = append(item.Res, res)

		if d.Thumbnail {
			item.AlbumArt = append(item.AlbumArt, AlbumArtURI{
				Value:     c.imageURL(it, d.Profile),
				ProfileID: d.Profile,
			})
		}
	}
}

func applyTags(obj *Object, tg *mediainfo.Tags) {
	obj.Artist = tg.Artist
	obj.Album = tg.Album
	obj.Creator = tg.Artist
	obj.Composer = tg.Composer
	obj.Conductor = tg.Conductor
	obj.Genre = tg.Genre
	obj.TrackNumber = tg.Track
	obj.Date = tg.Date
	obj.SeriesTitle = tg.SeriesTitle
	obj.ProgramTitle = tg.EpisodeTitle
	obj.EpisodeSeason = tg.Season
	obj.EpisodeNumber = tg.Episode
	if tg.Title != "" {
		obj.Title = tg.Title
	}
}

func parentID(n tree.Node) string {
	p := n.Parent()
	if p == nil {
		return "-1"
	}
	return p.PathID()
}

func (c *Compiler) streamURL(it *tree.Item) string {
	return fmt.Sprintf("%s/media/%s/stream/%s", c.baseURL, it.PathID(), url.PathEscape(it.Name()))
}

func (c *Compiler) imageURL(it *tree.Item, profile string) string {
	return fmt.Sprintf("%s/media/%s/image?profile=%s", c.baseURL, it.PathID(), url.QueryEscape(profile))
}

// formatDuration renders the protocol's H:MM:SS.mmm form.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms)
}
