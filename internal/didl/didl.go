// SPDX-License-Identifier: MIT

// Package didl serializes resource nodes into DIDL-Lite documents, the
// tag-structured metadata format renderers browse. Compliance codes in
// the res elements are matched for exact equality by real devices.
package didl

import "encoding/xml"

// Namespace URIs of a DIDL-Lite document.
const (
	nsDIDL = "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
	nsDC   = "http://purl.org/dc/elements/1.1/"
	nsUPnP = "urn:schemas-upnp-org:metadata-1-0/upnp/"
	nsDLNA = "urn:schemas-dlna-org:metadata-1-0/"
)

// Class tokens emitted per node kind.
const (
	ClassFolder = "object.container.storageFolder"
	ClassPhoto  = "object.item.imageItem.photo"
	ClassTrack  = "object.item.audioItem.musicTrack"
	ClassMovie  = "object.item.videoItem.movie"
)

// Document is the DIDL-Lite root element.
type Document struct {
	XMLName    xml.Name `xml:"DIDL-Lite"`
	NS         string   `xml:"xmlns,attr"`
	NSDC       string   `xml:"xmlns:dc,attr"`
	NSUPnP     string   `xml:"xmlns:upnp,attr"`
	NSDLNA     string   `xml:"xmlns:dlna,attr"`
	Containers []Container
	Items      []Item
}

// NewDocument returns an empty document with the standard namespaces.
func NewDocument() *Document {
	return &Document{NS: nsDIDL, NSDC: nsDC, NSUPnP: nsUPnP, NSDLNA: nsDLNA}
}

// Marshal renders the document.
func (d *Document) Marshal() ([]byte, error) {
	return xml.Marshal(d)
}

// Count returns the number of top-level entries.
func (d *Document) Count() int {
	return len(d.Containers) + len(d.Items)
}

// Object carries the fields shared by containers and items. Optional
// tag blocks marshal only when set.
type Object struct {
	ID         string `xml:"id,attr"`
	ParentID   string `xml:"parentID,attr"`
	Restricted int    `xml:"restricted,attr"`
	Title      string `xml:"dc:title"`
	Class      string `xml:"upnp:class"`
	Date       string `xml:"dc:date,omitempty"`

	// Audio tag block.
	Artist      string `xml:"upnp:artist,omitempty"`
	Album       string `xml:"upnp:album,omitempty"`
	Creator     string `xml:"dc:creator,omitempty"`
	Composer    string `xml:"upnp:composer,omitempty"`
	Conductor   string `xml:"upnp:conductor,omitempty"`
	Genre       string `xml:"upnp:genre,omitempty"`
	TrackNumber int    `xml:"upnp:originalTrackNumber,omitempty"`

	// Video/episode tag block.
	SeriesTitle      string `xml:"upnp:seriesTitle,omitempty"`
	ProgramTitle     string `xml:"upnp:programTitle,omitempty"`
	EpisodeSeason    int    `xml:"upnp:episodeSeason,omitempty"`
	EpisodeNumber    int    `xml:"upnp:episodeNumber,omitempty"`
	PlaybackCount    int    `xml:"upnp:playbackCount,omitempty"`
	LastPlaybackTime string `xml:"upnp:lastPlaybackTime,omitempty"`

	AlbumArt []AlbumArtURI `xml:"upnp:albumArtURI,omitempty"`
}

// AlbumArtURI is a shortcut entry renderers use for cover art. The
// profile attribute names the DLNA image profile of the target.
type AlbumArtURI struct {
	Value     string `xml:",chardata"`
	ProfileID string `xml:"dlna:profileID,attr,omitempty"`
}

// Res is one playable-resource descriptor.
type Res struct {
	XMLName         xml.Name `xml:"res"`
	ProtocolInfo    string   `xml:"protocolInfo,attr"`
	URL             string   `xml:",chardata"`
	Size            int64    `xml:"size,attr,omitempty"`
	Bitrate         int64    `xml:"bitrate,attr,omitempty"`
	Duration        string   `xml:"duration,attr,omitempty"`
	Resolution      string   `xml:"resolution,attr,omitempty"`
	NrAudioChannels int      `xml:"nrAudioChannels,attr,omitempty"`
	SampleFrequency int      `xml:"sampleFrequency,attr,omitempty"`
}

// Container is a browsable node entry.
type Container struct {
	XMLName xml.Name `xml:"container"`
	Object
	ChildCount int `xml:"childCount,attr"`
}

// Item is a playable node entry.
type Item struct {
	XMLName xml.Name `xml:"item"`
	Object
	Res []Res
}
