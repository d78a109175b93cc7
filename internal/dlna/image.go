// SPDX-License-Identifier: MIT

package dlna

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/renderer"
)

// Descriptor is one offerable encoding of an image item.
type Descriptor struct {
	Profile    string
	Mime       string
	Width      int // 0 when unknown
	Height     int
	Size       int64 // 0 when unknown
	Conversion bool  // true when producing this variant requires re-encoding or scaling
	Thumbnail  bool
}

// variant is an entry of the fixed offer table.
type variant struct {
	profile   string
	mime      string
	maxW      int
	maxH      int
	format    string // target encoding
	thumbnail bool
}

var jpegVariants = []variant{
	{profile: "JPEG_TN", mime: "image/jpeg", maxW: 160, maxH: 160, format: "jpeg", thumbnail: true},
	{profile: "JPEG_SM", mime: "image/jpeg", maxW: 640, maxH: 480, format: "jpeg"},
	{profile: "JPEG_MED", mime: "image/jpeg", maxW: 1024, maxH: 768, format: "jpeg"},
	{profile: "JPEG_LRG", mime: "image/jpeg", maxW: 4096, maxH: 4096, format: "jpeg"},
}

var pngVariants = []variant{
	{profile: "PNG_TN", mime: "image/png", maxW: 160, maxH: 160, format: "png", thumbnail: true},
	{profile: "PNG_LRG", mime: "image/png", maxW: 4096, maxH: 4096, format: "png"},
}

// preferredTarget maps a source encoding to the target family renderers
// should get first when other ranking keys tie.
func preferredTarget(sourceFormat string) string {
	switch strings.ToLower(sourceFormat) {
	case "png":
		return "png"
	default:
		return "jpeg"
	}
}

// ImageDescriptors produces the ranked, deduplicated descriptor set for
// an image item under the given renderer. A renderer that declared no
// image capability information receives the full set.
func ImageDescriptors(info *mediainfo.MediaInfo, r *renderer.Renderer) []Descriptor {
	if info == nil || info.Image == nil {
		return nil
	}
	src := info.Image
	srcFormat := strings.ToLower(src.Format)

	var out []Descriptor
	seen := make(map[string]struct{})
	add := func(d Descriptor) {
		if _, dup := seen[d.Profile]; dup {
			return
		}
		if !r.SupportsImageProfile(d.Profile) {
			return
		}
		seen[d.Profile] = struct{}{}
		out = append(out, d)
	}

	offer := func(v variant) {
		w, h := fit(src.Width, src.Height, v.maxW, v.maxH)
		conv := v.format != srcFormat || src.Width > v.maxW || src.Height > v.maxH
		d := Descriptor{
			Profile:    v.profile,
			Mime:       v.mime,
			Width:      w,
			Height:     h,
			Conversion: conv,
			Thumbnail:  v.thumbnail,
		}
		if !conv {
			d.Size = info.Size
		}
		add(d)
	}

	for _, v := range jpegVariants {
		offer(v)
	}
	if srcFormat == "png" {
		for _, v := range pngVariants {
			offer(v)
		}
	}
	// Exact-resolution descriptor for the original encoding.
	if srcFormat == "jpeg" || srcFormat == "jpg" {
		add(Descriptor{
			Profile: fmt.Sprintf("JPEG_RES_%d_%d", src.Width, src.Height),
			Mime:    "image/jpeg",
			Width:   src.Width,
			Height:  src.Height,
			Size:    info.Size,
		})
	}

	rank(out, preferredTarget(srcFormat))
	return out
}

// fit scales (w, h) down proportionally into (maxW, maxH); images already
// inside the bounds keep their native resolution.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	return int(float64(w) * scale), int(float64(h) * scale)
}

// rank orders descriptors by the fixed priority rule: thumbnails first,
// then variants needing no conversion, then the preferred target family,
// then exact-resolution descriptors, then descending width, descending
// height, stable otherwise.
func rank(ds []Descriptor, preferred string) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Thumbnail != b.Thumbnail {
			return a.Thumbnail
		}
		if a.Conversion != b.Conversion {
			return !a.Conversion
		}
		ap := strings.HasPrefix(strings.ToLower(a.Mime), "image/"+preferred)
		bp := strings.HasPrefix(strings.ToLower(b.Mime), "image/"+preferred)
		if ap != bp {
			return ap
		}
		// The exact-resolution descriptor yields to the sized profile
		// families; it is an extra offer, not the primary one.
		ae := strings.HasPrefix(a.Profile, "JPEG_RES_")
		be := strings.HasPrefix(b.Profile, "JPEG_RES_")
		if ae != be {
			return be
		}
		if a.Width != b.Width {
			return a.Width > b.Width
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return false
	})
}
