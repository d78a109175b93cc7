// SPDX-License-Identifier: MIT

package dlna

import (
	"fmt"
	"strings"
)

// defaultFlags is the fixed ORG_FLAGS value: streaming mode, background
// transfer and connection stalling allowed, DLNA v1.5.
const defaultFlags = "01700000000000000000000000000000"

// Seek describes which seek operations a presentation permits.
type Seek struct {
	Byte bool
	Time bool
}

// SeekFor computes the permitted seek operations. Streamed files allow
// byte ranges; converted streams allow time seek only when both the
// engine and the renderer support it. Some renderers cannot handle both
// at once, dropByteOnTime clears byte seek when time seek is granted.
func SeekFor(converting, engineTimeSeek, rendererTimeSeek, dropByteOnTime bool) Seek {
	s := Seek{}
	if converting {
		s.Time = engineTimeSeek && rendererTimeSeek
	} else {
		s.Byte = true
		s.Time = rendererTimeSeek
	}
	if s.Time && dropByteOnTime {
		s.Byte = false
	}
	return s
}

// OpFlags renders the ORG_OP code for the seek permissions.
func (s Seek) OpFlags() string {
	code := ""
	if s.Time {
		code = "1"
	} else {
		code = "0"
	}
	if s.Byte {
		code += "1"
	} else {
		code += "0"
	}
	return code
}

// ContentFeatures assembles the fourth protocolInfo field. An empty
// profile name is omitted entirely; renderers then infer the format from
// the MIME type alone.
func ContentFeatures(profileName string, seek Seek, converting bool) string {
	var parts []string
	if profileName != "" {
		parts = append(parts, "DLNA.ORG_PN="+profileName)
	}
	parts = append(parts, "DLNA.ORG_OP="+seek.OpFlags())
	ci := "0"
	if converting {
		ci = "1"
	}
	parts = append(parts, "DLNA.ORG_CI="+ci)
	parts = append(parts, "DLNA.ORG_FLAGS="+defaultFlags)
	return strings.Join(parts, ";")
}

// ProtocolInfo renders the full four-field protocolInfo attribute.
func ProtocolInfo(mime, contentFeatures string) string {
	return fmt.Sprintf("http-get:*:%s:%s", mime, contentFeatures)
}
