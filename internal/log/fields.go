// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldRenderer  = "renderer"
	FieldSessionID = "session_id"

	// Tree fields
	FieldNodeID   = "node_id"
	FieldPathID   = "path_id"
	FieldParentID = "parent_id"
	FieldChildren = "children"

	// Media fields
	FieldPath      = "path"
	FieldFormat    = "format"
	FieldCodec     = "codec"
	FieldEngine    = "engine"
	FieldMediaKind = "media_kind"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldReason    = "reason"
	FieldDuration  = "duration_ms"
)
