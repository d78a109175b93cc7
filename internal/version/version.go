// SPDX-License-Identifier: MIT

// Package version carries build metadata injected via ldflags.
package version

var (
	// Version is the release tag of the build.
	Version = "v0.1.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
