// SPDX-License-Identifier: MIT

// Package tree implements the resource hierarchy served to renderers:
// containers and items with lazy discovery, stable dot-joined path
// identities, and per-renderer views.
package tree

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/trelleck/mediatree/internal/decide"
	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/resume"
)

// RootID is the reserved identity of every view's root container.
const RootID = "0"

// Node is one entry in the resource hierarchy. Identifiers are unique
// within a parent; the dot-joined chain of identifiers down from the
// root is the identity the wire protocol addresses.
type Node interface {
	ID() string
	SetID(id string)
	Name() string
	Parent() Container
	setParent(p Container)
	PathID() string
	IsContainer() bool
}

// Container is a node with children. Each container serializes its own
// child-list mutation; there is no lock on the whole tree.
type Container interface {
	Node

	// Children returns a snapshot of the current child list.
	Children() []Node

	state() *containerState
}

// Producer is the container-specific enumeration seam. Containers that
// populate themselves from an external source (filesystem, archive,
// feed) implement it; purely synthetic containers do not.
type Producer interface {
	// Enumerate lists the container's current entries. It may block on
	// filesystem or network I/O.
	Enumerate(ctx context.Context) ([]Entry, error)

	// Stale reports whether the backing source changed since the last
	// completed enumeration.
	Stale() bool
}

// Entry is one raw enumeration result, before probing and insertion.
type Entry struct {
	Name    string
	Path    string
	Dir     bool
	Archive bool // zip archive served as a container

	// Info is pre-filled when the producer already knows the profile
	// (archive members, feed entries); nil means probe the path.
	Info *mediainfo.MediaInfo

	// Size in bytes when known without probing.
	Size int64
}

// base carries the identity fields shared by every node. The id is set
// once at insertion and read-only afterwards; the parent back-reference
// exists only for path reconstruction.
type base struct {
	id     string
	name   string
	parent Container
}

func (b *base) ID() string            { return b.id }
func (b *base) SetID(id string)       { b.id = id }
func (b *base) Name() string          { return b.name }
func (b *base) Parent() Container     { return b.parent }
func (b *base) setParent(p Container) { b.parent = p }

// PathID returns the dot-joined identifier chain from the root.
func (b *base) PathID() string {
	if b.parent == nil {
		return b.id
	}
	var parts []string
	parts = append(parts, b.id)
	for p := b.parent; p != nil; p = p.Parent() {
		parts = append(parts, p.ID())
	}
	// reverse into root-first order
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// containerState is the mutable half of every container.
type containerState struct {
	mu          sync.Mutex
	children    []Node
	discovered  bool
	lastRefresh time.Time
	nextChild   int
	forcedStale bool

	albumSort bool
	optical   bool
}

// container embeds the shared container behaviour.
type container struct {
	base
	st containerState
}

func (c *container) IsContainer() bool      { return true }
func (c *container) state() *containerState { return &c.st }

func (c *container) Children() []Node {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	out := make([]Node, len(c.st.children))
	copy(out, c.st.children)
	return out
}

// MarkStale forces the next non-forced discovery to re-enumerate.
func (c *container) MarkStale() {
	c.st.mu.Lock()
	c.st.forcedStale = true
	c.st.mu.Unlock()
}

// Item is a leaf playable unit.
type Item struct {
	base

	// Path addresses the underlying bytes: a filesystem path, an
	// archive member ("archive.zip#member"), or a feed URL.
	Path string

	// Format is the lowercased extension without the dot.
	Format string

	Info     *mediainfo.MediaInfo
	Decision *decide.Decision
	Resume   *resume.Marker

	// variant distinguishes shadow clones of the same source so their
	// cached decisions do not collide with the original's.
	variant string
}

func (it *Item) IsContainer() bool { return false }

// Key identifies the item's decision-cache slot. Clones of the same
// source carry a variant suffix so each presentation caches separately.
func (it *Item) Key() string {
	if it.variant == "" {
		return it.Path
	}
	return it.Path + "#" + it.variant
}

// clone returns a shadow copy for an alternative presentation. The
// rendering decision is carried over, never recomputed; the clone
// exists to present the same decision context differently.
func (it *Item) clone(name, variant string) *Item {
	c := &Item{
		Path:     it.Path,
		Format:   it.Format,
		Info:     it.Info,
		Decision: it.Decision.Copy(),
		variant:  variant,
	}
	c.name = name
	return c
}
