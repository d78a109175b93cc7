// SPDX-License-Identifier: MIT

package tree

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/decide"
	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/metrics"
	"github.com/trelleck/mediatree/internal/renderer"
	"github.com/trelleck/mediatree/internal/resume"
	"github.com/trelleck/mediatree/internal/updateclock"
)

// ErrNotFound reports that a path identity does not resolve to a node.
var ErrNotFound = errors.New("tree: node not found")

// DefaultDiscoverTimeout bounds one discovery pass. Children that do
// not finish probing in time are omitted from that response and picked
// up by a later one.
const DefaultDiscoverTimeout = 30 * time.Second

const defaultConcurrencyCap = 3

// Deps are the collaborators a tree needs. Resume may be nil when
// resume markers are disabled.
type Deps struct {
	Decisions       *decide.Engine
	Prober          mediainfo.Prober
	Clock           *updateclock.Clock
	Resume          *resume.Store
	DiscoverTimeout time.Duration
}

// Tree owns the per-renderer resource hierarchies, the identity
// registry and the discovery machinery.
type Tree struct {
	shares  []config.ShareConfig
	reg     *Registry
	dec     *decide.Engine
	prober  mediainfo.Prober
	clock   *updateclock.Clock
	resume  *resume.Store
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	views map[string]*VirtualFolder

	idxMu   sync.Mutex
	folders map[string][]*Folder // filesystem path -> folder nodes, all views
}

// New creates a tree serving the configured shares.
func New(shares []config.ShareConfig, deps Deps) *Tree {
	timeout := deps.DiscoverTimeout
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	return &Tree{
		shares:  shares,
		reg:     NewRegistry(),
		dec:     deps.Decisions,
		prober:  deps.Prober,
		clock:   deps.Clock,
		resume:  deps.Resume,
		timeout: timeout,
		logger:  log.WithComponent("tree"),
		views:   make(map[string]*VirtualFolder),
		folders: make(map[string][]*Folder),
	}
}

// Registry exposes the identity registry for direct id lookups.
func (t *Tree) Registry() *Registry { return t.reg }

// Root returns the renderer's view root, building it on first use.
// Views are per renderer profile: a child dropped for one renderer may
// still exist for another.
func (t *Tree) Root(r *renderer.Renderer) *VirtualFolder {
	t.mu.Lock()
	defer t.mu.Unlock()

	if root, ok := t.views[r.Name]; ok {
		return root
	}
	root := NewVirtualFolder("root")
	root.SetID(RootID)
	t.reg.Put(r.Name, root)

	st := root.state()
	st.mu.Lock()
	for _, sh := range t.shares {
		f := NewFolder(sh.Name, sh.Path, sh.AlbumSort, sh.Optical)
		var conv *ConversionFolder
		t.insertChild(context.Background(), root, st, f, r, &conv)
	}
	st.mu.Unlock()

	t.views[r.Name] = root
	return root
}

// Discover populates a container's children. Already-discovered
// containers are re-enumerated only when forced or when their
// staleness check reports change. Two requests racing on the same
// container may each run a pass; mutation is merge-based, so this is
// tolerated rather than prevented.
func (t *Tree) Discover(ctx context.Context, n Node, r *renderer.Renderer, forced bool) error {
	c, ok := n.(Container)
	if !ok {
		return nil
	}
	prod, producing := n.(Producer)
	st := c.state()

	st.mu.Lock()
	if !producing {
		st.discovered = true
		st.lastRefresh = time.Now()
		st.mu.Unlock()
		return nil
	}
	if st.discovered && !forced {
		st.mu.Unlock()
		if !prod.Stale() {
			return nil
		}
	} else {
		st.mu.Unlock()
	}

	start := time.Now()
	entries, err := prod.Enumerate(ctx)
	if err != nil {
		t.logger.Warn().
			Err(err).
			Str(log.FieldNodeID, c.PathID()).
			Msg("enumeration failed")
		return err
	}

	built, complete := t.buildChildren(ctx, st, entries, r)
	changed := t.merge(ctx, c, built, r, complete)
	if changed && t.clock != nil {
		t.clock.Bump()
	}

	metrics.ObserveDiscovery(c.Name(), forced, time.Since(start).Seconds())
	t.logger.Debug().
		Str(log.FieldNodeID, c.PathID()).
		Int("children", len(built)).
		Bool("forced", forced).
		Bool("changed", changed).
		Msg("discovered")
	return nil
}

// buildChildren turns raw entries into nodes. Item probing fans out to
// a bounded pool; entries that do not finish before the deadline are
// left out and complete is false so the next request retries.
func (t *Tree) buildChildren(ctx context.Context, st *containerState, entries []Entry, r *renderer.Renderer) ([]Node, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	need := 0
	for _, e := range entries {
		if !e.Dir && !e.Archive && e.Info == nil {
			need++
		}
	}
	workers := r.ConcurrencyCap
	if workers <= 0 {
		workers = defaultConcurrencyCap
	}
	if st.optical {
		// Concurrent reads destabilize some optical drives.
		workers = 1
	}
	if need < workers {
		workers = need
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]Node, len(entries))
	var timedOut atomic.Bool
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	for i, e := range entries {
		if e.Dir {
			results[i] = NewFolder(e.Name, e.Path, st.albumSort, st.optical)
			continue
		}
		if e.Archive {
			results[i] = NewArchiveFolder(e.Name, e.Path)
			continue
		}
		if e.Info != nil {
			results[i] = t.buildItem(e, e.Info, r)
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			timedOut.Store(true)
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			info, err := t.prober.Probe(gctx, e.Path)
			if err != nil {
				if gctx.Err() != nil {
					timedOut.Store(true)
				} else {
					// One failing child never aborts its siblings.
					t.logger.Warn().
						Err(err).
						Str(log.FieldPath, e.Path).
						Msg("probe failed, child omitted")
				}
				return nil
			}
			results[i] = t.buildItem(e, info, r)
			return nil
		})
	}
	_ = g.Wait()

	built := results[:0:0]
	for _, n := range results {
		if n != nil {
			built = append(built, n)
		}
	}
	return built, !timedOut.Load()
}

func (t *Tree) buildItem(e Entry, info *mediainfo.MediaInfo, r *renderer.Renderer) *Item {
	it := &Item{
		Path:   e.Path,
		Format: ExtensionOf(e.Name),
		Info:   info,
	}
	it.name = e.Name
	if info != nil && info.Size == 0 && e.Size > 0 {
		info.Size = e.Size
	}
	it.Decision = t.dec.Decide(it.Key(), it.Format, it.Info, r)
	return it
}

// AddChild assigns an identity and inserts the child, plus its managed
// shadows (conversion rendition, resume clone). Returns false when the
// child was dropped for this renderer's view.
func (t *Tree) AddChild(ctx context.Context, parent Container, child Node, r *renderer.Renderer) bool {
	st := parent.state()
	st.mu.Lock()
	defer st.mu.Unlock()

	var conv *ConversionFolder
	for _, ch := range st.children {
		if cf, ok := ch.(*ConversionFolder); ok {
			conv = cf
			break
		}
	}
	return t.insertChild(ctx, parent, st, child, r, &conv)
}

// insertChild appends a child under the held parent lock, minting its
// identity from the parent's counter. Items the renderer cannot play
// in any form are dropped from this view, logged, never errored.
func (t *Tree) insertChild(ctx context.Context, parent Container, st *containerState, child Node, r *renderer.Renderer, conv **ConversionFolder) bool {
	it, isItem := child.(*Item)
	if isItem && !t.playable(it, r) {
		metrics.CountChild("dropped")
		t.logger.Debug().
			Str(log.FieldRenderer, r.Name).
			Str(log.FieldPath, it.Path).
			Str(log.FieldReason, "unsupported_format").
			Msg("child dropped")
		return false
	}

	t.attachLocked(parent, st, child, r)
	metrics.CountChild("added")

	if f, ok := child.(*Folder); ok {
		t.indexFolder(f)
	}
	if !isItem || it.variant != "" {
		return true
	}

	if t.offerConversion(it) {
		if *conv == nil {
			// Attach before inserting the first shadow so the shadow's
			// path identity is complete when it hits the registry.
			*conv = newConversionFolder()
			t.attachLocked(parent, st, *conv, r)
		}
		shadow := it.clone(it.Name(), "convert")
		cs := (*conv).state()
		cs.mu.Lock()
		t.attachLocked(*conv, cs, shadow, r)
		cs.mu.Unlock()
		t.dec.Adopt(shadow.Key(), r.Name, shadow.Decision)
	}

	if rc := t.resumeClone(ctx, it, r); rc != nil {
		t.attachLocked(parent, st, rc, r)
	}
	return true
}

// attachLocked does the raw insertion: identity from the parent's
// counter, back-reference, child list, registry. Counters only grow,
// so identities are never reused.
func (t *Tree) attachLocked(parent Container, st *containerState, child Node, r *renderer.Renderer) {
	child.SetID(strconv.Itoa(st.nextChild))
	st.nextChild++
	child.setParent(parent)
	st.children = append(st.children, child)
	t.reg.Put(r.Name, child)
}

// playable reports whether the renderer can take the item in some
// form, streamed or converted. Images are negotiated per profile at
// serve time and never dropped here.
func (t *Tree) playable(it *Item, r *renderer.Renderer) bool {
	if it.Info == nil || it.Info.Kind == mediainfo.KindImage || it.Info.Kind == mediainfo.KindUnknown {
		return true
	}
	if r.SupportsContainer(it.Format) {
		return true
	}
	return it.Decision.Convert()
}

// offerConversion reports whether a converted rendition of the item
// belongs in the conversion folder.
func (t *Tree) offerConversion(it *Item) bool {
	if it.Info == nil {
		return false
	}
	if it.Info.Kind != mediainfo.KindVideo && it.Info.Kind != mediainfo.KindAudio {
		return false
	}
	return t.dec.Convertible(it.Info)
}

// openMarker refreshes the item's marker reference and returns the
// marker when playback is still resumable. Done markers stay attached
// to the item for playback-history metadata but spawn no clone.
func (t *Tree) openMarker(ctx context.Context, it *Item) *resume.Marker {
	if t.resume == nil {
		return nil
	}
	marker, err := t.resume.Get(ctx, it.Path)
	if err != nil || marker == nil {
		return nil
	}
	it.Resume = marker
	if marker.Done {
		return nil
	}
	return marker
}

// resumeClone builds the "[RESUME]" sibling for an item with an open
// resume marker. The original stays pristine; the clone carries the
// marker and the original's decision.
func (t *Tree) resumeClone(ctx context.Context, it *Item, r *renderer.Renderer) *Item {
	marker := t.openMarker(ctx, it)
	if marker == nil {
		return nil
	}
	return t.newResumeClone(it, marker, r)
}

func (t *Tree) newResumeClone(it *Item, marker *resume.Marker, r *renderer.Renderer) *Item {
	rc := it.clone("[RESUME] "+it.Name(), "resume")
	rc.Resume = marker
	t.dec.Adopt(rc.Key(), r.Name, rc.Decision)
	return rc
}

// merge reconciles a container's child list with a fresh enumeration.
// Children matched by name keep their node and identity; a changed
// probe profile recomputes their decision. New names are inserted, gone
// names removed along with their resume markers. The discovered flag is
// set before the child list is touched so concurrent callers
// short-circuit.
func (t *Tree) merge(ctx context.Context, c Container, built []Node, r *renderer.Renderer, complete bool) bool {
	st := c.state()
	st.mu.Lock()
	defer st.mu.Unlock()

	st.discovered = true
	st.lastRefresh = time.Now()
	st.forcedStale = !complete

	oldPrimary := make(map[string]Node)
	oldResume := make(map[string]*Item)
	var conv *ConversionFolder
	for _, ch := range st.children {
		switch n := ch.(type) {
		case *ConversionFolder:
			conv = n
		case *Item:
			if n.variant == "resume" {
				oldResume[n.Path] = n
			} else {
				oldPrimary[n.Name()] = n
			}
		default:
			oldPrimary[ch.Name()] = ch
		}
	}

	changed := false
	refreshed := make(map[string]*Item)
	st.children = nil
	for _, b := range built {
		old, ok := oldPrimary[b.Name()]
		if !ok {
			changed = true
			t.insertChild(ctx, c, st, b, r, &conv)
			continue
		}
		delete(oldPrimary, b.Name())
		oldItem, isItem := old.(*Item)
		if !isItem {
			st.children = append(st.children, old)
			continue
		}
		if fresh, ok := b.(*Item); ok && fresh.Info != nil && !reflect.DeepEqual(oldItem.Info, fresh.Info) {
			// A changed profile voids the cached decision, for the item
			// and for every shadow carrying a copy of it.
			changed = true
			oldItem.Info = fresh.Info
			t.dec.Invalidate(oldItem.Path)
			oldItem.Decision = t.dec.Decide(oldItem.Key(), oldItem.Format, oldItem.Info, r)
			refreshed[oldItem.Path] = oldItem
		}
		st.children = append(st.children, oldItem)

		rc, hadClone := oldResume[oldItem.Path]
		if hadClone {
			delete(oldResume, oldItem.Path)
		}
		marker := t.openMarker(ctx, oldItem)
		switch {
		case marker != nil && hadClone:
			rc.Resume = marker
			if src, ok := refreshed[oldItem.Path]; ok {
				rc.Info = src.Info
				rc.Decision = src.Decision.Copy()
				t.dec.Adopt(rc.Key(), r.Name, rc.Decision)
			}
			st.children = append(st.children, rc)
		case marker != nil:
			changed = true
			t.attachLocked(c, st, t.newResumeClone(oldItem, marker, r), r)
		case hadClone:
			// Marker finished or vanished since the last pass; the
			// clone leaves the view.
			changed = true
			t.reg.Remove(r.Name, rc)
		}
	}

	gone := make(map[string]bool)
	for _, n := range oldPrimary {
		changed = true
		t.reg.Remove(r.Name, n)
		if it, ok := n.(*Item); ok {
			gone[it.Path] = true
			if t.resume != nil {
				if err := t.resume.Delete(ctx, it.Path); err != nil {
					t.logger.Warn().
						Err(err).
						Str(log.FieldPath, it.Path).
						Msg("stale resume marker not deleted")
				}
			}
		}
	}
	for path, rc := range oldResume {
		if gone[path] {
			t.reg.Remove(r.Name, rc)
			continue
		}
		// Source survived but was not matched this pass; keep the clone.
		st.children = append(st.children, rc)
	}

	if conv != nil {
		t.refreshConversion(conv, refreshed, r)
		t.pruneConversion(conv, gone, r)
		cs := conv.state()
		cs.mu.Lock()
		empty := len(cs.children) == 0
		cs.mu.Unlock()
		present := false
		for i, ch := range st.children {
			if ch == Node(conv) {
				present = true
				if empty {
					st.children = append(st.children[:i], st.children[i+1:]...)
				}
				break
			}
		}
		switch {
		case empty:
			t.reg.Remove(r.Name, conv)
		case !present:
			st.children = append(st.children, conv)
		}
	}

	if st.albumSort {
		albumOrder(st.children)
	}
	return changed
}

// refreshConversion re-seeds shadows whose source item's profile
// changed this pass, so the offered rendition follows the new decision.
func (t *Tree) refreshConversion(conv *ConversionFolder, refreshed map[string]*Item, r *renderer.Renderer) {
	if len(refreshed) == 0 {
		return
	}
	cs := conv.state()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, ch := range cs.children {
		sh, ok := ch.(*Item)
		if !ok {
			continue
		}
		src, ok := refreshed[sh.Path]
		if !ok {
			continue
		}
		sh.Info = src.Info
		sh.Decision = src.Decision.Copy()
		t.dec.Adopt(sh.Key(), r.Name, sh.Decision)
	}
}

// pruneConversion drops shadows whose source item left the tree.
func (t *Tree) pruneConversion(conv *ConversionFolder, gone map[string]bool, r *renderer.Renderer) {
	if len(gone) == 0 {
		return
	}
	cs := conv.state()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	kept := cs.children[:0]
	for _, ch := range cs.children {
		if it, ok := ch.(*Item); ok && gone[it.Path] {
			t.reg.Remove(r.Name, it)
			continue
		}
		kept = append(kept, ch)
	}
	cs.children = kept
}

// albumOrder sorts grouped audio items by (disc, track) and non-grouped
// children by display name. The two groups each reorder within their
// own slots, so their placement relative to each other is stable.
func albumOrder(children []Node) {
	discTrack := func(n Node) (int, int, bool) {
		it, ok := n.(*Item)
		if !ok || it.Info == nil || it.Info.Tags == nil {
			return 0, 0, false
		}
		tg := it.Info.Tags
		if tg.Disc == 0 && tg.Track == 0 {
			return 0, 0, false
		}
		return tg.Disc, tg.Track, true
	}

	var gpos, npos []int
	for i, n := range children {
		if _, _, ok := discTrack(n); ok {
			gpos = append(gpos, i)
		} else {
			npos = append(npos, i)
		}
	}

	grouped := make([]Node, len(gpos))
	for i, p := range gpos {
		grouped[i] = children[p]
	}
	sort.SliceStable(grouped, func(i, j int) bool {
		di, ti, _ := discTrack(grouped[i])
		dj, tj, _ := discTrack(grouped[j])
		if di != dj {
			return di < dj
		}
		return ti < tj
	})
	for i, p := range gpos {
		children[p] = grouped[i]
	}

	rest := make([]Node, len(npos))
	for i, p := range npos {
		rest[i] = children[p]
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Name() < rest[j].Name() })
	for i, p := range npos {
		children[p] = rest[i]
	}
}

// Resolve walks a dot-joined path identity to its node, discovering
// lazily at each hop. A trailing "/<filename>" suffix is informational
// and stripped before lookup.
func (t *Tree) Resolve(ctx context.Context, pathID string, r *renderer.Renderer) (Node, error) {
	return t.walk(ctx, pathID, r, false)
}

// SearchByIDs resolves each identity with discovery forced at every
// hop. Identities that do not resolve are skipped, not errors; deep
// links tolerate partial results.
func (t *Tree) SearchByIDs(ctx context.Context, ids []string, r *renderer.Renderer) []Node {
	var out []Node
	for _, id := range ids {
		n, err := t.walk(ctx, id, r, true)
		if err != nil {
			continue
		}
		if c, ok := n.(Container); ok {
			_ = t.Discover(ctx, c, r, true)
		}
		out = append(out, n)
	}
	return out
}

func (t *Tree) walk(ctx context.Context, pathID string, r *renderer.Renderer, forced bool) (Node, error) {
	if i := strings.IndexByte(pathID, '/'); i >= 0 {
		pathID = pathID[:i]
	}
	if pathID == "" {
		return nil, ErrNotFound
	}

	root := t.Root(r)
	if !forced {
		if n, ok := t.reg.Get(r.Name, pathID); ok {
			return n, nil
		}
	}

	parts := strings.Split(pathID, ".")
	if parts[0] != RootID {
		return nil, ErrNotFound
	}
	var cur Node = root
	for _, part := range parts[1:] {
		c, ok := cur.(Container)
		if !ok {
			return nil, ErrNotFound
		}
		if err := t.Discover(ctx, c, r, forced); err != nil {
			return nil, err
		}
		var next Node
		for _, ch := range c.Children() {
			if ch.ID() == part {
				next = ch
				break
			}
		}
		if next == nil {
			return nil, ErrNotFound
		}
		cur = next
	}
	return cur, nil
}

// InvalidatePath marks folders containing the given filesystem path
// stale and drops cached decisions for it. Called by the share watcher.
func (t *Tree) InvalidatePath(path string) {
	dir := filepath.Dir(path)
	t.idxMu.Lock()
	for p, folders := range t.folders {
		if p == path || p == dir {
			for _, f := range folders {
				f.MarkStale()
			}
		}
	}
	t.idxMu.Unlock()
	t.dec.Invalidate(path)
}

func (t *Tree) indexFolder(f *Folder) {
	t.idxMu.Lock()
	t.folders[f.Path] = append(t.folders[f.Path], f)
	t.idxMu.Unlock()
}
