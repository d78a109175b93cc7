// SPDX-License-Identifier: MIT

package tree

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trelleck/mediatree/internal/mediainfo"
)

// Folder is a filesystem-backed container. Staleness is detected by
// comparing the directory's modification time against the last
// completed enumeration.
type Folder struct {
	container

	Path string

	mtimeMu  sync.Mutex
	dirMtime time.Time
}

// NewFolder creates a folder node for the given directory.
func NewFolder(name, path string, albumSort, optical bool) *Folder {
	f := &Folder{Path: path}
	f.name = name
	f.st.albumSort = albumSort
	f.st.optical = optical
	return f
}

// Enumerate lists the directory. Subdirectories become folder entries,
// files become item entries probed later by the tree.
func (f *Folder) Enumerate(ctx context.Context) ([]Entry, error) {
	dirents, err := os.ReadDir(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", f.Path, err)
	}

	fi, err := os.Stat(f.Path)
	if err == nil {
		f.mtimeMu.Lock()
		f.dirMtime = fi.ModTime()
		f.mtimeMu.Unlock()
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(f.Path, name)
		if de.IsDir() {
			entries = append(entries, Entry{Name: name, Path: full, Dir: true})
			continue
		}
		if isArchive(name) {
			entries = append(entries, Entry{Name: name, Path: full, Archive: true})
			continue
		}
		if KindForPath(name) == mediainfo.KindUnknown {
			continue // not a media file
		}
		e := Entry{Name: name, Path: full}
		if info, err := de.Info(); err == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stale reports whether the directory changed since the last
// enumeration, or a watcher marked the folder dirty.
func (f *Folder) Stale() bool {
	f.st.mu.Lock()
	forced := f.st.forcedStale
	f.st.mu.Unlock()
	if forced {
		return true
	}
	fi, err := os.Stat(f.Path)
	if err != nil {
		// Directory gone; report change so discovery empties it.
		return true
	}
	f.mtimeMu.Lock()
	defer f.mtimeMu.Unlock()
	return fi.ModTime().After(f.dirMtime)
}

func isArchive(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zip", ".cbz":
		return true
	}
	return false
}

// VirtualFolder is a synthetic grouping with no backing source. Its
// children are inserted explicitly; discovery is a no-op.
type VirtualFolder struct {
	container
}

// NewVirtualFolder creates a synthetic container.
func NewVirtualFolder(name string) *VirtualFolder {
	v := &VirtualFolder{}
	v.name = name
	return v
}

// ConversionFolderName titles the auto-managed container holding the
// converted renditions of a folder's playable items.
const ConversionFolderName = "#--CONVERT--#"

// ConversionFolder is the auto-managed container of shadow copies
// offering each eligible sibling in converted form.
type ConversionFolder struct {
	container
}

func newConversionFolder() *ConversionFolder {
	c := &ConversionFolder{}
	c.name = ConversionFolderName
	return c
}

// ArchiveFolder exposes the members of a zip archive as items. Members
// are not probed; their profile is inferred from the member name.
type ArchiveFolder struct {
	container

	Path string

	mtimeMu      sync.Mutex
	archiveMtime time.Time
}

// NewArchiveFolder creates a container backed by a zip archive.
func NewArchiveFolder(name, path string) *ArchiveFolder {
	a := &ArchiveFolder{Path: path}
	a.name = name
	return a
}

// Enumerate opens the archive and lists playable members.
func (a *ArchiveFolder) Enumerate(ctx context.Context) ([]Entry, error) {
	rd, err := zip.OpenReader(a.Path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", a.Path, err)
	}
	defer rd.Close()

	if fi, err := os.Stat(a.Path); err == nil {
		a.mtimeMu.Lock()
		a.archiveMtime = fi.ModTime()
		a.mtimeMu.Unlock()
	}

	var entries []Entry
	for _, member := range rd.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if member.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(member.Name)
		if KindForPath(name) == mediainfo.KindUnknown {
			continue
		}
		entries = append(entries, Entry{
			Name: name,
			Path: a.Path + "#" + member.Name,
			Info: infoFromName(name),
			Size: int64(member.UncompressedSize64),
		})
	}
	return entries, nil
}

// Stale reports whether the archive file itself was replaced.
func (a *ArchiveFolder) Stale() bool {
	fi, err := os.Stat(a.Path)
	if err != nil {
		return true
	}
	a.mtimeMu.Lock()
	defer a.mtimeMu.Unlock()
	return fi.ModTime().After(a.archiveMtime)
}

// FetchFunc produces the entries of a feed-backed container. Expected
// to block on network I/O.
type FetchFunc func(ctx context.Context) ([]Entry, error)

// FeedFolder is a container backed by a slow remote producer. Entries
// are refetched after the TTL elapses.
type FeedFolder struct {
	container

	fetch FetchFunc
	ttl   time.Duration

	fetchMu   sync.Mutex
	fetchedAt time.Time
}

// NewFeedFolder creates a feed-backed container refreshing after ttl.
func NewFeedFolder(name string, fetch FetchFunc, ttl time.Duration) *FeedFolder {
	f := &FeedFolder{fetch: fetch, ttl: ttl}
	f.name = name
	return f
}

// Enumerate delegates to the feed producer.
func (f *FeedFolder) Enumerate(ctx context.Context) ([]Entry, error) {
	entries, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	f.fetchMu.Lock()
	f.fetchedAt = time.Now()
	f.fetchMu.Unlock()
	return entries, nil
}

// Stale reports whether the feed's TTL elapsed.
func (f *FeedFolder) Stale() bool {
	f.fetchMu.Lock()
	defer f.fetchMu.Unlock()
	return time.Since(f.fetchedAt) > f.ttl
}
