// SPDX-License-Identifier: MIT

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingInvalidator) InvalidatePath(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recordingInvalidator) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

func TestWatcherInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingInvalidator{}

	w, err := New(rec, nil, []string{dir})
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	target := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		for _, p := range rec.snapshot() {
			if p == target {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingInvalidator{}

	w, err := New(rec, nil, []string{dir})
	require.NoError(t, err)
	w.debounce = 100 * time.Millisecond
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	target := filepath.Join(dir, "song.mp3")
	for range 5 {
		require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0
	}, 3*time.Second, 10*time.Millisecond)

	// The burst collapsed into a single invalidation.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingInvalidator{}

	w, err := New(rec, nil, []string{dir})
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	sub := filepath.Join(dir, "albums")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to add the new directory.
	time.Sleep(200 * time.Millisecond)

	target := filepath.Join(sub, "track.flac")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		for _, p := range rec.snapshot() {
			if p == target {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}
