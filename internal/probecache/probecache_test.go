// SPDX-License-Identifier: MIT

package probecache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/mediainfo"
)

func sampleInfo() *mediainfo.MediaInfo {
	return &mediainfo.MediaInfo{
		Kind:       mediainfo.KindVideo,
		Container:  "mkv",
		Duration:   90 * time.Minute,
		Width:      1920,
		Height:     1080,
		VideoCodec: "h264",
		AudioTracks: []mediainfo.AudioTrack{
			{ID: 1, Lang: "eng", Codec: "ac3", Channels: 6},
		},
	}
}

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	mod := time.Unix(1700000000, 0)

	_, ok := store.Get(ctx, "/srv/movies/a.mkv", mod)
	assert.False(t, ok)

	store.Put(ctx, "/srv/movies/a.mkv", mod, sampleInfo())

	got, ok := store.Get(ctx, "/srv/movies/a.mkv", mod)
	require.True(t, ok)
	assert.Equal(t, "h264", got.VideoCodec)
	require.Len(t, got.AudioTracks, 1)
	assert.Equal(t, 6, got.AudioTracks[0].Channels)

	// A different modification time is a different key.
	_, ok = store.Get(ctx, "/srv/movies/a.mkv", mod.Add(time.Hour))
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	testStoreRoundTrip(t, NewMemory())
}

func TestBadgerStore(t *testing.T) {
	t.Parallel()
	store, err := Open(config.CacheConfig{Backend: "badger", Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	testStoreRoundTrip(t, store)
}

func TestRedisStore(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)
	store, err := Open(config.CacheConfig{Backend: "redis", RedisAddr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	testStoreRoundTrip(t, store)
}

type countingProber struct {
	mu     sync.Mutex
	calls  atomic.Int64
	result *mediainfo.MediaInfo
}

func (p *countingProber) Probe(_ context.Context, _ string) (*mediainfo.MediaInfo, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, nil
}

func TestCachedProber(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mkv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	prober := &countingProber{result: sampleInfo()}
	cached := NewCachedProber(prober, NewMemory(), nil)

	ctx := context.Background()
	first, err := cached.Probe(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "h264", first.VideoCodec)

	for i := 0; i < 5; i++ {
		_, err := cached.Probe(ctx, path)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), prober.calls.Load(), "unchanged file must not be re-probed")

	// Touching the file invalidates the cached entry.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	_, err = cached.Probe(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), prober.calls.Load())
}
