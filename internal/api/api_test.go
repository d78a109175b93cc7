// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/decide"
	"github.com/trelleck/mediatree/internal/engine"
	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/renderer"
	"github.com/trelleck/mediatree/internal/sessions"
	"github.com/trelleck/mediatree/internal/tree"
	"github.com/trelleck/mediatree/internal/updateclock"
)

type extProber struct{}

func (extProber) Probe(_ context.Context, path string) (*mediainfo.MediaInfo, error) {
	switch tree.ExtensionOf(path) {
	case "mkv":
		return &mediainfo.MediaInfo{
			Kind:        mediainfo.KindVideo,
			Container:   "mkv",
			VideoCodec:  "h264",
			Width:       1280,
			Height:      720,
			AudioTracks: []mediainfo.AudioTrack{{ID: 1, Lang: "eng", Codec: "aac", Channels: 2}},
		}, nil
	case "mp3":
		return &mediainfo.MediaInfo{
			Kind:        mediainfo.KindAudio,
			Container:   "mp3",
			AudioTracks: []mediainfo.AudioTrack{{ID: 1, Codec: "mp3", Channels: 2}},
		}, nil
	default:
		return &mediainfo.MediaInfo{Kind: mediainfo.KindUnknown}, nil
	}
}

type sessionLog struct {
	mu     sync.Mutex
	starts []sessions.Key
	stops  []sessions.Key
}

func (l *sessionLog) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.starts), len(l.stops)
}

type apiFixture struct {
	tree     *tree.Tree
	server   *httptest.Server
	sessions *sessionLog
	dir      string
}

func newAPIFixture(t *testing.T, files ...string) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	for _, n := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("payload"), 0o644))
	}

	clock := updateclock.New(filepath.Join(t.TempDir(), "updateid"), time.Millisecond)
	dec := decide.New(engine.DefaultRegistry(),
		config.PlaybackConfig{AudioLangPrefs: []string{"eng"}, DisableConversion: true},
		config.SubtitleConfig{LoadExternal: true})
	tr := tree.New([]config.ShareConfig{{Name: "media", Path: dir}}, tree.Deps{
		Decisions: dec,
		Prober:    extProber{},
		Clock:     clock,
	})

	slog := &sessionLog{}
	tracker := sessions.NewTracker(sessions.Hooks{
		OnStart: func(_ context.Context, ev sessions.Event) {
			slog.mu.Lock()
			slog.starts = append(slog.starts, ev.Key)
			slog.mu.Unlock()
		},
		OnStop: func(_ context.Context, ev sessions.Event) {
			slog.mu.Lock()
			slog.stops = append(slog.stops, ev.Key)
			slog.mu.Unlock()
		},
	}, sessions.WithStopDelay(time.Millisecond))

	srv := New(config.HTTPConfig{}, Deps{
		Tree:     tr,
		Detector: renderer.NewDetector(nil),
		Clock:    clock,
		Sessions: tracker,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &apiFixture{tree: tr, server: ts, sessions: slog, dir: dir}
}

func (fx *apiFixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(fx.server.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

// sharePathID browses the root through the tree so the test does not
// hardcode minted ids.
func (fx *apiFixture) sharePathID(t *testing.T) string {
	t.Helper()
	r := renderer.NewDetector(nil).Detect("", "")
	root := fx.tree.Root(r)
	children := root.Children()
	require.Len(t, children, 1)
	return children[0].PathID()
}

func TestBrowseRootListsShares(t *testing.T) {
	t.Parallel()
	fx := newAPIFixture(t, "movie.mkv")

	resp, body := fx.get(t, "/ctl/browse/"+tree.RootID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `text/xml; charset="utf-8"`, resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Contains(t, body, "DIDL-Lite")
	assert.Contains(t, body, "media")
}

func TestBrowseFolderItemsAndPagination(t *testing.T) {
	t.Parallel()
	fx := newAPIFixture(t, "a.mp3", "b.mp3", "c.mp3")
	id := fx.sharePathID(t)

	resp, body := fx.get(t, "/ctl/browse/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-Total-Matches"))
	assert.Equal(t, 3, strings.Count(body, "<item"))

	resp, body = fx.get(t, "/ctl/browse/"+id+"?start=1&count=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-Total-Matches"))
	assert.Equal(t, 1, strings.Count(body, "<item"))
	assert.Contains(t, body, "b.mp3")
}

func TestMetaUnknownObject(t *testing.T) {
	t.Parallel()
	fx := newAPIFixture(t)

	resp, _ := fx.get(t, "/ctl/meta/0.9.9")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamServesFileAndTracksSession(t *testing.T) {
	t.Parallel()
	fx := newAPIFixture(t, "movie.mkv")
	id := fx.sharePathID(t)

	r := renderer.NewDetector(nil).Detect("", "")
	folder, err := fx.tree.Resolve(context.Background(), id, r)
	require.NoError(t, err)
	require.NoError(t, fx.tree.Discover(context.Background(), folder.(tree.Container), r, false))
	children := folder.(tree.Container).Children()
	require.NotEmpty(t, children)

	resp, body := fx.get(t, "/media/"+children[0].PathID()+"/stream/movie.mkv")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/x-matroska", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Streaming", resp.Header.Get("TransferMode.DLNA.ORG"))
	assert.Equal(t, "payload", body)

	require.Eventually(t, func() bool {
		starts, stops := fx.sessions.counts()
		return starts == 1 && stops == 1
	}, 2*time.Second, 10*time.Millisecond)

	fx.sessions.mu.Lock()
	started := fx.sessions.starts[0]
	fx.sessions.mu.Unlock()
	assert.Equal(t, "127.0.0.1", started.Renderer, "session keyed by client address")
}

func TestSessionKeyUsesNetworkIdentity(t *testing.T) {
	t.Parallel()
	it := &tree.Item{Path: "/srv/movie.mkv"}

	tv := &renderer.Renderer{Name: "Generic", Identity: "192.168.1.50:41002"}
	tablet := &renderer.Renderer{Name: "Generic", Identity: "192.168.1.77:52310"}

	a := sessionKeyFor(tv, it)
	b := sessionKeyFor(tablet, it)
	assert.Equal(t, "192.168.1.50", a.Renderer)
	assert.Equal(t, "192.168.1.77", b.Renderer)
	assert.NotEqual(t, a, b, "one profile on two devices stays two sessions")
	assert.Equal(t, it.Key(), a.Resource)

	// A detector fed no remote address falls back to the profile name.
	anon := &renderer.Renderer{Name: "Generic"}
	assert.Equal(t, "Generic", sessionKeyFor(anon, it).Renderer)
}

func TestStreamUnknownObject(t *testing.T) {
	t.Parallel()
	fx := newAPIFixture(t)

	resp, _ := fx.get(t, "/media/0.7/stream/x.mkv")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthzReportsUpdateID(t *testing.T) {
	t.Parallel()
	fx := newAPIFixture(t)

	resp, body := fx.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, "update_id")
}
