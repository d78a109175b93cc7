// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/trelleck/mediatree/internal/api"
	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/decide"
	"github.com/trelleck/mediatree/internal/engine"
	"github.com/trelleck/mediatree/internal/ffprobe"
	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/probecache"
	"github.com/trelleck/mediatree/internal/renderer"
	"github.com/trelleck/mediatree/internal/resume"
	"github.com/trelleck/mediatree/internal/sessions"
	"github.com/trelleck/mediatree/internal/telemetry"
	"github.com/trelleck/mediatree/internal/tree"
	"github.com/trelleck/mediatree/internal/updateclock"
	"github.com/trelleck/mediatree/internal/version"
	"github.com/trelleck/mediatree/internal/watch"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mediatree %s (commit: %s)\n", version.Version, version.Commit)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Configure(log.Config{Level: cfg.Log.Level, Service: "mediatree"})
	logger := log.WithComponent("daemon")
	logger.Info().Str("version", version.Version).Int("shares", len(cfg.Shares)).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.NewProvider(ctx, cfg.Telemetry, version.Version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	cacheStore, err := probecache.Open(cfg.Cache)
	if err != nil {
		return fmt.Errorf("open probe cache: %w", err)
	}
	defer cacheStore.Close()

	prober := probecache.NewCachedProber(
		ffprobe.New(os.Getenv("MEDIATREE_FFPROBE"), cfg.Subtitles),
		cacheStore, nil)

	var resumeStore *resume.Store
	if cfg.Resume.Enabled {
		resumeStore, err = resume.NewStore(cfg.Resume.DBPath, cfg.Resume.MinWatched)
		if err != nil {
			return fmt.Errorf("open resume store: %w", err)
		}
		defer resumeStore.Close()
	}

	clock := updateclock.New(filepath.Join(cfg.Cache.Dir, "updateid"), time.Second)
	defer clock.Flush()

	dec := decide.New(engine.DefaultRegistry(), cfg.Playback, cfg.Subtitles)
	tr := tree.New(cfg.Shares, tree.Deps{
		Decisions: dec,
		Prober:    prober,
		Clock:     clock,
		Resume:    resumeStore,
	})

	durationOf := func(ctx context.Context, path string) time.Duration {
		info, err := prober.Probe(ctx, path)
		if err != nil || info == nil {
			return 0
		}
		return info.Duration
	}
	tracker := sessions.NewTracker(sessionHooks(resumeStore, durationOf))

	detector := newReloadableDetector(cfg.Renderers)
	holder := config.NewHolder(cfg, configPath)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config hot reload unavailable")
	} else {
		updates := make(chan config.Config, 1)
		holder.Subscribe(updates)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case next := <-updates:
					detector.swap(next.Renderers)
					dec.Purge()
					logger.Info().Int("renderers", len(next.Renderers)).Msg("renderer profiles reloaded")
				}
			}
		}()
	}

	roots := make([]string, 0, len(cfg.Shares))
	for _, sh := range cfg.Shares {
		roots = append(roots, sh.Path)
	}
	watcher, err := watch.New(tr, clock, roots)
	if err != nil {
		logger.Warn().Err(err).Msg("filesystem watcher unavailable, running without change detection")
	} else {
		go watcher.Run(ctx)
		defer watcher.Close()
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: api.New(cfg.HTTP, api.Deps{
			Tree:     tr,
			Detector: detector,
			Clock:    clock,
			Sessions: tracker,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.HTTP.Listen).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	timeout := cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info().Msg("stopped")
	return nil
}

// reloadableDetector lets config reloads swap renderer profiles under
// live traffic.
type reloadableDetector struct {
	ptr atomic.Pointer[renderer.Detector]
}

func newReloadableDetector(cfgs []config.RendererConfig) *reloadableDetector {
	d := &reloadableDetector{}
	d.swap(cfgs)
	return d
}

func (d *reloadableDetector) swap(cfgs []config.RendererConfig) {
	d.ptr.Store(renderer.NewDetector(cfgs))
}

func (d *reloadableDetector) Detect(userAgent, remoteAddr string) *renderer.Renderer {
	return d.ptr.Load().Detect(userAgent, remoteAddr)
}

// completionFraction is the share of an item's runtime a session must
// have been open for to count as played to the end.
const completionFraction = 0.9

// sessionHooks wires playback transitions into watch-position markers
// when a resume store is configured. The tracker owns the session gauge,
// hooks must not touch it. The offset is the wall time the session was
// open, a deliberately coarse stand-in for a player-reported position;
// durationOf supplies the item runtime used to detect completion.
func sessionHooks(rs *resume.Store, durationOf func(ctx context.Context, path string) time.Duration) sessions.Hooks {
	logger := log.WithComponent("sessions")
	return sessions.Hooks{
		OnStart: func(ctx context.Context, ev sessions.Event) {
			logger.Info().
				Str(log.FieldSessionID, ev.ID).
				Str(log.FieldRenderer, ev.Key.Renderer).
				Str(log.FieldPath, ev.Key.Resource).
				Msg("session started")
		},
		OnStop: func(ctx context.Context, ev sessions.Event) {
			elapsed := ev.StoppedAt.Sub(ev.StartedAt)
			logger.Info().
				Str(log.FieldSessionID, ev.ID).
				Str(log.FieldRenderer, ev.Key.Renderer).
				Str(log.FieldPath, ev.Key.Resource).
				Int64(log.FieldDuration, elapsed.Milliseconds()).
				Msg("session stopped")
			if rs != nil {
				path := resumePath(ev.Key.Resource)
				done := false
				if total := durationOf(ctx, path); total > 0 &&
					elapsed.Seconds() >= total.Seconds()*completionFraction {
					done = true
				}
				if err := rs.Record(ctx, path, elapsed, done); err != nil {
					logger.Warn().Err(err).Msg("resume marker not recorded")
				}
			}
		},
	}
}

// resumePath strips the variant suffix so clones share one marker with
// their source item.
func resumePath(resource string) string {
	for _, suffix := range []string{"#convert", "#resume"} {
		if strings.HasSuffix(resource, suffix) {
			return strings.TrimSuffix(resource, suffix)
		}
	}
	return resource
}
