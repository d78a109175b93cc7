// SPDX-License-Identifier: MIT

// Package sessions tracks active playback per (renderer, resource) pair
// with reference counting. Stops are applied after a short delay so the
// rapid stop/start flapping some devices produce while probing trailing
// bytes does not tear a session down mid-playback.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/metrics"
)

// DefaultStopDelay absorbs stop/start flapping.
const DefaultStopDelay = 2 * time.Second

// Key identifies one playback session.
type Key struct {
	Renderer string // renderer network identity
	Resource string // resource path identifier
}

// Event describes a session transition handed to the hooks.
type Event struct {
	ID        string // unique per transition
	Key       Key
	StartedAt time.Time
	StoppedAt time.Time // zero for start events
}

// Hooks receive session transitions. They are invoked asynchronously;
// implementations must be safe for concurrent use.
type Hooks struct {
	OnStart func(ctx context.Context, ev Event)
	OnStop  func(ctx context.Context, ev Event)
}

// Canceler stops a scheduled task.
type Canceler interface {
	Stop() bool
}

// Scheduler defers work; injectable so tests control time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Canceler
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Canceler {
	return time.AfterFunc(d, f)
}

type session struct {
	refs      int
	startedAt time.Time
}

// Tracker is the session registry.
type Tracker struct {
	mu        sync.Mutex
	sessions  map[Key]*session
	stopDelay time.Duration
	scheduler Scheduler
	hooks     Hooks
	logger    zerolog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStopDelay overrides the stop debounce delay.
func WithStopDelay(d time.Duration) Option {
	return func(t *Tracker) { t.stopDelay = d }
}

// WithScheduler overrides the timer implementation.
func WithScheduler(s Scheduler) Option {
	return func(t *Tracker) { t.scheduler = s }
}

// NewTracker creates a tracker with the given hooks.
func NewTracker(hooks Hooks, opts ...Option) *Tracker {
	t := &Tracker{
		sessions:  make(map[Key]*session),
		stopDelay: DefaultStopDelay,
		scheduler: realScheduler{},
		hooks:     hooks,
		logger:    log.WithComponent("sessions"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Active reports whether a session exists for the key.
func (t *Tracker) Active(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[key] != nil
}

// Start registers one play request. The first concurrent start fires the
// start notification; later ones only bump the reference count. The
// original start time is kept, so a restart that creates a fresh session
// invalidates any delayed stop still pending against the old one.
func (t *Tracker) Start(ctx context.Context, key Key) {
	now := time.Now()

	t.mu.Lock()
	s, ok := t.sessions[key]
	if !ok {
		s = &session{startedAt: now}
		t.sessions[key] = s
	}
	s.refs++
	first := s.refs == 1
	now = s.startedAt
	t.mu.Unlock()

	if !first {
		return
	}
	metrics.SessionStarted()
	logger := log.WithContext(ctx, t.logger)
	logger.Info().
		Str(log.FieldEvent, "session.start").
		Str(log.FieldRenderer, key.Renderer).
		Str(log.FieldPathID, key.Resource).
		Msg("playback started")
	if t.hooks.OnStart != nil {
		ev := Event{ID: uuid.NewString(), Key: key, StartedAt: now}
		go t.hooks.OnStart(context.WithoutCancel(ctx), ev)
	}
}

// Stop schedules one stop. The decrement fires after the stop delay and
// only applies when no newer start superseded it in the meantime.
func (t *Tracker) Stop(ctx context.Context, key Key) {
	t.mu.Lock()
	s := t.sessions[key]
	if s == nil {
		t.mu.Unlock()
		return
	}
	started := s.startedAt
	t.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	t.scheduler.AfterFunc(t.stopDelay, func() {
		t.finishStop(ctx, key, started)
	})
}

func (t *Tracker) finishStop(ctx context.Context, key Key, started time.Time) {
	now := time.Now()

	t.mu.Lock()
	s := t.sessions[key]
	if s == nil || !s.startedAt.Equal(started) {
		// Superseded by a restart; this stop no longer applies.
		t.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, key)
	t.mu.Unlock()

	metrics.SessionStopped()
	logger := log.WithContext(ctx, t.logger)
	logger.Info().
		Str(log.FieldEvent, "session.stop").
		Str(log.FieldRenderer, key.Renderer).
		Str(log.FieldPathID, key.Resource).
		Msg("playback stopped")
	if t.hooks.OnStop != nil {
		ev := Event{ID: uuid.NewString(), Key: key, StartedAt: started, StoppedAt: now}
		go t.hooks.OnStop(ctx, ev)
	}
}
