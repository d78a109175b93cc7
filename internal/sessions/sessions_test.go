// SPDX-License-Identifier: MIT

package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// immediateScheduler runs scheduled work synchronously.
type immediateScheduler struct{}

type noopCanceler struct{}

func (noopCanceler) Stop() bool { return false }

func (immediateScheduler) AfterFunc(_ time.Duration, f func()) Canceler {
	f()
	return noopCanceler{}
}

func TestRefcountUnderConcurrency(t *testing.T) {
	var starts, stops atomic.Int64
	var done sync.WaitGroup

	hooks := Hooks{
		OnStart: func(context.Context, Event) { starts.Add(1); done.Done() },
		OnStop:  func(context.Context, Event) { stops.Add(1); done.Done() },
	}
	tr := NewTracker(hooks, WithScheduler(immediateScheduler{}))
	key := Key{Renderer: "10.0.0.5", Resource: "0.1.4"}

	const n = 16
	done.Add(2) // one start + one stop notification expected

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Start(ctx, key)
		}()
	}
	wg.Wait()
	assert.True(t, tr.Active(key))

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Stop(ctx, key)
		}()
	}
	wg.Wait()
	done.Wait()

	assert.False(t, tr.Active(key))
	assert.EqualValues(t, 1, starts.Load(), "exactly one start notification")
	assert.EqualValues(t, 1, stops.Load(), "exactly one stop notification")
}

// queueScheduler collects scheduled work so tests decide when each
// delayed stop fires.
type queueScheduler struct {
	mu    sync.Mutex
	queue []func()
}

func (q *queueScheduler) AfterFunc(_ time.Duration, f func()) Canceler {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, f)
	return noopCanceler{}
}

func (q *queueScheduler) fireNext() {
	q.mu.Lock()
	f := q.queue[0]
	q.queue = q.queue[1:]
	q.mu.Unlock()
	f()
}

func TestStopSupersededByRestart(t *testing.T) {
	var stops atomic.Int64
	var done sync.WaitGroup
	sched := &queueScheduler{}
	tr := NewTracker(Hooks{
		OnStop: func(context.Context, Event) { stops.Add(1); done.Done() },
	}, WithScheduler(sched))

	ctx := context.Background()
	key := Key{Renderer: "10.0.0.5", Resource: "0.1.4"}

	tr.Start(ctx, key)
	tr.Stop(ctx, key) // first delayed stop, tears the session down
	tr.Stop(ctx, key) // duplicate stop from a flapping device

	done.Add(1)
	sched.fireNext()
	done.Wait()
	assert.False(t, tr.Active(key))

	// A restart arrives before the duplicate stop fires. Its recorded
	// start time no longer matches, so the stale stop must not touch
	// the new session.
	tr.Start(ctx, key)
	sched.fireNext()
	assert.True(t, tr.Active(key))
	assert.EqualValues(t, 1, stops.Load())

	// Wind down the restarted session.
	tr.Stop(ctx, key)
	done.Add(1)
	sched.fireNext()
	done.Wait()
	assert.False(t, tr.Active(key))
	assert.EqualValues(t, 2, stops.Load())
}
