// SPDX-License-Identifier: MIT

// Package updateclock maintains the process-wide change counter
// renderers poll to detect tree changes. Bumps are debounced: any number
// of requests inside the window collapse into one increment and one
// persisted write.
package updateclock

import (
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/metrics"
)

// DefaultDebounce is the standard collapse window for bump requests.
const DefaultDebounce = 300 * time.Millisecond

// Clock is the debounced monotonic counter. The zero value is not
// usable; construct with New.
type Clock struct {
	mu       sync.RWMutex
	value    uint32
	pending  *time.Timer
	debounce time.Duration
	path     string // state file, empty disables persistence
	logger   zerolog.Logger
}

// New creates a clock persisting to path (empty path keeps it
// memory-only) and loads the previously persisted value.
func New(path string, debounce time.Duration) *Clock {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	c := &Clock{debounce: debounce, path: path, logger: log.WithComponent("updateclock")}
	c.load()
	return c
}

// Current returns the counter value.
func (c *Clock) Current() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Bump requests an increment. Requests arriving within the debounce
// window collapse into a single increment committed when the window
// closes.
func (c *Clock) Bump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return
	}
	c.pending = time.AfterFunc(c.debounce, c.commit)
}

// Flush commits a pending bump immediately. Intended for shutdown and
// tests.
func (c *Clock) Flush() {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending != nil && pending.Stop() {
		c.commit()
	}
}

func (c *Clock) commit() {
	c.mu.Lock()
	c.pending = nil
	if c.value == math.MaxUint32 {
		c.value = 0
	} else {
		c.value++
	}
	value := c.value
	c.mu.Unlock()

	metrics.RecordClockBump()
	c.persist(value)
}

func (c *Clock) persist(value uint32) {
	if c.path == "" {
		return
	}
	data := []byte(strconv.FormatUint(uint64(value), 10) + "\n")
	if err := renameio.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldPath, c.path).Msg("persist counter failed")
	}
}

func (c *Clock) load() {
	if c.path == "" {
		return
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn().Err(err).
				Str(log.FieldPath, c.path).Msg("load counter failed")
		}
		return
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 32)
	if err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldPath, c.path).Msg("corrupt counter state, starting at zero")
		return
	}
	c.value = uint32(v)
}
