// SPDX-License-Identifier: MIT

package probecache

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/trelleck/mediatree/internal/mediainfo"
)

// CachedProber wraps an external prober with the persistent cache.
// Concurrent requests for the same file collapse into one probe, and an
// optional rate limiter throttles probe frequency for devices that do
// not tolerate parallel reads.
type CachedProber struct {
	prober  mediainfo.Prober
	store   Store
	group   singleflight.Group
	limiter *rate.Limiter // nil means unthrottled
}

// NewCachedProber builds a caching prober. limiter may be nil.
func NewCachedProber(p mediainfo.Prober, store Store, limiter *rate.Limiter) *CachedProber {
	return &CachedProber{prober: p, store: store, limiter: limiter}
}

// Probe returns the technical profile for the file, from cache when the
// file is unchanged since it was last probed.
func (c *CachedProber) Probe(ctx context.Context, path string) (*mediainfo.MediaInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	modTime := st.ModTime().Truncate(time.Second)

	if info, ok := c.store.Get(ctx, path, modTime); ok {
		return info, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		// Re-check: another caller may have populated the cache while we
		// waited for the flight slot.
		if info, ok := c.store.Get(ctx, path, modTime); ok {
			return info, nil
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		info, err := c.prober.Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		c.store.Put(ctx, path, modTime, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mediainfo.MediaInfo), nil
}
