// SPDX-License-Identifier: MIT

package probecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/metrics"
)

// redisTTL bounds entry lifetime; the (path, mtime) key already
// invalidates on file change, the TTL only caps stale growth.
const redisTTL = 30 * 24 * time.Hour

// redisStore shares the profile cache between instances.
type redisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

func openRedis(cfg config.CacheConfig) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisStore{client: client, logger: log.WithComponent("probecache")}, nil
}

func (s *redisStore) Get(ctx context.Context, path string, modTime time.Time) (*mediainfo.MediaInfo, bool) {
	val, err := s.client.Get(ctx, cacheKey(path, modTime)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).
				Str(log.FieldPath, path).Msg("redis get failed")
			metrics.RecordProbeCache("error")
			return nil, false
		}
		metrics.RecordProbeCache("miss")
		return nil, false
	}

	var info mediainfo.MediaInfo
	if err := json.Unmarshal(val, &info); err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldPath, path).Msg("unmarshal cached profile failed")
		metrics.RecordProbeCache("error")
		return nil, false
	}
	metrics.RecordProbeCache("hit")
	return &info, true
}

func (s *redisStore) Put(ctx context.Context, path string, modTime time.Time, info *mediainfo.MediaInfo) {
	buf, err := json.Marshal(info)
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldPath, path).Msg("marshal profile failed")
		return
	}
	if err := s.client.Set(ctx, cacheKey(path, modTime), buf, redisTTL).Err(); err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldPath, path).Msg("redis set failed")
	}
}

func (s *redisStore) Close() error { return s.client.Close() }
