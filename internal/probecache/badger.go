// SPDX-License-Identifier: MIT

package probecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/mediainfo"
	"github.com/trelleck/mediatree/internal/metrics"
)

// badgerStore is the default on-disk backend.
type badgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

func openBadger(dir string) (Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &badgerStore{db: db, logger: log.WithComponent("probecache")}, nil
}

func (s *badgerStore) Get(_ context.Context, path string, modTime time.Time) (*mediainfo.MediaInfo, bool) {
	key := []byte(cacheKey(path, modTime))
	var info mediainfo.MediaInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			s.logger.Warn().Err(err).
				Str(log.FieldPath, path).Msg("badger get failed")
			metrics.RecordProbeCache("error")
			return nil, false
		}
		metrics.RecordProbeCache("miss")
		return nil, false
	}
	metrics.RecordProbeCache("hit")
	return &info, true
}

func (s *badgerStore) Put(_ context.Context, path string, modTime time.Time, info *mediainfo.MediaInfo) {
	key := []byte(cacheKey(path, modTime))
	buf, err := json.Marshal(info)
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldPath, path).Msg("marshal profile failed")
		return
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldPath, path).Msg("badger set failed")
	}
}

func (s *badgerStore) Close() error { return s.db.Close() }
