package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	logx "newspush/pkg/logx"
)

var (
	bucketRuns = []byte("runs")
	bucketLast = []byte("last_success")
)

const defaultBoltLockWait = time.Second

// boltStore keeps runs keyed by "<started UTC timestamp>/<run id>" so a cursor
// walks them in start order, plus one last-success entry per mode.
type boltStore struct {
	db *bolt.DB
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for bolt driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	wait := cfg.BusyTimeout
	if wait <= 0 {
		wait = defaultBoltLockWait
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: wait})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRuns); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketLast)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("run journal opened", logx.String("path", path), logx.Duration("lock_wait", wait))
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *boltStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := []byte(r.Started.UTC().Format("20060102T150405.000000000") + "/" + r.RunID)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put(key, val); err != nil {
			return err
		}
		if !countsAsSuccess(r) {
			return nil
		}
		last := tx.Bucket(bucketLast)
		if cur := last.Get([]byte(r.Mode)); cur != nil {
			var prev time.Time
			if err := prev.UnmarshalText(cur); err == nil && !r.Finished.After(prev) {
				return nil
			}
		}
		at, err := r.Finished.UTC().MarshalText()
		if err != nil {
			return err
		}
		return last.Put([]byte(r.Mode), at)
	})
}

func (s *boltStore) LastSuccess(ctx context.Context, mode string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	var (
		at time.Time
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLast).Get([]byte(mode))
		if v == nil {
			return nil
		}
		if err := at.UnmarshalText(v); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return at, ok, err
}
