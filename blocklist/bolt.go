package blocklist

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"gateguard/errors"
	"gateguard/exception"
	"gateguard/jsonx"
	"gateguard/logx"
	"gateguard/monitoring"
	"gateguard/types"
)

var blockBucket = []byte("blocklist")

// BoltBlocklist persists entries in a bbolt file so mitigations survive a
// gateway restart. A restarted node keeps rejecting known offenders
// instead of re-learning them through the rule engine.
type BoltBlocklist struct {
	db    *bolt.DB
	stop  chan struct{}
	nowFn func() time.Time
}

func NewBoltBlocklist(path string, sweepInterval time.Duration) (*BoltBlocklist, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeBlocklistFailure, err.Error())
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blockBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.NewError(errors.ErrCodeBlocklistFailure, err.Error())
	}

	bb := &BoltBlocklist{
		db:    db,
		stop:  make(chan struct{}),
		nowFn: time.Now,
	}

	if sweepInterval > 0 {
		exception.SafeGo("blocklist-bolt-janitor", func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-bb.stop:
					return
				case <-ticker.C:
					bb.sweep()
				}
			}
		})
	}

	return bb, nil
}

func (bb *BoltBlocklist) Check(ctx context.Context, key string) (*types.BlockEntry, bool) {
	var entry types.BlockEntry
	found := false

	err := bb.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(blockBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := jsonx.Unmarshal(raw, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		logx.Error("BLOCKLIST", "bolt check failed: ", err)
		return nil, false
	}
	if !found || entry.Expired(bb.nowFn()) {
		return nil, false
	}
	return &entry, true
}

func (bb *BoltBlocklist) Block(ctx context.Context, entry types.BlockEntry) error {
	err := bb.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blockBucket)
		if raw := bucket.Get([]byte(entry.Key)); raw != nil {
			var existing types.BlockEntry
			if err := jsonx.Unmarshal(raw, &existing); err == nil && existing.ExpiresAt.After(entry.ExpiresAt) {
				return nil
			}
		}
		raw, err := jsonx.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(entry.Key), raw)
	})
	if err != nil {
		return errors.NewError(errors.ErrCodeBlocklistFailure, err.Error())
	}
	return nil
}

func (bb *BoltBlocklist) Remove(ctx context.Context, key string) error {
	err := bb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blockBucket).Delete([]byte(key))
	})
	if err != nil {
		return errors.NewError(errors.ErrCodeBlocklistFailure, err.Error())
	}
	return nil
}

func (bb *BoltBlocklist) Entries(ctx context.Context) []types.BlockEntry {
	now := bb.nowFn()
	var out []types.BlockEntry

	_ = bb.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blockBucket).ForEach(func(k, v []byte) error {
			var entry types.BlockEntry
			if err := jsonx.Unmarshal(v, &entry); err != nil {
				return nil
			}
			if !entry.Expired(now) {
				out = append(out, entry)
			}
			return nil
		})
	})
	return out
}

func (bb *BoltBlocklist) Close() error {
	close(bb.stop)
	return bb.db.Close()
}

func (bb *BoltBlocklist) sweep() {
	now := bb.nowFn()
	live := 0

	err := bb.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blockBucket)
		cur := bucket.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var entry types.BlockEntry
			if err := jsonx.Unmarshal(v, &entry); err != nil || entry.Expired(now) {
				if err := cur.Delete(); err != nil {
					return err
				}
				continue
			}
			live++
		}
		return nil
	})
	if err != nil {
		logx.Error("BLOCKLIST", "bolt sweep failed: ", err)
		return
	}
	monitoring.SetBlocklistSize(live)
}
