package storage

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	DBFilePrefix = "mdoc-service"

	// every bolt value is prefixed with its expiry in unix nanoseconds, zero meaning none
	expiryHeaderSize = 8
)

func init() {
	if err := RegisterStorage(Bolt, func() ServiceStorage { return new(BoltDB) }); err != nil {
		panic(err)
	}
}

type BoltDB struct {
	db    *bolt.DB
	clock clock.Clock
}

// Init instantiates a file-based storage instance for Bolt https://github.com/etcd-io/bbolt
func (b *BoltDB) Init(opts ...Option) error {
	if b.db != nil {
		return errors.New("bolt db already initialized")
	}

	dbFilePath, err := getStringOption(opts, BoltDBFilePathOption)
	if err != nil {
		return err
	}
	if dbFilePath == "" {
		dbFilePath = DBFilePrefix + "-bolt.db"
	}

	b.clock = clock.New()
	if c, ok := getOption(opts, ClockOption); ok {
		injected, ok := c.(clock.Clock)
		if !ok {
			return errors.Errorf("option<%s> must be a clock.Clock; got %T", ClockOption, c)
		}
		b.clock = injected
	}

	db, err := bolt.Open(dbFilePath, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return errors.Wrapf(err, "opening bolt db at path<%s>", dbFilePath)
	}
	b.db = db
	return nil
}

func (b *BoltDB) URI() string {
	return b.db.Path()
}

func (b *BoltDB) IsOpen() bool {
	if b.db == nil {
		return false
	}
	return b.db.Path() != ""
}

func (b *BoltDB) Type() Type {
	return Bolt
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) Write(_ context.Context, namespace string, key string, value []byte) error {
	return b.put(namespace, key, value, time.Time{})
}

func (b *BoltDB) WriteWithTTL(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	return b.put(namespace, key, value, b.clock.Now().Add(ttl))
}

func (b *BoltDB) put(namespace, key string, value []byte, expiresAt time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), encodeBoltValue(value, expiresAt))
	})
}

func (b *BoltDB) Read(_ context.Context, namespace, key string) ([]byte, error) {
	var result []byte
	now := b.clock.Now()
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			logrus.Debugf("namespace<%s> does not exist", namespace)
			return nil
		}
		value, expired := decodeBoltValue(bucket.Get([]byte(key)), now)
		if !expired {
			result = value
		}
		return nil
	})
	return result, err
}

func (b *BoltDB) ReadAndDelete(_ context.Context, namespace, key string) ([]byte, error) {
	var result []byte
	now := b.clock.Now()
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return ErrNotFound
		}
		stored := bucket.Get([]byte(key))
		if stored == nil {
			return ErrNotFound
		}
		value, expired := decodeBoltValue(stored, now)
		if err := bucket.Delete([]byte(key)); err != nil {
			return errors.Wrapf(err, "deleting key<%s>", key)
		}
		if expired {
			return nil
		}
		result = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrNotFound
	}
	return result, nil
}

func (b *BoltDB) ReadAll(_ context.Context, namespace string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	now := b.clock.Now()
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			logrus.Debugf("namespace<%s> does not exist", namespace)
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if value, expired := decodeBoltValue(v, now); !expired {
				result[string(k)] = value
			}
		}
		return nil
	})
	return result, err
}

func (b *BoltDB) Delete(_ context.Context, namespace, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return errors.Errorf("namespace<%s> does not exist", namespace)
		}
		return bucket.Delete([]byte(key))
	})
}

func (b *BoltDB) DeleteNamespace(_ context.Context, namespace string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(namespace)); err != nil {
			return errors.Wrapf(err, "could not delete namespace<%s>", namespace)
		}
		return nil
	})
}

func (b *BoltDB) PurgeExpired(_ context.Context) (int, error) {
	purged := 0
	now := b.clock.Now()
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, bucket *bolt.Bucket) error {
			var expiredKeys [][]byte
			cursor := bucket.Cursor()
			for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
				if _, expired := decodeBoltValue(v, now); expired {
					expiredKeys = append(expiredKeys, append([]byte(nil), k...))
				}
			}
			for _, k := range expiredKeys {
				if err := bucket.Delete(k); err != nil {
					return err
				}
				purged++
			}
			return nil
		})
	})
	return purged, err
}

func encodeBoltValue(value []byte, expiresAt time.Time) []byte {
	out := make([]byte, expiryHeaderSize+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(out, uint64(expiresAt.UnixNano()))
	}
	copy(out[expiryHeaderSize:], value)
	return out
}

// decodeBoltValue returns a copy of the value, since bolt memory is only valid inside the transaction.
func decodeBoltValue(stored []byte, now time.Time) ([]byte, bool) {
	if len(stored) < expiryHeaderSize {
		return nil, true
	}
	if expiry := binary.BigEndian.Uint64(stored[:expiryHeaderSize]); expiry != 0 && now.UnixNano() >= int64(expiry) {
		return nil, true
	}
	return clone(stored[expiryHeaderSize:]), false
}
