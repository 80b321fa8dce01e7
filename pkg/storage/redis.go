package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	RedisScanBatchSize = 1000
	RedisTracingOption OptionKey = "redis-tracing-option"

	redisKeySeparator = ":"
	redisPingRetries  = 5
)

func init() {
	if err := RegisterStorage(Redis, func() ServiceStorage { return new(RedisDB) }); err != nil {
		panic(err)
	}
}

// RedisDB stores entries as plain redis strings. TTLs map onto native key expiry, so
// PurgeExpired has nothing to do.
type RedisDB struct {
	db *redis.Client
}

func (b *RedisDB) Init(opts ...Option) error {
	address, err := getStringOption(opts, RedisAddressOption)
	if err != nil {
		return err
	}
	if address == "" {
		return errors.New("redis address option is required")
	}
	password, err := getStringOption(opts, PasswordOption)
	if err != nil {
		return err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
	})

	if tracing, ok := getOption(opts, RedisTracingOption); ok {
		if enabled, _ := tracing.(bool); enabled {
			if err = redisotel.InstrumentTracing(client); err != nil {
				return errors.Wrap(err, "instrumenting redis tracing")
			}
		}
	}

	ping := func() error {
		return client.Ping(context.Background()).Err()
	}
	notify := func(err error, next time.Duration) {
		logrus.WithError(err).Warnf("redis not reachable at<%s>, retrying in %s", address, next)
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), redisPingRetries)
	if err = backoff.RetryNotify(ping, policy, notify); err != nil {
		_ = client.Close()
		return errors.Wrapf(err, "connecting to redis at<%s>", address)
	}

	b.db = client
	return nil
}

func (b *RedisDB) URI() string {
	return b.db.Options().Addr
}

func (b *RedisDB) IsOpen() bool {
	if b.db == nil {
		return false
	}
	if err := b.db.Ping(context.Background()).Err(); err != nil {
		logrus.WithError(err).Error("pinging redis")
		return false
	}
	return true
}

func (b *RedisDB) Type() Type {
	return Redis
}

func (b *RedisDB) Close() error {
	return b.db.Close()
}

func (b *RedisDB) Write(ctx context.Context, namespace, key string, value []byte) error {
	// zero expiration means the key has no expiration time
	return b.db.Set(ctx, getRedisKey(namespace, key), value, 0).Err()
}

func (b *RedisDB) WriteWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	return b.db.Set(ctx, getRedisKey(namespace, key), value, ttl).Err()
}

func (b *RedisDB) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	res, err := b.db.Get(ctx, getRedisKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

func (b *RedisDB) ReadAndDelete(ctx context.Context, namespace, key string) ([]byte, error) {
	res, err := b.db.GetDel(ctx, getRedisKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "getdel")
	}
	return res, nil
}

func (b *RedisDB) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	keys, err := b.readAllKeys(ctx, namespace)
	if err != nil {
		return nil, errors.Wrap(err, "read all keys error")
	}
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	values, err := b.db.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "getting multiple keys")
	}
	if len(keys) != len(values) {
		return nil, errors.New("key length does not match value length")
	}

	prefix := getRedisKey(namespace, "")
	for i, val := range values {
		// keys may expire between SCAN and MGET
		s, ok := val.(string)
		if !ok {
			continue
		}
		result[strings.TrimPrefix(keys[i], prefix)] = []byte(s)
	}
	return result, nil
}

func (b *RedisDB) readAllKeys(ctx context.Context, namespace string) ([]string, error) {
	var cursor uint64
	allKeys := make([]string, 0)
	for {
		keys, nextCursor, err := b.db.Scan(ctx, cursor, getRedisKey(namespace, "*"), RedisScanBatchSize).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scan error")
		}
		allKeys = append(allKeys, keys...)
		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}
	return allKeys, nil
}

func (b *RedisDB) Delete(ctx context.Context, namespace, key string) error {
	return b.db.Del(ctx, getRedisKey(namespace, key)).Err()
}

func (b *RedisDB) DeleteNamespace(ctx context.Context, namespace string) error {
	keys, err := b.readAllKeys(ctx, namespace)
	if err != nil {
		return errors.Wrap(err, "read all keys")
	}
	if len(keys) == 0 {
		return errors.Errorf("could not delete namespace<%s>, namespace does not exist", namespace)
	}
	return b.db.Del(ctx, keys...).Err()
}

func (b *RedisDB) PurgeExpired(_ context.Context) (int, error) {
	return 0, nil
}

func getRedisKey(namespace, key string) string {
	return namespace + redisKeySeparator + key
}
