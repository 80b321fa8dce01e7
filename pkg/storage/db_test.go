package storage

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmdoc/mdoc-service/pkg/encryption"
)

// testDB pairs a store with a way to move its notion of time forward.
type testDB struct {
	name    string
	db      ServiceStorage
	advance func(d time.Duration)
}

func getDBImplementations(t *testing.T) []testDB {
	dbImpls := make([]testDB, 0)

	memoryClock := clock.NewMock()
	dbImpls = append(dbImpls, testDB{name: "memory", db: setupMemoryDB(t, memoryClock), advance: memoryClock.Add})

	boltClock := clock.NewMock()
	boltDB := setupBoltDB(t, boltClock)
	dbImpls = append(dbImpls, testDB{name: "bolt", db: boltDB, advance: boltClock.Add})

	redisDB, server := setupRedisDB(t)
	dbImpls = append(dbImpls, testDB{name: "redis", db: redisDB, advance: server.FastForward})

	if !testing.Short() {
		postgresClock := clock.NewMock()
		dbImpls = append(dbImpls, testDB{name: "postgres", db: setupPostgresDB(t, postgresClock), advance: postgresClock.Add})
	}

	key := make([]byte, 32)
	dbImpls = append(dbImpls, testDB{
		name: "encrypted bolt",
		db: NewEncryptedWrapper(
			boltDB,
			encryption.NewXChaCha20Poly1305EncrypterWithKey(key),
			encryption.NewXChaCha20Poly1305EncrypterWithKey(key),
		),
		advance: boltClock.Add,
	})

	return dbImpls
}

func setupMemoryDB(t *testing.T, c clock.Clock) ServiceStorage {
	db, err := NewStorage(Memory, Option{ID: ClockOption, Option: c})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func setupBoltDB(t *testing.T, c clock.Clock) *BoltDB {
	dbName := filepath.Join(t.TempDir(), "test.db")
	db, err := NewStorage(Bolt,
		Option{ID: BoltDBFilePathOption, Option: dbName},
		Option{ID: ClockOption, Option: c},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, db)

	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(dbName)
	})
	return db.(*BoltDB)
}

func setupRedisDB(t *testing.T) (*RedisDB, *miniredis.Miniredis) {
	server := miniredis.RunT(t)
	db, err := NewStorage(Redis, Option{ID: RedisAddressOption, Option: server.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db.(*RedisDB), server
}

func setupPostgresDB(t *testing.T, c clock.Clock) *SQLDB {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	scalar := make([]byte, 4)
	_, err = rand.Read(scalar)
	require.NoError(t, err)

	randomDir := strconv.Itoa(int(binary.BigEndian.Uint32(scalar)))
	postgres := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		BinariesPath(filepath.Join(homeDir, ".embedded-postgres-go", "tmpBin")).
		DataPath(filepath.Join(os.TempDir(), ".embedded-postgres-go", "data", randomDir)).
		RuntimePath(filepath.Join(os.TempDir(), ".embedded-postgres-go", "runtime", randomDir)))
	require.NoError(t, postgres.Start())

	t.Cleanup(func() {
		_ = postgres.Stop()
	})

	db, err := NewStorage(DatabaseSQL,
		Option{ID: SQLConnectionString, Option: "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable"},
		Option{ID: SQLDriverName, Option: "postgres"},
		Option{ID: ClockOption, Option: c},
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db.(*SQLDB)
}

type record struct {
	ConfigurationID string `json:"configuration_id"`
	CreatedAt       int64  `json:"created_at"`
}

func TestDB(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		t.Run(dbImpl.name, func(t *testing.T) {
			ctx := context.Background()
			db := dbImpl.db
			assert.True(t, db.IsOpen())

			namespace := "codes"
			first, err := json.Marshal(record{ConfigurationID: "org.iso.18013.5.1.mDL", CreatedAt: 1})
			require.NoError(t, err)
			second, err := json.Marshal(record{ConfigurationID: "org.iso.18013.5.1.mDL", CreatedAt: 2})
			require.NoError(t, err)

			require.NoError(t, db.Write(ctx, namespace, "first", first))
			require.NoError(t, db.Write(ctx, namespace, "second", second))

			read, err := db.Read(ctx, namespace, "first")
			assert.NoError(t, err)
			assert.Equal(t, first, read)

			missing, err := db.Read(ctx, namespace, "missing")
			assert.NoError(t, err)
			assert.Nil(t, missing)

			all, err := db.ReadAll(ctx, namespace)
			assert.NoError(t, err)
			assert.Len(t, all, 2)
			assert.Equal(t, second, all["second"])

			require.NoError(t, db.Delete(ctx, namespace, "first"))
			read, err = db.Read(ctx, namespace, "first")
			assert.NoError(t, err)
			assert.Nil(t, read)

			require.NoError(t, db.DeleteNamespace(ctx, namespace))
			all, err = db.ReadAll(ctx, namespace)
			assert.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestReadAndDelete(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		t.Run(dbImpl.name, func(t *testing.T) {
			ctx := context.Background()
			db := dbImpl.db

			require.NoError(t, db.WriteWithTTL(ctx, "nonces", "n1", []byte("nonce"), time.Minute))

			value, err := db.ReadAndDelete(ctx, "nonces", "n1")
			assert.NoError(t, err)
			assert.Equal(t, []byte("nonce"), value)

			_, err = db.ReadAndDelete(ctx, "nonces", "n1")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = db.ReadAndDelete(ctx, "unknown-namespace", "n1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestReadAndDeleteSingleWinner(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		t.Run(dbImpl.name, func(t *testing.T) {
			ctx := context.Background()
			db := dbImpl.db
			require.NoError(t, db.WriteWithTTL(ctx, "codes", "contended", []byte("code"), time.Minute))

			var winners atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := db.ReadAndDelete(ctx, "codes", "contended"); err == nil {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), winners.Load())
		})
	}
}

func TestWriteWithTTL(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		t.Run(dbImpl.name, func(t *testing.T) {
			ctx := context.Background()
			db := dbImpl.db

			require.NoError(t, db.WriteWithTTL(ctx, "tokens", "short", []byte("short"), 10*time.Second))
			require.NoError(t, db.WriteWithTTL(ctx, "tokens", "long", []byte("long"), time.Hour))
			require.NoError(t, db.Write(ctx, "tokens", "forever", []byte("forever")))

			assert.Error(t, db.WriteWithTTL(ctx, "tokens", "bad", []byte("bad"), 0))

			dbImpl.advance(11 * time.Second)

			read, err := db.Read(ctx, "tokens", "short")
			assert.NoError(t, err)
			assert.Nil(t, read)

			_, err = db.ReadAndDelete(ctx, "tokens", "short")
			assert.ErrorIs(t, err, ErrNotFound)

			read, err = db.Read(ctx, "tokens", "long")
			assert.NoError(t, err)
			assert.Equal(t, []byte("long"), read)

			all, err := db.ReadAll(ctx, "tokens")
			assert.NoError(t, err)
			assert.Len(t, all, 2)
			assert.Contains(t, all, "forever")
		})
	}
}

func TestPurgeExpired(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		t.Run(dbImpl.name, func(t *testing.T) {
			ctx := context.Background()
			db := dbImpl.db
			for _, key := range []string{"a", "b", "c"} {
				require.NoError(t, db.WriteWithTTL(ctx, "nonces", key, []byte(key), time.Second))
			}
			require.NoError(t, db.Write(ctx, "nonces", "kept", []byte("kept")))

			dbImpl.advance(2 * time.Second)
			purged, err := db.PurgeExpired(ctx)
			assert.NoError(t, err)
			if db.Type() == Redis {
				// redis evicts natively
				assert.Zero(t, purged)
			} else {
				assert.Equal(t, 3, purged)
			}

			read, err := db.Read(ctx, "nonces", "kept")
			assert.NoError(t, err)
			assert.Equal(t, []byte("kept"), read)
		})
	}
}

func TestReaper(t *testing.T) {
	mock := clock.NewMock()
	db := setupMemoryDB(t, mock)
	ctx := context.Background()
	require.NoError(t, db.WriteWithTTL(ctx, "nonces", "n", []byte("n"), time.Second))

	reaper := NewReaper(db, WithSweepInterval(5*time.Second), WithReaperClock(mock))
	reaper.Start(ctx)
	t.Cleanup(reaper.Stop)

	mock.Add(5 * time.Second)
	assert.Eventually(t, func() bool {
		remaining := 0
		db.(*MemoryDB).entries.Range(func(_, _ any) bool {
			remaining++
			return true
		})
		return remaining == 0
	}, time.Second, 10*time.Millisecond)

	reaper.Stop()
	reaper.Stop()
}

func TestNewStorage(t *testing.T) {
	assert.True(t, IsStorageAvailable(Memory))
	assert.True(t, IsStorageAvailable(Bolt))
	assert.True(t, IsStorageAvailable(Redis))
	assert.True(t, IsStorageAvailable(DatabaseSQL))
	assert.False(t, IsStorageAvailable("etcd"))
	assert.Len(t, AvailableStorage(), 4)

	_, err := NewStorage("etcd")
	assert.ErrorContains(t, err, "unsupported storage provider")

	_, err = NewStorage(Redis)
	assert.ErrorContains(t, err, "redis address option is required")

	_, err = NewStorage(Memory, Option{ID: ClockOption, Option: "not a clock"})
	assert.Error(t, err)

	assert.Equal(t, "codes-v1", MakeNamespace("codes", "v1"))
}

func TestSQLInitUnreachable(t *testing.T) {
	db := new(SQLDB)
	err := db.Init(
		Option{ID: SQLConnectionString, Option: "host=127.0.0.1 port=1 user=postgres dbname=postgres sslmode=disable connect_timeout=1"},
		Option{ID: SQLDriverName, Option: "postgres"},
	)
	assert.ErrorContains(t, err, "creating entries table")
	assert.Nil(t, db.db)
	assert.NoError(t, db.Close())
}
