package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Type string

const (
	Bolt   Type = "bolt"
	Memory Type = "memory"
	Redis  Type = "redis"
)

type OptionKey string

// Option is a storage-specific configuration value, keyed by an OptionKey understood by one or more providers.
type Option struct {
	ID     OptionKey `toml:"id"`
	Option any       `toml:"option"`
}

const (
	BoltDBFilePathOption OptionKey = "boltdb-filepath-option"
	RedisAddressOption   OptionKey = "redis-address-option"
	PasswordOption       OptionKey = "storage-password"
	ClockOption          OptionKey = "clock-option"
)

// ErrNotFound is returned by ReadAndDelete when the key is absent or has expired.
var ErrNotFound = errors.New("key not found")

// ServiceStorage describes the api for storage independent of DB providers.
// Values written with a TTL are never returned once expired; PurgeExpired reclaims them
// for providers without native eviction.
type ServiceStorage interface {
	Init(opts ...Option) error
	Type() Type
	URI() string
	IsOpen() bool
	Close() error

	Write(ctx context.Context, namespace, key string, value []byte) error
	WriteWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	// Read returns nil, nil when the key does not exist.
	Read(ctx context.Context, namespace, key string) ([]byte, error)
	// ReadAndDelete atomically removes the key and returns its value. Only one caller can
	// observe a given value; every other caller gets ErrNotFound.
	ReadAndDelete(ctx context.Context, namespace, key string) ([]byte, error)
	ReadAll(ctx context.Context, namespace string) (map[string][]byte, error)
	Delete(ctx context.Context, namespace, key string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	// PurgeExpired removes expired entries and returns how many were removed.
	PurgeExpired(ctx context.Context) (int, error)
}

type constructor func() ServiceStorage

var (
	availableStorages = make(map[Type]constructor)
	registryLock      sync.RWMutex
)

// RegisterStorage registers a provider constructor. Each call to NewStorage gets a fresh instance.
func RegisterStorage(t Type, newStorage func() ServiceStorage) error {
	registryLock.Lock()
	defer registryLock.Unlock()
	if _, ok := availableStorages[t]; ok {
		return fmt.Errorf("unable to register storage<%s>, a storage with that type already exists", t)
	}
	availableStorages[t] = newStorage
	return nil
}

// AvailableStorage returns the registered provider types.
func AvailableStorage() []Type {
	registryLock.RLock()
	defer registryLock.RUnlock()
	types := make([]Type, 0, len(availableStorages))
	for t := range availableStorages {
		types = append(types, t)
	}
	return types
}

func IsStorageAvailable(storage Type) bool {
	registryLock.RLock()
	defer registryLock.RUnlock()
	_, ok := availableStorages[storage]
	return ok
}

// NewStorage returns the instance of the given storageProvider. If it doesn't exist or fails to initialize,
// an error is returned.
func NewStorage(storageProvider Type, opts ...Option) (ServiceStorage, error) {
	registryLock.RLock()
	newStorage, ok := availableStorages[storageProvider]
	registryLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage provider: %s", storageProvider)
	}

	s := newStorage()
	if err := s.Init(opts...); err != nil {
		return nil, errors.Wrapf(err, "initializing storage provider<%s>", storageProvider)
	}
	logrus.Infof("initialized storage provider<%s> at uri<%s>", storageProvider, s.URI())
	return s, nil
}

// MakeNamespace takes a set of possible namespace values and combines them as a convention
func MakeNamespace(ns ...string) string {
	return strings.Join(ns, "-")
}

func getOption(opts []Option, key OptionKey) (any, bool) {
	for _, opt := range opts {
		if opt.ID == key {
			return opt.Option, true
		}
	}
	return nil, false
}

func getStringOption(opts []Option, key OptionKey) (string, error) {
	v, ok := getOption(opts, key)
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option<%s> must be a string; got %T", key, v)
	}
	return s, nil
}
