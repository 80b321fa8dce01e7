package transaction

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/internal/util"
	"github.com/openmdoc/mdoc-service/pkg/storage"
)

const (
	namespace = "transaction"
)

var (
	codeNamespace        = storage.MakeNamespace(namespace, "code")
	accessTokenNamespace = storage.MakeNamespace(namespace, "token")
	nonceNamespace       = storage.MakeNamespace(namespace, "nonce")
)

// Storage keeps records under the SHA-256 of their token, so raw tokens never reach the store.
type Storage struct {
	db storage.ServiceStorage
}

func NewTransactionStorage(db storage.ServiceStorage) (*Storage, error) {
	if db == nil {
		return nil, errors.New("db reference is nil")
	}
	return &Storage{db: db}, nil
}

func (s *Storage) store(ctx context.Context, ns, token string, r record, ttl time.Duration) error {
	recordBytes, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshalling record")
	}
	return s.db.WriteWithTTL(ctx, ns, util.HashToken(token), recordBytes, ttl)
}

// take atomically reads and removes a record. A missing record is storage.ErrNotFound, as is one
// sealed under a key the store no longer holds.
func (s *Storage) take(ctx context.Context, ns, token string) (*record, error) {
	recordBytes, err := s.db.ReadAndDelete(ctx, ns, util.HashToken(token))
	if errors.Is(err, storage.ErrDecrypt) {
		logrus.WithError(err).WithField("namespace", ns).Warn("discarding undecryptable record")
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalRecord(recordBytes)
}

// get reads a record without consuming it. A missing record is nil, nil.
func (s *Storage) get(ctx context.Context, ns, token string) (*record, error) {
	recordBytes, err := s.db.Read(ctx, ns, util.HashToken(token))
	if errors.Is(err, storage.ErrDecrypt) {
		logrus.WithError(err).WithField("namespace", ns).Warn("ignoring undecryptable record")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading record")
	}
	if len(recordBytes) == 0 {
		return nil, nil
	}
	return unmarshalRecord(recordBytes)
}

func unmarshalRecord(recordBytes []byte) (*record, error) {
	var r record
	if err := json.Unmarshal(recordBytes, &r); err != nil {
		return nil, errors.Wrap(err, "unmarshalling record")
	}
	return &r, nil
}
