package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/benbjohnson/clock"
	// We include the postresql driver in our implementation, so users can pick "postgres" via configuration.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DatabaseSQL Type = "sql"

	SQLConnectionString OptionKey = "sql-connection-string-option"
	SQLDriverName       OptionKey = "sql-driver-name-option"
)

func init() {
	if err := RegisterStorage(DatabaseSQL, func() ServiceStorage { return new(SQLDB) }); err != nil {
		panic(err)
	}
}

// SQLDB keeps every namespace in one table. Expiry timestamps come from the store's clock so that
// application and database time never disagree.
type SQLDB struct {
	db               *sql.DB
	connectionString string
	clock            clock.Clock
}

func (s *SQLDB) Init(opts ...Option) error {
	connString, err := getStringOption(opts, SQLConnectionString)
	if err != nil {
		return err
	}
	driverName, err := getStringOption(opts, SQLDriverName)
	if err != nil {
		return err
	}
	if connString == "" || driverName == "" {
		return errors.New("sql connection string and driver name must not be empty")
	}
	s.connectionString = connString

	s.clock = clock.New()
	if c, ok := getOption(opts, ClockOption); ok {
		injected, ok := c.(clock.Clock)
		if !ok {
			return errors.Errorf("option<%s> must be a clock.Clock; got %T", ClockOption, c)
		}
		s.clock = injected
	}

	db, err := sql.Open(driverName, connString)
	if err != nil {
		return errors.Wrap(err, "opening sql db")
	}

	if err = createEntriesTable(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("closing sql db after failed table setup")
		}
		return err
	}

	s.db = db
	return nil
}

func createEntriesTable(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS mdoc_entries (
    namespace varchar NOT NULL,
    key varchar NOT NULL,
    value bytea,
    expires_at timestamptz,
    PRIMARY KEY (namespace, key)
);`); err != nil {
		return errors.Wrap(err, "creating entries table")
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_mdoc_entries_expiry ON mdoc_entries (expires_at);`); err != nil {
		return errors.Wrap(err, "creating expiry index")
	}
	return nil
}

func (s *SQLDB) Type() Type {
	return DatabaseSQL
}

func (s *SQLDB) URI() string {
	return s.connectionString
}

func (s *SQLDB) IsOpen() bool {
	if s.db == nil {
		return false
	}
	if err := s.db.Ping(); err != nil {
		logrus.WithError(err).Error("pinging db")
		return false
	}
	return true
}

func (s *SQLDB) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLDB) Write(ctx context.Context, namespace, key string, value []byte) error {
	return s.upsert(ctx, namespace, key, value, sql.NullTime{})
}

func (s *SQLDB) WriteWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	return s.upsert(ctx, namespace, key, value, sql.NullTime{Time: s.clock.Now().Add(ttl), Valid: true})
}

func (s *SQLDB) upsert(ctx context.Context, namespace, key string, value []byte, expiresAt sql.NullTime) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO mdoc_entries (namespace, key, value, expires_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		namespace, key, value, expiresAt)
	return err
}

func (s *SQLDB) live(expiresAt sql.NullTime) bool {
	return !expiresAt.Valid || s.clock.Now().Before(expiresAt.Time)
}

func (s *SQLDB) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM mdoc_entries WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying row")
	}
	if !s.live(expiresAt) {
		return nil, nil
	}
	return value, nil
}

func (s *SQLDB) ReadAndDelete(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `DELETE FROM mdoc_entries WHERE namespace = $1 AND key = $2 RETURNING value, expires_at`,
		namespace, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "deleting row")
	}
	if !s.live(expiresAt) {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLDB) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, expires_at FROM mdoc_entries WHERE namespace = $1`, namespace)
	if err != nil {
		return nil, errors.Wrap(err, "querying rows")
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logrus.WithError(err).Error("closing rows")
		}
	}()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		var expiresAt sql.NullTime
		if err = rows.Scan(&key, &value, &expiresAt); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		if s.live(expiresAt) {
			result[key] = value
		}
	}
	return result, rows.Err()
}

func (s *SQLDB) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mdoc_entries WHERE namespace = $1 AND key = $2`, namespace, key)
	return err
}

func (s *SQLDB) DeleteNamespace(ctx context.Context, namespace string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mdoc_entries WHERE namespace = $1`, namespace)
	if err != nil {
		return errors.Wrapf(err, "could not delete namespace<%s>", namespace)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("could not delete namespace<%s>, namespace does not exist", namespace)
	}
	return nil
}

func (s *SQLDB) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mdoc_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.clock.Now())
	if err != nil {
		return 0, errors.Wrap(err, "purging expired rows")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting purged rows")
	}
	return int(n), nil
}
