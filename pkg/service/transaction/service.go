package transaction

import (
	"context"
	"fmt"
	"time"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/config"
	"github.com/openmdoc/mdoc-service/internal/util"
	"github.com/openmdoc/mdoc-service/pkg/service/framework"
	"github.com/openmdoc/mdoc-service/pkg/storage"
)

var (
	// ErrInvalidGrant covers unknown, expired and already redeemed codes alike.
	ErrInvalidGrant = errors.New("invalid_grant")
	// ErrNonceInvalid covers unknown, expired and already consumed nonces alike.
	ErrNonceInvalid = errors.New("nonce invalid or expired")
)

// Service holds the short-lived state of the pre-authorized code flow: codes, access tokens and c_nonces.
type Service struct {
	storage *Storage
	config  config.TransactionServiceConfig
	clock   clock.Clock
}

func (s Service) Type() framework.Type {
	return framework.Transaction
}

func (s Service) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.storage == nil {
		ae.AppendString("no storage configured")
	}
	if s.config.CodeTTL <= 0 || s.config.AccessTokenTTL <= 0 || s.config.NonceTTL <= 0 {
		ae.AppendString("ttls must be positive")
	}
	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("transaction service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func (s Service) Config() config.TransactionServiceConfig {
	return s.config
}

type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

func NewTransactionService(config config.TransactionServiceConfig, s storage.ServiceStorage, opts ...Option) (*Service, error) {
	transactionStorage, err := NewTransactionStorage(s)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate transaction storage")
	}
	service := Service{
		storage: transactionStorage,
		config:  config,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(&service)
	}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

func (s Service) newRecord(ttl time.Duration, configurationID string) record {
	now := s.clock.Now()
	return record{ConfigurationID: configurationID, IssuedAt: now, ExpiresAt: now.Add(ttl)}
}

func (s Service) issue(ctx context.Context, ns string, size int, ttl time.Duration, configurationID string) (string, error) {
	token, err := util.RandomToken(size)
	if err != nil {
		return "", errors.Wrap(err, "generating token")
	}
	if err = s.storage.store(ctx, ns, token, s.newRecord(ttl, configurationID), ttl); err != nil {
		return "", errors.Wrapf(err, "storing %s", ns)
	}
	return token, nil
}

// IssueOffer mints a pre-authorized code for one credential configuration.
func (s Service) IssueOffer(ctx context.Context, configurationID string) (*PreAuthorizedCode, error) {
	code, err := s.issue(ctx, codeNamespace, codeSize, s.config.CodeTTL, configurationID)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not issue pre-authorized code")
	}
	logrus.WithField("code", util.TruncateToken(code)).Debug("issued pre-authorized code")
	return &PreAuthorizedCode{Code: code, ConfigurationID: configurationID, ExpiresIn: s.config.CodeTTL}, nil
}

// RedeemCode exchanges a code for an access token. A code redeems at most once, even under
// concurrent requests.
func (s Service) RedeemCode(ctx context.Context, code string) (*AccessToken, error) {
	if code == "" {
		return nil, ErrInvalidGrant
	}
	r, err := s.storage.take(ctx, codeNamespace, code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not redeem pre-authorized code")
	}
	if r.expired(s.clock.Now()) {
		logrus.WithField("code", util.TruncateToken(code)).Debug("expired pre-authorized code")
		return nil, ErrInvalidGrant
	}

	token, err := s.issue(ctx, accessTokenNamespace, accessTokenSize, s.config.AccessTokenTTL, r.ConfigurationID)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not issue access token")
	}
	return &AccessToken{Token: token, ConfigurationID: r.ConfigurationID, ExpiresIn: s.config.AccessTokenTTL}, nil
}

// IssueNonce mints a c_nonce.
func (s Service) IssueNonce(ctx context.Context) (*Nonce, error) {
	nonce, err := s.issue(ctx, nonceNamespace, nonceSize, s.config.NonceTTL, "")
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not issue nonce")
	}
	return &Nonce{Value: nonce, ExpiresIn: s.config.NonceTTL}, nil
}

// ConsumeNonce deletes a live nonce. Any other nonce yields ErrNonceInvalid.
func (s Service) ConsumeNonce(ctx context.Context, nonce string) error {
	if nonce == "" {
		return ErrNonceInvalid
	}
	r, err := s.storage.take(ctx, nonceNamespace, nonce)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNonceInvalid
	}
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "could not consume nonce")
	}
	if r.expired(s.clock.Now()) {
		return ErrNonceInvalid
	}
	return nil
}

// CheckBearer reports whether token is a live access token. Tokens stay valid until they expire.
func (s Service) CheckBearer(ctx context.Context, token string) (bool, error) {
	accessToken, err := s.LookupBearer(ctx, token)
	if err != nil {
		return false, err
	}
	return accessToken != nil, nil
}

// LookupBearer returns the live access token behind token, or nil when there is none. Expired
// tokens are left for the reaper.
func (s Service) LookupBearer(ctx context.Context, token string) (*AccessToken, error) {
	if token == "" {
		return nil, nil
	}
	r, err := s.storage.get(ctx, accessTokenNamespace, token)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not check access token")
	}
	now := s.clock.Now()
	if r == nil || r.expired(now) {
		return nil, nil
	}
	return &AccessToken{Token: token, ConfigurationID: r.ConfigurationID, ExpiresIn: r.ExpiresAt.Sub(now)}, nil
}
