package service

import (
	"context"
	"fmt"
	"time"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/config"
	"github.com/openmdoc/mdoc-service/internal/keyaccess"
	"github.com/openmdoc/mdoc-service/pkg/encryption"
	"github.com/openmdoc/mdoc-service/pkg/mdoc"
	"github.com/openmdoc/mdoc-service/pkg/service/framework"
	"github.com/openmdoc/mdoc-service/pkg/service/oidc"
	"github.com/openmdoc/mdoc-service/pkg/service/transaction"
	"github.com/openmdoc/mdoc-service/pkg/service/verification"
	"github.com/openmdoc/mdoc-service/pkg/storage"
)

// MDocService represents all services and their dependencies independent of transport
type MDocService struct {
	Transaction  *transaction.Service
	OIDC         *oidc.Service
	Verification *verification.Service

	SigningKey *keyaccess.SigningKey
	storage    storage.ServiceStorage
	reaper     *storage.Reaper
}

// InstantiateMDocService creates a new instance of the mdoc service which instantiates all services and their
// dependencies independent of transport.
func InstantiateMDocService(config config.ServicesConfig) (*MDocService, error) {
	if err := validateServiceConfig(config); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate mdoc service, invalid config")
	}
	service, err := instantiateServices(config)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "could not instantiate the mdoc service")
	}
	return service, nil
}

func validateServiceConfig(config config.ServicesConfig) error {
	if !storage.IsStorageAvailable(storage.Type(config.StorageProvider)) {
		return fmt.Errorf("%s storage provider configured, but not available", config.StorageProvider)
	}
	if config.IssuerConfig.CredentialIssuer == "" {
		return fmt.Errorf("%s no credential issuer configured", framework.OIDC)
	}
	if len(config.IssuerConfig.Claims) == 0 {
		return fmt.Errorf("%s no claims configured", framework.OIDC)
	}
	return nil
}

// instantiateServices begins all instantiates and their dependencies
func instantiateServices(config config.ServicesConfig) (*MDocService, error) {
	storageOptions := config.StorageOptions
	if config.EnableStoreTracing {
		storageOptions = append(storageOptions, storage.Option{ID: storage.RedisTracingOption, Option: true})
	}
	storageProvider, err := storage.NewStorage(storage.Type(config.StorageProvider), storageOptions...)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "could not instantiate storage provider: %s", config.StorageProvider)
	}

	encrypter, decrypter, err := encryption.NewEncrypter(config)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate storage encryption")
	}
	if config.EncryptionEnabled() {
		storageProvider = storage.NewEncryptedWrapper(storageProvider, encrypter, decrypter)
	}

	transactionService, err := transaction.NewTransactionService(config.TransactionConfig, storageProvider)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the transaction service")
	}

	issuerConfig := config.IssuerConfig
	signingKey, err := keyaccess.LoadSigningKey(issuerConfig.SigningKeyJWK, issuerConfig.SigningKeyFile)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not load the document signer key")
	}
	issuer, err := newIssuer(issuerConfig, signingKey)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the mdoc issuer")
	}

	oidcService, err := oidc.NewOIDCService(issuerConfig, transactionService, issuer)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the oidc service")
	}

	verificationService, err := verification.NewVerificationService(mdoc.NewVerifier(signingKey.Public()))
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the verification service")
	}

	return &MDocService{
		Transaction:  transactionService,
		OIDC:         oidcService,
		Verification: verificationService,
		SigningKey:   signingKey,
		storage:      storageProvider,
		reaper:       storage.NewReaper(storageProvider, storage.WithSweepInterval(config.TransactionConfig.SweepInterval)),
	}, nil
}

func newIssuer(cfg config.IssuerServiceConfig, signingKey *keyaccess.SigningKey) (*mdoc.Issuer, error) {
	validity := cfg.CredentialValidity
	if validity <= 0 {
		validity = mdoc.DefaultValidity
	}
	commonName := cfg.CertificateCommonName
	if commonName == "" {
		commonName = cfg.CredentialIssuer
	}
	certDER, err := mdoc.NewDocumentSignerCertificate(signingKey.Private, commonName, time.Now(), validity)
	if err != nil {
		return nil, err
	}
	opts := []mdoc.IssuerOption{mdoc.WithValidity(validity)}
	if cfg.SaltSize > 0 {
		opts = append(opts, mdoc.WithSaltSize(cfg.SaltSize))
	}
	logrus.WithFields(logrus.Fields{
		"kid":       signingKey.KeyID,
		"ephemeral": signingKey.Ephemeral,
		"cn":        commonName,
	}).Info("loaded document signer")
	return mdoc.NewIssuer(signingKey.Private, certDER, opts...)
}

// Start runs background maintenance until ctx is done or Stop is called.
func (s *MDocService) Start(ctx context.Context) {
	s.reaper.Start(ctx)
}

// Stop halts background maintenance and closes storage.
func (s *MDocService) Stop() error {
	s.reaper.Stop()
	return s.storage.Close()
}

// GetServices returns all services
func (s *MDocService) GetServices() []framework.Service {
	return []framework.Service{
		s.Transaction,
		s.OIDC,
		s.Verification,
	}
}
