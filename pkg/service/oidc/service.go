package oidc

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/config"
	"github.com/openmdoc/mdoc-service/pkg/mdoc"
	svcframework "github.com/openmdoc/mdoc-service/pkg/service/framework"
	"github.com/openmdoc/mdoc-service/pkg/service/oidc/model"
	"github.com/openmdoc/mdoc-service/pkg/service/proof"
	"github.com/openmdoc/mdoc-service/pkg/service/transaction"
)

const (
	credentialPath = "/credential"
	noncePath      = "/nonce"
	tokenPath      = "/token"

	// coseAlgorithmES256 is the COSE identifier of ES256.
	coseAlgorithmES256 = -7
	bindingCOSEKey     = "cose_key"
	defaultLocale      = "en-US"
)

// Service runs the OpenID4VCI pre-authorized code flow on top of the transaction state, the proof
// validator and the mdoc issuer.
type Service struct {
	config       config.IssuerServiceConfig
	transactions *transaction.Service
	proofs       *proof.Validator
	issuer       *mdoc.Issuer
	nameSpaces   mdoc.NameSpacedElements

	proofOpts []proof.Option
}

var _ svcframework.Service = (*Service)(nil)

func (s Service) Type() svcframework.Type {
	return svcframework.OIDC
}

func (s Service) Status() svcframework.Status {
	ae := sdkutil.NewAppendError()
	if s.transactions == nil {
		ae.AppendString("no transaction service configured")
	}
	if s.issuer == nil {
		ae.AppendString("no mdoc issuer configured")
	}
	if s.proofs == nil {
		ae.AppendString("no proof validator configured")
	}
	if !ae.IsEmpty() {
		return svcframework.Status{
			Status:  svcframework.StatusNotReady,
			Message: fmt.Sprintf("oidc service is not ready: %s", ae.Error().Error()),
		}
	}
	return svcframework.Status{Status: svcframework.StatusReady}
}

type Option func(*Service)

// WithProofOptions passes options through to the proof validator.
func WithProofOptions(opts ...proof.Option) Option {
	return func(s *Service) {
		s.proofOpts = append(s.proofOpts, opts...)
	}
}

func NewOIDCService(cfg config.IssuerServiceConfig, transactions *transaction.Service, issuer *mdoc.Issuer, opts ...Option) (*Service, error) {
	if transactions == nil {
		return nil, sdkutil.LoggingNewError("transaction service cannot be nil")
	}
	if issuer == nil {
		return nil, sdkutil.LoggingNewError("mdoc issuer cannot be nil")
	}
	nameSpaces, err := nameSpacesFromClaims(cfg.Claims)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "invalid issuer claims")
	}
	s := &Service{
		config:       cfg,
		transactions: transactions,
		issuer:       issuer,
		nameSpaces:   nameSpaces,
	}
	for _, o := range opts {
		o(s)
	}
	validator, err := proof.NewValidator(cfg.CredentialIssuer, transactions, s.proofOpts...)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate proof validator")
	}
	s.proofs = validator
	return s, nil
}

// nameSpacesFromClaims keeps the declaration order of the claims within each namespace.
func nameSpacesFromClaims(claims []config.ClaimConfig) (mdoc.NameSpacedElements, error) {
	if len(claims) == 0 {
		return nil, errors.New("at least one claim is required")
	}
	nameSpaces := make(mdoc.NameSpacedElements)
	for _, claim := range claims {
		if claim.NameSpace == "" || claim.Identifier == "" {
			return nil, errors.Errorf("claim %q needs a namespace and an identifier", claim.Identifier)
		}
		nameSpaces[claim.NameSpace] = append(nameSpaces[claim.NameSpace], mdoc.Element{
			Identifier: claim.Identifier,
			Value:      claim.Value,
		})
	}
	return nameSpaces, nil
}

func (s Service) baseURL() string {
	return strings.TrimSuffix(s.config.CredentialIssuer, "/")
}

// CredentialOffer mints a pre-authorized code and wraps it in an offer for the configured credential.
func (s Service) CredentialOffer(ctx context.Context) (*model.CredentialOffer, error) {
	code, err := s.transactions.IssueOffer(ctx, s.config.ConfigurationID)
	if err != nil {
		return nil, errors.Wrap(err, "issuing pre-authorized code")
	}
	return &model.CredentialOffer{
		CredentialIssuer:           s.config.CredentialIssuer,
		CredentialConfigurationIDs: []string{s.config.ConfigurationID},
		Grants: map[string]model.PreAuthorizedCodeGrantParams{
			model.PreAuthorizedCodeGrant: {PreAuthorizedCode: code.Code},
		},
	}, nil
}

// Token exchanges a pre-authorized code for a bearer access token.
func (s Service) Token(ctx context.Context, request model.TokenRequest) (*model.TokenResponse, error) {
	if request.GrantType != model.PreAuthorizedCodeGrant {
		return nil, newError(ErrUnsupportedGrantType, "", nil)
	}
	token, err := s.transactions.RedeemCode(ctx, request.PreAuthorizedCode)
	if errors.Is(err, transaction.ErrInvalidGrant) {
		return nil, newError(ErrInvalidGrant, "", err)
	}
	if err != nil {
		return nil, errors.Wrap(err, "redeeming pre-authorized code")
	}
	return &model.TokenResponse{
		AccessToken: token.Token,
		TokenType:   model.TokenTypeBearer,
		ExpiresIn:   token.Seconds(),
	}, nil
}

// Nonce hands out a c_nonce for the next proof.
func (s Service) Nonce(ctx context.Context) (*model.NonceResponse, error) {
	nonce, err := s.transactions.IssueNonce(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "issuing nonce")
	}
	return &model.NonceResponse{CNonce: nonce.Value, CNonceExpiresIn: nonce.Seconds()}, nil
}

// Credential issues an mdoc bound to the holder key of the request's proof. bearer is the access
// token presented by the wallet.
func (s Service) Credential(ctx context.Context, bearer string, request model.CredentialRequest) (*model.CredentialResponse, error) {
	token, err := s.transactions.LookupBearer(ctx, bearer)
	if err != nil {
		return nil, errors.Wrap(err, "checking access token")
	}
	if token == nil {
		return nil, newError(ErrInvalidToken, "", nil)
	}

	// the token only covers the configuration its code was offered for
	if request.CredentialConfigurationID != s.config.ConfigurationID ||
		(token.ConfigurationID != "" && token.ConfigurationID != request.CredentialConfigurationID) {
		return nil, newError(ErrUnsupportedCredentialConfigurationID, "", nil)
	}

	proofJWT, ok := request.ProofJWT()
	if !ok {
		return nil, newError(ErrInvalidRequest, "missing proofs.jwt", nil)
	}

	holder, err := s.proofs.Validate(ctx, proofJWT)
	if err != nil {
		var validationErr *proof.ValidationError
		if !errors.As(err, &validationErr) {
			return nil, errors.Wrap(err, "validating proof")
		}
		logrus.WithField("reason", validationErr.Reason).Info("rejected credential request proof")
		return nil, s.proofError(ctx, validationErr)
	}

	deviceKey, err := mdoc.COSEKeyFromPublicKey(holder.PublicKey, holder.Key.KeyID())
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not build device key")
	}
	issued, err := s.issuer.Issue(ctx, mdoc.IssueRequest{
		DocType:    s.config.DocType,
		NameSpaces: s.nameSpaces,
		DeviceKey:  deviceKey,
	})
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not issue mdoc")
	}
	credential := base64.RawURLEncoding.EncodeToString(issued.Encoded)

	nonce, err := s.transactions.IssueNonce(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "issuing follow-up nonce")
	}

	logrus.WithFields(logrus.Fields{
		"doctype":     s.config.DocType,
		"holderKeyID": holder.Key.KeyID(),
		"validUntil":  issued.MSO.ValidityInfo.ValidUntil,
	}).Info("issued mdoc credential")

	return &model.CredentialResponse{
		Format:          model.FormatMSOMDoc,
		Credential:      credential,
		Credentials:     []model.IssuedCredential{{Format: model.FormatMSOMDoc, Credential: credential}},
		CNonce:          nonce.Value,
		CNonceExpiresIn: nonce.Seconds(),
	}, nil
}

// proofError carries a fresh nonce so the wallet can sign a new proof.
func (s Service) proofError(ctx context.Context, cause *proof.ValidationError) error {
	protocolErr := newError(ErrProofInvalid, string(cause.Reason), cause)
	nonce, err := s.transactions.IssueNonce(ctx)
	if err != nil {
		logrus.WithError(err).Warn("issuing retry nonce")
		return protocolErr
	}
	protocolErr.CNonce = nonce.Value
	protocolErr.CNonceExpiresIn = nonce.Seconds()
	return protocolErr
}

// IssuerMetadata describes the issuer and its single mdoc configuration.
func (s Service) IssuerMetadata() model.IssuerMetadata {
	claims := make([]model.ClaimMetadata, 0, len(s.config.Claims))
	for _, claim := range s.config.Claims {
		c := model.ClaimMetadata{Path: []string{claim.NameSpace, claim.Identifier}, Mandatory: claim.Mandatory}
		if claim.DisplayName != "" {
			c.Display = []model.Display{{Name: claim.DisplayName, Locale: defaultLocale}}
		}
		claims = append(claims, c)
	}
	var display []model.Display
	if s.config.DisplayName != "" {
		display = []model.Display{{Name: s.config.DisplayName, Locale: defaultLocale}}
	}
	return model.IssuerMetadata{
		CredentialIssuer:   s.config.CredentialIssuer,
		CredentialEndpoint: s.baseURL() + credentialPath,
		NonceEndpoint:      s.baseURL() + noncePath,
		CredentialConfigurationsSupported: map[string]model.CredentialConfiguration{
			s.config.ConfigurationID: {
				Format:                               model.FormatMSOMDoc,
				DocType:                              s.config.DocType,
				CryptographicBindingMethodsSupported: []string{bindingCOSEKey},
				CredentialSigningAlgValuesSupported:  []int{coseAlgorithmES256},
				ProofTypesSupported: map[string]model.ProofTypeMetadata{
					model.ProofTypeJWT: {ProofSigningAlgValuesSupported: []string{"ES256"}},
				},
				CredentialMetadata: model.CredentialMetadata{Display: display, Claims: claims},
			},
		},
	}
}

func (s Service) AuthorizationServerMetadata() model.AuthorizationServerMetadata {
	return model.AuthorizationServerMetadata{
		Issuer:              s.config.CredentialIssuer,
		TokenEndpoint:       s.baseURL() + tokenPath,
		GrantTypesSupported: []string{model.PreAuthorizedCodeGrant},
	}
}
