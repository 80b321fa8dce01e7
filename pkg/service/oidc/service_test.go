package oidc

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmdoc/mdoc-service/config"
	"github.com/openmdoc/mdoc-service/pkg/mdoc"
	"github.com/openmdoc/mdoc-service/pkg/service/oidc/model"
	"github.com/openmdoc/mdoc-service/pkg/service/proof"
	"github.com/openmdoc/mdoc-service/pkg/service/transaction"
	"github.com/openmdoc/mdoc-service/pkg/storage"
	"github.com/openmdoc/mdoc-service/pkg/testutil"
)

const testIssuer = "https://issuer.example.com"

type fixture struct {
	service   *Service
	verifier  *mdoc.Verifier
	clock     *clock.Mock
	holder    *ecdsa.PrivateKey
	issuerCfg config.IssuerServiceConfig
}

func newFixture(t *testing.T) fixture {
	mock := clock.NewMock()
	mock.Set(time.Now())
	db, err := storage.NewStorage(storage.Memory, storage.Option{ID: storage.ClockOption, Option: mock})
	require.NoError(t, err)

	transactions, err := transaction.NewTransactionService(config.TransactionServiceConfig{
		CodeTTL:        config.DefaultCodeTTL,
		AccessTokenTTL: config.DefaultAccessTokenTTL,
		NonceTTL:       config.DefaultNonceTTL,
	}, db, transaction.WithClock(mock))
	require.NoError(t, err)

	signer := testutil.NewHolderKey(t)
	certDER, err := mdoc.NewDocumentSignerCertificate(signer, "Test DS", mock.Now(), mdoc.DefaultValidity)
	require.NoError(t, err)
	issuer, err := mdoc.NewIssuer(signer, certDER, mdoc.WithClock(mock))
	require.NoError(t, err)

	issuerCfg := config.IssuerServiceConfig{
		CredentialIssuer: testIssuer,
		ConfigurationID:  config.DefaultConfigurationID,
		DocType:          config.DefaultDocType,
		DisplayName:      "Mobile Driving Licence",
		Claims:           config.DefaultClaims(),
	}
	service, err := NewOIDCService(issuerCfg, transactions, issuer, WithProofOptions(proof.WithClock(mock)))
	require.NoError(t, err)
	assert.True(t, service.Status().IsReady())

	return fixture{
		service:   service,
		verifier:  mdoc.NewVerifier(&signer.PublicKey),
		clock:     mock,
		holder:    testutil.NewHolderKey(t),
		issuerCfg: issuerCfg,
	}
}

func (f fixture) accessToken(t *testing.T) string {
	offer, err := f.service.CredentialOffer(context.Background())
	require.NoError(t, err)
	token, err := f.service.Token(context.Background(), model.TokenRequest{
		GrantType:         model.PreAuthorizedCodeGrant,
		PreAuthorizedCode: offer.Grants[model.PreAuthorizedCodeGrant].PreAuthorizedCode,
	})
	require.NoError(t, err)
	return token.AccessToken
}

func (f fixture) proof(t *testing.T) string {
	nonce, err := f.service.Nonce(context.Background())
	require.NoError(t, err)
	return testutil.ProofJWT(t, f.holder, testutil.ProofOptions{
		Audience: testIssuer,
		Nonce:    nonce.CNonce,
		IssuedAt: f.clock.Now(),
	})
}

func TestNewOIDCService(t *testing.T) {
	_, err := NewOIDCService(config.IssuerServiceConfig{}, nil, nil)
	assert.Error(t, err)

	f := newFixture(t)
	_, err = NewOIDCService(config.IssuerServiceConfig{CredentialIssuer: testIssuer}, f.service.transactions, f.service.issuer)
	assert.ErrorContains(t, err, "claim")
}

func TestCredentialOffer(t *testing.T) {
	f := newFixture(t)
	offer, err := f.service.CredentialOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testIssuer, offer.CredentialIssuer)
	assert.Equal(t, []string{config.DefaultConfigurationID}, offer.CredentialConfigurationIDs)
	require.Contains(t, offer.Grants, model.PreAuthorizedCodeGrant)
	assert.NotEmpty(t, offer.Grants[model.PreAuthorizedCodeGrant].PreAuthorizedCode)
}

func TestToken(t *testing.T) {
	t.Run("happy path and single use", func(tt *testing.T) {
		f := newFixture(tt)
		offer, err := f.service.CredentialOffer(context.Background())
		require.NoError(tt, err)
		request := model.TokenRequest{
			GrantType:         model.PreAuthorizedCodeGrant,
			PreAuthorizedCode: offer.Grants[model.PreAuthorizedCodeGrant].PreAuthorizedCode,
		}

		token, err := f.service.Token(context.Background(), request)
		require.NoError(tt, err)
		assert.NotEmpty(tt, token.AccessToken)
		assert.Equal(tt, "Bearer", token.TokenType)
		assert.Equal(tt, 600, token.ExpiresIn)

		_, err = f.service.Token(context.Background(), request)
		assert.ErrorIs(tt, err, ErrInvalidGrant)
	})

	t.Run("unsupported grant type", func(tt *testing.T) {
		f := newFixture(tt)
		_, err := f.service.Token(context.Background(), model.TokenRequest{GrantType: "authorization_code", PreAuthorizedCode: "x"})
		assert.ErrorIs(tt, err, ErrUnsupportedGrantType)

		var protocolErr *Error
		require.ErrorAs(tt, err, &protocolErr)
		assert.Equal(tt, http.StatusBadRequest, protocolErr.StatusCode)
		assert.Equal(tt, "unsupported_grant_type", protocolErr.Response().Error)
	})

	t.Run("expired code", func(tt *testing.T) {
		f := newFixture(tt)
		offer, err := f.service.CredentialOffer(context.Background())
		require.NoError(tt, err)
		f.clock.Add(config.DefaultCodeTTL + time.Second)
		_, err = f.service.Token(context.Background(), model.TokenRequest{
			GrantType:         model.PreAuthorizedCodeGrant,
			PreAuthorizedCode: offer.Grants[model.PreAuthorizedCodeGrant].PreAuthorizedCode,
		})
		assert.ErrorIs(tt, err, ErrInvalidGrant)
	})
}

func TestNonce(t *testing.T) {
	f := newFixture(t)
	nonce, err := f.service.Nonce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, nonce.CNonce)
	assert.Equal(t, 180, nonce.CNonceExpiresIn)
}

func TestCredential(t *testing.T) {
	f := newFixture(t)
	bearer := f.accessToken(t)

	response, err := f.service.Credential(context.Background(), bearer, model.CredentialRequest{
		CredentialConfigurationID: config.DefaultConfigurationID,
		Proofs:                    &model.Proofs{JWT: []string{f.proof(t)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "mso_mdoc", response.Format)
	assert.NotEmpty(t, response.CNonce)
	require.Len(t, response.Credentials, 1)
	assert.Equal(t, response.Credential, response.Credentials[0].Credential)

	raw, err := base64.RawURLEncoding.DecodeString(response.Credential)
	require.NoError(t, err)
	result, err := f.verifier.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
	assert.True(t, result.DigestsValid)
	assert.Equal(t, config.DefaultDocType, result.DocType)
	assert.Equal(t, []string{"given_name", "family_name", "birth_date"}, result.NameSpaces[config.MDLNameSpace])

	// the credential is bound to the key that signed the proof
	require.NotNil(t, result.DeviceKey)
	deviceKey, err := result.DeviceKey.PublicKey()
	require.NoError(t, err)
	assert.True(t, f.holder.PublicKey.Equal(deviceKey))

	// the bearer stays valid for a second request with the single proof shape
	_, err = f.service.Credential(context.Background(), bearer, model.CredentialRequest{
		CredentialConfigurationID: config.DefaultConfigurationID,
		Proof:                     &model.ProofParameter{ProofType: model.ProofTypeJWT, JWTProof: &model.JWTProof{JWT: f.proof(t)}},
	})
	assert.NoError(t, err)
}

func TestCredentialErrors(t *testing.T) {
	t.Run("no bearer", func(tt *testing.T) {
		f := newFixture(tt)
		_, err := f.service.Credential(context.Background(), "", model.CredentialRequest{CredentialConfigurationID: config.DefaultConfigurationID})
		assert.ErrorIs(tt, err, ErrInvalidToken)

		var protocolErr *Error
		require.ErrorAs(tt, err, &protocolErr)
		assert.Equal(tt, http.StatusUnauthorized, protocolErr.StatusCode)
	})

	t.Run("expired bearer", func(tt *testing.T) {
		f := newFixture(tt)
		bearer := f.accessToken(tt)
		f.clock.Add(config.DefaultAccessTokenTTL + time.Second)
		_, err := f.service.Credential(context.Background(), bearer, model.CredentialRequest{CredentialConfigurationID: config.DefaultConfigurationID})
		assert.ErrorIs(tt, err, ErrInvalidToken)
	})

	t.Run("unknown configuration", func(tt *testing.T) {
		f := newFixture(tt)
		_, err := f.service.Credential(context.Background(), f.accessToken(tt), model.CredentialRequest{
			CredentialConfigurationID: "eu.europa.ec.eudi.pid.1",
			Proofs:                    &model.Proofs{JWT: []string{f.proof(tt)}},
		})
		assert.ErrorIs(tt, err, ErrUnsupportedCredentialConfigurationID)
	})

	t.Run("token offered for another configuration", func(tt *testing.T) {
		f := newFixture(tt)
		ctx := context.Background()
		offer, err := f.service.transactions.IssueOffer(ctx, "eu.europa.ec.eudi.pid.1")
		require.NoError(tt, err)
		token, err := f.service.transactions.RedeemCode(ctx, offer.Code)
		require.NoError(tt, err)
		_, err = f.service.Credential(ctx, token.Token, model.CredentialRequest{
			CredentialConfigurationID: config.DefaultConfigurationID,
			Proofs:                    &model.Proofs{JWT: []string{f.proof(tt)}},
		})
		assert.ErrorIs(tt, err, ErrUnsupportedCredentialConfigurationID)
	})

	t.Run("missing proof", func(tt *testing.T) {
		f := newFixture(tt)
		_, err := f.service.Credential(context.Background(), f.accessToken(tt), model.CredentialRequest{
			CredentialConfigurationID: config.DefaultConfigurationID,
			Proofs:                    &model.Proofs{},
		})
		assert.ErrorIs(tt, err, ErrInvalidRequest)
		assert.ErrorContains(tt, err, "missing proofs.jwt")
	})

	t.Run("invalid proof carries a fresh nonce", func(tt *testing.T) {
		f := newFixture(tt)
		nonce, err := f.service.Nonce(context.Background())
		require.NoError(tt, err)
		wrongAudience := testutil.ProofJWT(tt, f.holder, testutil.ProofOptions{
			Audience: "https://elsewhere.example.com",
			Nonce:    nonce.CNonce,
			IssuedAt: f.clock.Now(),
		})

		_, err = f.service.Credential(context.Background(), f.accessToken(tt), model.CredentialRequest{
			CredentialConfigurationID: config.DefaultConfigurationID,
			Proofs:                    &model.Proofs{JWT: []string{wrongAudience}},
		})
		assert.ErrorIs(tt, err, ErrProofInvalid)
		assert.ErrorIs(tt, err, proof.ErrAudienceMismatch)

		var protocolErr *Error
		require.ErrorAs(tt, err, &protocolErr)
		body := protocolErr.Response()
		assert.Equal(tt, "proof_invalid", body.Error)
		assert.Equal(tt, "audience_mismatch", body.ErrorDescription)
		assert.NotEmpty(tt, body.CNonce)
		assert.NotEqual(tt, nonce.CNonce, body.CNonce)
		assert.Equal(tt, 180, body.CNonceExpiresIn)
	})

	t.Run("replayed proof", func(tt *testing.T) {
		f := newFixture(tt)
		bearer := f.accessToken(tt)
		request := model.CredentialRequest{
			CredentialConfigurationID: config.DefaultConfigurationID,
			Proofs:                    &model.Proofs{JWT: []string{f.proof(tt)}},
		}
		_, err := f.service.Credential(context.Background(), bearer, request)
		require.NoError(tt, err)
		_, err = f.service.Credential(context.Background(), bearer, request)
		assert.ErrorIs(tt, err, ErrProofInvalid)
		assert.ErrorIs(tt, err, proof.ErrNonceInvalid)
	})
}

func TestMetadata(t *testing.T) {
	f := newFixture(t)

	issuer := f.service.IssuerMetadata()
	assert.Equal(t, testIssuer, issuer.CredentialIssuer)
	assert.Equal(t, testIssuer+"/credential", issuer.CredentialEndpoint)
	assert.Equal(t, testIssuer+"/nonce", issuer.NonceEndpoint)
	require.Contains(t, issuer.CredentialConfigurationsSupported, config.DefaultConfigurationID)

	configuration := issuer.CredentialConfigurationsSupported[config.DefaultConfigurationID]
	assert.Equal(t, "mso_mdoc", configuration.Format)
	assert.Equal(t, config.DefaultDocType, configuration.DocType)
	assert.Equal(t, []string{"cose_key"}, configuration.CryptographicBindingMethodsSupported)
	assert.Equal(t, []int{-7}, configuration.CredentialSigningAlgValuesSupported)
	assert.Equal(t, []string{"ES256"}, configuration.ProofTypesSupported["jwt"].ProofSigningAlgValuesSupported)
	require.Len(t, configuration.CredentialMetadata.Claims, 3)
	assert.Equal(t, []string{config.MDLNameSpace, "given_name"}, configuration.CredentialMetadata.Claims[0].Path)
	assert.Equal(t, "Mobile Driving Licence", configuration.CredentialMetadata.Display[0].Name)

	as := f.service.AuthorizationServerMetadata()
	assert.Equal(t, testIssuer, as.Issuer)
	assert.Equal(t, testIssuer+"/token", as.TokenEndpoint)
	assert.Equal(t, []string{model.PreAuthorizedCodeGrant}, as.GrantTypesSupported)
}

func TestCredentialRequestProofJWT(t *testing.T) {
	_, ok := model.CredentialRequest{}.ProofJWT()
	assert.False(t, ok)

	jwt, ok := model.CredentialRequest{Proofs: &model.Proofs{JWT: []string{"a", "b"}}}.ProofJWT()
	assert.True(t, ok)
	assert.Equal(t, "a", jwt)

	jwt, ok = model.CredentialRequest{
		Proof:  &model.ProofParameter{JWTProof: &model.JWTProof{JWT: "single"}},
		Proofs: &model.Proofs{JWT: []string{"batch"}},
	}.ProofJWT()
	assert.True(t, ok)
	assert.Equal(t, "single", jwt)
}
