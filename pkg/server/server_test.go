package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmdoc/mdoc-service/config"
	"github.com/openmdoc/mdoc-service/pkg/server/middleware"
	"github.com/openmdoc/mdoc-service/pkg/server/router"
	svcframework "github.com/openmdoc/mdoc-service/pkg/service/framework"
	"github.com/openmdoc/mdoc-service/pkg/service/oidc/model"
	"github.com/openmdoc/mdoc-service/pkg/service/verification"
	"github.com/openmdoc/mdoc-service/pkg/storage"
	"github.com/openmdoc/mdoc-service/pkg/testutil"
)

const testCredentialIssuer = "https://mdoc-service.com"

func testServiceConfig() config.MDocServiceConfig {
	return config.MDocServiceConfig{
		Server: config.ServerConfig{Environment: config.EnvironmentTest},
		Services: config.ServicesConfig{
			StorageProvider: string(storage.Memory),
			IssuerConfig: config.IssuerServiceConfig{
				CredentialIssuer: testCredentialIssuer,
				ConfigurationID:  config.DefaultConfigurationID,
				DocType:          config.DefaultDocType,
				DisplayName:      "Mobile Driving Licence",
				Claims:           config.DefaultClaims(),
			},
			TransactionConfig: config.TransactionServiceConfig{
				CodeTTL:        config.DefaultCodeTTL,
				AccessTokenTTL: config.DefaultAccessTokenTTL,
				NonceTTL:       config.DefaultNonceTTL,
			},
		},
	}
}

func newTestServer(t *testing.T) *MDocServer {
	shutdown := make(chan os.Signal, 1)
	server, err := NewMDocServer(shutdown, testServiceConfig())
	require.NoError(t, err)
	require.NotEmpty(t, server)
	t.Cleanup(func() {
		_ = server.MDocService.Stop()
	})
	return server
}

func serve(s *MDocServer, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func newRequestValue(t *testing.T, data any) io.Reader {
	dataBytes, err := json.Marshal(data)
	require.NoError(t, err)
	require.NotEmpty(t, dataBytes)
	return bytes.NewReader(dataBytes)
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func tokenRequest(code string) *http.Request {
	form := url.Values{}
	form.Set("grant_type", model.PreAuthorizedCodeGrant)
	form.Set("pre-authorized_code", code)
	req := httptest.NewRequest(http.MethodPost, testCredentialIssuer+TokenPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func credentialRequest(t *testing.T, bearer string, request model.CredentialRequest) *http.Request {
	req := httptest.NewRequest(http.MethodPost, testCredentialIssuer+CredentialPath, newRequestValue(t, request))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestHealthCheckAPI(t *testing.T) {
	server := newTestServer(t)

	w := serve(server, httptest.NewRequest(http.MethodGet, testCredentialIssuer+HealthPrefix, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	resp := decodeBody[router.GetHealthCheckResponse](t, w)
	assert.Equal(t, router.HealthOK, resp.Status)
}

func TestReadinessAPI(t *testing.T) {
	server := newTestServer(t)

	w := serve(server, httptest.NewRequest(http.MethodGet, testCredentialIssuer+ReadinessPrefix, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[router.GetReadinessResponse](t, w)
	assert.Equal(t, svcframework.StatusReady, resp.Status.Status)
	assert.Len(t, resp.ServiceStatuses, 3)
}

func TestMetadataAPI(t *testing.T) {
	server := newTestServer(t)

	w := serve(server, httptest.NewRequest(http.MethodGet, testCredentialIssuer+IssuerMetadataPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	issuer := decodeBody[model.IssuerMetadata](t, w)
	assert.Equal(t, testCredentialIssuer, issuer.CredentialIssuer)
	assert.Equal(t, testCredentialIssuer+"/credential", issuer.CredentialEndpoint)
	assert.Equal(t, "mso_mdoc", issuer.CredentialConfigurationsSupported[config.DefaultConfigurationID].Format)

	w = serve(server, httptest.NewRequest(http.MethodGet, testCredentialIssuer+AuthorizationServerMetadataPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	as := decodeBody[model.AuthorizationServerMetadata](t, w)
	assert.Equal(t, testCredentialIssuer+"/token", as.TokenEndpoint)
	assert.Equal(t, []string{model.PreAuthorizedCodeGrant}, as.GrantTypesSupported)
}

func TestIssuanceFlow(t *testing.T) {
	server := newTestServer(t)
	holder := testutil.NewHolderKey(t)

	// offer
	w := serve(server, httptest.NewRequest(http.MethodPost, testCredentialIssuer+OfferPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	offer := decodeBody[model.CredentialOfferEnvelope](t, w)
	code := offer.CredentialOffer.Grants[model.PreAuthorizedCodeGrant].PreAuthorizedCode
	require.NotEmpty(t, code)

	// token, single use
	w = serve(server, tokenRequest(code))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	token := decodeBody[model.TokenResponse](t, w)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, 600, token.ExpiresIn)

	w = serve(server, tokenRequest(code))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", decodeBody[model.ErrorResponse](t, w).Error)

	// nonce
	w = serve(server, httptest.NewRequest(http.MethodPost, testCredentialIssuer+NoncePath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	nonce := decodeBody[model.NonceResponse](t, w)
	require.NotEmpty(t, nonce.CNonce)

	// credential
	proofJWT := testutil.ProofJWT(t, holder, testutil.ProofOptions{Audience: testCredentialIssuer, Nonce: nonce.CNonce})
	request := model.CredentialRequest{
		CredentialConfigurationID: config.DefaultConfigurationID,
		Proofs:                    &model.Proofs{JWT: []string{proofJWT}},
	}
	w = serve(server, credentialRequest(t, token.AccessToken, request))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	credential := decodeBody[model.CredentialResponse](t, w)
	assert.Equal(t, "mso_mdoc", credential.Format)
	require.NotEmpty(t, credential.Credential)
	assert.NotEmpty(t, credential.CNonce)

	// the same proof cannot be replayed
	w = serve(server, credentialRequest(t, token.AccessToken, request))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	replay := decodeBody[model.ErrorResponse](t, w)
	assert.Equal(t, "proof_invalid", replay.Error)
	assert.Equal(t, "nonce_invalid", replay.ErrorDescription)
	assert.NotEmpty(t, replay.CNonce)

	// verify
	req := httptest.NewRequest(http.MethodPost, testCredentialIssuer+VerifyPath, newRequestValue(t, router.VerifyCredentialRequest{Credential: credential.Credential}))
	w = serve(server, req)
	require.Equal(t, http.StatusOK, w.Code)
	verified := decodeBody[map[string]any](t, w)
	assert.Equal(t, string(verification.Pass), verified["verified"])
	assert.Equal(t, true, verified["signature_valid"])
	assert.Equal(t, true, verified["digests_valid"])
	assert.Equal(t, config.DefaultDocType, verified["doc_type"])
	assert.Contains(t, verified, "response_time_ms")
	nameSpaces, ok := verified["namespaces"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"given_name", "family_name", "birth_date"}, nameSpaces[config.MDLNameSpace])
}

func TestCredentialAPIErrors(t *testing.T) {
	server := newTestServer(t)

	t.Run("missing bearer", func(tt *testing.T) {
		w := serve(server, credentialRequest(tt, "", model.CredentialRequest{CredentialConfigurationID: config.DefaultConfigurationID}))
		assert.Equal(tt, http.StatusUnauthorized, w.Code)
		assert.Contains(tt, w.Header().Get("WWW-Authenticate"), "Bearer")
		assert.Equal(tt, "invalid_token", decodeBody[model.ErrorResponse](tt, w).Error)
	})

	t.Run("unknown bearer", func(tt *testing.T) {
		w := serve(server, credentialRequest(tt, "made-up", model.CredentialRequest{CredentialConfigurationID: config.DefaultConfigurationID}))
		assert.Equal(tt, http.StatusUnauthorized, w.Code)
	})

	t.Run("unsupported grant type", func(tt *testing.T) {
		form := url.Values{"grant_type": {"authorization_code"}, "code": {"x"}}
		req := httptest.NewRequest(http.MethodPost, testCredentialIssuer+TokenPath, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := serve(server, req)
		assert.Equal(tt, http.StatusBadRequest, w.Code)
		assert.Equal(tt, "unsupported_grant_type", decodeBody[model.ErrorResponse](tt, w).Error)
	})

	t.Run("malformed credential body", func(tt *testing.T) {
		w := serve(server, tokenRequest("unknown"))
		require.Equal(tt, http.StatusBadRequest, w.Code)

		offerW := serve(server, httptest.NewRequest(http.MethodPost, testCredentialIssuer+OfferPath, nil))
		offer := decodeBody[model.CredentialOfferEnvelope](tt, offerW)
		tokenW := serve(server, tokenRequest(offer.CredentialOffer.Grants[model.PreAuthorizedCodeGrant].PreAuthorizedCode))
		token := decodeBody[model.TokenResponse](tt, tokenW)

		req := httptest.NewRequest(http.MethodPost, testCredentialIssuer+CredentialPath, strings.NewReader("{not json"))
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		w = serve(server, req)
		assert.Equal(tt, http.StatusBadRequest, w.Code)
		assert.Equal(tt, "invalid_request", decodeBody[model.ErrorResponse](tt, w).Error)
	})
}

func TestVerifyAPIErrors(t *testing.T) {
	server := newTestServer(t)

	t.Run("missing credential", func(tt *testing.T) {
		req := httptest.NewRequest(http.MethodPost, testCredentialIssuer+VerifyPath, newRequestValue(tt, map[string]string{}))
		w := serve(server, req)
		assert.Equal(tt, http.StatusBadRequest, w.Code)
	})

	t.Run("undecodable credential", func(tt *testing.T) {
		req := httptest.NewRequest(http.MethodPost, testCredentialIssuer+VerifyPath, newRequestValue(tt, router.VerifyCredentialRequest{Credential: "AAAA"}))
		w := serve(server, req)
		assert.Equal(tt, http.StatusBadRequest, w.Code)
		resp := decodeBody[router.DecodeErrorResponse](tt, w)
		assert.Equal(tt, "decode_error", resp.Error)
	})
}
