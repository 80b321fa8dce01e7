package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/pkg/server/framework"
	svcframework "github.com/openmdoc/mdoc-service/pkg/service/framework"
	"github.com/openmdoc/mdoc-service/pkg/service/oidc"
	"github.com/openmdoc/mdoc-service/pkg/service/oidc/model"
)

const bearerScheme = "bearer"

// OIDCRouter serves the OpenID4VCI pre-authorized code flow.
type OIDCRouter struct {
	service *oidc.Service
}

func NewOIDCRouter(s svcframework.Service) (*OIDCRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	oidcService, ok := s.(*oidc.Service)
	if !ok {
		return nil, fmt.Errorf("could not create oidc router with service type: %s", s.Type())
	}
	return &OIDCRouter{service: oidcService}, nil
}

// CredentialOffer mints a pre-authorized code and returns the offer a wallet scans.
func (r OIDCRouter) CredentialOffer(c *gin.Context) {
	offer, err := r.service.CredentialOffer(c)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	framework.Respond(c, model.CredentialOfferEnvelope{CredentialOffer: *offer}, http.StatusOK)
}

// Token implements the token endpoint for the pre-authorized code grant. The body is form encoded.
func (r OIDCRouter) Token(c *gin.Context) {
	var request model.TokenRequest
	if err := c.ShouldBind(&request); err != nil {
		respondOAuthError(c, &oidc.Error{
			Code:        model.ErrorCodeInvalidRequest,
			Description: "malformed token request",
			StatusCode:  http.StatusBadRequest,
			Err:         err,
		})
		return
	}
	token, err := r.service.Token(c, request)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	framework.Respond(c, token, http.StatusOK)
}

// Nonce hands out a fresh c_nonce.
func (r OIDCRouter) Nonce(c *gin.Context) {
	nonce, err := r.service.Nonce(c)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	framework.Respond(c, nonce, http.StatusOK)
}

// Credential implements https://openid.net/specs/openid-4-verifiable-credential-issuance-1_0.html#name-credential-endpoint
func (r OIDCRouter) Credential(c *gin.Context) {
	bearer, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		respondOAuthError(c, oidc.ErrInvalidToken)
		return
	}

	var request model.CredentialRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		respondOAuthError(c, &oidc.Error{
			Code:        model.ErrorCodeInvalidRequest,
			Description: "malformed credential request",
			StatusCode:  http.StatusBadRequest,
			Err:         err,
		})
		return
	}

	response, err := r.service.Credential(c, bearer, request)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	framework.Respond(c, response, http.StatusOK)
}

func (r OIDCRouter) IssuerMetadata(c *gin.Context) {
	framework.Respond(c, r.service.IssuerMetadata(), http.StatusOK)
}

func (r OIDCRouter) AuthorizationServerMetadata(c *gin.Context) {
	framework.Respond(c, r.service.AuthorizationServerMetadata(), http.StatusOK)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// respondOAuthError renders protocol errors as OAuth error bodies and anything else as server_error.
func respondOAuthError(c *gin.Context, err error) {
	_ = c.Error(err)

	var protocolErr *oidc.Error
	if !errors.As(err, &protocolErr) {
		logrus.WithError(err).Error("oidc request failed")
		framework.Respond(c, model.ErrorResponse{Error: model.ErrorCodeServerError}, http.StatusInternalServerError)
		return
	}
	if protocolErr.StatusCode == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", fmt.Sprintf("Bearer error=%q", protocolErr.Code))
	}
	c.Header("Cache-Control", "no-store")
	framework.Respond(c, protocolErr.Response(), protocolErr.StatusCode)
}
