package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/openmdoc/mdoc-service/pkg/mdoc"
	"github.com/openmdoc/mdoc-service/pkg/server/framework"
	svcframework "github.com/openmdoc/mdoc-service/pkg/service/framework"
	"github.com/openmdoc/mdoc-service/pkg/service/verification"
)

type VerificationRouter struct {
	service *verification.Service
}

func NewVerificationRouter(s svcframework.Service) (*VerificationRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	verificationService, ok := s.(*verification.Service)
	if !ok {
		return nil, fmt.Errorf("could not create verification router with service type: %s", s.Type())
	}
	return &VerificationRouter{service: verificationService}, nil
}

type VerifyCredentialRequest struct {
	// Base64url encoded CBOR. Padding is optional.
	Credential string `json:"credential" validate:"required"`
}

// DecodeErrorResponse is returned when the credential cannot be decoded at all.
type DecodeErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// VerifyCredential checks a credential's signature and digests. A credential that decodes is
// always answered with 200, with the verdict in the body.
func (vr VerificationRouter) VerifyCredential(c *gin.Context) {
	var request VerifyCredentialRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "invalid verify credential request", http.StatusBadRequest)
		return
	}

	response, err := vr.service.Verify(c, verification.VerifyCredentialRequest{Credential: request.Credential})
	if errors.Is(err, mdoc.ErrDecode) {
		_ = c.Error(err)
		framework.Respond(c, DecodeErrorResponse{Error: mdoc.ErrDecode.Error(), ErrorDescription: err.Error()}, http.StatusBadRequest)
		return
	}
	if err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "could not verify credential", http.StatusInternalServerError)
		return
	}
	framework.Respond(c, response, http.StatusOK)
}
