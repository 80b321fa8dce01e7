package verification

import (
	"context"
	"encoding/base64"
	"strings"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/pkg/mdoc"
	"github.com/openmdoc/mdoc-service/pkg/service/framework"
)

type Service struct {
	verifier *mdoc.Verifier
	clock    clock.Clock
}

func (s Service) Type() framework.Type {
	return framework.Verification
}

func (s Service) Status() framework.Status {
	if s.verifier == nil {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: "verification service is not ready: no mdoc verifier configured",
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

func NewVerificationService(verifier *mdoc.Verifier, opts ...Option) (*Service, error) {
	if verifier == nil {
		return nil, sdkutil.LoggingNewError("mdoc verifier cannot be nil")
	}
	service := Service{verifier: verifier, clock: clock.New()}
	for _, opt := range opts {
		opt(&service)
	}
	return &service, nil
}

// Verify checks a base64url encoded credential. Errors wrap mdoc.ErrDecode when the input cannot be
// decoded. A credential that decodes but fails its checks is a FAIL verdict, not an error.
func (s Service) Verify(ctx context.Context, request VerifyCredentialRequest) (*VerifyCredentialResponse, error) {
	start := s.clock.Now()
	if !request.IsValid() {
		return nil, errors.Wrap(mdoc.ErrDecode, "credential is required")
	}
	raw, err := DecodeBase64URL(request.Credential)
	if err != nil {
		return nil, errors.Wrapf(mdoc.ErrDecode, "credential is not base64url: %s", err)
	}

	result, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		logrus.WithError(err).Info("could not decode credential")
		return nil, err
	}

	response := VerifyCredentialResponse{Verified: Fail, VerificationResult: result}
	if result.Valid() {
		response.Verified = Pass
	}
	for _, failure := range result.Failures {
		response.Reasons = append(response.Reasons, failure.String())
	}
	response.ResponseTimeMS = s.clock.Now().Sub(start).Milliseconds()

	logrus.WithFields(logrus.Fields{
		"doctype":        result.DocType,
		"envelope":       result.Envelope,
		"verified":       response.Verified,
		"signatureValid": result.SignatureValid,
		"digestsValid":   result.DigestsValid,
	}).Info("verified credential")
	return &response, nil
}

// DecodeBase64URL accepts base64url with or without padding.
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	return base64.RawURLEncoding.DecodeString(s)
}
