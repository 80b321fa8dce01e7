package verification

import (
	"github.com/TBD54566975/ssi-sdk/util"

	"github.com/openmdoc/mdoc-service/pkg/mdoc"
)

type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
)

type VerifyCredentialRequest struct {
	// Credential is base64url CBOR, padded or not, in any envelope the mdoc verifier accepts.
	Credential string `json:"credential" validate:"required"`
}

func (vcr VerifyCredentialRequest) IsValid() bool {
	return util.IsValidStruct(vcr) == nil
}

type VerifyCredentialResponse struct {
	Verified Verdict `json:"verified"`
	*mdoc.VerificationResult
	// Reasons renders each failure for display.
	Reasons        []string `json:"reasons,omitempty"`
	ResponseTimeMS int64    `json:"response_time_ms"`
}
