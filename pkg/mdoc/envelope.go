package mdoc

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

const deviceResponseVersion = "1.0"

// EncodeIssuerSignedArray produces [issuerSigned, deviceSigned]. An empty map stands in for a nil deviceSigned.
func EncodeIssuerSignedArray(issuerSigned []byte, deviceSigned any) ([]byte, error) {
	if len(issuerSigned) == 0 {
		return nil, errors.New("issuer signed is empty")
	}
	if deviceSigned == nil {
		deviceSigned = map[string]any{}
	}
	return encMode.Marshal([]any{cbor.RawMessage(issuerSigned), deviceSigned})
}

// EncodeDeviceResponse wraps a single IssuerSigned in a DeviceResponse with status 0.
func EncodeDeviceResponse(docType string, issuerSigned []byte) ([]byte, error) {
	if len(issuerSigned) == 0 {
		return nil, errors.New("issuer signed is empty")
	}
	return encMode.Marshal(deviceResponse{
		Version: deviceResponseVersion,
		Documents: []deviceResponseDocument{{
			DocType:      docType,
			IssuerSigned: issuerSigned,
		}},
	})
}
