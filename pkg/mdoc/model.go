// Package mdoc builds and verifies ISO 18013-5 IssuerSigned structures: salted element digests,
// the Mobile Security Object, and its COSE_Sign1 issuer signature.
package mdoc

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	MSOVersion = "1.0"

	DigestAlgorithmSHA256 = "SHA-256"
	DigestAlgorithmSHA384 = "SHA-384"
	DigestAlgorithmSHA512 = "SHA-512"

	// CBOR tag numbers
	tagEncodedCBOR = 24
	tagCOSESign1   = 18

	// x5chain unprotected header label (RFC 9360)
	headerLabelX5Chain int64 = 33
)

// IssuerSignedItem is one salted data element. Its serialized form is what gets digested.
type IssuerSignedItem struct {
	DigestID          uint64 `cbor:"digestID" json:"digestID"`
	Random            []byte `cbor:"random" json:"random"`
	ElementIdentifier string `cbor:"elementIdentifier" json:"elementIdentifier"`
	ElementValue      any    `cbor:"elementValue" json:"elementValue"`
}

// ValueDigests maps namespace to digest id to digest.
type ValueDigests map[string]map[uint64][]byte

type DeviceKeyInfo struct {
	DeviceKey COSEKey `cbor:"deviceKey"`
}

type ValidityInfo struct {
	Signed     time.Time `cbor:"signed" json:"signed"`
	ValidFrom  time.Time `cbor:"validFrom" json:"valid_from"`
	ValidUntil time.Time `cbor:"validUntil" json:"valid_until"`
}

// MobileSecurityObject is the COSE_Sign1 payload binding digests, the device key and validity to a doc type.
type MobileSecurityObject struct {
	Version         string        `cbor:"version"`
	DigestAlgorithm string        `cbor:"digestAlgorithm"`
	ValueDigests    ValueDigests  `cbor:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo `cbor:"deviceKeyInfo"`
	DocType         string        `cbor:"docType"`
	ValidityInfo    ValidityInfo  `cbor:"validityInfo"`
}

// IssuerNameSpaces holds, per namespace, each serialized IssuerSignedItem wrapped in tag 24.
type IssuerNameSpaces map[string][]cbor.Tag

// IssuerSigned is the wire structure produced by the issuer. IssuerAuth is an untagged COSE_Sign1.
type IssuerSigned struct {
	NameSpaces IssuerNameSpaces `cbor:"nameSpaces"`
	IssuerAuth cbor.RawMessage  `cbor:"issuerAuth"`
}

// deviceResponseDocument and deviceResponse describe the DeviceResponse envelope.
type deviceResponseDocument struct {
	DocType      string          `cbor:"docType"`
	IssuerSigned cbor.RawMessage `cbor:"issuerSigned"`
}

type deviceResponse struct {
	Version   string                   `cbor:"version"`
	Documents []deviceResponseDocument `cbor:"documents"`
	Status    uint64                   `cbor:"status"`
}
