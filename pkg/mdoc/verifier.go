package mdoc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/veraison/go-cose"
)

// IssuerAuthForm records how the issuerAuth value arrived.
type IssuerAuthForm string

const (
	IssuerAuthEncoded       IssuerAuthForm = "encoded"
	IssuerAuthEncodedTagged IssuerAuthForm = "encoded_tagged"
	IssuerAuthArray         IssuerAuthForm = "array"
	IssuerAuthTagged        IssuerAuthForm = "tagged"
)

// ParseIssuerAuth accepts an encoded COSE_Sign1 (tagged or not), a raw 4-element array, or a
// cbor.Tag around either, and returns the decoded message.
func ParseIssuerAuth(v any) (*cose.Sign1Message, IssuerAuthForm, error) {
	var (
		form IssuerAuthForm
		arr  []any
	)
	switch t := v.(type) {
	case []byte:
		decoded, err := Decode(t)
		if err != nil {
			return nil, "", err
		}
		form = IssuerAuthEncoded
		if tag, ok := decoded.(cbor.Tag); ok {
			if tag.Number != tagCOSESign1 {
				return nil, "", decodeErrorf("issuerAuth carries tag %d", tag.Number)
			}
			form = IssuerAuthEncodedTagged
			decoded = tag.Content
		}
		list, ok := decoded.([]any)
		if !ok {
			return nil, "", decodeErrorf("encoded issuerAuth is %T, not an array", decoded)
		}
		arr = list
	case cbor.Tag:
		if t.Number != tagCOSESign1 {
			return nil, "", decodeErrorf("issuerAuth carries tag %d", t.Number)
		}
		msg, _, err := ParseIssuerAuth(t.Content)
		if err != nil {
			return nil, "", err
		}
		return msg, IssuerAuthTagged, nil
	case []any:
		form = IssuerAuthArray
		arr = t
	default:
		return nil, "", decodeErrorf("unsupported issuerAuth type %T", v)
	}

	if len(arr) != 4 {
		return nil, "", decodeErrorf("issuerAuth has %d elements, not 4", len(arr))
	}
	canonical, err := encMode.Marshal(cbor.Tag{Number: tagCOSESign1, Content: Normalize(arr)})
	if err != nil {
		return nil, "", decodeErrorf("re-encoding issuerAuth: %s", err)
	}
	var msg cose.Sign1Message
	if err = msg.UnmarshalCBOR(canonical); err != nil {
		return nil, "", decodeErrorf("invalid COSE_Sign1: %s", err)
	}
	return &msg, form, nil
}

type FailureReason string

const (
	ReasonSignatureInvalid           FailureReason = "signature_invalid"
	ReasonMissingNameSpace           FailureReason = "missing_namespace"
	ReasonMissingDigestID            FailureReason = "missing_digest_id"
	ReasonDigestMismatch             FailureReason = "digest_mismatch"
	ReasonMalformedItem              FailureReason = "malformed_item"
	ReasonUnsupportedDigestAlgorithm FailureReason = "unsupported_digest_algorithm"
)

// Failure describes one problem found during verification.
type Failure struct {
	Reason    FailureReason `json:"reason"`
	NameSpace string        `json:"namespace,omitempty"`
	DigestID  *uint64       `json:"digest_id,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

func (f Failure) String() string {
	switch {
	case f.DigestID != nil:
		return fmt.Sprintf("%s: namespace<%s> digest<%d>", f.Reason, f.NameSpace, *f.DigestID)
	case f.NameSpace != "":
		return fmt.Sprintf("%s: namespace<%s>", f.Reason, f.NameSpace)
	default:
		return string(f.Reason)
	}
}

type VerificationResult struct {
	DocType        string              `json:"doc_type"`
	ValidityInfo   ValidityInfo        `json:"validity_info"`
	SignatureValid bool                `json:"signature_valid"`
	DigestsValid   bool                `json:"digests_valid"`
	NameSpaces     map[string][]string `json:"namespaces"`
	DeviceKey      *COSEKey            `json:"device_key,omitempty"`
	Envelope       string              `json:"envelope"`
	Failures       []Failure           `json:"failures,omitempty"`
}

// Valid is true when both the signature and every digest checked out.
func (r VerificationResult) Valid() bool {
	return r.SignatureValid && r.DigestsValid
}

type Verifier struct {
	publicKey *ecdsa.PublicKey
}

// NewVerifier checks signatures against pub. A nil pub means the leaf certificate of the x5chain
// header is trusted instead.
func NewVerifier(pub *ecdsa.PublicKey) *Verifier {
	return &Verifier{publicKey: pub}
}

// Verify decodes raw in any accepted envelope and checks it. Only decode failures are returned as errors.
func (v *Verifier) Verify(ctx context.Context, raw []byte) (*VerificationResult, error) {
	decoded, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	envelope, err := ExtractIssuerSigned(decoded)
	if err != nil {
		return nil, err
	}
	result, err := v.VerifyIssuerSigned(ctx, envelope.IssuerSigned)
	if err != nil {
		return nil, err
	}
	result.Envelope = envelope.Kind.String()
	return result, nil
}

// VerifyIssuerSigned checks an already extracted IssuerSigned.
func (v *Verifier) VerifyIssuerSigned(ctx context.Context, issuerSigned ExtractedIssuerSigned) (*VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, _, err := ParseIssuerAuth(issuerSigned.IssuerAuth)
	if err != nil {
		return nil, err
	}
	mso, err := decodeMSO(msg.Payload)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		DocType:      mso.DocType,
		ValidityInfo: mso.ValidityInfo,
		NameSpaces:   make(map[string][]string, len(issuerSigned.NameSpaces)),
		DeviceKey:    mso.deviceKey,
	}

	if failure := v.checkSignature(msg); failure != nil {
		result.Failures = append(result.Failures, *failure)
	} else {
		result.SignatureValid = true
	}

	digestFailure := checkDigests(issuerSigned.NameSpaces, mso, result.NameSpaces)
	if digestFailure != nil {
		result.Failures = append(result.Failures, *digestFailure)
	} else {
		result.DigestsValid = true
	}
	return result, nil
}

func (v *Verifier) checkSignature(msg *cose.Sign1Message) *Failure {
	pub := v.publicKey
	if pub == nil {
		certKey, err := x5chainKey(msg.Headers.Unprotected)
		if err != nil {
			return &Failure{Reason: ReasonSignatureInvalid, Detail: err.Error()}
		}
		pub = certKey
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return &Failure{Reason: ReasonSignatureInvalid, Detail: err.Error()}
	}
	if err = msg.Verify(nil, verifier); err != nil {
		return &Failure{Reason: ReasonSignatureInvalid, Detail: err.Error()}
	}
	return nil
}

func x5chainKey(unprotected cose.UnprotectedHeader) (*ecdsa.PublicKey, error) {
	var value any
	for label, v := range unprotected {
		if isLabel(label, headerLabelX5Chain) {
			value = v
			break
		}
	}
	var leaf []byte
	switch chain := value.(type) {
	case []byte:
		leaf = chain
	case []any:
		if len(chain) > 0 {
			leaf, _ = chain[0].([]byte)
		}
	}
	if len(leaf) == 0 {
		return nil, errors.New("no issuer key configured and no x5chain certificate present")
	}
	cert, err := x509.ParseCertificate(leaf)
	if err != nil {
		return nil, errors.Wrap(err, "parsing x5chain certificate")
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errors.New("x5chain certificate does not carry a P-256 key")
	}
	return pub, nil
}

func isLabel(label any, want int64) bool {
	switch l := label.(type) {
	case int64:
		return l == want
	case int:
		return int64(l) == want
	case uint64:
		return want >= 0 && l == uint64(want)
	default:
		return false
	}
}

// checkDigests walks namespaces in sorted order and stops at the first failure. Element identifiers
// are collected for every namespace either way.
func checkDigests(nameSpaces map[string][][]byte, mso *decodedMSO, found map[string][]string) *Failure {
	hash, supported := digestAlgorithms[mso.DigestAlgorithm]
	var failure *Failure
	if !supported {
		failure = &Failure{Reason: ReasonUnsupportedDigestAlgorithm, Detail: mso.DigestAlgorithm}
	}
	for _, nameSpace := range sortedKeys(nameSpaces) {
		identifiers := make([]string, 0, len(nameSpaces[nameSpace]))
		digests, known := mso.valueDigests[nameSpace]
		if !known && failure == nil {
			failure = &Failure{Reason: ReasonMissingNameSpace, NameSpace: nameSpace}
		}
		for _, serialized := range nameSpaces[nameSpace] {
			item, err := decodeItem(serialized)
			if err != nil {
				if failure == nil {
					failure = &Failure{Reason: ReasonMalformedItem, NameSpace: nameSpace, Detail: err.Error()}
				}
				continue
			}
			identifiers = append(identifiers, item.ElementIdentifier)
			if failure != nil {
				continue
			}
			digestID := item.DigestID
			expected, ok := digests[digestID]
			if !ok {
				failure = &Failure{Reason: ReasonMissingDigestID, NameSpace: nameSpace, DigestID: &digestID}
				continue
			}
			if !bytes.Equal(digest(hash, serialized), expected) {
				failure = &Failure{Reason: ReasonDigestMismatch, NameSpace: nameSpace, DigestID: &digestID}
			}
		}
		found[nameSpace] = identifiers
	}
	return failure
}

type decodedMSO struct {
	DocType         string
	DigestAlgorithm string
	ValidityInfo    ValidityInfo
	valueDigests    map[string]map[uint64][]byte
	deviceKey       *COSEKey
}

// decodeMSO reads the MSO payload. The payload may be the MSO itself, a tag-24 wrapped bstr, or a
// bstr holding the encoded MSO.
func decodeMSO(payload []byte) (*decodedMSO, error) {
	v, err := Decode(payload)
	if err != nil {
		return nil, errors.Wrap(err, "mso")
	}
	for depth := 0; depth < 2; depth++ {
		if tag, ok := v.(cbor.Tag); ok && tag.Number == tagEncodedCBOR {
			v = tag.Content
		}
		inner, ok := v.([]byte)
		if !ok {
			break
		}
		if v, err = Decode(inner); err != nil {
			return nil, errors.Wrap(err, "wrapped mso")
		}
	}
	m, ok := Normalize(v).(map[any]any)
	if !ok {
		return nil, decodeErrorf("mso is %T, not a map", v)
	}

	mso := &decodedMSO{}
	mso.DocType, ok = m["docType"].(string)
	if !ok {
		return nil, decodeErrorf("mso docType is missing")
	}
	mso.DigestAlgorithm, ok = m["digestAlgorithm"].(string)
	if !ok {
		return nil, decodeErrorf("mso digestAlgorithm is missing")
	}
	if mso.valueDigests, err = parseValueDigests(m["valueDigests"]); err != nil {
		return nil, err
	}
	if validity, ok := m["validityInfo"].(map[any]any); ok {
		for field, dst := range map[string]*time.Time{
			"signed":     &mso.ValidityInfo.Signed,
			"validFrom":  &mso.ValidityInfo.ValidFrom,
			"validUntil": &mso.ValidityInfo.ValidUntil,
		} {
			raw, present := validity[field]
			if !present {
				continue
			}
			t, err := asTime(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "validityInfo.%s", field)
			}
			*dst = t
		}
	}
	if deviceKeyInfo, ok := m["deviceKeyInfo"].(map[any]any); ok {
		if raw, present := deviceKeyInfo["deviceKey"]; present {
			key, err := coseKeyFromMap(raw)
			if err != nil {
				return nil, errors.Wrap(err, "deviceKeyInfo.deviceKey")
			}
			mso.deviceKey = key
		}
	}
	return mso, nil
}

func parseValueDigests(v any) (map[string]map[uint64][]byte, error) {
	m, ok := v.(map[any]any)
	if !ok {
		return nil, decodeErrorf("mso valueDigests is %T, not a map", v)
	}
	if inner, ok := m["nameSpaces"].(map[any]any); ok {
		m = inner
	}
	out := make(map[string]map[uint64][]byte, len(m))
	for k, entries := range m {
		nameSpace, ok := k.(string)
		if !ok {
			return nil, decodeErrorf("valueDigests key %v is not a string", k)
		}
		table, ok := entries.(map[any]any)
		if !ok {
			return nil, decodeErrorf("valueDigests<%s> is %T, not a map", nameSpace, entries)
		}
		digests := make(map[uint64][]byte, len(table))
		for id, d := range table {
			digestID, err := asUint(id)
			if err != nil {
				return nil, errors.Wrapf(err, "valueDigests<%s> id", nameSpace)
			}
			b, ok := d.([]byte)
			if !ok {
				return nil, decodeErrorf("valueDigests<%s><%d> is %T, not bytes", nameSpace, digestID, d)
			}
			digests[digestID] = b
		}
		out[nameSpace] = digests
	}
	return out, nil
}
