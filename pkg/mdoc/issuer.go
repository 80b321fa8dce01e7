package mdoc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/veraison/go-cose"

	"github.com/openmdoc/mdoc-service/internal/util"
)

const (
	DefaultValidity = 365 * 24 * time.Hour
	DefaultSaltSize = 32
)

// Issuer signs MSOs with a document signer key.
type Issuer struct {
	signer   cose.Signer
	certDER  []byte
	clock    clock.Clock
	validity time.Duration
	saltSize int
}

type IssuerOption func(*Issuer)

func WithClock(c clock.Clock) IssuerOption {
	return func(i *Issuer) {
		i.clock = c
	}
}

func WithValidity(validity time.Duration) IssuerOption {
	return func(i *Issuer) {
		if validity > 0 {
			i.validity = validity
		}
	}
}

func WithSaltSize(size int) IssuerOption {
	return func(i *Issuer) {
		if size > 0 {
			i.saltSize = size
		}
	}
}

// NewIssuer builds an ES256 issuer. certDER is placed in the x5chain header of every signature
// and may be empty.
func NewIssuer(key *ecdsa.PrivateKey, certDER []byte, opts ...IssuerOption) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("signing key is nil")
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.Errorf("signing key must be on P-256; got %s", key.Curve.Params().Name)
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, errors.Wrap(err, "creating cose signer")
	}
	issuer := &Issuer{
		signer:   signer,
		certDER:  certDER,
		clock:    clock.New(),
		validity: DefaultValidity,
		saltSize: DefaultSaltSize,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	if issuer.saltSize < util.MinSaltSize {
		return nil, errors.Errorf("salt size must be at least %d bytes", util.MinSaltSize)
	}
	return issuer, nil
}

type IssueRequest struct {
	DocType    string
	NameSpaces NameSpacedElements
	DeviceKey  COSEKey
}

// IssuedDocument is a signed IssuerSigned. Encoded is its CBOR form.
type IssuedDocument struct {
	Encoded []byte
	MSO     MobileSecurityObject
	Items   map[string][][]byte
}

// Issue digests the request's elements, binds them to the device key and signs the resulting MSO.
func (i *Issuer) Issue(ctx context.Context, request IssueRequest) (*IssuedDocument, error) {
	if request.DocType == "" {
		return nil, errors.New("doc type is required")
	}
	if _, err := request.DeviceKey.PublicKey(); err != nil {
		return nil, errors.Wrap(err, "device key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digested, err := BuildDigests(request.NameSpaces, i.saltSize)
	if err != nil {
		return nil, errors.Wrap(err, "building digests")
	}

	now := i.clock.Now().UTC().Truncate(time.Second)
	mso := MobileSecurityObject{
		Version:         MSOVersion,
		DigestAlgorithm: DigestAlgorithmSHA256,
		ValueDigests:    digested.ValueDigests,
		DeviceKeyInfo:   DeviceKeyInfo{DeviceKey: request.DeviceKey},
		DocType:         request.DocType,
		ValidityInfo: ValidityInfo{
			Signed:     now,
			ValidFrom:  now,
			ValidUntil: now.Add(i.validity),
		},
	}
	payload, err := encMode.Marshal(mso)
	if err != nil {
		return nil, errors.Wrap(err, "encoding mso")
	}

	msg := cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected:   cose.ProtectedHeader{},
			Unprotected: cose.UnprotectedHeader{},
		},
		Payload: payload,
	}
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	if len(i.certDER) > 0 {
		msg.Headers.Unprotected[headerLabelX5Chain] = i.certDER
	}
	if err = msg.Sign(rand.Reader, nil, i.signer); err != nil {
		return nil, errors.Wrap(err, "signing mso")
	}
	issuerAuth, err := msg.MarshalCBOR()
	if err != nil {
		return nil, errors.Wrap(err, "encoding issuer auth")
	}

	nameSpaces := make(IssuerNameSpaces, len(digested.Items))
	for nameSpace, items := range digested.Items {
		wrapped := make([]cbor.Tag, 0, len(items))
		for _, item := range items {
			wrapped = append(wrapped, cbor.Tag{Number: tagEncodedCBOR, Content: item})
		}
		nameSpaces[nameSpace] = wrapped
	}
	encoded, err := encMode.Marshal(IssuerSigned{NameSpaces: nameSpaces, IssuerAuth: issuerAuth})
	if err != nil {
		return nil, errors.Wrap(err, "encoding issuer signed")
	}
	return &IssuedDocument{Encoded: encoded, MSO: mso, Items: digested.Items}, nil
}
