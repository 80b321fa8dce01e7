package mdoc

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"math/big"

	"github.com/pkg/errors"
)

const (
	coseKeyTypeEC2   int64 = 2
	coseCurveP256    int64 = 1
	coseKeyLabelKty  int64 = 1
	coseKeyLabelKid  int64 = 2
	coseKeyLabelCrv  int64 = -1
	coseKeyLabelX    int64 = -2
	coseKeyLabelY    int64 = -3
	p256CoordinateSz       = 32
)

// COSEKey is an EC2 P-256 public key with integer labels (RFC 9052 §7).
type COSEKey struct {
	Kty int64  `cbor:"1,keyasint" json:"kty"`
	Kid []byte `cbor:"2,keyasint,omitempty" json:"kid,omitempty"`
	Crv int64  `cbor:"-1,keyasint" json:"crv"`
	X   []byte `cbor:"-2,keyasint" json:"x"`
	Y   []byte `cbor:"-3,keyasint" json:"y"`
}

// COSEKeyFromPublicKey converts a P-256 public key. kid is omitted when empty.
func COSEKeyFromPublicKey(pub *ecdsa.PublicKey, kid string) (COSEKey, error) {
	if pub == nil {
		return COSEKey{}, errors.New("public key is nil")
	}
	if pub.Curve != elliptic.P256() {
		return COSEKey{}, errors.Errorf("unsupported curve %s", pub.Curve.Params().Name)
	}
	key := COSEKey{
		Kty: coseKeyTypeEC2,
		Crv: coseCurveP256,
		X:   pub.X.FillBytes(make([]byte, p256CoordinateSz)),
		Y:   pub.Y.FillBytes(make([]byte, p256CoordinateSz)),
	}
	if kid != "" {
		key.Kid = []byte(kid)
	}
	return key, nil
}

// PublicKey returns the ecdsa key, checking that the point lies on P-256.
func (k COSEKey) PublicKey() (*ecdsa.PublicKey, error) {
	if k.Kty != coseKeyTypeEC2 {
		return nil, errors.Errorf("unsupported kty %d", k.Kty)
	}
	if k.Crv != coseCurveP256 {
		return nil, errors.Errorf("unsupported crv %d", k.Crv)
	}
	if len(k.X) != p256CoordinateSz || len(k.Y) != p256CoordinateSz {
		return nil, errors.New("coordinates must be 32 bytes")
	}
	uncompressed := make([]byte, 0, 1+2*p256CoordinateSz)
	uncompressed = append(uncompressed, 0x04)
	uncompressed = append(uncompressed, k.X...)
	uncompressed = append(uncompressed, k.Y...)
	if _, err := ecdh.P256().NewPublicKey(uncompressed); err != nil {
		return nil, errors.Wrap(err, "invalid point")
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}, nil
}

// coseKeyFromMap reads a decoded (normalized) COSE_Key map. Positive labels decode as uint64,
// negative ones as int64.
func coseKeyFromMap(v any) (*COSEKey, error) {
	m, ok := v.(map[any]any)
	if !ok {
		return nil, decodeErrorf("device key is %T, not a map", v)
	}
	label := func(l int64) any {
		if l >= 0 {
			if v, ok := lookup(m, uint64(l), l); ok {
				return v
			}
			return nil
		}
		return m[l]
	}
	kty, err := asInt(label(coseKeyLabelKty))
	if err != nil {
		return nil, errors.Wrap(err, "kty")
	}
	crv, err := asInt(label(coseKeyLabelCrv))
	if err != nil {
		return nil, errors.Wrap(err, "crv")
	}
	x, _ := label(coseKeyLabelX).([]byte)
	y, _ := label(coseKeyLabelY).([]byte)
	kid, _ := label(coseKeyLabelKid).([]byte)
	return &COSEKey{Kty: kty, Kid: kid, Crv: crv, X: x, Y: y}, nil
}

func asInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > 1<<62 {
			return 0, decodeErrorf("value %d out of range", n)
		}
		return int64(n), nil
	default:
		return 0, decodeErrorf("value is %T, not an integer", v)
	}
}
