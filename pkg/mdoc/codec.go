package mdoc

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ErrDecode marks malformed CBOR or an unrecognized structure. It is the only error verification returns.
var ErrDecode = errors.New("decode_error")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339
	encOpts.TimeTag = cbor.EncTagRequired
	em, err := encOpts.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
		// byte-string map keys decode to cbor.ByteString, which Normalize turns into string
		MapKeyByteString: cbor.MapKeyByteStringAllowed,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

func decodeErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrDecode, format, args...)
}

// Marshal encodes v with the core deterministic encoding used for every structure this package emits.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode parses raw CBOR into a generic value. Tags are kept; see Normalize.
func Decode(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, decodeErrorf("empty input")
	}
	var v any
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return nil, decodeErrorf("malformed cbor: %s", err)
	}
	return v, nil
}

// Normalize strips every tag, however deeply nested, and converts text and byte-string map keys
// to Go strings. Other keys (integers) are kept as decoded.
func Normalize(v any) any {
	switch t := v.(type) {
	case cbor.Tag:
		return Normalize(t.Content)
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, val := range t {
			out[normalizeKey(k)] = Normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[any]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		return v
	}
}

func normalizeKey(k any) any {
	switch key := Normalize(k).(type) {
	case cbor.ByteString:
		return string(key)
	default:
		return key
	}
}

// EnvelopeKind identifies which wire shape carried the IssuerSigned structure.
type EnvelopeKind int

const (
	// IssuerSignedEnvelope is a bare {issuerAuth, nameSpaces} map.
	IssuerSignedEnvelope EnvelopeKind = iota + 1
	// IssuerSignedArrayEnvelope is [issuerSigned, deviceSigned]; the device part is ignored.
	IssuerSignedArrayEnvelope
	// DeviceResponseEnvelope is {documents: [{issuerSigned: ...}]}.
	DeviceResponseEnvelope
)

func (k EnvelopeKind) String() string {
	switch k {
	case IssuerSignedEnvelope:
		return "issuer_signed"
	case IssuerSignedArrayEnvelope:
		return "issuer_signed_array"
	case DeviceResponseEnvelope:
		return "device_response"
	default:
		return fmt.Sprintf("envelope(%d)", int(k))
	}
}

// ExtractedIssuerSigned is the located IssuerSigned content.
type ExtractedIssuerSigned struct {
	// NameSpaces holds the serialized items exactly as received, in wire order.
	NameSpaces map[string][][]byte
	// IssuerAuth is the normalized issuerAuth value, accepted by ParseIssuerAuth.
	IssuerAuth any
}

type Envelope struct {
	Kind         EnvelopeKind
	IssuerSigned ExtractedIssuerSigned
}

type envelopeParser struct {
	kind  EnvelopeKind
	match func(v any) (map[any]any, bool)
}

// tried in priority order
var envelopeParsers = []envelopeParser{
	{kind: IssuerSignedEnvelope, match: matchIssuerSigned},
	{kind: IssuerSignedArrayEnvelope, match: matchIssuerSignedArray},
	{kind: DeviceResponseEnvelope, match: matchDeviceResponse},
}

// ExtractIssuerSigned locates the IssuerSigned structure in a decoded value of unknown shape.
func ExtractIssuerSigned(v any) (*Envelope, error) {
	normalized := Normalize(v)
	for _, parser := range envelopeParsers {
		m, ok := parser.match(normalized)
		if !ok {
			continue
		}
		issuerSigned, err := parseIssuerSigned(m)
		if err != nil {
			return nil, err
		}
		return &Envelope{Kind: parser.kind, IssuerSigned: *issuerSigned}, nil
	}
	return nil, decodeErrorf("no recognized issuerSigned envelope")
}

func matchIssuerSigned(v any) (map[any]any, bool) {
	m, ok := v.(map[any]any)
	if !ok {
		return nil, false
	}
	_, hasAuth := m["issuerAuth"]
	_, hasNameSpaces := m["nameSpaces"]
	return m, hasAuth && hasNameSpaces
}

func matchIssuerSignedArray(v any) (map[any]any, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	return matchIssuerSigned(list[0])
}

func matchDeviceResponse(v any) (map[any]any, bool) {
	m, ok := v.(map[any]any)
	if !ok {
		return nil, false
	}
	documents, ok := m["documents"].([]any)
	if !ok || len(documents) == 0 {
		return nil, false
	}
	document, ok := documents[0].(map[any]any)
	if !ok {
		return nil, false
	}
	switch issuerSigned := document["issuerSigned"].(type) {
	case map[any]any:
		return matchIssuerSigned(issuerSigned)
	case []any:
		if len(issuerSigned) != 1 {
			return nil, false
		}
		return matchIssuerSigned(issuerSigned[0])
	default:
		return nil, false
	}
}

func parseIssuerSigned(m map[any]any) (*ExtractedIssuerSigned, error) {
	rawNameSpaces, ok := m["nameSpaces"].(map[any]any)
	if !ok {
		return nil, decodeErrorf("nameSpaces is %T, not a map", m["nameSpaces"])
	}
	nameSpaces := make(map[string][][]byte, len(rawNameSpaces))
	for k, v := range rawNameSpaces {
		nameSpace, ok := k.(string)
		if !ok {
			return nil, decodeErrorf("namespace key %v is not a string", k)
		}
		list, ok := v.([]any)
		if !ok {
			return nil, decodeErrorf("namespace<%s> is %T, not a list of items", nameSpace, v)
		}
		items := make([][]byte, 0, len(list))
		for i, item := range list {
			b, ok := item.([]byte)
			if !ok {
				return nil, decodeErrorf("item %d in namespace<%s> is %T, not a byte string", i, nameSpace, item)
			}
			items = append(items, b)
		}
		nameSpaces[nameSpace] = items
	}
	return &ExtractedIssuerSigned{NameSpaces: nameSpaces, IssuerAuth: m["issuerAuth"]}, nil
}

// decodeItem reads the fields of a serialized IssuerSignedItem.
func decodeItem(b []byte) (*IssuerSignedItem, error) {
	v, err := Decode(b)
	if err != nil {
		return nil, err
	}
	m, ok := Normalize(v).(map[any]any)
	if !ok {
		return nil, decodeErrorf("item is not a map")
	}
	digestID, err := asUint(m["digestID"])
	if err != nil {
		return nil, errors.Wrap(err, "digestID")
	}
	identifier, ok := m["elementIdentifier"].(string)
	if !ok {
		return nil, decodeErrorf("elementIdentifier is %T, not a string", m["elementIdentifier"])
	}
	random, _ := m["random"].([]byte)
	return &IssuerSignedItem{
		DigestID:          digestID,
		Random:            random,
		ElementIdentifier: identifier,
		ElementValue:      m["elementValue"],
	}, nil
}

func lookup(m map[any]any, keys ...any) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func asUint(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, decodeErrorf("negative value %d", n)
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, decodeErrorf("negative value %d", n)
		}
		return uint64(n), nil
	default:
		return 0, decodeErrorf("value is %T, not an unsigned integer", v)
	}
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, decodeErrorf("invalid tdate %q", t)
		}
		return parsed.UTC(), nil
	case uint64:
		if t > math.MaxInt64 {
			return time.Time{}, decodeErrorf("epoch time out of range")
		}
		return time.Unix(int64(t), 0).UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	default:
		return time.Time{}, decodeErrorf("time is %T", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
