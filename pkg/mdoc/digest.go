package mdoc

import (
	"crypto"
	// hash implementations registered for crypto.Hash lookups
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/pkg/errors"

	"github.com/openmdoc/mdoc-service/internal/util"
)

// Element is one data element to be issued.
type Element struct {
	Identifier string
	Value      any
}

// NameSpacedElements maps a namespace to its elements. Element order fixes digest id assignment.
type NameSpacedElements map[string][]Element

// DigestedNameSpaces is the output of BuildDigests.
type DigestedNameSpaces struct {
	// Items holds the serialized IssuerSignedItems per namespace, in digest id order.
	Items map[string][][]byte
	// ValueDigests holds the SHA-256 of each serialized item under its digest id.
	ValueDigests ValueDigests
}

var digestAlgorithms = map[string]crypto.Hash{
	DigestAlgorithmSHA256: crypto.SHA256,
	DigestAlgorithmSHA384: crypto.SHA384,
	DigestAlgorithmSHA512: crypto.SHA512,
}

// BuildDigests salts, serializes and digests every element. Digest ids start at 0 in each namespace
// and follow element order.
func BuildDigests(nameSpaces NameSpacedElements, saltSize int) (*DigestedNameSpaces, error) {
	if saltSize < util.MinSaltSize {
		return nil, errors.Errorf("salt size %d is below the minimum of %d bytes", saltSize, util.MinSaltSize)
	}
	if len(nameSpaces) == 0 {
		return nil, errors.New("at least one namespace is required")
	}

	result := &DigestedNameSpaces{
		Items:        make(map[string][][]byte, len(nameSpaces)),
		ValueDigests: make(ValueDigests, len(nameSpaces)),
	}
	for _, nameSpace := range sortedKeys(nameSpaces) {
		if nameSpace == "" {
			return nil, errors.New("namespace name cannot be empty")
		}
		elements := nameSpaces[nameSpace]
		seen := make(map[string]struct{}, len(elements))
		items := make([][]byte, 0, len(elements))
		digests := make(map[uint64][]byte, len(elements))
		for i, element := range elements {
			if element.Identifier == "" {
				return nil, errors.Errorf("element %d in namespace<%s> has no identifier", i, nameSpace)
			}
			if _, dup := seen[element.Identifier]; dup {
				return nil, errors.Errorf("duplicate element<%s> in namespace<%s>", element.Identifier, nameSpace)
			}
			seen[element.Identifier] = struct{}{}

			salt, err := util.GenerateSalt(saltSize)
			if err != nil {
				return nil, errors.Wrap(err, "generating element salt")
			}
			digestID := uint64(i)
			serialized, err := encMode.Marshal(IssuerSignedItem{
				DigestID:          digestID,
				Random:            salt,
				ElementIdentifier: element.Identifier,
				ElementValue:      element.Value,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "serializing element<%s>", element.Identifier)
			}
			items = append(items, serialized)
			digests[digestID] = digest(crypto.SHA256, serialized)
		}
		result.Items[nameSpace] = items
		result.ValueDigests[nameSpace] = digests
	}
	return result, nil
}

// DigestItem returns the SHA-256 digest of a serialized item, computed over the bytes as given.
func DigestItem(serialized []byte) []byte {
	return digest(crypto.SHA256, serialized)
}

func digest(h crypto.Hash, b []byte) []byte {
	hasher := h.New()
	hasher.Write(b)
	return hasher.Sum(nil)
}
