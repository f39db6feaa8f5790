package identity

import (
	"encoding/base64"
	"errors"
	"strings"

	"xdao.co/claimstore/model"
)

const (
	PrefixEd25519     = "ec:"
	PrefixCertificate = "crt:"
	PrefixDilithium   = "pq:"
)

// Identity is the sign/verify contract shared by every scheme.
type Identity interface {
	// Reference returns the public identifier of the identity.
	Reference() string
	// Sign returns the base64 signature over the canonical digest of v.
	// It fails when the identity holds no private key.
	Sign(v any) (string, error)
	// Verify returns nil iff signature is a valid signature over v.
	Verify(v any, signature string) error
	CanSign() bool
}

// Scheme names the signature scheme selected by a reference prefix.
type Scheme string

const (
	SchemeEd25519     Scheme = "ed25519"
	SchemeCertificate Scheme = "rsa-certificate"
	SchemeDilithium   Scheme = "dilithium3"
)

// SchemeOf returns the scheme for ref, or KindUnknownIdentity.
func SchemeOf(ref string) (Scheme, error) {
	switch {
	case strings.HasPrefix(ref, PrefixEd25519):
		return SchemeEd25519, nil
	case strings.HasPrefix(ref, PrefixCertificate):
		return SchemeCertificate, nil
	case strings.HasPrefix(ref, PrefixDilithium):
		return SchemeDilithium, nil
	default:
		return "", model.Errorf(model.KindUnknownIdentity, "unsupported reference %q", abbreviate(ref))
	}
}

// ParseReference builds a verify-only Identity for a self-describing
// reference. Certificate references cannot be parsed without a registry
// and yield KindUnknownIdentity; use Factory.FromReference for those.
func ParseReference(ref string) (Identity, error) {
	scheme, err := SchemeOf(ref)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeEd25519:
		return ParseEd25519(ref, nil)
	case SchemeDilithium:
		return ParseDilithium(ref, nil)
	default:
		return nil, model.Errorf(model.KindUnknownIdentity, "certificate reference %q needs a registry lookup", abbreviate(ref))
	}
}

// decodeCanonical decodes padded standard base64 and rejects every other
// spelling of the same bytes (non-zero pad bits, embedded newlines).
// Claim ids and references are compared as strings, so each value must
// have exactly one accepted encoding.
func decodeCanonical(s string) ([]byte, error) {
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, err
	}
	if base64.StdEncoding.EncodeToString(b) != s {
		return nil, errNonCanonical
	}
	return b, nil
}

var errNonCanonical = errors.New("non-canonical base64")

func decodeSignature(signature string) ([]byte, error) {
	sig, err := decodeCanonical(signature)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidSignature, "invalid signature encoding", err)
	}
	return sig, nil
}

func invalidSignature() error {
	return model.NewError(model.KindInvalidSignature, "invalid signature")
}

func noPrivateKey(ref string) error {
	return model.Errorf(model.KindInvalidRequest, "identity %s has no private key", abbreviate(ref))
}

// abbreviate keeps log and error output readable for long key-bearing
// references such as pq:.
func abbreviate(ref string) string {
	const max = 48
	if len(ref) <= max {
		return ref
	}
	return ref[:max] + "..."
}
