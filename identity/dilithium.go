package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/claimstore/canonical"
	"xdao.co/claimstore/model"
)

// DilithiumIdentity is the self-describing post-quantum "pq:" identity.
// It signs the SHA3-256 canonical digest, matching the sha3-256 pairing
// used for dilithium3 signatures elsewhere in xdao tooling.
type DilithiumIdentity struct {
	pub  *mode3.PublicKey
	priv *mode3.PrivateKey
}

// GenerateDilithium mints a fresh key pair from r (crypto/rand when nil).
func GenerateDilithium(r io.Reader) (*DilithiumIdentity, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := mode3.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate dilithium3 key: %w", err)
	}
	return &DilithiumIdentity{pub: pub, priv: priv}, nil
}

// ParseDilithium builds the identity for a "pq:" reference. privateKey is
// nil or the binary encoding returned by PrivateKeyBytes.
func ParseDilithium(ref string, privateKey []byte) (*DilithiumIdentity, error) {
	enc, ok := strings.CutPrefix(ref, PrefixDilithium)
	if !ok {
		return nil, model.Errorf(model.KindUnknownIdentity, "not a dilithium3 reference: %q", abbreviate(ref))
	}
	raw, err := decodeCanonical(enc)
	if err != nil {
		return nil, model.WrapError(model.KindUnknownIdentity, "invalid dilithium3 reference encoding", err)
	}
	var pub mode3.PublicKey
	if err := pub.UnmarshalBinary(raw); err != nil {
		return nil, model.WrapError(model.KindUnknownIdentity, "invalid dilithium3 public key", err)
	}
	id := &DilithiumIdentity{pub: &pub}
	if id.Reference() != ref {
		return nil, model.Errorf(model.KindUnknownIdentity, "non-canonical dilithium3 reference %q", abbreviate(ref))
	}
	if len(privateKey) > 0 {
		var priv mode3.PrivateKey
		if err := priv.UnmarshalBinary(privateKey); err != nil {
			return nil, model.WrapError(model.KindInvalidRequest, "invalid dilithium3 private key", err)
		}
		derived, ok := priv.Public().(*mode3.PublicKey)
		if !ok || !derived.Equal(&pub) {
			return nil, model.NewError(model.KindInvalidRequest, "private key does not match reference")
		}
		id.priv = &priv
	}
	return id, nil
}

func (d *DilithiumIdentity) Reference() string {
	b, _ := d.pub.MarshalBinary()
	return PrefixDilithium + base64.StdEncoding.EncodeToString(b)
}

func (d *DilithiumIdentity) CanSign() bool { return d.priv != nil }

// PrivateKeyBytes returns the binary private key, or nil.
func (d *DilithiumIdentity) PrivateKeyBytes() []byte {
	if d.priv == nil {
		return nil
	}
	b, _ := d.priv.MarshalBinary()
	return b
}

func (d *DilithiumIdentity) Sign(v any) (string, error) {
	if d.priv == nil {
		return "", noPrivateKey(d.Reference())
	}
	digest, err := canonical.DigestSHA3(v)
	if err != nil {
		return "", err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(d.priv, digest, sig)
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (d *DilithiumIdentity) Verify(v any, signature string) error {
	sig, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	if len(sig) != mode3.SignatureSize {
		return model.NewError(model.KindInvalidSignature, "invalid dilithium3 signature length")
	}
	digest, err := canonical.DigestSHA3(v)
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, "cannot digest value", err)
	}
	if !mode3.Verify(d.pub, digest, sig) {
		return invalidSignature()
	}
	return nil
}
