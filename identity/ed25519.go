package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"xdao.co/claimstore/canonical"
	"xdao.co/claimstore/model"
)

// Ed25519Identity is the self-describing "ec:" identity.
type Ed25519Identity struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// GenerateEd25519 mints a fresh key pair.
func GenerateEd25519() (*Ed25519Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519Identity{pub: pub, priv: priv}, nil
}

// Ed25519FromSeed derives the identity for a 32-byte seed.
func Ed25519FromSeed(seed []byte) (*Ed25519Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Identity{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// ParseEd25519 builds the identity for an "ec:" reference. privateKey may
// be nil (verify only), a 32-byte seed or a 64-byte private key; it must
// belong to the reference.
func ParseEd25519(ref string, privateKey []byte) (*Ed25519Identity, error) {
	enc, ok := strings.CutPrefix(ref, PrefixEd25519)
	if !ok {
		return nil, model.Errorf(model.KindUnknownIdentity, "not an ed25519 reference: %q", abbreviate(ref))
	}
	pub, err := decodeCanonical(enc)
	if err != nil {
		return nil, model.WrapError(model.KindUnknownIdentity, "invalid ed25519 reference encoding", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, model.Errorf(model.KindUnknownIdentity, "invalid ed25519 public key length %d", len(pub))
	}
	id := &Ed25519Identity{pub: ed25519.PublicKey(pub)}

	switch len(privateKey) {
	case 0:
	case ed25519.SeedSize:
		id.priv = ed25519.NewKeyFromSeed(privateKey)
	case ed25519.PrivateKeySize:
		id.priv = ed25519.PrivateKey(append([]byte(nil), privateKey...))
	default:
		return nil, model.Errorf(model.KindInvalidRequest, "invalid ed25519 private key length %d", len(privateKey))
	}
	if id.priv != nil && !id.pub.Equal(id.priv.Public()) {
		return nil, model.NewError(model.KindInvalidRequest, "private key does not match reference")
	}
	return id, nil
}

func (e *Ed25519Identity) Reference() string {
	return PrefixEd25519 + base64.StdEncoding.EncodeToString(e.pub)
}

func (e *Ed25519Identity) CanSign() bool { return e.priv != nil }

// Seed returns the 32-byte private seed, or nil for a verify-only identity.
func (e *Ed25519Identity) Seed() []byte {
	if e.priv == nil {
		return nil
	}
	return e.priv.Seed()
}

func (e *Ed25519Identity) Sign(v any) (string, error) {
	if e.priv == nil {
		return "", noPrivateKey(e.Reference())
	}
	digest, err := canonical.Digest(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(e.priv, digest)), nil
}

func (e *Ed25519Identity) Verify(v any, signature string) error {
	sig, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	if len(sig) != ed25519.SignatureSize {
		return model.NewError(model.KindInvalidSignature, "invalid ed25519 signature length")
	}
	digest, err := canonical.Digest(v)
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, "cannot digest value", err)
	}
	if !ed25519.Verify(e.pub, digest, sig) {
		return invalidSignature()
	}
	return nil
}
