package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"xdao.co/claimstore/canonical"
	"xdao.co/claimstore/model"
)

// CertificateIdentity is the "crt:" identity backed by an X.509
// certificate carrying an RSA public key.
type CertificateIdentity struct {
	cert    *x509.Certificate
	certPEM []byte
	pub     *rsa.PublicKey
	priv    *rsa.PrivateKey
	ref     string
}

// ParseCertificate imports a PEM certificate and, optionally, the PEM
// private key (PKCS#1 or PKCS#8) that belongs to it.
func ParseCertificate(certPEM, privateKeyPEM []byte) (*CertificateIdentity, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, model.NewError(model.KindUnknownIdentity, "certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, model.WrapError(model.KindUnknownIdentity, "parse certificate", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, model.Errorf(model.KindUnknownIdentity, "certificate key is %T, want RSA", cert.PublicKey)
	}

	id := &CertificateIdentity{
		cert:    cert,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		pub:     pub,
		ref:     Fingerprint(pub),
	}
	if len(privateKeyPEM) > 0 {
		priv, err := parseRSAPrivateKey(privateKeyPEM)
		if err != nil {
			return nil, err
		}
		if !priv.PublicKey.Equal(pub) {
			return nil, model.NewError(model.KindInvalidRequest, "private key does not match certificate")
		}
		id.priv = priv
	}
	return id, nil
}

// Fingerprint returns the "crt:" reference for an RSA public key: the
// lowercase hex SHA-1 of its PKCS#1 DER encoding.
func Fingerprint(pub *rsa.PublicKey) string {
	sum := sha1.Sum(x509.MarshalPKCS1PublicKey(pub))
	return PrefixCertificate + hex.EncodeToString(sum[:])
}

func parseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, model.NewError(model.KindInvalidRequest, "private key is not PEM encoded")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, model.WrapError(model.KindInvalidRequest, "parse PKCS#1 private key", err)
		}
		return k, nil
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, model.WrapError(model.KindInvalidRequest, "parse PKCS#8 private key", err)
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, model.Errorf(model.KindInvalidRequest, "private key is %T, want RSA", k)
		}
		return rk, nil
	default:
		return nil, model.Errorf(model.KindInvalidRequest, "unsupported private key block %q", block.Type)
	}
}

func (c *CertificateIdentity) Reference() string { return c.ref }

func (c *CertificateIdentity) CanSign() bool { return c.priv != nil }

// CertificatePEM returns the certificate re-encoded as PEM.
func (c *CertificateIdentity) CertificatePEM() []byte {
	return append([]byte(nil), c.certPEM...)
}

// Certificate returns the parsed certificate.
func (c *CertificateIdentity) Certificate() *x509.Certificate { return c.cert }

func (c *CertificateIdentity) Sign(v any) (string, error) {
	if c.priv == nil {
		return "", noPrivateKey(c.ref)
	}
	digest, err := canonical.Digest(v)
	if err != nil {
		return "", err
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.priv, crypto.SHA256, digest)
	if err != nil {
		return "", fmt.Errorf("rsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (c *CertificateIdentity) Verify(v any, signature string) error {
	sig, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	digest, err := canonical.Digest(v)
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, "cannot digest value", err)
	}
	if err := rsa.VerifyPKCS1v15(c.pub, crypto.SHA256, digest, sig); err != nil {
		return invalidSignature()
	}
	return nil
}
