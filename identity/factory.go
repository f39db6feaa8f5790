package identity

import (
	"context"

	"xdao.co/claimstore/model"
)

// CertificateResolver looks up the PEM certificate registered for a
// "crt:" reference. A missing certificate is (nil, nil).
type CertificateResolver interface {
	ResolveCertificate(ctx context.Context, ref string) ([]byte, error)
}

// CertificateRegistrar records the certificate for a "crt:" reference.
type CertificateRegistrar interface {
	RegisterCertificate(ctx context.Context, ref string, certPEM []byte) error
}

// CertificateDirectory is both halves of the certificate registry. The
// in-process claim store, the remote client and Registry all satisfy it.
type CertificateDirectory interface {
	CertificateResolver
	CertificateRegistrar
}

// Factory turns references and key material into identities. Certificate
// references are resolved through Certificates; a nil directory makes
// every "crt:" reference unknown.
type Factory struct {
	Certificates CertificateDirectory
}

// NewFactory binds a factory to a certificate directory.
func NewFactory(dir CertificateDirectory) *Factory {
	return &Factory{Certificates: dir}
}

// FromReference dispatches on the reference prefix. privateKey is
// optional; its encoding depends on the scheme (seed or raw key for ec:,
// binary key for pq:, PEM for crt:).
func (f *Factory) FromReference(ctx context.Context, ref string, privateKey []byte) (Identity, error) {
	scheme, err := SchemeOf(ref)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeEd25519:
		return ParseEd25519(ref, privateKey)
	case SchemeDilithium:
		return ParseDilithium(ref, privateKey)
	}

	if f == nil || f.Certificates == nil {
		return nil, model.Errorf(model.KindUnknownIdentity, "no certificate registry for %s", ref)
	}
	certPEM, err := f.Certificates.ResolveCertificate(ctx, ref)
	if err != nil {
		return nil, model.WrapError(model.KindUnknownIdentity, "resolve certificate "+ref, err)
	}
	if certPEM == nil {
		return nil, model.Errorf(model.KindUnknownIdentity, "no certificate registered for %s", ref)
	}
	id, err := ParseCertificate(certPEM, privateKey)
	if err != nil {
		return nil, err
	}
	if id.Reference() != ref {
		return nil, model.Errorf(model.KindUnknownIdentity, "registered certificate does not match %s", ref)
	}
	return id, nil
}

// NewIdentity mints a fresh ed25519 identity.
func (f *Factory) NewIdentity() (*Ed25519Identity, error) {
	return GenerateEd25519()
}

// NewDilithiumIdentity mints a fresh post-quantum identity.
func (f *Factory) NewDilithiumIdentity() (*DilithiumIdentity, error) {
	return GenerateDilithium(nil)
}

// FromCertificate imports an externally created certificate identity and
// registers its fingerprint so others can verify its signatures.
func (f *Factory) FromCertificate(ctx context.Context, certPEM, privateKeyPEM []byte) (*CertificateIdentity, error) {
	id, err := ParseCertificate(certPEM, privateKeyPEM)
	if err != nil {
		return nil, err
	}
	if f == nil || f.Certificates == nil {
		return nil, model.NewError(model.KindInvalidRequest, "no certificate registry to register with")
	}
	if err := f.Certificates.RegisterCertificate(ctx, id.Reference(), id.CertificatePEM()); err != nil {
		return nil, err
	}
	return id, nil
}
