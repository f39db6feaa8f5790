package identity

import (
	"context"
	"sync"
)

// Registry is an in-memory fingerprint registry: "crt:" reference to PEM
// certificate. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	certs map[string][]byte
}

func NewRegistry() *Registry {
	return &Registry{certs: make(map[string][]byte)}
}

func (r *Registry) Register(ref string, certPEM []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.certs[ref] = append([]byte(nil), certPEM...)
}

// Resolve returns a copy of the certificate for ref.
func (r *Registry) Resolve(ref string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.certs[ref]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), c...), true
}

func (r *Registry) Delete(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.certs, ref)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.certs)
}

// All returns a copy of every registered certificate.
func (r *Registry) All() map[string][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]byte, len(r.certs))
	for k, v := range r.certs {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func (r *Registry) ResolveCertificate(_ context.Context, ref string) ([]byte, error) {
	c, _ := r.Resolve(ref)
	return c, nil
}

func (r *Registry) RegisterCertificate(_ context.Context, ref string, certPEM []byte) error {
	r.Register(ref, certPEM)
	return nil
}
