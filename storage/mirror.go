package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/claimstore/cidutil"
)

// Backend names a CAS so mirror failures can be reported per location.
type Backend struct {
	Name string
	CAS  CAS
}

// Mirror writes every object to all backends and reads from the first
// backend that has it, in slice order. The daemon uses it to keep
// snapshot copies in more than one directory.
type Mirror struct {
	Backends []Backend
}

var _ CAS = Mirror{}

// Put writes bytes to every backend. All backends must return the CID
// computed from bytes, otherwise ErrCIDMismatch.
func (m Mirror) Put(bytes []byte) (cid.Cid, error) {
	want, err := cidutil.RawSHA256(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if len(m.Backends) == 0 {
		return cid.Undef, ErrNoBackends
	}
	for _, b := range m.Backends {
		if b.CAS == nil {
			return cid.Undef, fmt.Errorf("storage: nil CAS for backend %q", b.Name)
		}
		got, err := b.CAS.Put(bytes)
		if err != nil {
			return cid.Undef, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		if got != want {
			return cid.Undef, fmt.Errorf("storage: backend %q: %w", b.Name, ErrCIDMismatch)
		}
	}
	return want, nil
}

// Get falls back across backends in order. A backend reporting anything
// other than ErrNotFound stops the search.
func (m Mirror) Get(id cid.Cid) ([]byte, error) {
	for _, b := range m.Backends {
		if b.CAS == nil {
			continue
		}
		out, err := b.CAS.Get(id)
		if err == nil {
			return out, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, fmt.Errorf("storage: backend %q: %w", b.Name, err)
	}
	return nil, ErrNotFound
}

func (m Mirror) Has(id cid.Cid) bool {
	for _, b := range m.Backends {
		if b.CAS != nil && b.CAS.Has(id) {
			return true
		}
	}
	return false
}
