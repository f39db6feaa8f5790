// Package storage defines the content-addressed blob store that holds
// claim store snapshots.
package storage

import (
	"errors"

	"github.com/ipfs/go-cid"
)

// CAS stores immutable blobs under the CIDv1 (raw, sha2-256) of their
// bytes, as computed by cidutil.RawSHA256.
//
// Put is idempotent and returns that CID; a backend that would return any
// other CID fails with ErrCIDMismatch. Get of an absent CID returns
// ErrNotFound and Get of cid.Undef returns ErrInvalidCID. Has never
// errors: an unreachable backend simply does not have the object.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	// ErrImmutable means different bytes already sit under a CID.
	ErrImmutable  = errors.New("storage: immutable object mismatch")
	ErrNoBackends = errors.New("storage: no backends configured")
)

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
