// Package localfs stores CAS objects as read-only files in a directory,
// fanned out by the first two characters of the CID.
package localfs

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/claimstore/cidutil"
	"xdao.co/claimstore/storage"
)

// CAS is a local filesystem-backed content-addressable store.
//
// Objects are written once and never modified; a second Put of the same
// bytes is a no-op. Reads re-hash the file so on-disk corruption surfaces
// as ErrCIDMismatch.
type CAS struct {
	root string
}

var _ storage.CAS = (*CAS)(nil)

// New constructs a filesystem CAS rooted at root, creating it if needed.
func New(root string) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CAS{root: root}, nil
}

// Root is the directory objects are stored under.
func (c *CAS) Root() string { return c.root }

func (c *CAS) Put(data []byte) (cid.Cid, error) {
	id, err := cidutil.RawSHA256(data)
	if err != nil {
		return cid.Undef, err
	}

	path := c.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	// Write to a temp file and link it into place so a crash never
	// leaves a truncated object under its final name.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return cid.Undef, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return cid.Undef, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return cid.Undef, err
	}
	if err := tmp.Close(); err != nil {
		return cid.Undef, err
	}
	if err := os.Chmod(tmp.Name(), 0o444); err != nil {
		return cid.Undef, err
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if !os.IsExist(err) {
			return cid.Undef, err
		}
		existing, rerr := c.Get(id)
		if rerr != nil || !bytes.Equal(existing, data) {
			return cid.Undef, storage.ErrImmutable
		}
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := os.ReadFile(c.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := cidutil.RawSHA256(b)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(c.pathFor(id))
	return err == nil
}

func (c *CAS) pathFor(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(c.root, s)
	}
	return filepath.Join(c.root, s[:2], s)
}
