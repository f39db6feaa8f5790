// Package ipfs keeps snapshot blobs in a local Kubo repository by
// shelling out to the "ipfs" CLI. No daemon is needed.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/claimstore/cidutil"
	"xdao.co/claimstore/storage"
)

// DefaultTimeout bounds one CLI invocation.
const DefaultTimeout = 30 * time.Second

type Options struct {
	// Bin is the ipfs executable; "ipfs" when empty.
	Bin string
	// Repo sets IPFS_PATH for every invocation; the caller's environment
	// is used when empty.
	Repo    string
	Timeout time.Duration
}

// CAS stores raw blocks whose CIDs match cidutil.RawSHA256.
type CAS struct {
	bin     string
	env     []string
	timeout time.Duration
}

var _ storage.CAS = (*CAS)(nil)

func New(opts Options) *CAS {
	c := &CAS{bin: opts.Bin, timeout: opts.Timeout}
	if c.bin == "" {
		c.bin = "ipfs"
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if opts.Repo != "" {
		c.env = append(os.Environ(), "IPFS_PATH="+opts.Repo)
	}
	return c
}

func (c *CAS) Put(data []byte) (cid.Cid, error) {
	id, err := cidutil.RawSHA256(data)
	if err != nil {
		return cid.Undef, err
	}
	out, err := c.run(data,
		"block", "put",
		"--quiet",
		"--format=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
		"--cid-version=1",
		"/dev/stdin",
	)
	if err != nil {
		return cid.Undef, err
	}
	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("ipfs: unexpected block put output: %w", err)
	}
	if !got.Equals(id) {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	out, err := c.run(nil, "block", "get", id.String())
	if err != nil {
		if notFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := cidutil.RawSHA256(out)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, storage.ErrCIDMismatch
	}
	return out, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := c.run(nil, "block", "stat", id.String())
	return err == nil
}

func (c *CAS) run(stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Env = c.env
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if msg := strings.TrimSpace(string(ee.Stderr)); msg != "" {
			return nil, fmt.Errorf("ipfs %s: %s", args[0]+" "+args[1], msg)
		}
	}
	return nil, fmt.Errorf("ipfs %s: %w", args[0]+" "+args[1], err)
}

func notFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
