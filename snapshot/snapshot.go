// Package snapshot persists claim store state across daemon restarts.
//
// A snapshot is the deterministic CBOR encoding of claimstore.State kept
// in a storage.CAS. A small HEAD file outside the CAS names the CID of the
// most recent snapshot; it is the only mutable piece and is replaced
// atomically.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/clock"
	"xdao.co/claimstore/storage"
)

// HeadFile is the default name of the file holding the latest CID.
const HeadFile = "HEAD"

// ErrNoSnapshot is returned by Restore when no snapshot was ever saved.
var ErrNoSnapshot = errors.New("snapshot: no snapshot recorded")

// Save exports store, writes it to cas and points head at it.
func Save(store *claimstore.Store, cas storage.CAS, head string) (cid.Cid, error) {
	st, err := store.Export()
	if err != nil {
		return cid.Undef, err
	}
	b, err := Encode(st)
	if err != nil {
		return cid.Undef, err
	}
	id, err := cas.Put(b)
	if err != nil {
		return cid.Undef, fmt.Errorf("snapshot: store: %w", err)
	}
	if err := writeHead(head, id); err != nil {
		return cid.Undef, err
	}
	return id, nil
}

// Restore loads the snapshot head points at into store.
func Restore(store *claimstore.Store, cas storage.CAS, head string) (cid.Cid, error) {
	id, err := ReadHead(head)
	if err != nil {
		return cid.Undef, err
	}
	b, err := cas.Get(id)
	if err != nil {
		return cid.Undef, fmt.Errorf("snapshot: fetch %s: %w", id, err)
	}
	st, err := Decode(b)
	if err != nil {
		return cid.Undef, err
	}
	if err := store.Load(st); err != nil {
		return cid.Undef, fmt.Errorf("snapshot: %s: %w", id, err)
	}
	return id, nil
}

// ReadHead returns the CID recorded in head, or ErrNoSnapshot.
func ReadHead(head string) (cid.Cid, error) {
	b, err := os.ReadFile(head)
	if err != nil {
		if os.IsNotExist(err) {
			return cid.Undef, ErrNoSnapshot
		}
		return cid.Undef, fmt.Errorf("snapshot: read head: %w", err)
	}
	id, err := cid.Decode(strings.TrimSpace(string(b)))
	if err != nil {
		return cid.Undef, fmt.Errorf("snapshot: head %s: %w", head, storage.ErrInvalidCID)
	}
	return id, nil
}

func writeHead(head string, id cid.Cid) error {
	dir := filepath.Dir(head)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: write head: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".head-*")
	if err != nil {
		return fmt.Errorf("snapshot: write head: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(id.String() + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: write head: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: write head: %w", err)
	}
	if err := os.Rename(tmp.Name(), head); err != nil {
		return fmt.Errorf("snapshot: write head: %w", err)
	}
	return nil
}

// Saver writes a snapshot every Interval while Run is active, skipping
// intervals in which the state did not change.
type Saver struct {
	Store    *claimstore.Store
	CAS      storage.CAS
	Head     string
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger

	last cid.Cid
}

func (s *Saver) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// SaveNow writes a snapshot unless it would be identical to the last one
// this Saver wrote. It reports whether a new snapshot was recorded.
func (s *Saver) SaveNow() (bool, error) {
	id, err := Save(s.Store, s.CAS, s.Head)
	if err != nil {
		return false, err
	}
	changed := id != s.last
	s.last = id
	if changed {
		s.logger().Info("snapshot saved", "cid", id.String())
	}
	return changed, nil
}

// Run saves on every tick until ctx is done, then saves once more.
func (s *Saver) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		<-ctx.Done()
		_, err := s.SaveNow()
		return err
	}
	t := clock.OrReal(s.Clock).NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_, err := s.SaveNow()
			return err
		case <-t.C:
			if _, err := s.SaveNow(); err != nil {
				s.logger().Error("snapshot failed", "err", err)
			}
		}
	}
}
