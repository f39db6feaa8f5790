package keys

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"xdao.co/claimstore/identity"
)

const (
	identityFile = "identity"
	certFile     = "cert.pem"
	keyFile      = "key.pem"
	rolesDir     = "roles"
)

// ErrNotFound is returned by Load for names with no stored identity.
var ErrNotFound = errors.New("keys: no such identity")

// Store is a directory of named identities.
type Store struct {
	Dir string
}

// Entry describes one stored identity for listings.
type Entry struct {
	Name      string
	Reference string
	Roles     []string
}

// DefaultDir is ~/.xdao/claimstore/keys.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".xdao", "claimstore", "keys"), nil
}

// Open returns the store at dir, or at DefaultDir when dir is empty. The
// directory is created on first write.
func Open(dir string) (*Store, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	return &Store{Dir: dir}, nil
}

func checkToken(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", c, kind)
	}
	return nil
}

func CheckName(name string) error { return checkToken("name", name) }

func CheckRole(role string) error { return checkToken("role", role) }

// ParseSeedHex decodes a 32-byte ed25519 seed, tolerating a 0x prefix
// and surrounding whitespace.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimPrefix(strings.TrimSpace(seedHex), "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func (s *Store) path(name string, parts ...string) string {
	return filepath.Join(append([]string{s.Dir, name}, parts...)...)
}

func writeFile(path string, data []byte, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) exists(name string) bool {
	for _, f := range []string{identityFile, certFile} {
		if _, err := os.Stat(s.path(name, f)); err == nil {
			return true
		}
	}
	return false
}

func (s *Store) claimName(name string, overwrite bool) error {
	if err := CheckName(name); err != nil {
		return err
	}
	if !overwrite && s.exists(name) {
		return fmt.Errorf("keys: identity %q already exists", name)
	}
	if overwrite {
		_ = os.Remove(s.path(name, identityFile))
		_ = os.Remove(s.path(name, certFile))
		_ = os.Remove(s.path(name, keyFile))
	}
	return nil
}

func (s *Store) saveIdentity(name, ref string, private []byte, overwrite bool) error {
	if err := s.claimName(name, overwrite); err != nil {
		return err
	}
	body := ref + "\n" + hex.EncodeToString(private) + "\n"
	return writeFile(s.path(name, identityFile), []byte(body), overwrite)
}

// Create mints a new identity of the given scheme under name.
// Certificate identities cannot be minted; use ImportCertificate.
func (s *Store) Create(name string, scheme identity.Scheme, overwrite bool) (identity.Identity, error) {
	switch scheme {
	case identity.SchemeEd25519:
		id, err := identity.GenerateEd25519()
		if err != nil {
			return nil, err
		}
		return id, s.saveIdentity(name, id.Reference(), id.Seed(), overwrite)
	case identity.SchemeDilithium:
		id, err := identity.GenerateDilithium(nil)
		if err != nil {
			return nil, err
		}
		return id, s.saveIdentity(name, id.Reference(), id.PrivateKeyBytes(), overwrite)
	default:
		return nil, fmt.Errorf("keys: cannot create %s identities", scheme)
	}
}

// ImportSeed stores the ed25519 identity for seed under name.
func (s *Store) ImportSeed(name string, seed []byte, overwrite bool) (*identity.Ed25519Identity, error) {
	id, err := identity.Ed25519FromSeed(seed)
	if err != nil {
		return nil, err
	}
	return id, s.saveIdentity(name, id.Reference(), seed, overwrite)
}

// ImportCertificate stores a certificate identity under name after
// checking that the key belongs to the certificate.
func (s *Store) ImportCertificate(name string, certPEM, keyPEM []byte, overwrite bool) (*identity.CertificateIdentity, error) {
	id, err := identity.ParseCertificate(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	if err := s.claimName(name, overwrite); err != nil {
		return nil, err
	}
	if err := writeFile(s.path(name, keyFile), keyPEM, overwrite); err != nil {
		return nil, err
	}
	if err := writeFile(s.path(name, certFile), id.CertificatePEM(), overwrite); err != nil {
		return nil, err
	}
	return id, nil
}

// DeriveRole derives and stores the ed25519 role identity of an ed25519
// root identity.
func (s *Store) DeriveRole(name, role string, overwrite bool) (*identity.Ed25519Identity, error) {
	root, err := s.Load(name, "")
	if err != nil {
		return nil, err
	}
	ec, ok := root.(*identity.Ed25519Identity)
	if !ok {
		return nil, fmt.Errorf("keys: roles can only be derived from ed25519 identities")
	}
	seed, err := DeriveRoleSeed(ec.Seed(), role)
	if err != nil {
		return nil, err
	}
	id, err := identity.Ed25519FromSeed(seed)
	if err != nil {
		return nil, err
	}
	path := s.path(name, rolesDir, role+".key")
	if err := writeFile(path, []byte(hex.EncodeToString(seed)+"\n"), overwrite); err != nil {
		return nil, err
	}
	return id, nil
}

// Load returns the signing identity stored under name, or its role
// identity when role is set.
func (s *Store) Load(name, role string) (identity.Identity, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	if role != "" {
		if err := CheckRole(role); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(s.path(name, rolesDir, role+".key"))
		if err != nil {
			return nil, notFound(name+"/"+role, err)
		}
		seed, err := ParseSeedHex(string(b))
		if err != nil {
			return nil, err
		}
		return identity.Ed25519FromSeed(seed)
	}

	if b, err := os.ReadFile(s.path(name, identityFile)); err == nil {
		return parseIdentityFile(b)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	certPEM, err := os.ReadFile(s.path(name, certFile))
	if err != nil {
		return nil, notFound(name, err)
	}
	keyPEM, err := os.ReadFile(s.path(name, keyFile))
	if err != nil {
		return nil, err
	}
	return identity.ParseCertificate(certPEM, keyPEM)
}

func notFound(what string, err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

func parseIdentityFile(b []byte) (identity.Identity, error) {
	lines := strings.Fields(string(b))
	if len(lines) != 2 {
		return nil, errors.New("keys: malformed identity file")
	}
	private, err := hex.DecodeString(lines[1])
	if err != nil {
		return nil, fmt.Errorf("keys: malformed private key: %w", err)
	}
	return identity.NewFactory(nil).FromReference(context.Background(), lines[0], private)
}

// List returns every stored identity sorted by name. Entries that fail to
// load are listed without a reference.
func (s *Store) List() ([]Entry, error) {
	dirs, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() || CheckName(d.Name()) != nil {
			continue
		}
		e := Entry{Name: d.Name()}
		if id, err := s.Load(d.Name(), ""); err == nil {
			e.Reference = id.Reference()
		}
		roles, _ := os.ReadDir(s.path(d.Name(), rolesDir))
		for _, r := range roles {
			if name, ok := strings.CutSuffix(r.Name(), ".key"); ok && !r.IsDir() {
				e.Roles = append(e.Roles, name)
			}
		}
		sort.Strings(e.Roles)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
