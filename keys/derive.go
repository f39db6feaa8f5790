package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// roleSalt separates role derivation from every other use of a seed.
const roleSalt = "xdao-claimstore-keys-v1"

// DeriveRoleSeed derives the ed25519 seed of a role identity from a root
// seed with HKDF-SHA256. The same root and role always give the same
// seed, so backing up the root recovers every role.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	seed := make([]byte, ed25519.SeedSize)
	r := hkdf.New(sha256.New, rootSeed, []byte(roleSalt), []byte("role:"+role))
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive role %s: %w", role, err)
	}
	return seed, nil
}
