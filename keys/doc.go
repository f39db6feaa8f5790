// Package keys is the local key directory used by claimctl.
//
// Each named identity lives in its own subdirectory of the key directory:
//
//	<dir>/<name>/identity      reference and hex private key (ec: and pq:)
//	<dir>/<name>/cert.pem      certificate identities (crt:), together
//	<dir>/<name>/key.pem       with their PEM private key
//	<dir>/<name>/roles/<r>.key hex seed of an ed25519 key derived for role r
//
// It is a local convenience, not a key management service: files are
// plain text protected only by their permissions.
package keys
