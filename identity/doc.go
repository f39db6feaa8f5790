// Package identity signs and verifies values on behalf of claim-store
// identities.
//
// An identity is named by its reference string. The reference prefix
// selects the signature scheme:
//
//	ec:<base64 ed25519 public key>     self-describing
//	pq:<base64 dilithium3 public key>  self-describing
//	crt:<hex sha1 of PKCS#1 RSA key>   needs a registered certificate
//
// Every scheme signs the canonical digest of a value (see package
// canonical), never the value's raw encoding. Verification failures are
// reported as *model.Error with KindInvalidSignature; an unresolvable
// reference is KindUnknownIdentity.
package identity
