// Package canonical serializes structured values into a byte form that is
// independent of attribute insertion order, and hashes it.
//
// The digest of the canonical bytes, never the raw value, is what identities
// sign and verify. Signature validity therefore depends only on the logical
// content of a value. The serialization is byte-compatible with the
// json-stable-stringify output used by existing clients of the protocol.
package canonical
