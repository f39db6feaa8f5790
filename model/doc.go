// Package model defines stable boundary types and the error taxonomy shared
// by the claim store, its transports and its clients.
//
// These structs are the only types intended for direct JSON serialization by
// consumers. Claim ids and references are plain strings; their meaning is
// defined by the identity and claimstore packages.
package model
