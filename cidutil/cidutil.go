package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/claimstore/canonical"
)

// RawSHA256 returns the CIDv1 ("raw" multicodec, sha2-256 multihash) of
// data. Snapshot blobs are addressed this way.
func RawSHA256(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ClaimData returns the CIDv1 ("dag-json" multicodec, sha2-256) of the
// canonical serialization of v. Two structurally equal payloads always
// share a content id, which makes it usable as a dedup or log key.
func ClaimData(v any) (cid.Cid, error) {
	b, err := canonical.Marshal(v)
	if err != nil {
		return cid.Undef, err
	}
	sum, err := multihash.Sum(b, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagJSON, sum), nil
}

// String is ClaimData rendered as its default string form, or "" if v
// cannot be canonicalized.
func String(v any) string {
	id, err := ClaimData(v)
	if err != nil {
		return ""
	}
	return id.String()
}
