package snapshot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"xdao.co/claimstore/claimstore"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): equal states
// always encode to identical bytes and therefore to the same CID.
var encMode cbor.EncMode

// decMode ignores unknown fields so older daemons can read snapshots
// that grew new optional fields.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes st.
func Encode(st *claimstore.State) ([]byte, error) {
	b, err := encMode.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return b, nil
}

// Decode parses a snapshot produced by Encode. It rejects snapshots from
// a newer, incompatible state version.
func Decode(b []byte) (*claimstore.State, error) {
	var st claimstore.State
	if err := decMode.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if st.Version != claimstore.StateVersion {
		return nil, fmt.Errorf("snapshot: unsupported state version %d", st.Version)
	}
	return &st, nil
}
