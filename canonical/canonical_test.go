package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysAtEveryLevel(t *testing.T) {
	a := map[string]any{
		"need":  "beer",
		"wants": []any{"one", "two"},
		"meta":  map[string]any{"z": 1, "a": true, "m": nil},
	}
	b := map[string]any{
		"meta":  map[string]any{"m": nil, "a": true, "z": 1},
		"wants": []any{"one", "two"},
		"need":  "beer",
	}

	ab, err := Marshal(a)
	require.NoError(t, err)
	bb, err := Marshal(b)
	require.NoError(t, err)

	assert.Equal(t, `{"meta":{"a":true,"m":null,"z":1},"need":"beer","wants":["one","two"]}`, string(ab))
	assert.Equal(t, ab, bb)
}

func TestMarshal_ArraysKeepOrder(t *testing.T) {
	b, err := Marshal([]any{3, "b", "a", 1.5})
	require.NoError(t, err)
	assert.Equal(t, `[3,"b","a",1.5]`, string(b))
}

func TestMarshal_StringEscapingMatchesJSONStringify(t *testing.T) {
	cases := map[string]string{
		"plain":            `"plain"`,
		`quote"back\slash`: `"quote\"back\\slash"`,
		"tab\tnl\ncr\r":    `"tab\tnl\ncr\r"`,
		"\b\f":             `"\b\f"`,
		"\x01\x1f":         `"\u0001\u001f"`,
		"<a&b>":            `"<a&b>"`,
		"base64+/=":        `"base64+/="`,
		"\u2028":           "\"\u2028\"",
		"héllo":            `"héllo"`,
	}
	for in, want := range cases {
		got, err := Marshal(in)
		require.NoError(t, err)
		assert.Equal(t, want, string(got), "input %q", in)
	}
}

func TestMarshal_Numbers(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{0, "0"},
		{-0.0, "0"},
		{1, "1"},
		{int64(-42), "-42"},
		{1.5, "1.5"},
		{1e21, "1e+21"},
		{1e20, "100000000000000000000"},
		{1e-7, "1e-7"},
		{0.000001, "0.000001"},
		{float32(0.5), "0.5"},
	}
	for _, tc := range cases {
		got, err := Marshal(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(got), "input %v", tc.in)
	}
}

func TestMarshal_UTF16KeyOrder(t *testing.T) {
	// By code point U+FF01 sorts first; by UTF-16 code unit the emoji's
	// leading surrogate 0xD83D is smaller than 0xFF01.
	v := map[string]any{"！": 1, "\U0001F600": 2}
	got, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"！\":1}", string(got))
}

func TestMarshal_StructsGoThroughJSONTags(t *testing.T) {
	type grant struct {
		DID   string `json:"did"`
		Scope string `json:"scope,omitempty"`
	}
	got, err := Marshal(map[string]any{"DISCIPL_ALLOW": grant{DID: "did:x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"DISCIPL_ALLOW":{"did":"did:x"}}`, string(got))
}

func TestMarshal_RejectsNaN(t *testing.T) {
	nan := 0.0
	nan = nan / nan
	_, err := Marshal(map[string]any{"x": nan})
	require.Error(t, err)
}

func TestDigest_IsSHA256OfCanonicalBytes(t *testing.T) {
	v := map[string]any{"need": "wine"}
	got, err := Digest(v)
	require.NoError(t, err)
	want := sha256.Sum256([]byte(`{"need":"wine"}`))
	assert.Equal(t, hex.EncodeToString(want[:]), hex.EncodeToString(got))

	sha3, err := DigestSHA3(v)
	require.NoError(t, err)
	assert.Len(t, sha3, 32)
	assert.NotEqual(t, got, sha3)
}

func TestNormalize_DeepCopies(t *testing.T) {
	orig := map[string]any{"wants": []any{"one", "two"}}
	cp, err := Normalize(orig)
	require.NoError(t, err)

	orig["wants"].([]any)[0] = "changed"
	orig["extra"] = true

	assert.Equal(t, map[string]any{"wants": []any{"one", "two"}}, cp)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2.0, "a": 1}))
	assert.False(t, Equal("1", 1))
	assert.False(t, Equal([]any{1, 2}, []any{2, 1}))
}

func TestNormalize_RejectsInvalidUTF8(t *testing.T) {
	for name, v := range map[string]any{
		"value":        map[string]any{"need": "\xff"},
		"key":          map[string]any{"ne\xfeed": "beer"},
		"nested":       []any{"ok", []any{"\xc3"}},
		"string slice": []string{"\xfe"},
		"string map":   map[string]string{"need": "\xff"},
	} {
		_, err := Normalize(v)
		assert.ErrorIs(t, err, ErrInvalidUTF8, name)
	}

	// Distinct invalid bytes must never share a digest.
	_, err := Digest(map[string]any{"need": "\xff"})
	require.ErrorIs(t, err, ErrInvalidUTF8)
	_, err = Digest(map[string]any{"need": "\xfe"})
	require.ErrorIs(t, err, ErrInvalidUTF8)
}
