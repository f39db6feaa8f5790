package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/crypto/sha3"
)

// Marshal is the mandatory canonicalization choke point for anything that is
// signed or verified.
//
// The output is JSON in which object members are ordered by UTF-16 code
// unit comparison of their names, arrays keep their element order, strings
// are escaped exactly as ECMAScript JSON.stringify escapes them and numbers
// use the ECMAScript shortest round-trip form. Two structurally equal values
// always produce identical bytes no matter how they were built.
func Marshal(v any) ([]byte, error) {
	norm, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Digest returns sha256(Marshal(v)).
func Digest(v any) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

// DigestSHA3 returns sha3-256(Marshal(v)).
func DigestSHA3(v any) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha3.Sum256(b)
	return sum[:], nil
}

// Equal reports whether a and b canonicalize to the same bytes. Values that
// cannot be canonicalized are never equal.
func Equal(a, b any) bool {
	ab, err := Marshal(a)
	if err != nil {
		return false
	}
	bb, err := Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// ErrInvalidUTF8 is returned for strings and object names that are not
// valid UTF-8.
var ErrInvalidUTF8 = errors.New("canonical: invalid UTF-8 string")

// Normalize returns a deep copy of v built only from nil, bool, float64,
// string, []any and map[string]any. Values of any other type are passed
// through encoding/json first, so struct tags are honored.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return checkString(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("canonical: unsupported number %v", t)
		}
		return t, nil
	case float32:
		return Normalize(float64(t))
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("canonical: invalid number %q: %w", string(t), err)
		}
		return Normalize(f)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if _, err := checkString(k); err != nil {
				return nil, err
			}
			n, err := Normalize(child)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			n, err := Normalize(child)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			if _, err := checkString(s); err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			if _, err := checkString(k); err != nil {
				return nil, err
			}
			if _, err := checkString(s); err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	default:
		return viaJSON(v)
	}
}

func checkString(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w %q", ErrInvalidUTF8, s)
	}
	return s, nil
}

func viaJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	return Normalize(out)
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case float64:
		writeNumber(buf, t)
	case string:
		writeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, child := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, child); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.New("canonical: value was not normalized")
	}
	return nil
}

// writeNumber follows the ECMAScript Number::toString rules, which is also
// what encoding/json does for float64.
func writeNumber(buf *bytes.Buffer, f float64) {
	if f == 0 {
		buf.WriteByte('0')
		return
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs < 1e-6 || abs >= 1e21 {
		format = 'e'
	}
	b := strconv.AppendFloat(nil, f, format, -1, 64)
	if format == 'e' {
		// 1e-07 -> 1e-7
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	buf.Write(b)
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				if c < 0x20 {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[c>>4])
					buf.WriteByte(hexDigits[c&0xf])
				} else {
					buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		// Normalize has already rejected invalid UTF-8.
		_, size := utf8.DecodeRuneInString(s[i:])
		buf.WriteString(s[i : i+size])
		i += size
	}
	buf.WriteByte('"')
}

// lessUTF16 orders strings the way JavaScript's default sort does: by UTF-16
// code units, not by code points or UTF-8 bytes.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}
