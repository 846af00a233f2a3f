// Package canonical produces the deterministic byte encoding used as the
// pre-image for every hash and signature in the system. Two independent
// implementations (the JS SDK, the Python SDK, this one) must emit identical
// bytes for semantically identical input, so the rules are strict:
// object keys sorted lexicographically at every nesting level, no
// insignificant whitespace, minimal JSON string escapes with non-ASCII
// emitted literally as UTF-8, and no scientific notation for numbers.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// HashPrefix is prepended to every lowercase hex SHA-256 digest.
const HashPrefix = "sha256:"

// Marshal returns the canonical UTF-8 byte encoding of v.
// Supported values: nil, bool, string, json.Number, integer and float
// types, []any, map[string]any (and the respective typed variants that
// encoding/json produces). Any other type is an error.
func Marshal(v any) ([]byte, error) {
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Hash returns "sha256:" + lowercase hex SHA-256 of the canonical encoding.
func Hash(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}

// HashBytes returns "sha256:" + lowercase hex SHA-256 of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// Digest returns the raw SHA-256 digest of the canonical encoding of v.
// This is the message signed by agents and verified by the kernel.
func Digest(v any) ([32]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

func encode(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		encodeString(b, val)
	case json.Number:
		return encodeNumberLiteral(b, string(val))
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case float64:
		return encodeFloat(b, val)
	case float32:
		return encodeFloat(b, float64(val))
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encode(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, k)
			b.WriteByte(':')
			if err := encode(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

// encodeString writes a JSON string with the minimal escape set:
// backslash, double quote, and control characters below 0x20
// (with the conventional short forms). Everything else, including
// non-ASCII, is emitted literally as UTF-8.
func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else if r == utf8.RuneError {
				// Invalid UTF-8 input byte; emit the replacement
				// character so output stays valid UTF-8.
				b.WriteRune(r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// encodeFloat formats a float without scientific notation. Integral
// values are written as integers, matching how JSON-transported numbers
// round-trip through languages that do not keep an int/float distinction.
func encodeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical: non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// encodeNumberLiteral preserves the lexical form a number had on the wire,
// normalizing only forms canonical output forbids (exponents, leading '+').
func encodeNumberLiteral(b *strings.Builder, lit string) error {
	if lit == "" {
		return fmt.Errorf("canonical: empty number literal")
	}
	if !strings.ContainsAny(lit, "eE+") {
		b.WriteString(lit)
		return nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return fmt.Errorf("canonical: bad number literal %q: %w", lit, err)
	}
	return encodeFloat(b, f)
}
