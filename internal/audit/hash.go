package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// timeLayout renders timestamps at microsecond precision, matching the
// precision of Postgres timestamptz columns so a stored entry hashes to
// the same digest after a database round trip.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// CanonicalTime returns the canonical textual form of a timestamp used
// in hash payloads: UTC, ISO-8601, microsecond precision.
func CanonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(timeLayout)
}

// CanonicalJSON serializes a value deterministically: object keys sorted
// recursively, compact separators, numbers rendered in plain decimal
// form. Two logically identical values always produce byte-identical
// output regardless of map iteration order or number spelling.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return canonicalizeRaw(raw)
}

func canonicalizeRaw(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, decoded); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(normalizeNumber(val.String()))
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical json: unsupported type %T", v)
	}
	return nil
}

// normalizeNumber rewrites a JSON number to the plain decimal text that
// Postgres emits for jsonb numerics: exponent notation is expanded and
// negative zero loses its sign, while other spellings, trailing
// fractional zeros included, round-trip unchanged. Snapshots live in
// jsonb columns, so hashing any other spelling would make a stored
// entry recompute to a different digest after a database round trip.
func normalizeNumber(s string) string {
	expIdx := strings.IndexAny(s, "eE")
	if expIdx == -1 {
		if strings.HasPrefix(s, "-") && strings.Trim(s[1:], "0.") == "" {
			return s[1:]
		}
		return s
	}

	mantissa, expPart := s[:expIdx], s[expIdx+1:]
	exp, err := strconv.Atoi(expPart)
	if err != nil || exp > 131072 || exp < -16383 {
		// Outside the numeric range Postgres accepts; the insert will
		// fail before the spelling matters.
		return s
	}
	neg := strings.HasPrefix(mantissa, "-")
	mantissa = strings.TrimPrefix(mantissa, "-")
	intPart, fracPart, _ := strings.Cut(mantissa, ".")
	digits := intPart + fracPart
	point := len(intPart) + exp

	var out string
	switch {
	case point <= 0:
		out = "0." + strings.Repeat("0", -point) + digits
	case point >= len(digits):
		out = digits + strings.Repeat("0", point-len(digits))
	default:
		out = digits[:point] + "." + digits[point:]
	}

	intStr, fracStr, hasFrac := strings.Cut(out, ".")
	intStr = strings.TrimLeft(intStr, "0")
	if intStr == "" {
		intStr = "0"
	}
	if hasFrac {
		out = intStr + "." + fracStr
	} else {
		out = intStr
	}
	if neg && strings.Trim(digits, "0") != "" {
		out = "-" + out
	}
	return out
}

// Digest computes the SHA-256 digest of the canonical serialization of
// payload, returned as a lowercase hex string.
func Digest(payload map[string]any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// chainDigest computes an entry's current_hash from its own fields plus
// the hash of the immediately preceding entry in the chain. An empty
// prevHash marks the start of a chain and hashes as null, as do absent
// actor, before, and after fields.
func chainDigest(e *Entry, prevHash string) (string, error) {
	payload := map[string]any{
		"actor_id":    nullableString(e.ActorID),
		"action":      e.Action,
		"module":      e.Module,
		"object_type": e.ObjectType,
		"object_id":   e.ObjectID,
		"before_data": rawOrNil(e.BeforeData),
		"after_data":  rawOrNil(e.AfterData),
		"created_at":  CanonicalTime(e.CreatedAt),
		"prev_hash":   nullableString(prevHash),
	}
	return Digest(payload)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
