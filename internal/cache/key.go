package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// KeyPrefix namespaces every cache key. Bump the version when the canonical
// form changes.
const KeyPrefix = "aiworker:cache:v1:"

// Key derives the cache key for a job type and input. Inputs that differ only
// in map ordering, number type (1800 vs 1800.0 vs "1800"), "true" vs true or
// null fields produce the same key. Strings are otherwise compared verbatim.
func Key(jobType string, input map[string]any) (string, error) {
	canon, err := Canonical(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(jobType+"\x00"), canon...))
	return KeyPrefix + jobType + ":" + hex.EncodeToString(sum[:]), nil
}

// Canonical returns the normalized JSON encoding of input used for hashing.
func Canonical(input map[string]any) ([]byte, error) {
	v, err := normalize(input)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = map[string]any{}
	}
	// encoding/json writes map keys sorted.
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode canonical input: %w", err)
	}
	return b, nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			if n == nil {
				continue
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case string:
		return normalizeString(t), nil
	case bool:
		return "b:" + strconv.FormatBool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return integer(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return "s:" + t.String(), nil
		}
		return number(f), nil
	case float64:
		return number(t), nil
	case float32:
		return number(float64(t)), nil
	case int, int8, int16, int32, int64:
		return integer(reflect.ValueOf(t).Int()), nil
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(t).Uint()
		if u > math.MaxInt64 {
			return "n:" + strconv.FormatUint(u, 10), nil
		}
		return integer(int64(u)), nil
	}

	// Structs, typed slices and maps: round-trip through JSON.
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported value %T: %w", v, err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("unsupported value %T: %w", v, err)
	}
	return normalize(generic)
}

// normalizeString folds a string into a number or boolean only when it is
// exactly that value's canonical spelling. Anything else, including "007",
// "1.50", " 42" and "True", stays a distinct string.
func normalizeString(s string) string {
	switch s {
	case "true", "false":
		return "b:" + s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n := integer(i); n == "n:"+s {
			return n
		}
		return "s:" + s
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if n := number(f); n == "n:"+s {
			return n
		}
	}
	return "s:" + s
}

// maxExactInt is the largest integer a float64 holds exactly (2^53).
const maxExactInt = 1 << 53

// integer keeps integers beyond float64 precision exact so neighbouring
// values never share a key.
func integer(i int64) string {
	if i > -maxExactInt && i < maxExactInt {
		return number(float64(i))
	}
	return "n:" + strconv.FormatInt(i, 10)
}

func number(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "s:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == 0 {
		f = 0 // -0 and 0 hash the same
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
}
