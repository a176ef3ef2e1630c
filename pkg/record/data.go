package record

import (
	"encoding/json"
	"math"
	"reflect"
)

// Clone returns a deep copy of data. Nested maps and sequences are copied,
// scalars are shared. Cyclic structures are not supported.
func Clone(data Data) Data {
	if data == nil {
		return nil
	}
	out := make(Data, len(data))
	for k, v := range data {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single payload value
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case map[any]any:
		out := make(map[any]any, len(val))
		for k, e := range val {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// Equal reports whether a and b are structurally equal. Mappings compare by
// key count first, then key by key recursively. Numbers compare by value
// regardless of their Go type.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, found := bv[k]
			if !found || !Equal(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case string, bool:
		return a == b
	default:
		return reflect.DeepEqual(a, b)
	}
}

// RoundFloats rounds every float leaf in data to the given number of
// decimal places, in place.
func RoundFloats(data Data, places int) {
	scale := math.Pow(10, float64(places))
	for k, v := range data {
		data[k] = roundValue(v, scale)
	}
}

func roundValue(v any, scale float64) any {
	switch val := v.(type) {
	case float64:
		return math.Round(val*scale) / scale
	case float32:
		return float32(math.Round(float64(val)*scale) / scale)
	case map[string]any:
		for k, e := range val {
			val[k] = roundValue(e, scale)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = roundValue(e, scale)
		}
		return val
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
