package protocol

// Decoded msgpack values arrive widened (int64, uint64, []interface{},
// map[interface{}]interface{}). These accessors accept both the widened
// and the native form so handlers do not care whether a message came off
// the wire or was built in-process.

// AsInt converts any integer representation to int.
func AsInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case ErrorCode:
		return int(n), true
	}
	return 0, false
}

// AsString returns v as a string.
func AsString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// AsBool returns v as a bool.
func AsBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// AsBytes returns v as a byte slice.
func AsBytes(v interface{}) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	}
	return nil, false
}

// AsStrings returns v as a string slice.
func AsStrings(v interface{}) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := AsString(item)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// AsInts returns v as an int slice.
func AsInts(v interface{}) ([]int, bool) {
	switch s := v.(type) {
	case []int:
		return s, true
	case []int32:
		out := make([]int, len(s))
		for i, n := range s {
			out[i] = int(n)
		}
		return out, true
	case []interface{}:
		out := make([]int, 0, len(s))
		for _, item := range s {
			n, ok := AsInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	}
	return nil, false
}

// AsBools returns v as a bool slice.
func AsBools(v interface{}) ([]bool, bool) {
	switch s := v.(type) {
	case []bool:
		return s, true
	case []interface{}:
		out := make([]bool, 0, len(s))
		for _, item := range s {
			b, ok := item.(bool)
			if !ok {
				return nil, false
			}
			out = append(out, b)
		}
		return out, true
	}
	return nil, false
}

// AsHashtable returns v as a Hashtable. Integer keys that fit a byte are
// narrowed back to byte so well-known property keys compare equal after a
// round trip.
func AsHashtable(v interface{}) (Hashtable, bool) {
	var src map[interface{}]interface{}
	switch m := v.(type) {
	case Hashtable:
		src = m
	case map[interface{}]interface{}:
		src = m
	case map[string]interface{}:
		out := make(Hashtable, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	default:
		return nil, false
	}

	out := make(Hashtable, len(src))
	for k, val := range src {
		out[normalizeKey(k)] = val
	}
	return out, true
}

func normalizeKey(k interface{}) interface{} {
	switch k.(type) {
	case string, byte:
		return k
	}
	if n, ok := AsInt(k); ok && n >= 0 && n <= 255 {
		return byte(n)
	}
	return k
}
