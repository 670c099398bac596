package prompt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a reference path: a field name or an index.
type segment struct {
	field string
	index int
	isIdx bool
}

// parsePath splits "name[0].field" into its segments.
// It returns false when s is not a plain reference.
func parsePath(s string) ([]segment, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !isIdentStart(s[0]) {
		return nil, false
	}

	var segs []segment
	i := 0
	for i < len(s) {
		switch {
		case i == 0 || s[i] == '.':
			if s[i] == '.' {
				i++
			}
			start := i
			if i >= len(s) || !isIdentStart(s[i]) {
				return nil, false
			}
			for i < len(s) && isIdentPart(s[i]) {
				i++
			}
			segs = append(segs, segment{field: s[start:i]})
		case s[i] == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, false
			}
			n, err := strconv.Atoi(strings.TrimSpace(s[i+1 : i+end]))
			if err != nil || n < 0 {
				return nil, false
			}
			segs = append(segs, segment{index: n, isIdx: true})
			i += end + 1
		default:
			return nil, false
		}
	}
	return segs, true
}

// lookup walks a path through the scope. Strings met mid-path are decoded as
// JSON so references can reach into structured model output.
func lookup(scope map[string]any, segs []segment) (any, bool) {
	if len(segs) == 0 {
		return nil, false
	}
	cur, ok := scope[segs[0].field]
	if !ok {
		return nil, false
	}
	for _, seg := range segs[1:] {
		if s, isStr := cur.(string); isStr {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				return nil, false
			}
			cur = decoded
		}

		if seg.isIdx {
			list, isList := cur.([]any)
			if !isList || seg.index >= len(list) {
				return nil, false
			}
			cur = list[seg.index]
			continue
		}

		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		if cur, ok = m[seg.field]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// toNumber coerces a bound value to float64 for arithmetic.
func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	case bool:
		return 0, fmt.Errorf("boolean is not a number")
	}
	return 0, fmt.Errorf("%T is not a number", v)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
