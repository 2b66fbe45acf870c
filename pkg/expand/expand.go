// Package expand substitutes ":name.path" placeholders in JSON-like values.
//
// A placeholder starts with a colon followed by a letter or underscore and
// names a dotted path into a results mapping, e.g. ":r1.url" or
// ":r1.labels.0.name". A doubled colon "::" stands for one literal colon.
// A colon followed by anything else is left alone, so URLs and times pass
// through unchanged.
//
// A string that is exactly one placeholder is replaced by the referenced
// value itself, keeping its JSON type. Placeholders embedded in longer
// strings are formatted as text.
package expand

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Expand returns a copy of value with placeholders in every string, at any
// nesting depth, resolved against results. Neither argument is modified.
func Expand(value any, results map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return String(v, results)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, member := range v {
			expanded, err := Expand(member, results)
			if err != nil {
				return nil, err
			}
			out[key] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, member := range v {
			expanded, err := Expand(member, results)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return value, nil
	}
}

// String expands the placeholders of a single string.
func String(s string, results map[string]any) (any, error) {
	if path, ok := wholePlaceholder(s); ok {
		return Lookup(results, path)
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c != ':' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == ':' {
			b.WriteByte(':')
			i += 2
			continue
		}
		n := pathLen(s[i+1:])
		if n == 0 {
			b.WriteByte(':')
			i++
			continue
		}
		resolved, err := Lookup(results, s[i+1:i+1+n])
		if err != nil {
			return nil, err
		}
		text, err := format(resolved)
		if err != nil {
			return nil, err
		}
		b.WriteString(text)
		i += 1 + n
	}
	return b.String(), nil
}

// Lookup resolves a dotted path in results. Numeric segments index arrays.
func Lookup(results map[string]any, path string) (any, error) {
	var current any = results
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, fmt.Errorf("expand: %q: no member %q", path, segment)
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, fmt.Errorf("expand: %q: no element %q", path, segment)
			}
			current = node[index]
		default:
			return nil, fmt.Errorf("expand: %q: cannot descend into %T at %q", path, current, segment)
		}
	}
	return current, nil
}

func wholePlaceholder(s string) (string, bool) {
	if len(s) < 2 || s[0] != ':' || s[1] == ':' {
		return "", false
	}
	n := pathLen(s[1:])
	if n == 0 || n != len(s)-1 {
		return "", false
	}
	return s[1:], true
}

// pathLen returns the length of the placeholder path at the start of s, or
// zero when s does not start with one. A dot only continues the path when a
// path character follows it.
func pathLen(s string) int {
	if s == "" || !isStart(s[0]) {
		return 0
	}
	n := 1
	for n < len(s) {
		switch {
		case isPathChar(s[n]):
			n++
		case s[n] == '.' && n+1 < len(s) && isPathChar(s[n+1]):
			n += 2
		default:
			return n
		}
	}
	return n
}

func isStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isPathChar(c byte) bool {
	return isStart(c) || (c >= '0' && c <= '9') || c == '-'
}

func format(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("expand: format %T: %w", v, err)
		}
		return string(data), nil
	}
}
