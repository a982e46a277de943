// Package llmjson decodes JSON embedded in free-form model output.
//
// Models wrap JSON in markdown fences, prepend prose, or get cut off by the
// token limit. Every caller goes through the helpers here and supplies its
// own fallback when nothing well-formed is found.
package llmjson

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	fencePattern    = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")
	intArrayPattern = regexp.MustCompile(`\[\s*-?\d+(?:\s*,\s*-?\d+)*`)
	intPattern      = regexp.MustCompile(`-?\d+`)
)

// StripCodeFences returns the body of the first fenced block, or the trimmed input.
// An unterminated opening fence is dropped.
func StripCodeFences(raw string) string {
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
			return strings.TrimSpace(trimmed[idx+1:])
		}
		return ""
	}
	return trimmed
}

// ExtractObject returns the first well-formed JSON object in raw.
func ExtractObject(raw string) (string, bool) {
	return extract(raw, '{', '}')
}

// ExtractArray returns the first well-formed JSON array in raw.
func ExtractArray(raw string) (string, bool) {
	return extract(raw, '[', ']')
}

// Object parses the first well-formed object in raw.
func Object(raw string) (gjson.Result, bool) {
	s, ok := ExtractObject(raw)
	if !ok {
		return gjson.Result{}, false
	}
	return gjson.Parse(s), true
}

// OuterObject parses the object opened by the first '{' in raw. Unlike
// Object it never falls back to a nested object, so a reply cut off after a
// complete inner value is rejected.
func OuterObject(raw string) (gjson.Result, bool) {
	src := StripCodeFences(raw)
	start := strings.IndexByte(src, '{')
	if start < 0 {
		return gjson.Result{}, false
	}
	end := matchClose(src, start, '{', '}')
	if end < 0 || !gjson.Valid(src[start:end+1]) {
		return gjson.Result{}, false
	}
	return gjson.Parse(src[start : end+1]), true
}

// StringArray reads the first well-formed array in raw as non-empty strings.
func StringArray(raw string, limit int) ([]string, bool) {
	s, ok := ExtractArray(raw)
	if !ok {
		return nil, false
	}
	return Strings(gjson.Parse(s), limit), true
}

// IntArray reads the first array of integers in raw. Truncated arrays such as
// "[3, 1, 4" are accepted since they still carry a usable prefix.
func IntArray(raw string) ([]int, bool) {
	if s, ok := ExtractArray(raw); ok {
		out := make([]int, 0)
		for _, item := range gjson.Parse(s).Array() {
			if n, ok := asInt(item); ok {
				out = append(out, n)
			}
		}
		return out, true
	}

	m := intArrayPattern.FindString(StripCodeFences(raw))
	if m == "" {
		return nil, false
	}
	out := make([]int, 0)
	for _, digits := range intPattern.FindAllString(m, -1) {
		n, err := strconv.Atoi(digits)
		if err == nil {
			out = append(out, n)
		}
	}
	return out, true
}

// Strings converts an array (or a lone string) to trimmed, non-empty, unique values.
func Strings(r gjson.Result, limit int) []string {
	if !r.Exists() {
		return nil
	}
	var items []gjson.Result
	switch {
	case r.IsArray():
		items = r.Array()
	case r.Type == gjson.String:
		items = []gjson.Result{r}
	default:
		return nil
	}

	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.Type != gjson.String && item.Type != gjson.Number {
			continue
		}
		v := strings.TrimSpace(item.String())
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Int reads a numeric field, accepting numbers encoded as strings.
func Int(r gjson.Result, path string, fallback int) int {
	if n, ok := asInt(r.Get(path)); ok {
		return n
	}
	return fallback
}

// String reads a trimmed string field.
func String(r gjson.Result, path string) string {
	v := r.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func asInt(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Int()), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.String()), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

func extract(raw string, open, close byte) (string, bool) {
	sources := []string{StripCodeFences(raw)}
	if trimmed := strings.TrimSpace(raw); trimmed != sources[0] {
		sources = append(sources, trimmed)
	}
	for _, src := range sources {
		for i := 0; i < len(src); i++ {
			if src[i] != open {
				continue
			}
			end := matchClose(src, i, open, close)
			if end < 0 {
				continue
			}
			candidate := src[i : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// matchClose finds the bracket closing src[start], skipping string literals.
func matchClose(src string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(src); i++ {
		c := src[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
