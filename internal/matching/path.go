package matching

import "strings"

// MatchPath scores path against a pattern. Supported forms, most specific
// first:
//
//	/api/users       exact
//	/api/users/{id}  named segments
//	/api/users/*     trailing wildcard, also matches /api/users
//	/api/*/items     '*' matches any run of characters
func MatchPath(pattern, path string) int {
	if pattern == path {
		return ScorePathExact
	}

	if strings.Contains(pattern, "{") && strings.Contains(pattern, "}") && matchNamedSegments(pattern, path) {
		return ScorePathNamedParams
	}

	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return ScorePathWildcard
		}
	}

	if strings.Contains(pattern, "*") && matchWildcard(pattern, path) {
		return ScorePathWildcard
	}

	return 0
}

func matchNamedSegments(pattern, path string) bool {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}

func matchWildcard(pattern, path string) bool {
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	last := parts[len(parts)-1]
	return last == "" || strings.HasSuffix(path, last)
}
