package matching

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Criteria describes which requests a mock answers.
type Criteria struct {
	Method       string            `json:"method,omitempty" yaml:"method,omitempty"`
	Path         string            `json:"path,omitempty" yaml:"path,omitempty"`
	PathPattern  string            `json:"pathPattern,omitempty" yaml:"pathPattern,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query        map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
	BodyEquals   string            `json:"bodyEquals,omitempty" yaml:"bodyEquals,omitempty"`
	BodyContains string            `json:"bodyContains,omitempty" yaml:"bodyContains,omitempty"`
	BodyPattern  string            `json:"bodyPattern,omitempty" yaml:"bodyPattern,omitempty"`
	BodyJSONPath map[string]any    `json:"bodyJsonPath,omitempty" yaml:"bodyJsonPath,omitempty"`
}

// Result is the outcome of scoring one request.
type Result struct {
	Score int
	// Captures holds named groups from PathPattern.
	Captures map[string]string
	// JSONPath holds the values extracted by BodyJSONPath, keyed by the
	// sanitized expression ("$.user.name" becomes "user_name").
	JSONPath map[string]any
}

// Matched reports whether the request matched at all.
func (r Result) Matched() bool { return r.Score > 0 }

// Matcher is compiled Criteria.
type Matcher struct {
	c           Criteria
	pathPattern *regexp.Regexp
	bodyPattern *regexp.Regexp
	jsonPaths   []jsonPathCondition
}

// Compile validates c and prepares it for matching.
func Compile(c Criteria) (*Matcher, error) {
	if c.Path != "" && c.PathPattern != "" {
		return nil, errors.New("path and pathPattern are mutually exclusive")
	}

	m := &Matcher{c: c}
	var err error
	if c.PathPattern != "" {
		if m.pathPattern, err = regexp.Compile(c.PathPattern); err != nil {
			return nil, fmt.Errorf("invalid pathPattern: %w", err)
		}
	}
	if c.BodyPattern != "" {
		if m.bodyPattern, err = regexp.Compile(c.BodyPattern); err != nil {
			return nil, fmt.Errorf("invalid bodyPattern: %w", err)
		}
	}
	if m.jsonPaths, err = compileJSONPaths(c.BodyJSONPath); err != nil {
		return nil, err
	}
	return m, nil
}

// Criteria returns the source criteria.
func (m *Matcher) Criteria() Criteria { return m.c }

// Score scores r (whose body has already been read into body). A zero
// score means no match.
func (m *Matcher) Score(r *http.Request, body []byte) Result {
	var res Result
	c := m.c

	if c.Method != "" {
		if !strings.EqualFold(c.Method, r.Method) {
			return Result{}
		}
		res.Score += ScoreMethod
	}

	if c.Path != "" {
		s := MatchPath(c.Path, r.URL.Path)
		if s == 0 {
			return Result{}
		}
		res.Score += s
	}

	if m.pathPattern != nil {
		match := m.pathPattern.FindStringSubmatch(r.URL.Path)
		if match == nil {
			return Result{}
		}
		res.Score += ScorePathPattern
		res.Captures = make(map[string]string)
		for i, name := range m.pathPattern.SubexpNames() {
			if i > 0 && name != "" {
				res.Captures[name] = match[i]
			}
		}
	}

	for name, pattern := range c.Headers {
		if !MatchHeader(pattern, r.Header.Get(name)) {
			return Result{}
		}
		res.Score += ScoreHeader
	}

	if len(c.Query) > 0 {
		q := r.URL.Query()
		for name, want := range c.Query {
			if got, ok := q[name]; !ok || len(got) == 0 || got[0] != want {
				return Result{}
			}
			res.Score += ScoreQueryParam
		}
	}

	if c.BodyEquals != "" {
		if string(body) != c.BodyEquals {
			return Result{}
		}
		res.Score += ScoreBodyEquals
	}

	if c.BodyContains != "" {
		if !strings.Contains(string(body), c.BodyContains) {
			return Result{}
		}
		res.Score += ScoreBodyContains
	}

	if m.bodyPattern != nil {
		if !m.bodyPattern.Match(body) {
			return Result{}
		}
		res.Score += ScoreBodyPattern
	}

	if len(m.jsonPaths) > 0 {
		score, values := matchJSONPaths(m.jsonPaths, body)
		if score == 0 {
			return Result{}
		}
		res.Score += score
		res.JSONPath = values
	}

	if res.Score == 0 {
		res.Score = ScoreAny
	}
	return res
}

// MatchHeader reports whether a header value satisfies pattern. A leading
// or trailing '*' turns the pattern into a suffix, prefix or substring
// test. An absent header never matches.
func MatchHeader(pattern, value string) bool {
	if value == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return value == pattern
	}

	lead := strings.HasPrefix(pattern, "*")
	trail := strings.HasSuffix(pattern, "*")
	core := strings.Trim(pattern, "*")
	switch {
	case lead && trail:
		return strings.Contains(value, core)
	case trail:
		return strings.HasPrefix(value, core)
	case lead:
		return strings.HasSuffix(value, core)
	}
	return false
}
