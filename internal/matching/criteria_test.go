package matching

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, c Criteria) *Matcher {
	t.Helper()
	m, err := Compile(c)
	require.NoError(t, err)
	return m
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		c    Criteria
	}{
		{"path and pattern", Criteria{Path: "/a", PathPattern: "^/a$"}},
		{"bad path pattern", Criteria{PathPattern: "[unclosed"}},
		{"bad body pattern", Criteria{BodyPattern: "(?P<"}},
		{"bad jsonpath", Criteria{BodyJSONPath: map[string]any{"$[invalid": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.c)
			assert.Error(t, err)
		})
	}
}

func TestMatcher_EmptyCriteriaMatchAnything(t *testing.T) {
	m := mustCompile(t, Criteria{})
	r := httptest.NewRequest(http.MethodDelete, "/whatever", nil)
	res := m.Score(r, nil)
	assert.True(t, res.Matched())
	assert.Equal(t, ScoreAny, res.Score)
}

func TestMatcher_Score(t *testing.T) {
	tests := []struct {
		name   string
		c      Criteria
		method string
		target string
		header map[string]string
		body   string
		want   int
	}{
		{
			name:   "method and exact path",
			c:      Criteria{Method: "get", Path: "/ping"},
			method: http.MethodGet, target: "/ping",
			want: ScoreMethod + ScorePathExact,
		},
		{
			name:   "method mismatch",
			c:      Criteria{Method: "POST", Path: "/ping"},
			method: http.MethodGet, target: "/ping",
			want: 0,
		},
		{
			name:   "headers and query",
			c:      Criteria{Path: "/search", Headers: map[string]string{"Accept": "application/*"}, Query: map[string]string{"q": "go", "page": "1"}},
			method: http.MethodGet, target: "/search?q=go&page=1",
			header: map[string]string{"Accept": "application/json"},
			want:   ScorePathExact + ScoreHeader + 2*ScoreQueryParam,
		},
		{
			name:   "missing query param",
			c:      Criteria{Query: map[string]string{"q": "go"}},
			method: http.MethodGet, target: "/search",
			want: 0,
		},
		{
			name:   "empty query value is still a value",
			c:      Criteria{Query: map[string]string{"q": ""}},
			method: http.MethodGet, target: "/search?q=",
			want: ScoreQueryParam,
		},
		{
			name:   "body criteria combine",
			c:      Criteria{BodyContains: "alice", BodyPattern: `"id":\s*\d+`},
			method: http.MethodPost, target: "/users",
			body: `{"id": 7, "name": "alice"}`,
			want: ScoreBodyContains + ScoreBodyPattern,
		},
		{
			name:   "body equals",
			c:      Criteria{BodyEquals: "exact"},
			method: http.MethodPost, target: "/",
			body: "exact",
			want: ScoreBodyEquals,
		},
		{
			name:   "body equals mismatch",
			c:      Criteria{BodyEquals: "exact"},
			method: http.MethodPost, target: "/",
			body: "exact!",
			want: 0,
		},
		{
			name:   "jsonpath",
			c:      Criteria{BodyJSONPath: map[string]any{"$.user.role": "admin", "$.user.id": 3}},
			method: http.MethodPost, target: "/",
			body: `{"user": {"id": 3, "role": "admin"}}`,
			want: 2 * ScoreJSONPathCondition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustCompile(t, tt.c)
			r := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, m.Score(r, []byte(tt.body)).Score)
		})
	}
}

func TestMatcher_PathPatternCaptures(t *testing.T) {
	m := mustCompile(t, Criteria{PathPattern: `^/api/(?P<resource>\w+)/(?P<id>\d+)$`})

	res := m.Score(httptest.NewRequest(http.MethodGet, "/api/orders/17", nil), nil)
	require.True(t, res.Matched())
	assert.Equal(t, ScorePathPattern, res.Score)
	assert.Equal(t, map[string]string{"resource": "orders", "id": "17"}, res.Captures)

	res = m.Score(httptest.NewRequest(http.MethodGet, "/api/orders/x", nil), nil)
	assert.False(t, res.Matched())
}

func TestMatcher_Criteria(t *testing.T) {
	c := Criteria{Method: "GET", Path: "/x"}
	assert.Equal(t, c, mustCompile(t, c).Criteria())
}
