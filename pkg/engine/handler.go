package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"sort"
	"time"

	"github.com/getmockd/mockctl/pkg/httputil"
)

// ServeHTTP answers from the configured requests, falling back upstream
// (or to a 404) when nothing matches.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxDocumentSize))
		if err != nil {
			s.observe(OutcomeError)
			httputil.WriteError(w, http.StatusBadRequest, "read_error", "could not read request body")
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if rt := s.match(r, body); rt != nil {
		s.respond(w, r, rt)
		s.observe(OutcomeMatched)
		return
	}

	if s.doc.FallbackBaseURL == "" {
		s.log.Debug("no match", "method", r.Method, "path", r.URL.Path)
		s.observe(OutcomeUnmatched)
		httputil.WriteError(w, http.StatusNotFound, "no_match", "no configured request matches "+r.Method+" "+r.URL.Path)
		return
	}

	s.forward(w, r, body)
}

// match returns the best-scoring route, ties broken by priority and then
// by document order.
func (s *Server) match(r *http.Request, body []byte) *route {
	type candidate struct {
		rt    *route
		score int
		index int
	}
	var found []candidate
	for i, rt := range s.routes {
		if res := rt.matcher.Score(r, body); res.Matched() {
			found = append(found, candidate{rt: rt, score: res.Score, index: i})
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].score != found[j].score {
			return found[i].score > found[j].score
		}
		return found[i].rt.spec.Priority > found[j].rt.spec.Priority
	})
	return found[0].rt
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, rt *route) {
	resp := rt.pick()

	if resp.Delay != "" {
		if d, err := time.ParseDuration(resp.Delay); err == nil && d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
	}

	payload, isJSON := encodeBody(resp.Body)
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if isJSON && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// pick selects the next response according to the route's order.
func (rt *route) pick() ResponseSpec {
	n := len(rt.spec.Responses)
	if n == 0 {
		return ResponseSpec{Status: http.StatusNoContent}
	}
	if rt.spec.ResponseOrder == OrderRandom {
		return rt.spec.Responses[rand.IntN(n)]
	}
	i := rt.next.Add(1) - 1
	return rt.spec.Responses[i%uint64(n)]
}

func encodeBody(body any) ([]byte, bool) {
	switch b := body.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(b), false
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, false
		}
		return data, true
	}
}

// ErrorResponse is the JSON body of engine-generated errors.
type ErrorResponse = httputil.ErrorResponse
