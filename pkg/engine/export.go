package engine

import (
	"encoding/json"
	"net/url"

	"github.com/getmockd/mockctl/internal/matching"
	"github.com/getmockd/mockctl/pkg/recording"
)

// skipResponseHeaders are regenerated by the server on replay.
var skipResponseHeaders = map[string]bool{
	"Date":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Server":            true,
	"Age":               true,
	"Expires":           true,
	"Last-Modified":     true,
	"Etag":              true,
}

// ExportOptions controls FromRecordings.
type ExportOptions struct {
	// FallbackBaseURL is carried into the exported document.
	FallbackBaseURL string
	// Deduplicate keeps only the first recording per method, path and query.
	Deduplicate bool
	// MatchQuery adds the recorded query parameters to the criteria.
	MatchQuery bool
}

// FromRecordings turns recorded exchanges into a document that replays
// them, so a recording session can be fed back as a configuration.
func FromRecordings(recs []*recording.Recording, opts ExportOptions) *Document {
	doc := &Document{FallbackBaseURL: opts.FallbackBaseURL, Requests: []RequestSpec{}}
	seen := make(map[string]bool)

	for _, rec := range recs {
		key := rec.Request.Method + " " + rec.Request.Path
		if opts.MatchQuery {
			key += "?" + rec.Request.Query
		}
		if opts.Deduplicate && seen[key] {
			continue
		}
		seen[key] = true

		crit := matching.Criteria{Method: rec.Request.Method, Path: rec.Request.Path}
		if opts.MatchQuery && rec.Request.Query != "" {
			if q, err := url.ParseQuery(rec.Request.Query); err == nil {
				crit.Query = make(map[string]string, len(q))
				for k, v := range q {
					if len(v) > 0 {
						crit.Query[k] = v[0]
					}
				}
			}
		}

		resp := ResponseSpec{Status: rec.Response.StatusCode}
		for k, v := range rec.Response.Headers {
			if skipResponseHeaders[k] || len(v) == 0 {
				continue
			}
			if resp.Headers == nil {
				resp.Headers = make(map[string]string)
			}
			resp.Headers[k] = v[0]
		}
		if len(rec.Response.Body) > 0 {
			resp.Body = exportBody(rec.Response.Body)
		}

		doc.Requests = append(doc.Requests, RequestSpec{
			Criteria:  crit,
			Responses: []ResponseSpec{resp},
		})
	}
	return doc
}

// exportBody keeps JSON bodies structured so the exported document stays
// readable; everything else is exported as text.
func exportBody(b []byte) any {
	if json.Valid(b) {
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			if _, isString := v.(string); !isString {
				return v
			}
		}
	}
	return string(b)
}
