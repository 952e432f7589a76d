package engine

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getmockd/mockctl/pkg/httputil"
	"github.com/getmockd/mockctl/pkg/recording"
)

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// forward proxies an unmatched request to the fallback upstream and
// records the exchange when recording is on.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, body []byte) {
	start := time.Now()

	target, err := upstreamURL(s.doc.FallbackBaseURL, r.URL)
	if err != nil {
		s.observe(OutcomeError)
		httputil.WriteError(w, http.StatusBadGateway, "fallback_error", "invalid fallback URL")
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		s.observe(OutcomeError)
		httputil.WriteError(w, http.StatusBadGateway, "fallback_error", "could not build upstream request")
		return
	}
	copyHeaders(out.Header, r.Header)
	removeHopByHopHeaders(out.Header)
	out.Header.Set("X-Forwarded-For", r.RemoteAddr)
	out.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := s.opts.Client.Do(out)
	if err != nil {
		s.log.Warn("fallback request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.observe(OutcomeError)
		httputil.WriteError(w, http.StatusBadGateway, "fallback_error", "upstream request failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize))
	if err != nil {
		s.observe(OutcomeError)
		httputil.WriteError(w, http.StatusBadGateway, "fallback_error", "could not read upstream response")
		return
	}
	took := time.Since(start)

	s.record(r, body, resp, respBody, took)

	removeHopByHopHeaders(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	s.observe(OutcomeForwarded)
	s.log.Debug("forwarded", "method", r.Method, "path", r.URL.Path, "status", resp.StatusCode, "duration", took)
}

// record stores the exchange if the flags allow it. Non-2xx responses need
// both flags.
func (s *Server) record(r *http.Request, body []byte, resp *http.Response, respBody []byte, took time.Duration) {
	if s.opts.Recordings == nil || !s.recordMissing.Load() {
		return
	}
	rec := recording.New(r, body)
	rec.Complete(resp, respBody, took)
	if rec.Failed() && !s.recordFailures.Load() {
		return
	}
	s.opts.Recordings.Add(rec)
	s.log.Info("recorded missing request", "method", r.Method, "path", r.URL.Path, "status", resp.StatusCode)
}

func upstreamURL(base string, in *url.URL) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + in.Path
	u.RawPath = ""
	u.RawQuery = in.RawQuery
	return u.String(), nil
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func removeHopByHopHeaders(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}
