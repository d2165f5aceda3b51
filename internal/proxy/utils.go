package proxy

import (
	"net/http"
	"net/url"
)

// targetURL resolves a request made to the proxy itself against the origin
func (s *Server) targetURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}

	return s.origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
}
