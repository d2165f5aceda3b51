package proxy

import (
	"io"
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// onRequest dispatches proxied requests as fetch events
func (s *Server) onRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	return requ, s.fetch(requ)
}

// serveOrigin handles requests addressed to the proxy itself, as the front of the origin
func (s *Server) serveOrigin(w http.ResponseWriter, r *http.Request) {
	requ := r.Clone(r.Context())
	requ.URL = s.targetURL(r)
	requ.Host = requ.URL.Host

	resp := s.fetch(requ)
	defer func() { _ = resp.Body.Close() }()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logrus.Errorf("Failed to write response body: %v", err)
	}
}

// fetch answers a request through the lifecycle runtime and tags the response source
func (s *Server) fetch(requ *http.Request) *http.Response {
	resp, hit, err := s.runtime.Fetch(requ)
	if err != nil {
		logrus.Errorf("Failed to fetch %s %s: %v", requ.Method, requ.URL, err)
		return goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, err.Error())
	}

	if hit {
		resp.Header.Set("X-Cache", "HIT")
		logrus.Infof("Serving from cache: %s %s", requ.Method, requ.URL)
	} else {
		resp.Header.Set("X-Cache", "MISS")
		logrus.Infof("Forwarded request: %s %s -> %d", requ.Method, requ.URL, resp.StatusCode)
	}
	return resp
}
