package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
)

// RedirectHandler answers every plaintext request with a permanent redirect
// to the HTTPS endpoint, preserving the request's path and query. It is the
// only thing served on the plaintext port once TLS is enabled: plaintext
// requests are redirected, never processed.
type RedirectHandler struct {
	httpsPort uint16
}

// NewRedirectHandler creates a redirect handler pointing at the given
// HTTPS port.
func NewRedirectHandler(httpsPort uint16) *RedirectHandler {
	return &RedirectHandler{httpsPort: httpsPort}
}

// Handle returns a 301 to https://<host>[:port]<original URI>. The port is
// elided when it is the default HTTPS port.
func (h *RedirectHandler) Handle(_ context.Context, r *http.Request) *Response {
	host := r.Host
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		host = hostOnly
	}
	if h.httpsPort != 443 {
		host = net.JoinHostPort(host, strconv.Itoa(int(h.httpsPort)))
	}

	resp := NewEmptyResponse(http.StatusMovedPermanently)
	resp.Header.Set("Location", "https://"+host+r.RequestURI)
	return resp
}
