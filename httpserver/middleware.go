package httpserver

import (
	"net"
	"net/http"
	"strings"
)

const (
	ownershipSignatureHeader = "X-Ownership-Signature"
	deviceAssertionHeader    = "X-Device-Assertion"
)

// clientAddress identifies the requester for rate limiting: the first hop of
// X-Forwarded-For when present, otherwise the connection's host.
func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// attestationMiddleware consults the device attestation verifier on every
// mutating request. Reads pass through untouched.
func (h *Handler) attestationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			if err := h.verifier.Verify(r.Context(), r.Header.Get(deviceAssertionHeader), r); err != nil {
				h.writeError(w, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
