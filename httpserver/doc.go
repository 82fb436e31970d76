// Package httpserver exposes the sharing and backup stores over a JSON HTTP
// API, with per-endpoint rate limiting, device attestation checks on mutating
// requests, health and drain endpoints, and a Prometheus metrics listener.
package httpserver
