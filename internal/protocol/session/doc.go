// Package session owns per-connection transport policy shared by the server
// and the client.
//
// Ownership boundary:
// - timeouts, keep-alive bound, and decode limits
// - TLS/mTLS validation and tls.Config builders
// - connect retry backoff
package session
