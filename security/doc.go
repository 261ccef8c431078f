// Package security provides security primitives for the OAuth server:
// opaque identifier generation, per-identifier rate limiting, audit logging
// with PII hashing, and secure response headers.
package security
