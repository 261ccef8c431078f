package security

import "golang.org/x/oauth2"

// GenerateOpaqueToken generates an unguessable, URL-safe opaque identifier
// for grant codes and access tokens. It is an alias for
// oauth2.GenerateVerifier, which draws 32 bytes (256 bits) from crypto/rand
// and base64url-encodes them.
//
// Contract: identifiers carry at least 112 bits of entropy and are compared
// only by exact string match, never parsed.
func GenerateOpaqueToken() string {
	return oauth2.GenerateVerifier()
}
