package server

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// dangerousSchemes lists URI schemes that must never appear in a redirect
// target, regardless of registration state.
var dangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// SplitScope splits a space-delimited scope value into its tokens.
// Matching is case-sensitive; repeated separators are tolerated.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// HasScope reports whether the space-delimited scope value contains the
// required scope as an exact token.
func HasScope(scope, required string) bool {
	return slices.Contains(SplitScope(scope), required)
}

// ValidateScope checks that scope is non-empty and every requested token is
// supported. Returns the parsed token list on success.
func ValidateScope(scope string, supported []string) ([]string, error) {
	tokens := SplitScope(scope)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("scope is required")
	}
	for _, token := range tokens {
		if !slices.Contains(supported, token) {
			return nil, fmt.Errorf("unsupported scope %q", token)
		}
	}
	return tokens, nil
}

// validateRedirectURI checks structural safety of a redirect target: it must
// parse, be absolute, and not use a scheme that executes in the browser.
func validateRedirectURI(redirectURI string) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("redirect URI does not parse: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("redirect URI must be absolute")
	}
	if slices.Contains(dangerousSchemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("redirect URI scheme %q is not allowed", u.Scheme)
	}
	return nil
}
