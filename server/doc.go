// Package server implements the OAuth 2.0 Authorization Code grant logic,
// independent of any HTTP transport. It validates authorization requests,
// authenticates users and clients against a credential store, issues and
// redeems single-use grant codes, and verifies bearer access tokens against
// required scopes.
//
// The HTTP layer in the root package drives this logic; the stores are
// injected as interfaces so tests can substitute in-memory fakes.
package server
