package storage

// Key namespaces for entries in the ephemeral store. Namespacing keeps the
// server's keys from colliding with other uses of a shared store.
const (
	NamespaceGrantCode   = "grant-code"
	NamespaceAccessToken = "access-token"
)

// Key builds a namespaced storage key. Identifiers are opaque strings and are
// never parsed back out of a key; the builder exists so key construction is
// structural rather than ad hoc concatenation at call sites.
func Key(namespace, id string) string {
	return namespace + ":" + id
}

// GrantCodeKey returns the storage key for a grant code.
func GrantCodeKey(code string) string {
	return Key(NamespaceGrantCode, code)
}

// AccessTokenKey returns the storage key for an access token.
func AccessTokenKey(token string) string {
	return Key(NamespaceAccessToken, token)
}
