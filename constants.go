package grantline

// Endpoint paths registered by Handler.RegisterRoutes. The /api prefix keeps
// the server-to-server endpoints apart from the browser-facing authorize page.
const (
	PathAuthorize = "/authorize"
	PathToken     = "/api/token"
	PathUserInfo  = "/api/user-info"
	PathContacts  = "/api/contacts"
)

// Protocol constants from RFC 6749.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	ResponseTypeCode           = "code"
	TokenTypeBearer            = "bearer"
)

// Scopes understood by the bundled resource endpoints.
const (
	ScopeUserInfo = "user_info"
	ScopeContacts = "contacts"
)
