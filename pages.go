package grantline

import (
	"html/template"
	"net/http"
)

// LoginPageData is passed to the login template.
type LoginPageData struct {
	// ClientName is the display name of the requesting application.
	ClientName string

	// ActionURL is where the credential form posts to. It preserves the
	// original authorize query so the flow resumes after login.
	ActionURL string
}

// ConsentPageData is passed to the consent template.
type ConsentPageData struct {
	ClientName string
	Username   string

	// Permissions are human-readable descriptions of the requested scopes.
	Permissions []string

	// AcceptURL carries the grant code back to the client's redirect URI.
	AcceptURL string

	// DenyURL reports access_denied to the client's redirect URI.
	DenyURL string
}

// PageRenderer renders the browser-facing pages of the authorize flow.
// Implement it to replace the built-in pages with branded ones.
type PageRenderer interface {
	RenderLogin(w http.ResponseWriter, data LoginPageData) error
	RenderConsent(w http.ResponseWriter, data ConsentPageData) error
}

// scopeDescriptions maps scope tokens to the consent page wording.
var scopeDescriptions = map[string]string{
	ScopeUserInfo: "Access your basic profile information",
	ScopeContacts: "Access your contact list",
}

// describeScopes returns consent wording for the scope tokens, falling back
// to the raw token for scopes without a registered description.
func describeScopes(scopes []string) []string {
	described := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if desc, ok := scopeDescriptions[scope]; ok {
			described = append(described, desc)
		} else {
			described = append(described, scope)
		}
	}
	return described
}

const loginPageTemplate = `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>Sign in</title>
	<style>
		body { font-family: system-ui, sans-serif; max-width: 420px; margin: 80px auto; color: #1a1a1a; }
		form { display: flex; flex-direction: column; gap: 12px; }
		input { padding: 8px; font-size: 1rem; }
		button { padding: 10px; font-size: 1rem; cursor: pointer; }
		.client { color: #555; }
	</style>
</head>
<body>
	<h1>Sign in</h1>
	<p class="client">to continue to <strong>{{.ClientName}}</strong></p>
	<form method="POST" action="{{.ActionURL}}">
		<input type="text" name="username" placeholder="Username" autocomplete="username" autofocus>
		<input type="password" name="password" placeholder="Password" autocomplete="current-password">
		<button type="submit">Sign in</button>
	</form>
</body>
</html>`

const consentPageTemplate = `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>Authorize {{.ClientName}}</title>
	<style>
		body { font-family: system-ui, sans-serif; max-width: 420px; margin: 80px auto; color: #1a1a1a; }
		ul { padding-left: 20px; }
		.actions { display: flex; gap: 12px; margin-top: 24px; }
		.accept { background: #2861d6; color: #fff; padding: 10px 18px; border-radius: 4px; text-decoration: none; }
		.deny { color: #555; padding: 10px 18px; text-decoration: none; }
	</style>
</head>
<body>
	<h1>{{.ClientName}} wants to:</h1>
	<ul>
		{{range .Permissions}}<li>{{.}}</li>
		{{end}}
	</ul>
	<p>Signed in as <strong>{{.Username}}</strong></p>
	<div class="actions">
		<a class="accept" href="{{.AcceptURL}}">Allow</a>
		<a class="deny" href="{{.DenyURL}}">Deny</a>
	</div>
</body>
</html>`

var (
	loginTemplate   = template.Must(template.New("login").Parse(loginPageTemplate))
	consentTemplate = template.Must(template.New("consent").Parse(consentPageTemplate))
)

// defaultPageRenderer serves the built-in, unbranded login and consent pages.
type defaultPageRenderer struct{}

func (defaultPageRenderer) RenderLogin(w http.ResponseWriter, data LoginPageData) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return loginTemplate.Execute(w, data)
}

func (defaultPageRenderer) RenderConsent(w http.ResponseWriter, data ConsentPageData) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return consentTemplate.Execute(w, data)
}
