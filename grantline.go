// Package grantline implements an OAuth 2.0 authorization server for the
// Authorization Code grant: a browser-facing authorize endpoint that drives
// login and consent and issues single-use grant codes, a token endpoint that
// redeems codes for bearer access tokens, and a scope-checking guard for
// resource endpoints.
//
// Typical wiring:
//
//	store := memory.New()
//	srv, handler, err := grantline.New(store, store, &grantline.Config{
//		Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	mux := http.NewServeMux()
//	handler.RegisterRoutes(mux)
//
// The storage interfaces are satisfied by storage/memory for single-process
// deployments and storage/valkey for shared ones.
package grantline

import (
	"log/slog"

	"github.com/grantline/grantline/server"
	"github.com/grantline/grantline/storage"
)

// New creates the authorization server core and an HTTP handler around it.
func New(
	credentials storage.CredentialStore,
	ephemeral storage.EphemeralStore,
	config *Config,
	logger *slog.Logger,
) (*server.Server, *Handler, error) {
	srv, err := server.New(credentials, ephemeral, config, logger)
	if err != nil {
		return nil, nil, err
	}
	return srv, NewHandler(srv, logger), nil
}
