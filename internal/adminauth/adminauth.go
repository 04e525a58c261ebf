// Package adminauth is a thin stub for the delegated JWT auth the
// /v1/admin/** and /v1/portal/** surface is described as using in §6. The
// admin/portal CRUD handlers themselves are out of scope (see
// DESIGN.md) — this package only builds the oauth2.Config for the
// delegated issuer and mounts a passthrough handler that reports the
// surface as unimplemented rather than 404ing silently.
package adminauth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/wisbric/promptgate/internal/httpserver"
)

// NewOAuth2Config builds the oauth2.Config a full implementation of the
// delegated JWT flow would exchange authorization codes against. secret is
// the relevant JWT secret (PortalJWTSecret or AdminJWTSecret); it is used
// as the client secret placeholder since no identity provider discovery is
// performed here.
func NewOAuth2Config(clientID, secret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "/v1/admin/oauth/authorize",
			TokenURL: "/v1/admin/oauth/token",
		},
	}
}

// Handler reports the admin/portal surface as present but unimplemented.
// It exists so /v1/admin/** and /v1/portal/** resolve to a deliberate
// response instead of an unmounted 404.
func Handler(w http.ResponseWriter, r *http.Request) {
	httpserver.RespondError(w, http.StatusNotImplemented, "not_implemented", "admin/portal surface is not implemented by this gateway")
}

// Routes returns the catch-all router mounted at /v1/admin and /v1/portal.
func Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(Handler)
	r.Get("/*", Handler)
	r.Post("/*", Handler)
	return r
}
