package httpserver

import (
	"net/http"

	"github.com/kubently/kubently/internal/config"
)

type discoveryAPIKey struct {
	Header string `json:"header"`
}

type discoveryOAuth struct {
	Enabled  bool   `json:"enabled"`
	Issuer   string `json:"issuer,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	JWKSURI  string `json:"jwks_uri,omitempty"`
}

type discoveryResponse struct {
	AuthenticationMethods []string         `json:"authentication_methods"`
	APIKey                *discoveryAPIKey `json:"api_key,omitempty"`
	OAuth                 discoveryOAuth   `json:"oauth"`
}

// handleDiscovery serves GET /.well-known/kubently-auth, an unauthenticated
// document advertising accepted authentication methods so CLIs can
// auto-configure (spec.md §6 "Discovery").
func (s *Server) handleDiscovery(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		methods := []string{"api_key"}
		if cfg.OIDCEnabled {
			methods = append(methods, "oauth")
		}

		resp := discoveryResponse{
			AuthenticationMethods: methods,
			APIKey:                &discoveryAPIKey{Header: "X-API-Key"},
			OAuth: discoveryOAuth{
				Enabled:  cfg.OIDCEnabled,
				Issuer:   cfg.OIDCIssuer,
				ClientID: cfg.OIDCClientID,
				JWKSURI:  cfg.OIDCJWKSURI,
			},
		}

		Respond(w, http.StatusOK, resp)
	}
}
