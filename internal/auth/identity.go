// Package auth implements the coordinator's dual authentication layer:
// static API keys and OIDC bearer tokens for clients (spec.md §4.1), and
// per-cluster bearer tokens for executors (spec.md §4.2).
package auth

import "context"

// Authentication methods recorded on an Identity and in audit records.
const (
	MethodAPIKey = "api_key"
	MethodOIDC   = "jwt"
)

// Identity is the authenticated caller attached to a request's context
// after Middleware or ExecutorMiddleware runs (spec.md §4.1 "Verify caller").
type Identity struct {
	// Subject is the caller-facing identity string: the configured service
	// id for an API key, email|sub for a JWT, or the cluster id for an
	// executor token.
	Subject string
	// Method is MethodAPIKey or MethodOIDC for clients, and
	// MethodExecutorToken for executors.
	Method string
	// Permissions is "human-user" for JWT-authenticated callers,
	// "service-account" for API-key-authenticated callers (spec.md §4.1),
	// and "executor" for executor-token callers.
	Permissions string
}

type contextKey int

const identityContextKey contextKey = 0

// NewContext returns a copy of ctx carrying the given Identity.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext returns the Identity stored in ctx, or nil if none is present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}
