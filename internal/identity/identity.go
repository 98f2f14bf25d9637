// Package identity models the caller of an assignment or event operation.
//
// Transports resolve an Identity once at the boundary (bearer token or anonymous key)
// and pass it into the engine. Business code never looks at headers or cookies.
package identity

import (
	"context"
	"strings"
)

// Identity is either Authenticated or Anonymous. A nil Identity means the caller
// could not be identified at all.
type Identity interface {
	// UserKey is the stable key used for bucketing and event attribution.
	UserKey() string
	isIdentity()
}

// Authenticated is a caller proven by a verified identity token.
type Authenticated struct {
	UID   string
	Email string
}

// UserKey returns the authenticated uid.
func (a Authenticated) UserKey() string { return a.UID }
func (Authenticated) isIdentity()       {}

// Anonymous is a caller known only by a client-supplied stable key.
type Anonymous struct {
	Key string
}

// UserKey returns the anonymous key.
func (a Anonymous) UserKey() string { return a.Key }
func (Anonymous) isIdentity()       {}

// Kind returns "authenticated", "anonymous" or "none". Used as a log/metric label.
func Kind(id Identity) string {
	switch id.(type) {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "none"
	}
}

type contextKey struct{}

// WithContext stores the resolved identity in ctx. A nil identity is not stored.
func WithContext(ctx context.Context, id Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity resolved for this request, or nil.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return nil
}

// Resolver turns transport credentials into an Identity.
type Resolver struct {
	verifier *TokenVerifier
}

// NewResolver builds a Resolver. A nil verifier disables token authentication,
// leaving only anonymous keys.
func NewResolver(verifier *TokenVerifier) *Resolver {
	return &Resolver{verifier: verifier}
}

// Resolve prefers a valid token; an absent or invalid token falls back to the
// anonymous key. It returns nil when neither yields an identity.
func (r *Resolver) Resolve(token, anonymousKey string) Identity {
	token = strings.TrimSpace(token)
	if token != "" && r.verifier != nil {
		if id, err := r.verifier.Verify(token); err == nil {
			return id
		}
	}

	if key := strings.TrimSpace(anonymousKey); key != "" {
		return Anonymous{Key: key}
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
