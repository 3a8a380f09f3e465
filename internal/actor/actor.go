// Package actor carries the caller identity used for audit attribution.
// Authentication lives outside this service; the upstream layer is
// trusted to set the X-Actor header on proxied requests.
package actor

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const (
	// Header is the identity header set by the upstream auth layer.
	Header = "X-Actor"
	// Anonymous is recorded when no identity was propagated.
	Anonymous = "anonymous"

	actorCtxKey = ctxKey("actor")
)

// WithActor stores the actor identity in the context.
func WithActor(ctx context.Context, a string) context.Context {
	return context.WithValue(ctx, actorCtxKey, a)
}

// FromContext extracts the actor identity, defaulting to Anonymous.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorCtxKey).(string); ok && v != "" {
		return v
	}
	return Anonymous
}

// FromRequest reads the actor header directly, for callers running
// before the middleware.
func FromRequest(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(Header)); a != "" {
		return a
	}
	return Anonymous
}

// Middleware attaches the propagated actor identity to the request
// context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), FromRequest(r))))
	})
}
