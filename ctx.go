package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var claimsCtxKey = &contextKey{"claims"}
var actorCtxKey = &contextKey{"actor"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(r context.Context, claims AuthClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return raw, ok
}

// WithActorContext stores the acting user reference
func WithActorContext(ctx context.Context, actor *ActorRef) context.Context {
	return context.WithValue(ctx, actorCtxKey, actor)
}

// ActorFromContext returns the acting user reference if present
func ActorFromContext(ctx context.Context) (*ActorRef, bool) {
	raw, ok := ctx.Value(actorCtxKey).(*ActorRef)
	return raw, ok && raw != nil
}

// ActorContextFromClaims builds an actor reference out of claims
func ActorContextFromClaims(claims AuthClaims) *ActorRef {
	if claims == nil || claims.UserID() == "" {
		return nil
	}
	return &ActorRef{ID: claims.UserID(), Type: "user"}
}

// GetRouterClaims extracts the AuthClaims from the request locals
func GetRouterClaims(c router.Context, key string) (AuthClaims, bool) {
	if key == "" {
		key = "user" // Default key used by JWT middleware
	}
	raw := c.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(AuthClaims)
	return claims, ok
}

// CanFromContext checks a capability against the claims in ctx
func CanFromContext(ctx context.Context, capability Capability) bool {
	claims, ok := GetClaims(ctx)
	if !ok {
		return false
	}
	return claims.Can(string(capability))
}

// CanFromRouter checks a capability against the claims in the request locals
func CanFromRouter(c router.Context, key string, capability Capability) bool {
	claims, ok := GetRouterClaims(c, key)
	if !ok {
		return false
	}
	return claims.Can(string(capability))
}
