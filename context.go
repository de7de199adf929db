package auth

import "context"

type clientIPContextKey struct{}
type routeContextKey struct{}
type bearerTokenContextKey struct{}
type rememberCookieContextKey struct{}
type rememberRequestContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses
// it for per-IP throttling and attempt recording.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithRoute attaches a method+path identifier to ctx for route-keyed
// throttling, e.g. "POST /login".
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeContextKey{}, route)
}

// WithBearerToken attaches the raw token extracted from the request's
// token header or parameter. The stateless strategies re-derive the
// current user from it on every LoggedIn call.
func WithBearerToken(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, bearerTokenContextKey{}, raw)
}

// WithRememberCookie attaches the raw remember-me cookie value from the
// inbound request.
func WithRememberCookie(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, rememberCookieContextKey{}, raw)
}

// WithRememberRequested marks that the caller asked to stay logged in,
// so a successful interactive login issues a remember-me token.
func WithRememberRequested(ctx context.Context) context.Context {
	return context.WithValue(ctx, rememberRequestContextKey{}, true)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	route, _ := ctx.Value(routeContextKey{}).(string)
	return route
}

func bearerTokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	raw, _ := ctx.Value(bearerTokenContextKey{}).(string)
	return raw
}

func rememberCookieFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	raw, _ := ctx.Value(rememberCookieContextKey{}).(string)
	return raw
}

func rememberRequestedFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	requested, _ := ctx.Value(rememberRequestContextKey{}).(bool)
	return requested
}
