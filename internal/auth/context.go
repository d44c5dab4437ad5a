package auth

import (
	"context"
	"errors"
)

type contextKey string

const (
	// SessionIDContextKey is the context key for the verified session cookie value
	SessionIDContextKey contextKey = "session_id"
)

var (
	// ErrNoSessionInContext is returned when no session id is found in context
	ErrNoSessionInContext = errors.New("no session id in context")
)

// WithSessionID returns a copy of ctx carrying the session id
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDContextKey, id)
}

// GetSessionIDFromContext extracts the session id from request context
func GetSessionIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(SessionIDContextKey).(string)
	if !ok || id == "" {
		return "", ErrNoSessionInContext
	}
	return id, nil
}

// SessionIDFromContext returns the session id or "" when the request carries none
func SessionIDFromContext(ctx context.Context) string {
	id, _ := GetSessionIDFromContext(ctx)
	return id
}
