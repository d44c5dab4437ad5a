package auth

import (
	"context"
	"net/http"
)

// SignInChecker reports whether a session id belongs to a live session
type SignInChecker interface {
	IsSignedIn(ctx context.Context, sessionID string) bool
}

// SessionMiddleware puts the verified session cookie value into the request context.
// It never touches the store; requests without a valid cookie pass through unchanged.
func SessionMiddleware(cookies *Cookies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := cookies.SessionID(r); id != "" {
				r = r.WithContext(WithSessionID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects requests without a live session with 401 and an empty body
func RequireSession(checker SignInChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := GetSessionIDFromContext(r.Context())
			if err != nil || !checker.IsSignedIn(r.Context(), id) {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
}
