package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"oauth-gateway/internal/auth"

	"github.com/gorilla/mux"
)

// AuthHandler handles the sign-in, callback, sign-out and status endpoints
type AuthHandler struct {
	authService       AuthService
	cookies           *auth.Cookies
	signedInRedirect  string
	signedOutRedirect string
	logger            *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService AuthService, cookies *auth.Cookies, signedInRedirect, signedOutRedirect string, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService:       authService,
		cookies:           cookies,
		signedInRedirect:  signedInRedirect,
		signedOutRedirect: signedOutRedirect,
		logger:            logger,
	}
}

// RegisterRoutes registers auth routes
func (h *AuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.status).Methods(http.MethodGet)
	r.HandleFunc("/signin/{provider}", h.signIn).Methods(http.MethodGet)
	r.HandleFunc("/callback/{provider}", h.callback).Methods(http.MethodGet)
	r.HandleFunc("/signout", h.signOut).Methods(http.MethodGet)

	// /tokens needs a live session; everything else treats anonymous requests as a normal case
	r.Handle("/tokens", auth.RequireSession(h.authService)(http.HandlerFunc(h.tokens))).Methods(http.MethodGet)
}

// signIn issues a state and redirects to the provider
func (h *AuthHandler) signIn(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp, err := h.authService.SignIn(r.Context(), &SignInRequest{
		Provider: mux.Vars(r)["provider"],
		Scope:    query.Get("scope"),
		ReturnTo: sanitizeReturnTo(query.Get("return_to")),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.cookies.SetState(w, resp.StateToken, resp.ExpiresAt); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to set state cookie", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, resp.RedirectURL, http.StatusFound)
}

// callback validates state, exchanges the code and starts a session
func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &CallbackRequest{
		Provider:         mux.Vars(r)["provider"],
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
		StateToken:       h.cookies.StateToken(r),
		SessionID:        auth.SessionIDFromContext(r.Context()),
	}

	resp, err := h.authService.Callback(r.Context(), req)
	// the pending auth is gone either way; an unverifiable cookie is dropped too
	if _, err := r.Cookie(h.cookies.StateName()); err == nil {
		h.cookies.ClearState(w)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.cookies.SetSession(w, resp.SessionID, resp.ExpiresAt); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to set session cookie", "error", err)
		writeError(w, err)
		return
	}

	target := resp.ReturnTo
	if target == "" {
		target = h.signedInRedirect
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

// signOut destroys the session and always clears the cookie
func (h *AuthHandler) signOut(w http.ResponseWriter, r *http.Request) {
	h.cookies.ClearSession(w)
	if err := h.authService.SignOut(r.Context(), auth.SessionIDFromContext(r.Context())); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to destroy session", "error", err)
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Location", h.signedOutRedirect)
	w.WriteHeader(http.StatusFound)
}

// status reports whether the caller is signed in
func (h *AuthHandler) status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.authService.Status(r.Context(), auth.SessionIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// tokens returns the tokens held by the caller's session
func (h *AuthHandler) tokens(w http.ResponseWriter, r *http.Request) {
	resp, err := h.authService.Tokens(r.Context(), auth.SessionIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// sanitizeReturnTo keeps only same-origin absolute paths.
// Browsers drop TAB, CR and LF from URLs, so any control byte is rejected before the prefix checks.
func sanitizeReturnTo(returnTo string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") {
		return ""
	}
	for i := 0; i < len(returnTo); i++ {
		if c := returnTo[i]; c < 0x20 || c == 0x7f {
			return ""
		}
	}
	if strings.HasPrefix(returnTo, "//") || strings.HasPrefix(returnTo, "/\\") {
		return ""
	}
	u, err := url.Parse(returnTo)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return returnTo
}
