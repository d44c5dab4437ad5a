package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"oauth-gateway/internal/conf"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

const (
	// hostPrefix pins a Secure cookie to the exact origin with Path=/
	hostPrefix = "__Host-"

	minSignKeyLen = 32
)

// Cookies reads and writes the state and session cookies.
// Values are HS256 JWS compact strings whose payload is bound to the cookie name,
// so a state token cannot be replayed as a session id or the other way round.
type Cookies struct {
	stateName   string
	sessionName string
	secure      bool
	key         []byte
}

// NewCookies builds the cookie codec. An empty sign key yields a random
// per-process key, which invalidates all cookies on restart.
func NewCookies(cfg conf.Cookie) (*Cookies, error) {
	key, err := signKey(cfg.SignKey)
	if err != nil {
		return nil, err
	}

	stateName, sessionName := cfg.StateName, cfg.SessionName
	if cfg.Secure {
		stateName = hostPrefix + stateName
		sessionName = hostPrefix + sessionName
	}
	return &Cookies{
		stateName:   stateName,
		sessionName: sessionName,
		secure:      cfg.Secure,
		key:         key,
	}, nil
}

func signKey(encoded string) ([]byte, error) {
	if encoded == "" {
		key := make([]byte, minSignKeyLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate cookie sign key: %w", err)
		}
		return key, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode cookie sign key: %w", err)
	}
	if len(key) < minSignKeyLen {
		return nil, fmt.Errorf("cookie sign key must be at least %d bytes, got %d", minSignKeyLen, len(key))
	}
	return key, nil
}

// StateName returns the effective state cookie name.
func (c *Cookies) StateName() string { return c.stateName }

// SessionName returns the effective session cookie name.
func (c *Cookies) SessionName() string { return c.sessionName }

// SetState sets the short-lived pending-auth cookie.
func (c *Cookies) SetState(w http.ResponseWriter, token string, expires time.Time) error {
	return c.set(w, c.stateName, token, expires)
}

// StateToken returns the verified state token, or "" when absent or tampered.
func (c *Cookies) StateToken(r *http.Request) string {
	return c.get(r, c.stateName)
}

// ClearState expires the state cookie.
func (c *Cookies) ClearState(w http.ResponseWriter) {
	c.clear(w, c.stateName)
}

// SetSession sets the session cookie.
func (c *Cookies) SetSession(w http.ResponseWriter, id string, expires time.Time) error {
	return c.set(w, c.sessionName, id, expires)
}

// SessionID returns the verified session id, or "" when absent or tampered.
func (c *Cookies) SessionID(r *http.Request) string {
	return c.get(r, c.sessionName)
}

// ClearSession expires the session cookie.
func (c *Cookies) ClearSession(w http.ResponseWriter) {
	c.clear(w, c.sessionName)
}

func (c *Cookies) set(w http.ResponseWriter, name, value string, expires time.Time) error {
	signed, err := jws.Sign([]byte(name+":"+value), jws.WithKey(jwa.HS256, c.key))
	if err != nil {
		return fmt.Errorf("sign cookie %s: %w", name, err)
	}

	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    string(signed),
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *Cookies) get(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return ""
	}

	payload, err := jws.Verify([]byte(cookie.Value), jws.WithKey(jwa.HS256, c.key))
	if err != nil {
		return ""
	}
	value, ok := strings.CutPrefix(string(payload), name+":")
	if !ok {
		return ""
	}
	return value
}

func (c *Cookies) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
