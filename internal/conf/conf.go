package conf

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CallbackPrefix is the route prefix every provider redirect URI must use.
const CallbackPrefix = "/callback/"

var knownKinds = map[string]bool{
	"github": true, "discord": true, "gitlab": true, "google": true, "custom": true, "oidc": true,
}

// Config is the config structure.
type Config struct {
	Server    Server              `yaml:"server"`
	Log       Log                 `yaml:"log"`
	Cookie    Cookie              `yaml:"cookie"`
	Session   Session             `yaml:"session"`
	Store     Store               `yaml:"store"`
	Providers map[string]Provider `yaml:"providers" validate:"required,min=1,dive,keys,required,endkeys"`
}

// Server is the server config.
type Server struct {
	Addr            string        `yaml:"addr" validate:"required"`
	BaseURL         string        `yaml:"base_url" validate:"required,url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SignedInRedirect is where the browser lands after a callback without return_to.
	SignedInRedirect string `yaml:"signed_in_redirect"`
	// SignedOutRedirect is where the browser lands after sign-out.
	SignedOutRedirect string `yaml:"signed_out_redirect"`
}

// Log is the logging config.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Cookie is the cookie config.
type Cookie struct {
	// Secure marks cookies Secure and adds the __Host- prefix. Enable in production.
	Secure      bool   `yaml:"secure"`
	StateName   string `yaml:"state_name" validate:"required"`
	SessionName string `yaml:"session_name" validate:"required"`
	// SignKey is a base64 HS256 key. A random key is generated when empty,
	// which invalidates all cookies on restart.
	SignKey string `yaml:"sign_key" validate:"omitempty,base64"`
}

// Session is the session lifecycle config.
type Session struct {
	TTL             time.Duration `yaml:"ttl" validate:"gte=0"`
	PendingTTL      time.Duration `yaml:"pending_ttl" validate:"gte=0"`
	BindTokenExpiry bool          `yaml:"bind_token_expiry"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
}

// Store selects the backing store for sessions and pending auths.
type Store struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite valkey"`
	// SQLitePath is used by the sqlite driver.
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	// ValkeyAddrs is used by the valkey driver.
	ValkeyAddrs []string `yaml:"valkey_addrs" validate:"required_if=Driver valkey,dive,hostname_port"`
	KeyPrefix   string   `yaml:"key_prefix"`
}

// Provider is the per-provider OAuth config.
type Provider struct {
	// Kind selects the provider variant; defaults to the provider id.
	Kind         string `yaml:"kind" validate:"omitempty,oneof=github discord gitlab google custom oidc"`
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RedirectURL  string `yaml:"redirect_url" validate:"omitempty,url"` // Optional: if not set, auto-constructed from server.base_url
	Scope        string `yaml:"scope"`
	AuthURL      string `yaml:"auth_url" validate:"required_if=Kind custom"`
	TokenURL     string `yaml:"token_url" validate:"required_if=Kind custom"`
	Issuer       string `yaml:"issuer" validate:"required_if=Kind oidc"`
	PKCE         bool   `yaml:"pkce"`
}

// GetRedirectURL returns the provider callback URL
// If RedirectURL is explicitly configured, use it
// Otherwise, construct from server base_url + callback prefix + provider id
func (p *Provider) GetRedirectURL(serverBaseURL, id string) string {
	if p.RedirectURL != "" {
		return p.RedirectURL
	}
	return strings.TrimRight(serverBaseURL, "/") + CallbackPrefix + id
}

// GetKind returns the provider variant name.
func (p *Provider) GetKind(id string) string {
	if p.Kind != "" {
		return p.Kind
	}
	return id
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:              ":8000",
			BaseURL:           "http://localhost:8000",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			SignedInRedirect:  "/",
			SignedOutRedirect: "/",
		},
		Log: Log{Level: "info", Format: "text"},
		Cookie: Cookie{
			StateName:   "oauth-state",
			SessionName: "session",
		},
		Session: Session{
			TTL:             7 * 24 * time.Hour,
			PendingTTL:      10 * time.Minute,
			BindTokenExpiry: true,
			CleanupInterval: 5 * time.Minute,
		},
		Store: Store{
			Driver:     "memory",
			SQLitePath: "data/sessions.db",
			KeyPrefix:  "oauth-gateway:",
		},
	}
}

// Load loads config from file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies env overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config from env vars if present
func (c *Config) applyEnv() {
	if baseURL := os.Getenv("SERVER_BASE_URL"); baseURL != "" {
		c.Server.BaseURL = baseURL
	}
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if key := os.Getenv("COOKIE_SIGN_KEY"); key != "" {
		c.Cookie.SignKey = key
	}

	// GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET, ...
	for id, p := range c.Providers {
		prefix := envPrefix(id)
		if v := os.Getenv(prefix + "_CLIENT_ID"); v != "" {
			p.ClientID = v
		}
		if v := os.Getenv(prefix + "_CLIENT_SECRET"); v != "" {
			p.ClientSecret = v
		}
		c.Providers[id] = p
	}
}

func envPrefix(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

// Validate checks struct tags and the redirect URI contract.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	for id, p := range c.Providers {
		if kind := p.GetKind(id); !knownKinds[kind] {
			errs = append(errs, fmt.Errorf("provider %q: unknown kind %q, set kind explicitly", id, kind))
		}
		redirect, err := url.Parse(p.GetRedirectURL(c.Server.BaseURL, id))
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %q: bad redirect url: %w", id, err))
			continue
		}
		if want := CallbackPrefix + id; redirect.Path != want {
			errs = append(errs, fmt.Errorf("provider %q: redirect url path %q must be %q", id, redirect.Path, want))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
