package auth

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"oauth-gateway/internal/biz"
	"oauth-gateway/internal/conf"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// builtin endpoints and default scopes by provider kind
var builtins = map[string]struct {
	endpoint oauth2.Endpoint
	scope    string
}{
	"github": {endpoint: endpoints.GitHub},
	"gitlab": {endpoint: endpoints.GitLab, scope: "read_user"},
	"google": {endpoint: endpoints.Google, scope: "openid email profile"},
	"discord": {
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://discord.com/oauth2/authorize",
			TokenURL: "https://discord.com/api/oauth2/token",
		},
		scope: "identify",
	},
}

// Registry is the static provider registry built at startup.
type Registry struct {
	providers map[string]biz.ProviderClient
}

var _ biz.ProviderRegistry = (*Registry)(nil)

// RegistryOption configures NewRegistry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	httpClient *http.Client
}

// WithHTTPClient sets the client used for token exchange and OIDC discovery.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(o *registryOptions) {
		o.httpClient = c
	}
}

// NewRegistry builds one provider client per configured provider.
// OIDC providers are discovered here, so ctx bounds the discovery requests.
func NewRegistry(ctx context.Context, cfg *conf.Config, opts ...RegistryOption) (*Registry, error) {
	o := &registryOptions{}
	for _, opt := range opts {
		opt(o)
	}

	r := &Registry{providers: make(map[string]biz.ProviderClient, len(cfg.Providers))}
	for id, p := range cfg.Providers {
		client, err := newProvider(ctx, id, p, cfg.Server.BaseURL, o.httpClient)
		if err != nil {
			return nil, err
		}
		r.providers[id] = client
	}
	return r, nil
}

func newProvider(ctx context.Context, id string, p conf.Provider, baseURL string, httpClient *http.Client) (biz.ProviderClient, error) {
	redirectURL := p.GetRedirectURL(baseURL, id)

	switch kind := p.GetKind(id); kind {
	case "oidc":
		return NewOIDCClient(ctx, id, &p, redirectURL, httpClient)
	case "custom":
		endpoint := oauth2.Endpoint{AuthURL: p.AuthURL, TokenURL: p.TokenURL}
		return NewClient(id, endpoint, &p, redirectURL, httpClient), nil
	default:
		builtin, ok := builtins[kind]
		if !ok {
			return nil, fmt.Errorf("provider %q: %w: kind %q", id, biz.ErrUnknownProvider, kind)
		}
		endpoint := builtin.endpoint
		// explicit endpoints win, e.g. for GitHub Enterprise
		if p.AuthURL != "" {
			endpoint.AuthURL = p.AuthURL
		}
		if p.TokenURL != "" {
			endpoint.TokenURL = p.TokenURL
		}
		if p.Scope == "" {
			p.Scope = builtin.scope
		}
		return NewClient(id, endpoint, &p, redirectURL, httpClient), nil
	}
}

// Lookup returns the provider registered under id.
func (r *Registry) Lookup(id string) (biz.ProviderClient, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
