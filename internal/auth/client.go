package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"oauth-gateway/internal/biz"
	"oauth-gateway/internal/conf"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Client is a plain OAuth 2.0 authorization-code client for one provider.
type Client struct {
	id           string
	pkce         bool
	defaultScope string
	oauth2Config oauth2.Config
	httpClient   *http.Client
}

var _ biz.ProviderClient = (*Client)(nil)

// NewClient creates a client for the given endpoint.
// Client credentials are always sent in the token request body.
func NewClient(id string, endpoint oauth2.Endpoint, cfg *conf.Provider, redirectURL string, httpClient *http.Client) *Client {
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &Client{
		id:           id,
		pkce:         cfg.PKCE,
		defaultScope: cfg.Scope,
		httpClient:   httpClient,
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoint,
		},
	}
}

// ID returns the registry id of the provider.
func (c *Client) ID() string {
	return c.id
}

// UsePKCE reports whether sign-ins should carry an S256 code challenge.
func (c *Client) UsePKCE() bool {
	return c.pkce
}

// RedirectURL returns the callback URL registered with the provider.
func (c *Client) RedirectURL() string {
	return c.oauth2Config.RedirectURL
}

// AuthCodeURL returns the authorization URL with state parameter
func (c *Client) AuthCodeURL(state, scope, verifier string) string {
	if scope == "" {
		scope = c.defaultScope
	}

	var opts []oauth2.AuthCodeOption
	if scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", scope))
	}
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return c.oauth2Config.AuthCodeURL(state, opts...)
}

// Exchange exchanges authorization code for tokens
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*biz.TokenSet, error) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	token, err := c.oauth2Config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, c.classify(err)
	}
	return tokenSet(token), nil
}

// classify maps oauth2 errors onto biz errors without echoing response bodies.
func (c *Client) classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return fmt.Errorf("%w: %s: status %d %s", biz.ErrExchangeFailed, c.id, status, retrieveErr.ErrorCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", biz.ErrNetwork, c.id, err)
	}
	return fmt.Errorf("%w: %s: %v", biz.ErrExchangeFailed, c.id, err)
}

func tokenSet(token *oauth2.Token) *biz.TokenSet {
	ts := &biz.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	return ts
}

// OIDCClient wraps a Client whose endpoints come from OIDC discovery
type OIDCClient struct {
	*Client
	verifier *oidc.IDTokenVerifier
}

// NewOIDCClient creates a new OIDC client
func NewOIDCClient(ctx context.Context, id string, cfg *conf.Provider, redirectURL string, httpClient *http.Client) (*OIDCClient, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}

	// Initialize OIDC provider (discovers .well-known/openid-configuration)
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider %q: %w", id, err)
	}

	withScope := *cfg
	if withScope.Scope == "" {
		withScope.Scope = oidc.ScopeOpenID
	}

	return &OIDCClient{
		Client: NewClient(id, provider.Endpoint(), &withScope, redirectURL, httpClient),
		// Configure JWT verifier
		verifier: provider.Verifier(&oidc.Config{
			ClientID: cfg.ClientID,
		}),
	}, nil
}

// Exchange exchanges the code and verifies the ID token when the provider returned one
func (c *OIDCClient) Exchange(ctx context.Context, code, verifier string) (*biz.TokenSet, error) {
	tokens, err := c.Client.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, err
	}
	if tokens.IDToken == "" {
		return tokens, nil
	}

	if c.httpClient != nil {
		ctx = oidc.ClientContext(ctx, c.httpClient)
	}
	if _, err := c.verifier.Verify(ctx, tokens.IDToken); err != nil {
		return nil, fmt.Errorf("%w: %s: id token: %v", biz.ErrExchangeFailed, c.id, err)
	}
	return tokens, nil
}
