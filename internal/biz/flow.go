package biz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SignInResult 发起登录的结果
type SignInResult struct {
	RedirectURL string
	StateToken  string
	ExpiresAt   time.Time
}

// CallbackParams 提供方回调携带的查询参数
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult 回调成功后的结果
type CallbackResult struct {
	Session  *Session
	ReturnTo string
}

// Flow 授权码流程编排：Anonymous -> PendingRedirect -> PendingCallback -> Authenticated -> SignedOut
type Flow struct {
	providers ProviderRegistry
	states    *StateCodec
	sessions  *SessionManager
	logger    *slog.Logger
}

// NewFlow 创建 Flow
func NewFlow(providers ProviderRegistry, states *StateCodec, sessions *SessionManager, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		providers: providers,
		states:    states,
		sessions:  sessions,
		logger:    logger,
	}
}

// Sessions 返回流程使用的 SessionManager
func (f *Flow) Sessions() *SessionManager {
	return f.sessions
}

// StartSignIn 签发 state 并返回提供方授权地址
func (f *Flow) StartSignIn(ctx context.Context, providerID, scope, returnTo string) (*SignInResult, error) {
	provider, ok := f.providers.Lookup(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}

	token, pending, err := f.states.Issue(ctx, provider.ID(), provider.UsePKCE(), returnTo)
	if err != nil {
		return nil, err
	}

	f.logger.DebugContext(ctx, "sign-in started", "provider", provider.ID(), "pkce", pending.CodeVerifier != "")
	return &SignInResult{
		RedirectURL: provider.AuthCodeURL(pending.State, scope, pending.CodeVerifier),
		StateToken:  token,
		ExpiresAt:   pending.ExpiresAt,
	}, nil
}

// HandleCallback 校验 state 后用授权码换取令牌并创建会话
// state 校验必须先于换取令牌，伪造的回调不会触达 token endpoint
func (f *Flow) HandleCallback(ctx context.Context, providerID string, params CallbackParams, stateToken, previousSessionID string) (*CallbackResult, error) {
	provider, ok := f.providers.Lookup(providerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}

	pending, err := f.states.Consume(ctx, stateToken, params.State)
	if err != nil {
		f.logger.WarnContext(ctx, "callback rejected", "provider", providerID, "error", err)
		return nil, err
	}
	if pending.ProviderID != provider.ID() {
		f.logger.WarnContext(ctx, "callback provider does not match pending auth",
			"provider", providerID, "pending_provider", pending.ProviderID)
		return nil, fmt.Errorf("%w: provider mismatch", ErrStateMismatch)
	}

	if params.Error != "" {
		f.logger.InfoContext(ctx, "provider returned error", "provider", providerID, "error", params.Error)
		return nil, fmt.Errorf("%w: provider returned %q", ErrInvalidCallback, params.Error)
	}
	if params.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidCallback)
	}

	tokens, err := provider.Exchange(ctx, params.Code, pending.CodeVerifier)
	if err != nil {
		if !errors.Is(err, ErrExchangeFailed) && !errors.Is(err, ErrNetwork) {
			err = fmt.Errorf("%w: %v", ErrExchangeFailed, err)
		}
		f.logger.WarnContext(ctx, "token exchange failed", "provider", providerID, "error", err)
		return nil, err
	}

	session, err := f.sessions.Create(ctx, provider.ID(), tokens)
	if err != nil {
		return nil, err
	}

	// 重新登录时轮换会话 id
	if previousSessionID != "" {
		if err := f.sessions.Destroy(ctx, previousSessionID); err != nil {
			f.logger.WarnContext(ctx, "failed to drop previous session", "error", err)
		}
	}

	f.logger.InfoContext(ctx, "signed in", "session", session, "tokens", session.Tokens)
	return &CallbackResult{Session: session, ReturnTo: pending.ReturnTo}, nil
}

// SignOut 销毁会话，会话不存在时同样成功
func (f *Flow) SignOut(ctx context.Context, sessionID string) error {
	if err := f.sessions.Destroy(ctx, sessionID); err != nil {
		return err
	}
	if sessionID != "" {
		f.logger.InfoContext(ctx, "signed out")
	}
	return nil
}
