package service

import (
	"context"
	"errors"

	"oauth-gateway/internal/api"
	"oauth-gateway/internal/biz"
)

// authService 认证服务实现
type authService struct {
	flow        *biz.Flow
	providerIDs []string
}

// NewAuthService 创建 AuthService，providerIDs 用于首页展示可用的登录入口
func NewAuthService(flow *biz.Flow, providerIDs []string) api.AuthService {
	return &authService{
		flow:        flow,
		providerIDs: providerIDs,
	}
}

// SignIn 发起登录
func (s *authService) SignIn(ctx context.Context, req *api.SignInRequest) (*api.SignInResponse, error) {
	result, err := s.flow.StartSignIn(ctx, req.Provider, req.Scope, req.ReturnTo)
	if err != nil {
		return nil, err
	}
	return &api.SignInResponse{
		RedirectURL: result.RedirectURL,
		StateToken:  result.StateToken,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

// Callback 处理提供方回调，进行 DTO 转换
func (s *authService) Callback(ctx context.Context, req *api.CallbackRequest) (*api.CallbackResponse, error) {
	params := biz.CallbackParams{
		Code:             req.Code,
		State:            req.State,
		Error:            req.Error,
		ErrorDescription: req.ErrorDescription,
	}

	result, err := s.flow.HandleCallback(ctx, req.Provider, params, req.StateToken, req.SessionID)
	if err != nil {
		return nil, err
	}
	return &api.CallbackResponse{
		SessionID: result.Session.ID,
		ExpiresAt: result.Session.ExpiresAt,
		ReturnTo:  result.ReturnTo,
	}, nil
}

// SignOut 退出登录
func (s *authService) SignOut(ctx context.Context, sessionID string) error {
	return s.flow.SignOut(ctx, sessionID)
}

// Status 返回当前登录状态，未登录不是错误
func (s *authService) Status(ctx context.Context, sessionID string) (*api.StatusResponse, error) {
	resp := &api.StatusResponse{Providers: s.providerIDs}

	session, err := s.flow.Sessions().Session(ctx, sessionID)
	if errors.Is(err, biz.ErrNotSignedIn) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	expiresAt := session.ExpiresAt
	resp.SignedIn = true
	resp.Provider = session.ProviderID
	resp.ExpiresAt = &expiresAt
	resp.Tokens = toTokensResponse(&session.Tokens)
	return resp, nil
}

// Tokens 返回会话中的令牌
func (s *authService) Tokens(ctx context.Context, sessionID string) (*api.TokensResponse, error) {
	tokens, err := s.flow.Sessions().Tokens(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return toTokensResponse(tokens), nil
}

// IsSignedIn 会话是否有效
func (s *authService) IsSignedIn(ctx context.Context, sessionID string) bool {
	return s.flow.Sessions().IsSignedIn(ctx, sessionID)
}

// toTokensResponse biz.TokenSet -> api DTO
func toTokensResponse(tokens *biz.TokenSet) *api.TokensResponse {
	resp := &api.TokensResponse{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		RefreshToken: tokens.RefreshToken,
		Scope:        tokens.Scope,
		IDToken:      tokens.IDToken,
	}
	if !tokens.Expiry.IsZero() {
		expiry := tokens.Expiry
		resp.ExpiresAt = &expiry
	}
	return resp
}
