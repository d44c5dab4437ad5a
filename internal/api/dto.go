package api

import (
	"context"
	"time"
)

// SignInRequest 发起登录请求
type SignInRequest struct {
	Provider string
	Scope    string // 可选，覆盖提供方默认 scope
	ReturnTo string // 可选，登录后跳转的站内相对路径
}

// SignInResponse 发起登录响应
type SignInResponse struct {
	RedirectURL string
	StateToken  string
	ExpiresAt   time.Time
}

// CallbackRequest 回调请求，包含查询参数与 cookie 中的值
type CallbackRequest struct {
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	StateToken       string
	SessionID        string // 已有会话 id，登录成功后被轮换
}

// CallbackResponse 回调成功响应
type CallbackResponse struct {
	SessionID string
	ExpiresAt time.Time
	ReturnTo  string
}

// TokensResponse 会话中保存的令牌
type TokensResponse struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	IDToken      string     `json:"id_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// StatusResponse 首页状态
type StatusResponse struct {
	SignedIn  bool            `json:"signed_in"`
	Provider  string          `json:"provider,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Tokens    *TokensResponse `json:"tokens,omitempty"`
	Providers []string        `json:"providers"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// AuthService 认证服务接口（由 service 层实现）
type AuthService interface {
	SignIn(ctx context.Context, req *SignInRequest) (*SignInResponse, error)
	Callback(ctx context.Context, req *CallbackRequest) (*CallbackResponse, error)
	SignOut(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (*StatusResponse, error)
	Tokens(ctx context.Context, sessionID string) (*TokensResponse, error)
	IsSignedIn(ctx context.Context, sessionID string) bool
}
