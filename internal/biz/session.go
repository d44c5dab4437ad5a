package biz

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrPendingAuthNotFound = errors.New("pending auth not found")

// TokenSet 授权服务器返回的凭据（仅保留结构化字段）
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// LogValue keeps credentials out of logs.
func (t TokenSet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token_type", t.TokenType),
		slog.Bool("has_refresh_token", t.RefreshToken != ""),
		slog.Time("expiry", t.Expiry),
	)
}

// Session 已登录浏览器的服务端状态
type Session struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Tokens     TokenSet  `json:"tokens"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its lifetime at t.
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}

// LogValue omits the session id, which is a bearer credential.
func (s *Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", s.ProviderID),
		slog.Time("expires_at", s.ExpiresAt),
	)
}

// PendingAuth 一次尚未完成的登录尝试
type PendingAuth struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier,omitempty"` // PKCE
	ProviderID   string    `json:"provider_id"`
	ReturnTo     string    `json:"return_to,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionRepo 会话仓库接口
type SessionRepo interface {
	// Put 保存会话，过期时间取 session.ExpiresAt
	Put(ctx context.Context, session *Session) error
	// Get 获取未过期的会话，不存在时返回 ErrSessionNotFound
	Get(ctx context.Context, id string) (*Session, error)
	// Delete 删除会话，不存在时不报错
	Delete(ctx context.Context, id string) error
}

// PendingAuthRepo 登录中状态仓库接口
type PendingAuthRepo interface {
	// Save 保存 pending auth，过期时间取 pending.ExpiresAt
	Save(ctx context.Context, token string, pending *PendingAuth) error
	// Take 原子地取出并删除，不存在或已过期时返回 ErrPendingAuthNotFound
	Take(ctx context.Context, token string) (*PendingAuth, error)
}
