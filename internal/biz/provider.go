package biz

import "context"

// ProviderClient 单个身份提供方的能力接口
type ProviderClient interface {
	// ID 返回注册表中的提供方标识，如 "github"
	ID() string
	// UsePKCE 是否需要为该提供方生成 PKCE verifier
	UsePKCE() bool
	// AuthCodeURL 构造授权跳转地址，scope 为空时使用默认 scope，不做任何 I/O
	AuthCodeURL(state, scope, verifier string) string
	// Exchange 用授权码换取令牌，失败时返回 ErrExchangeFailed 或 ErrNetwork
	Exchange(ctx context.Context, code, verifier string) (*TokenSet, error)
}

// ProviderRegistry 启动时构建的静态提供方注册表
type ProviderRegistry interface {
	Lookup(id string) (ProviderClient, bool)
}
