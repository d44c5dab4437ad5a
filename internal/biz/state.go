package biz

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// DefaultPendingTTL 未完成登录的默认有效期
const DefaultPendingTTL = 10 * time.Minute

// tokenBytes 随机令牌长度，32 字节即 256 bit
const tokenBytes = 32

// StateCodec 负责签发与校验 state（以及可选的 PKCE verifier）
type StateCodec struct {
	repo PendingAuthRepo
	ttl  time.Duration
	now  func() time.Time
}

// NewStateCodec 创建 StateCodec，ttl <= 0 时使用 DefaultPendingTTL
func NewStateCodec(repo PendingAuthRepo, ttl time.Duration) *StateCodec {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &StateCodec{repo: repo, ttl: ttl, now: time.Now}
}

// TTL returns how long an issued state stays redeemable.
func (c *StateCodec) TTL() time.Duration {
	return c.ttl
}

// Issue 生成新的 state token 与 PendingAuth 并持久化
// 返回的 token 由 cookie 携带，PendingAuth.State 发送给提供方
func (c *StateCodec) Issue(ctx context.Context, providerID string, withVerifier bool, returnTo string) (string, *PendingAuth, error) {
	token, err := randomToken()
	if err != nil {
		return "", nil, err
	}
	state, err := randomToken()
	if err != nil {
		return "", nil, err
	}

	now := c.now()
	pending := &PendingAuth{
		State:      state,
		ProviderID: providerID,
		ReturnTo:   returnTo,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	}
	if withVerifier {
		if pending.CodeVerifier, err = randomToken(); err != nil {
			return "", nil, err
		}
	}

	if err := c.repo.Save(ctx, token, pending); err != nil {
		return "", nil, fmt.Errorf("failed to save pending auth: %w", err)
	}
	return token, pending, nil
}

// Consume 校验并消费 state（一次性）
// token 不存在、已消费、已过期或 state 不一致时返回 ErrStateMismatch
func (c *StateCodec) Consume(ctx context.Context, token, suppliedState string) (*PendingAuth, error) {
	if token == "" || suppliedState == "" {
		return nil, ErrStateMismatch
	}

	pending, err := c.repo.Take(ctx, token)
	if errors.Is(err, ErrPendingAuthNotFound) {
		return nil, ErrStateMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending auth: %w", err)
	}

	if !c.now().Before(pending.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired", ErrStateMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(pending.State), []byte(suppliedState)) != 1 {
		return nil, ErrStateMismatch
	}
	return pending, nil
}

// randomToken 生成 base64url 编码的 256 bit 随机串
func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
